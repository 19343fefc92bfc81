package entity

import "errors"

// Store and registry errors
var (
	ErrAlreadyAttached      = errors.New("entity already belongs to a store")
	ErrIDInUse              = errors.New("entity id already in use")
	ErrComponentExists      = errors.New("component of this type already attached")
	ErrUnknownComponentType = errors.New("unknown component type")
)
