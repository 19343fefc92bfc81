// Package motion is the reference simulation domain: fixed-point 2D
// transforms advanced by velocity each frame. Gameplay proper is a
// pluggable dispatch handler; this package exists so the engine has a
// real, deterministic domain to run and test against.
package motion

import (
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/pkg/encoding"
)

// UnitShift is the fixed-point scale: 1 world unit = 1<<UnitShift ticks.
// Integer math keeps stepping bit-identical across architectures; floats
// only appear in the presentational render cache.
const UnitShift = 10

// Transform holds a fixed-point position and per-frame velocity.
//
// RenderX/RenderY are a float cache refreshed on every step for the
// presentation layer. They never enter hashing or snapshots, so divergent
// render state across participants is harmless.
type Transform struct {
	X, Y   int64
	VX, VY int64

	RenderX, RenderY float64
}

// TransformType is assigned once at package load.
var TransformType = entity.Register("motion.transform", func() entity.Component { return &Transform{} })

func (t *Transform) TypeID() entity.TypeID { return TransformType }

func (t *Transform) Clone() entity.Component {
	cp := *t
	return &cp
}

// Step integrates velocity and refreshes the render cache.
func (t *Transform) Step(frame int64) {
	t.X += t.VX
	t.Y += t.VY
	t.RenderX = float64(t.X) / (1 << UnitShift)
	t.RenderY = float64(t.Y) / (1 << UnitShift)
}

func (t *Transform) HashInto(w *encoding.Writer) {
	w.WriteVarint(t.X)
	w.WriteVarint(t.Y)
	w.WriteVarint(t.VX)
	w.WriteVarint(t.VY)
}

func (t *Transform) EncodeTo(w *encoding.Writer) {
	w.WriteVarint(t.X)
	w.WriteVarint(t.Y)
	w.WriteVarint(t.VX)
	w.WriteVarint(t.VY)
}

func (t *Transform) DecodeFrom(r *encoding.Reader) error {
	vals := make([]int64, 4)
	for i := range vals {
		v, err := r.ReadVarint()
		if err != nil {
			return err
		}
		vals[i] = v
	}
	t.X, t.Y, t.VX, t.VY = vals[0], vals[1], vals[2], vals[3]
	t.RenderX = float64(t.X) / (1 << UnitShift)
	t.RenderY = float64(t.Y) / (1 << UnitShift)
	return nil
}

// FromUnits converts whole world units to fixed-point ticks.
func FromUnits(units int64) int64 { return units << UnitShift }
