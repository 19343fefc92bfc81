package server

import (
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/protocol"
	"github.com/trailsync/trailsync/internal/core/state"
	"github.com/trailsync/trailsync/internal/core/tss"
)

// RecoverFromPeer pulls a full state transfer over conn and applies it to a
// degraded synchronizer. A structurally corrupt snapshot is re-requested up
// to attempts times; any other failure aborts immediately, since re-fetching
// cannot fix it.
//
// This is the peer side of serveSnapshotPeer: dial the snapshot endpoint,
// hand the connection here, close it after.
func RecoverFromPeer(conn protocol.Connection, sim *tss.Synchronizer, attempts int, logger log.Log) error {
	if logger == nil {
		logger = log.Provide()
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req := protocol.SnapshotRequestEnvelope()
		err := conn.SendEnvelope(req)
		protocol.ReleaseEnvelope(req)
		if err != nil {
			return errors.Wrap(err, "snapshot request")
		}

		env, err := conn.ReceiveEnvelope()
		if err != nil {
			return errors.Wrap(err, "snapshot response")
		}
		if env.Kind != protocol.KindSnapshotResponse {
			kind := env.Kind
			protocol.ReleaseEnvelope(env)
			return errors.Wrapf(protocol.ErrUnexpectedKind, "got %v", kind)
		}

		err = sim.ApplySnapshot(env.Payload)
		protocol.ReleaseEnvelope(env)
		if err == nil {
			return nil
		}
		if !errors.Is(err, state.ErrSnapshotCorrupt) {
			return err
		}
		logger.Warn("Corrupt snapshot, re-requesting",
			log.Int("attempt", attempt), log.Error(err))
		lastErr = err
	}
	return errors.Wrap(lastErr, "snapshot retries exhausted")
}
