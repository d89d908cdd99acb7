package syncer

import (
	"github.com/rs/zerolog"

	"github.com/taumail/mailsync/internal/model"
)

// RunState identifies where a sync run is in its lifecycle.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateConnecting     RunState = "connecting"
	StateFolderSelected RunState = "folder_selected"
	StateEnumerating    RunState = "enumerating"
	StateFetching       RunState = "fetching"
	StateParsing        RunState = "parsing"
	StatePersisting     RunState = "persisting"
	StateCompleted      RunState = "completed"
	StateFailed         RunState = "failed"
)

// run tracks the state of a single sync run for logging. The
// per-message states cycle for every message in the folder snapshot.
type run struct {
	log   zerolog.Logger
	state RunState
}

func newRun(log zerolog.Logger, userID string, folder model.Folder) *run {
	return &run{
		log: log.With().
			Str("user", userID).
			Str("folder", string(folder)).Logger(),
		state: StateIdle,
	}
}

func (r *run) transition(next RunState) {
	if r.state == next {
		return
	}
	r.state = next
	r.log.Trace().Str("state", string(next)).Msg("sync state")
}

func (r *run) complete(res *Result) {
	r.state = StateCompleted
	r.log.Info().
		Int("persisted", res.Persisted).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Msg("sync completed")
}

func (r *run) fail(err error) {
	r.state = StateFailed
	r.log.Error().Err(err).Msg("sync failed")
}
