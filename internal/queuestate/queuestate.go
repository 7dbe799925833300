// Package queuestate holds the single process-wide QueueState:
// a sticky pause flag and the currently processing job id. It is
// deliberately the one piece of global mutable state in the system —
// written by HTTP handlers (pause/resume) and read by the Worker on every
// loop iteration. It does not persist across restarts.
package queuestate

import "sync/atomic"

// State is safe for concurrent use. The zero value is valid: not paused,
// no current job.
type State struct {
	paused       atomic.Bool
	currentJobID atomic.Int64 // 0 means none
}

// New returns a fresh, unpaused State.
func New() *State {
	return &State{}
}

// Pause sets the sticky paused flag. It survives worker idle cycles and
// resets only on explicit Resume.
func (s *State) Pause() { s.paused.Store(true) }

// Resume clears the paused flag.
func (s *State) Resume() { s.paused.Store(false) }

// Paused reports the current pause state.
func (s *State) Paused() bool { return s.paused.Load() }

// SetCurrentJob records the job the Worker is presently leasing. Pass 0
// to clear it.
func (s *State) SetCurrentJob(id int64) { s.currentJobID.Store(id) }

// CurrentJob returns the currently leased job id, or 0 if none.
func (s *State) CurrentJob() int64 { return s.currentJobID.Load() }
