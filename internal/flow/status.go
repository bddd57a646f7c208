package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLivenessWindow is the maximum age of a ping before a
// PENDING/RUNNING entity is suspected dead.
const DefaultLivenessWindow = 60 * time.Second

// Status is the persisted (state, last-ping) pair of a task or job.
type Status struct {
	State State     `json:"state"`
	Ping  time.Time `json:"ping"`
}

// NewStatus returns a Status in the given state, pinged now.
func NewStatus(state State) Status {
	return Status{State: state, Ping: time.Now().UTC()}
}

// Touch advances the ping timestamp. The ping never moves backwards.
func (s *Status) Touch() {
	if now := time.Now().UTC(); now.After(s.Ping) {
		s.Ping = now
	}
}

// Reset returns the record to ASSIGNED with a fresh ping.
func (s *Status) Reset() {
	s.State = StateAssigned
	s.Touch()
}

// IsAlive reports whether the entity is in a running-ish state and has
// pinged within the window.
func (s Status) IsAlive(now time.Time, window time.Duration) bool {
	if s.State != StatePending && s.State != StateRunning {
		return false
	}
	return now.Sub(s.Ping) <= window
}

// StatusFile is a file-backed Status. Every read and write happens under an
// advisory lock on <path>.lock so that concurrent processes (task-init, job
// runners, task-next) observe and mutate a consistent (state, ping) pair.
type StatusFile struct {
	path string
}

// NewStatusFile returns a handle on the status record at path. The file
// itself may not exist yet.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Path returns the backing file path.
func (f *StatusFile) Path() string { return f.path }

// withLock runs fn while holding the advisory lock paired with the status
// file. The lock is released on every exit path.
func (f *StatusFile) withLock(fn func() error) error {
	fl := flock.New(f.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("status: lock %q: %w", f.path, err)
	}
	defer fl.Unlock()
	return fn()
}

// load reads the record without locking. Callers hold the lock.
func (f *StatusFile) load() (Status, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{State: StateUnknown}, nil
		}
		return Status{}, fmt.Errorf("status: read %q: %w", f.path, err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("status: unmarshal %q: %w", f.path, err)
	}
	return st, nil
}

// store writes the record without locking. Callers hold the lock.
func (f *StatusFile) store(st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal %q: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("status: write %q: %w", f.path, err)
	}
	return nil
}

// Write replaces the record with st.
func (f *StatusFile) Write(st Status) error {
	return f.withLock(func() error { return f.store(st) })
}

// Read returns the current record. A missing file reads as UNKNOWN.
func (f *StatusFile) Read() (Status, error) {
	var st Status
	err := f.withLock(func() error {
		var e error
		st, e = f.load()
		return e
	})
	return st, err
}

// State returns the current state, UNKNOWN when the record is missing or
// unreadable.
func (f *StatusFile) State() State {
	st, err := f.Read()
	if err != nil {
		return StateUnknown
	}
	return st.State
}

// SetState transitions the record to state, stamping a fresh ping.
func (f *StatusFile) SetState(state State) error {
	return f.withLock(func() error {
		st, err := f.load()
		if err != nil {
			return err
		}
		st.State = state
		st.Touch()
		return f.store(st)
	})
}

// Ping advances the ping timestamp, leaving the state untouched.
func (f *StatusFile) Ping() error {
	return f.withLock(func() error {
		st, err := f.load()
		if err != nil {
			return err
		}
		st.Touch()
		return f.store(st)
	})
}

// Reset returns the record to ASSIGNED with a fresh ping.
func (f *StatusFile) Reset() error {
	return f.withLock(func() error {
		st, err := f.load()
		if err != nil {
			return err
		}
		st.Reset()
		return f.store(st)
	})
}

// IsAlive reports liveness using the given window.
func (f *StatusFile) IsAlive(window time.Duration) bool {
	st, err := f.Read()
	if err != nil {
		return false
	}
	return st.IsAlive(time.Now().UTC(), window)
}
