package entity

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunState is the process-wide singleton the spec describes in §3: paused,
// run_dir, last_seq, last_error. paused is the only field HTTP handlers may
// mutate directly; last_seq and last_error are advanced only by EngineLoop.
type RunState struct {
	paused  atomic.Bool
	lastSeq atomic.Int64

	runDir    string
	startedAt time.Time

	mu        sync.RWMutex
	lastError string
}

// NewRunState creates a RunState rooted at runDir, starting unpaused.
func NewRunState(runDir string) *RunState {
	return &RunState{runDir: runDir, startedAt: time.Now()}
}

func (r *RunState) Paused() bool         { return r.paused.Load() }
func (r *RunState) SetPaused(v bool)     { r.paused.Store(v) }
func (r *RunState) LastSeq() int64       { return r.lastSeq.Load() }
func (r *RunState) SetLastSeq(v int64)   { r.lastSeq.Store(v) }
func (r *RunState) RunDir() string       { return r.runDir }
func (r *RunState) StartedAt() time.Time { return r.startedAt }

func (r *RunState) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

func (r *RunState) SetLastError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = err
}

// RunRecord is the RunIndex row — cross-run metadata independent of the
// per-run turns.jsonl. See SPEC_FULL.md §4.8.
type RunRecord struct {
	RunID     string     `gorm:"primaryKey" json:"run_id"`
	RunDir    string     `json:"run_dir"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	LastSeq   int64      `json:"last_seq"`
	Status    string     `json:"status"` // running | paused | error | stopped
	StorySeed string     `json:"story_seed"`
}

// PauseEvent records a single paused-transition for the PauseNotifier.
type PauseEvent struct {
	RunID    string
	Seq      int64
	Kind     string
	TS       time.Time
	Notified bool
}
