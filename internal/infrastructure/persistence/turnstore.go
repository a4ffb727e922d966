// Package persistence holds the per-run durable artifacts: the turn log,
// the latest-state snapshot, and the annotated frame images.
package persistence

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
)

// stateSnapshot is the JSON shape of state.json.
type stateSnapshot struct {
	LastSeq   int64  `json:"last_seq"`
	Paused    bool   `json:"paused"`
	LastError string `json:"last_error,omitempty"`
}

// TurnStore appends turns to turns.jsonl (fsync after each line, matching
// the write-ahead-then-dispatch ordering of a WAL), writes state.json via
// write-temp-then-rename, decodes each turn's annotated image to
// turn_<seq:04d>.png, and keeps a bounded in-memory ring for SSE replay.
type TurnStore struct {
	runDir string
	log    *zap.Logger

	mu        sync.Mutex
	turnsFile *os.File
	writer    *bufio.Writer

	ringMu  sync.RWMutex
	ring    []*entity.Turn
	ringCap int
}

var _ service.TurnStore = (*TurnStore)(nil)

// NewTurnStore opens (or creates) turns.jsonl under runDir for appending.
func NewTurnStore(runDir string, ringCap int, log *zap.Logger) (*TurnStore, error) {
	if ringCap <= 0 {
		ringCap = 256
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, "turns.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open turns.jsonl: %w", err)
	}
	return &TurnStore{
		runDir:    runDir,
		log:       log,
		turnsFile: f,
		writer:    bufio.NewWriterSize(f, 64*1024),
		ringCap:   ringCap,
	}, nil
}

// Append writes one turn to turns.jsonl (flushed and fsynced before
// returning) and pushes it onto the replay ring. It writes no image; the
// annotated frame is written separately by WriteAnnotatedImage. A Turn
// becomes visible to SSE only after this call returns.
func (s *TurnStore) Append(turn *entity.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	s.mu.Lock()
	_, writeErr := s.writer.Write(append(data, '\n'))
	if writeErr == nil {
		writeErr = s.writer.Flush()
	}
	if writeErr == nil {
		writeErr = s.turnsFile.Sync()
	}
	s.mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("append turn: %w", writeErr)
	}

	s.pushRing(turn)
	return nil
}

// WriteAnnotatedImage decodes imageB64 and writes it to
// turn_<seq:04d>.png, the image write the HTTP /annotated handler makes
// as soon as the gate accepts a delivery — independent of Append, so the
// image lands on disk even if persistence of the Turn itself is delayed.
func (s *TurnStore) WriteAnnotatedImage(seq int64, imageB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return fmt.Errorf("decode annotated image: %w", err)
	}
	path := filepath.Join(s.runDir, fmt.Sprintf("turn_%04d.png", seq))
	return os.WriteFile(path, raw, 0o644)
}

// WriteState implements service.TurnStore: write-temp-then-rename so a
// reader never observes a half-written state.json.
func (s *TurnStore) WriteState(lastSeq int64, paused bool, lastErr string) error {
	data, err := json.MarshalIndent(stateSnapshot{LastSeq: lastSeq, Paused: paused, LastError: lastErr}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.runDir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.runDir, "state.json"))
}

// ReadState loads the last written state.json, returning zero values if
// none exists yet (a fresh run).
func ReadState(runDir string) (lastSeq int64, paused bool, lastErr string, err error) {
	data, readErr := os.ReadFile(filepath.Join(runDir, "state.json"))
	if os.IsNotExist(readErr) {
		return 0, false, "", nil
	}
	if readErr != nil {
		return 0, false, "", readErr
	}
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, false, "", err
	}
	return snap.LastSeq, snap.Paused, snap.LastError, nil
}

func (s *TurnStore) pushRing(turn *entity.Turn) {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()
	s.ring = append(s.ring, turn)
	if len(s.ring) > s.ringCap {
		s.ring = s.ring[len(s.ring)-s.ringCap:]
	}
}

// Replay returns up to n most recent turns, oldest first, for SSE
// catch-up.
func (s *TurnStore) Replay(n int) []*entity.Turn {
	s.ringMu.RLock()
	defer s.ringMu.RUnlock()
	if n <= 0 || n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]*entity.Turn, n)
	copy(out, s.ring[len(s.ring)-n:])
	return out
}

// Close flushes and closes the turn log.
func (s *TurnStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.turnsFile.Close()
}
