// Package toolpolicy holds the persisted allowlist of tool names the
// executor may invoke. It is deliberately tiny: an ordered set of names,
// a mutex, and atomic-snapshot reads — the allowlist is the single
// authority for what the VLM's system prompt advertises too (see
// SPEC_FULL.md §4.2, tool-set consistency).
package toolpolicy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Policy is the mutex-guarded, ordered allowlist. Readers take a Snapshot
// (a copy) so in-flight executor invocations never race a concurrent
// HTTP write.
type Policy struct {
	mu    sync.RWMutex
	names []string
	path  string
}

// Default is the allowlist seeded on first run when no allowed_tools.json
// exists yet.
var Default = []string{"click", "write", "scroll", "key", "wait"}

// Load reads the policy from path, seeding it with Default (and writing it
// out) if the file does not exist yet.
func Load(path string) (*Policy, error) {
	p := &Policy{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.names = append([]string(nil), Default...)
		if werr := p.persist(); werr != nil {
			return nil, fmt.Errorf("seed tool policy: %w", werr)
		}
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool policy: %w", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse tool policy: %w", err)
	}
	p.names = names
	return p, nil
}

// Snapshot returns a defensive copy of the current allowlist, in order.
func (p *Policy) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Allows reports whether name is present in the current allowlist.
func (p *Policy) Allows(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, n := range p.names {
		if n == name {
			return true
		}
	}
	return false
}

// Replace atomically swaps the allowlist and persists it to disk via
// write-temp-then-rename, matching the discipline spec.md §4.3 requires
// of POST /allowed_tools.
func (p *Policy) Replace(names []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append([]string(nil), names...)
	return p.persist()
}

// ReloadFromDisk re-reads the file without taking the write lock's
// persist path — used by the fsnotify watcher when the file changes out
// of band (an operator editing it directly).
func (p *Policy) ReloadFromDisk() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	p.mu.Lock()
	p.names = names
	p.mu.Unlock()
	return nil
}

// Path returns the backing file path, for the fsnotify watcher.
func (p *Policy) Path() string { return p.path }

// persist must be called with mu held (for write) or not held (seed path,
// where no other goroutine can see p yet).
func (p *Policy) persist() error {
	data, err := json.MarshalIndent(p.names, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".allowed_tools-*.tmp")
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
	return os.Rename(tmpPath, p.path)
}
