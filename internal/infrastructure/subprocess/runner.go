// Package subprocess wraps the two fixed child processes the engine
// drives: the executor and the VLM. Both speak the same shape — one JSON
// request on stdin, one JSON response on stdout — so they share a single
// Runner underneath two thin adapters.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config describes one fixed subprocess: the binary to run, its fixed
// argv, and the grace period to wait between SIGTERM and SIGKILL.
type Config struct {
	Command     string
	Args        []string
	KillGrace   time.Duration
	StderrBytes int // tail length captured on failure, default 4096
}

// Runner executes a single request/response round trip against a fresh
// child process. One Runner instance is reused across calls; each call
// spawns its own process (the contract is one request per process
// invocation, not a long-lived child).
type Runner struct {
	cfg Config
	log *zap.Logger
}

// NewRunner builds a Runner with cfg defaults applied.
func NewRunner(cfg Config, log *zap.Logger) *Runner {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 3 * time.Second
	}
	if cfg.StderrBytes <= 0 {
		cfg.StderrBytes = 4096
	}
	return &Runner{cfg: cfg, log: log}
}

// CallError classifies why a Call failed, so adapters can map it onto the
// closed error-kind taxonomy without parsing strings.
type CallError struct {
	Kind       string // "timeout", "crash", "malformed"
	Err        error
	StderrTail string
}

func (e *CallError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s: %v (stderr: %s)", e.Kind, e.Err, e.StderrTail)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Call serializes req as JSON to the child's stdin, waits for exactly one
// JSON response object on stdout, and escalates SIGTERM then SIGKILL if
// ctx's deadline is hit before the child exits on its own.
func (r *Runner) Call(ctx context.Context, req any, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return &CallError{Kind: "malformed", Err: fmt.Errorf("marshal request: %w", err)}
	}

	cmd := exec.Command(r.cfg.Command, r.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &CallError{Kind: "crash", Err: fmt.Errorf("start subprocess: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			return &CallError{Kind: "crash", Err: err, StderrTail: tail(stderr.Bytes(), r.cfg.StderrBytes)}
		}
	case <-ctx.Done():
		r.escalate(cmd, waitErr)
		return &CallError{Kind: "timeout", Err: ctx.Err(), StderrTail: tail(stderr.Bytes(), r.cfg.StderrBytes)}
	}

	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return &CallError{Kind: "malformed", Err: fmt.Errorf("parse response: %w", err), StderrTail: tail(stderr.Bytes(), r.cfg.StderrBytes)}
	}
	return nil
}

// escalate sends SIGTERM and, if the process has not exited within
// KillGrace, SIGKILL. It returns once the process has actually exited so
// the caller never leaves a zombie behind.
func (r *Runner) escalate(cmd *exec.Cmd, waitErr chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-waitErr:
		return
	case <-time.After(r.cfg.KillGrace):
	}

	r.log.Warn("subprocess ignored SIGTERM, sending SIGKILL",
		zap.String("command", r.cfg.Command), zap.Int("pid", cmd.Process.Pid))
	_ = cmd.Process.Kill()
	<-waitErr
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
