// Package service holds the engine's core orchestration: the render job
// rendezvous and the turn state machine. Neither type talks to HTTP,
// subprocesses, or disk directly — they are driven by the interfaces and
// infrastructure layers.
package service

import (
	"sync"
	"time"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

// AwaitResult is the outcome of a call to RenderJobGate.Await.
type AwaitResult int

const (
	AwaitOK AwaitResult = iota
	AwaitTimeout
	AwaitCancelled
)

// DeliverResult is the outcome of a call to RenderJobGate.Deliver.
type DeliverResult int

const (
	DeliverOK DeliverResult = iota
	DeliverStale
	DeliverNoPending
)

// RenderJobGate is the single-slot rendezvous between EngineLoop (producer
// of raw frames, consumer of annotated ones) and the browser client
// (consumer of raw frames via GET /render_job, producer of annotated ones
// via POST /annotated). At most one job is ever pending at a time; a
// publish for a new seq discards whatever annotated image may have been
// in flight for a stale seq.
type RenderJobGate struct {
	mu   sync.Mutex
	cond *sync.Cond

	job    *entity.RenderJob // currently pending job, nil if none
	annSeq int64             // seq the last delivered annotation belongs to
	annImg string            // delivered annotated image, valid iff annSeq == job.Seq
	hasAnn bool
	cancel bool

	onPublish func(seq int64)
}

// OnPublish registers a callback fired after every Publish, outside the
// gate's lock, so a WebSocket hub can push a low-latency seq ping without
// the gate needing to know anything about transports.
func (g *RenderJobGate) OnPublish(fn func(seq int64)) {
	g.mu.Lock()
	g.onPublish = fn
	g.mu.Unlock()
}

// NewRenderJobGate constructs an empty gate.
func NewRenderJobGate() *RenderJobGate {
	g := &RenderJobGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Publish installs a new pending job, replacing any prior one and clearing
// whatever annotation may already have arrived for it. Never blocks.
func (g *RenderJobGate) Publish(job *entity.RenderJob) {
	g.mu.Lock()
	g.job = job
	g.hasAnn = false
	g.annImg = ""
	g.annSeq = 0
	g.cond.Broadcast()
	listener := g.onPublish
	g.mu.Unlock()

	if listener != nil {
		listener(job.Seq)
	}
}

// Peek returns the currently pending job without consuming it, or nil if
// there is none. Used by GET /render_job, which may be polled repeatedly
// by the browser before it has a frame to annotate.
func (g *RenderJobGate) Peek() *entity.RenderJob {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == nil {
		return nil
	}
	cp := *g.job
	return &cp
}

// Deliver records an annotated image for seq. It is idempotent: a second
// delivery for the same seq simply overwrites the first (the browser may
// retry a POST whose response it never saw). A delivery for any seq other
// than the currently pending one is stale — the engine has already moved
// on or errored out of that turn.
func (g *RenderJobGate) Deliver(seq int64, imageB64 string) DeliverResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == nil {
		return DeliverNoPending
	}
	if g.job.Seq != seq {
		return DeliverStale
	}
	g.annSeq = seq
	g.annImg = imageB64
	g.hasAnn = true
	g.cond.Broadcast()
	return DeliverOK
}

// Await blocks until an annotation for seq arrives, timeout elapses, or
// the gate is cancelled (engine shutting down). On success it clears the
// slot so a later stale Deliver for the same seq has nothing to land on.
func (g *RenderJobGate) Await(seq int64, timeout time.Duration) (string, AwaitResult) {
	deadline := time.Now().Add(timeout)

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		if g.cancel {
			return "", AwaitCancelled
		}
		if g.hasAnn && g.annSeq == seq {
			img := g.annImg
			g.job = nil
			g.hasAnn = false
			g.annImg = ""
			return img, AwaitOK
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", AwaitTimeout
		}
		g.waitTimeout(remaining)
	}
}

// Cancel wakes every blocked Await with AwaitCancelled. Used during
// shutdown so a pending turn does not hang the process.
func (g *RenderJobGate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel = true
	g.cond.Broadcast()
}

// waitTimeout waits on the condition variable for at most d, returning
// when woken or when d elapses. sync.Cond has no native timeout, so this
// spins a timer goroutine that broadcasts once to unblock the waiter; the
// predicate loop in Await re-checks timeout via the wall clock deadline.
func (g *RenderJobGate) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer timer.Stop()
	g.cond.Wait()
}
