package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/toolpolicy"
)

type fakeExecutor struct {
	result ExecResult
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return f.result, f.err
}

type fakeVLM struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeVLM) Complete(ctx context.Context, req VLMRequest) (VLMResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return VLMResult{VLMText: f.text}, f.err
}

type fakeParser struct {
	calls []entity.ToolCall
}

func (f *fakeParser) Parse(text string) []entity.ToolCall { return f.calls }

type fakeStore struct {
	mu    sync.Mutex
	turns []*entity.Turn
}

func (f *fakeStore) Append(turn *entity.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}
func (f *fakeStore) WriteState(lastSeq int64, paused bool, lastErr string) error { return nil }

type fakeBus struct {
	mu    sync.Mutex
	sent  []*entity.Turn
}

func (f *fakeBus) Broadcast(turn *entity.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, turn)
}

type fakePauseSink struct {
	mu     sync.Mutex
	events []entity.PauseEvent
}

func (f *fakePauseSink) NotifyPause(evt entity.PauseEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func newTestLoop(t *testing.T, exec Executor, vlm VLM, parser ToolCallParser, store *fakeStore, bus *fakeBus, sink *fakePauseSink) (*EngineLoop, *RenderJobGate, *entity.RunState) {
	t.Helper()
	gate := NewRenderJobGate()
	policy, err := toolpolicy.Load(t.TempDir() + "/allowed_tools.json")
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	state := entity.NewRunState(t.TempDir())

	loop := NewEngineLoop("run-1", "start the task", gate, policy, state,
		exec, vlm, parser, store, bus, sink,
		EngineConfig{
			ExecuteTimeout:    time.Second,
			AnnotationTimeout: 50 * time.Millisecond,
			VLMTimeout:        time.Second,
			DefaultActions:    []entity.ToolCall{{Name: "wait"}, {Name: "wait"}},
		},
		zap.NewNop(),
	)
	return loop, gate, state
}

func TestEngineLoopHappyPath(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{RawImageB64: "raw", Executed: []entity.ExecutedAction{{Name: "click"}}}}
	vlm := &fakeVLM{text: "click the button\nthen wait"}
	parser := &fakeParser{calls: []entity.ToolCall{{Name: "click"}, {Name: "wait"}}}
	store := &fakeStore{}
	bus := &fakeBus{}
	sink := &fakePauseSink{}

	loop, gate, state := newTestLoop(t, exec, vlm, parser, store, bus, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	// Answer the render job as soon as it is published.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if job := gate.Peek(); job != nil {
			gate.Deliver(job.Seq, "annotated-"+job.RawImageB64)
			break
		}
		time.Sleep(time.Millisecond)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && state.LastSeq() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if state.LastSeq() != 1 {
		t.Fatalf("expected last_seq 1, got %d", state.LastSeq())
	}
	if len(store.turns) != 1 {
		t.Fatalf("expected 1 persisted turn, got %d", len(store.turns))
	}
	if store.turns[0].IsError() {
		t.Fatalf("expected no error on happy path, got %v", store.turns[0].Errors)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(bus.sent))
	}
}

func TestEngineLoopAnnotationTimeoutPauses(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{RawImageB64: "raw"}}
	vlm := &fakeVLM{text: "unused"}
	parser := &fakeParser{}
	store := &fakeStore{}
	bus := &fakeBus{}
	sink := &fakePauseSink{}

	loop, _, state := newTestLoop(t, exec, vlm, parser, store, bus, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	// No one ever delivers an annotation, so the await should time out
	// and the loop should pause without ever calling the VLM.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !state.Paused() {
		time.Sleep(5 * time.Millisecond)
	}

	if !state.Paused() {
		t.Fatal("expected RunState to be paused after annotation timeout")
	}
	if vlm.calls != 0 {
		t.Fatalf("VLM must never be called when annotation times out, got %d calls", vlm.calls)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != entity.ErrAnnotationTimeout {
		t.Fatalf("expected one annotation_timeout pause event, got %+v", sink.events)
	}
	if len(store.turns) != 1 {
		t.Fatalf("expected the error turn to be persisted, got %d turns", len(store.turns))
	}
	if state.LastSeq() != store.turns[0].Seq {
		t.Fatalf("expected last_seq %d to match the persisted error turn, got %d", store.turns[0].Seq, state.LastSeq())
	}
	cancel()
	<-done
}

func TestEngineLoopPanicRecoveryPersistsAndBroadcasts(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{}, err: nil}
	vlm := &fakeVLM{}
	parser := &fakeParser{}
	store := &fakeStore{}
	bus := &fakeBus{}
	sink := &fakePauseSink{}

	loop, _, state := newTestLoop(t, exec, vlm, parser, store, bus, sink)
	// Force a panic inside runTurn by replacing the executor with a
	// panicking stand-in, exercising the recover() path directly.
	loop.executor = panickyExecutor{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !state.Paused() {
		time.Sleep(5 * time.Millisecond)
	}
	if !state.Paused() {
		t.Fatal("expected RunState to be paused after recovered panic")
	}
	cancel()
	<-done

	if len(store.turns) != 1 {
		t.Fatalf("expected the panic turn to be persisted, got %d turns", len(store.turns))
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected the panic turn to be broadcast, got %d", len(bus.sent))
	}
	if store.turns[0].Seq != bus.sent[0].Seq {
		t.Fatalf("persisted and broadcast turns must be the same seq, got %d vs %d", store.turns[0].Seq, bus.sent[0].Seq)
	}
	if state.LastSeq() != store.turns[0].Seq {
		t.Fatalf("expected last_seq %d to match the persisted panic turn, got %d", store.turns[0].Seq, state.LastSeq())
	}
}

type panickyExecutor struct{}

func (panickyExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	panic("simulated executor crash")
}

func TestEngineLoopToolUnderflowFallsBackByDefault(t *testing.T) {
	exec := &fakeExecutor{result: ExecResult{RawImageB64: "raw"}}
	vlm := &fakeVLM{text: "click only"}
	parser := &fakeParser{calls: []entity.ToolCall{{Name: "click"}}} // only one call
	store := &fakeStore{}
	bus := &fakeBus{}
	sink := &fakePauseSink{}

	loop, gate, state := newTestLoop(t, exec, vlm, parser, store, bus, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if job := gate.Peek(); job != nil {
			gate.Deliver(job.Seq, "annotated")
			break
		}
		time.Sleep(time.Millisecond)
	}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && state.LastSeq() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if len(store.turns) != 1 {
		t.Fatalf("expected 1 persisted turn, got %d", len(store.turns))
	}
	turn := store.turns[0]
	if turn.IsError() {
		t.Fatalf("underflow should warn, not error, got %v", turn.Errors)
	}
	found := false
	for _, w := range turn.Warnings {
		if w == entity.WarnToolUnderflow {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tool_underflow warning, got %v", turn.Warnings)
	}
	if len(turn.ToolCallsOut) != 1+len(loop.cfg.DefaultActions) {
		t.Fatalf("expected parsed calls padded with default actions, got %d", len(turn.ToolCallsOut))
	}
}
