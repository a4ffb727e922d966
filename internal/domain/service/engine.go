package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/toolpolicy"
)

// ExecRequest/ExecResult are the ExecutorAdapter's subprocess contract,
// spec.md §4.6.
type ExecRequest struct {
	StoryText    string
	AllowedTools []string
	Debug        bool
	ConfigPath   string
}

type ExecResult struct {
	Executed    []entity.ExecutedAction
	Malformed   []MalformedAction
	RawImageB64 string
}

type MalformedAction struct {
	Text   string
	Reason string
}

// Executor runs one executor subprocess invocation.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// VLMRequest/VLMResult are the VLMAdapter's subprocess contract.
type VLMRequest struct {
	StoryText    string
	ImageB64     string
	Model        string
	SystemPrompt string
}

type VLMResult struct {
	VLMText   string
	Usage     entity.Usage
	LatencyMS int64
}

// VLM runs one VLM subprocess invocation.
type VLM interface {
	Complete(ctx context.Context, req VLMRequest) (VLMResult, error)
}

// TurnStore is the durable sink EngineLoop writes to at STEP_PERSIST.
type TurnStore interface {
	Append(turn *entity.Turn) error
	WriteState(lastSeq int64, paused bool, lastErr string) error
}

// Broadcaster fans a persisted turn out to SSE subscribers at
// STEP_BROADCAST.
type Broadcaster interface {
	Broadcast(turn *entity.Turn)
}

// PauseSink is notified whenever the loop transitions into ERROR_PAUSED.
type PauseSink interface {
	NotifyPause(evt entity.PauseEvent)
}

// ToolCallParser extracts tool calls from a VLM reply. Broken out as an
// interface so EngineLoop's underflow-fallback branch is unit-testable
// without a real parser.
type ToolCallParser interface {
	Parse(vlmText string) []entity.ToolCall
}

// Clock abstracts time.Now so tests can control turn timestamps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// EngineConfig carries the timeouts and fallback behavior EngineLoop
// needs, independent of the process-wide viper config.
type EngineConfig struct {
	ExecuteTimeout    time.Duration
	AnnotationTimeout time.Duration
	VLMTimeout        time.Duration
	DefaultActions    []entity.ToolCall // fallback when tool_underflow fires
	StrictUnderflow   bool              // pause instead of fallback when true
}

// EngineLoop is the single-writer turn loop: it alone mutates RunState's
// last_seq, alone awaits the RenderJobGate, and alone writes TurnStore.
type EngineLoop struct {
	sm     *StateMachine
	gate   *RenderJobGate
	policy *toolpolicy.Policy
	state  *entity.RunState

	executor  Executor
	vlm       VLM
	parser    ToolCallParser
	store     TurnStore
	bus       Broadcaster
	pauseSink PauseSink
	clock     Clock

	cfg EngineConfig
	log *zap.Logger

	runID     string
	storyIn   string
	storyInMu sync.Mutex
}

// NewEngineLoop wires every collaborator. storySeed becomes story_in for
// the first turn.
func NewEngineLoop(
	runID string,
	storySeed string,
	gate *RenderJobGate,
	policy *toolpolicy.Policy,
	state *entity.RunState,
	executor Executor,
	vlm VLM,
	parser ToolCallParser,
	store TurnStore,
	bus Broadcaster,
	pauseSink PauseSink,
	cfg EngineConfig,
	log *zap.Logger,
) *EngineLoop {
	return &EngineLoop{
		sm:        NewStateMachine(),
		gate:      gate,
		policy:    policy,
		state:     state,
		executor:  executor,
		vlm:       vlm,
		parser:    parser,
		store:     store,
		bus:       bus,
		pauseSink: pauseSink,
		clock:     realClock{},
		cfg:       cfg,
		log:       log,
		runID:     runID,
		storyIn:   storySeed,
	}
}

// State reports the current phase of the turn state machine.
func (e *EngineLoop) State() EngineState { return e.sm.Current() }

// OnTransition forwards to the underlying state machine.
func (e *EngineLoop) OnTransition(l TransitionListener) { e.sm.OnTransition(l) }

// Run drives turns until ctx is cancelled. Pause is honored only at the
// IDLE boundary: a turn already in flight always completes or errors
// before the loop blocks on the pause flag.
func (e *EngineLoop) Run(ctx context.Context) {
	// Cancelling ctx also wakes an Await that is blocked mid-turn, so
	// shutdown never waits out the annotation timeout.
	stop := context.AfterFunc(ctx, e.gate.Cancel)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			e.sm.Transition(StateTerminated)
			e.gate.Cancel()
			return
		default:
		}

		for e.state.Paused() {
			select {
			case <-ctx.Done():
				e.sm.Transition(StateTerminated)
				e.gate.Cancel()
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		if !e.sm.Transition(StateStepExecute) {
			// Coming out of ERROR_PAUSED also lands here; both edges
			// are legal, so a false return means shutdown raced us.
			continue
		}
		e.runTurn(ctx)
	}
}

// runTurn executes exactly one turn loop algorithm pass (spec.md §4.2
// steps 2-9), recovering a panic into a synthetic ERROR_PAUSED turn
// rather than crashing the process.
func (e *EngineLoop) runTurn(ctx context.Context) {
	seq := e.state.LastSeq() + 1
	tsStart := e.clock.Now()

	turn := &entity.Turn{Seq: seq, TSStart: tsStart}

	defer func() {
		if r := recover(); r != nil {
			turn.Errors = append(turn.Errors, fmt.Sprintf("%s: panic: %v", entity.ErrExecutorCrash, r))
			e.log.Error("engine loop panic recovered", zap.Int64("seq", seq), zap.Any("panic", r))
			turn.TSEnd = e.clock.Now()
			turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()
			e.persistAndPause(turn, entity.ErrExecutorCrash)
		}
	}()

	e.storyInMu.Lock()
	storyIn := e.storyIn
	e.storyInMu.Unlock()
	turn.StoryIn = storyIn

	policySnapshot := e.policy.Snapshot()

	// Step 3: execute.
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecuteTimeout)
	execRes, err := e.executor.Execute(execCtx, ExecRequest{
		StoryText:    storyIn,
		AllowedTools: policySnapshot,
		Debug:        false,
	})
	cancel()
	if err != nil {
		turn.Errors = append(turn.Errors, fmt.Sprintf("%s: %v", entity.ErrExecutorTimeout, err))
		turn.TSEnd = e.clock.Now()
		turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()
		e.persistAndPause(turn, entity.ErrExecutorTimeout)
		return
	}
	turn.Executed = execRes.Executed
	turn.RawImageB64 = execRes.RawImageB64
	execDone := e.clock.Now()
	turn.Latency.ExecMS = execDone.Sub(tsStart).Milliseconds()

	// Step 4: publish render job.
	if !e.sm.Transition(StateStepPublish) {
		return
	}
	e.gate.Publish(&entity.RenderJob{
		Seq:         seq,
		RawImageB64: execRes.RawImageB64,
		Actions:     execRes.Executed,
	})

	// Step 5: await annotation.
	if !e.sm.Transition(StateStepAwaitAnnotate) {
		return
	}
	annotated, awaitRes := e.gate.Await(seq, e.cfg.AnnotationTimeout)
	if awaitRes != AwaitOK {
		if awaitRes == AwaitCancelled {
			return
		}
		turn.Errors = append(turn.Errors, entity.ErrAnnotationTimeout)
		turn.TSEnd = e.clock.Now()
		turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()
		e.persistAndPause(turn, entity.ErrAnnotationTimeout)
		return
	}
	turn.AnnotatedImageRef = fmt.Sprintf("turn_%04d.png", seq)
	annotateDone := e.clock.Now()
	turn.Latency.AnnotateMS = annotateDone.Sub(execDone).Milliseconds()

	// Step 6: VLM, with one retry on empty/error text. The VLM never
	// receives the raw frame — annotated is the only image ever handed
	// to it, upholding the proxy guarantee end to end.
	if !e.sm.Transition(StateStepVLM) {
		return
	}
	sysPrompt := buildSystemPrompt(policySnapshot)
	vlmRes, vlmErr := e.callVLM(ctx, storyIn, annotated, sysPrompt)
	if vlmErr != nil || vlmRes.VLMText == "" {
		if !e.sm.Transition(StateStepRetryVLM) {
			return
		}
		vlmRes, vlmErr = e.callVLM(ctx, storyIn, annotated, sysPrompt)
		if vlmErr != nil || vlmRes.VLMText == "" {
			turn.Errors = append(turn.Errors, entity.ErrVLMEmpty)
			turn.TSEnd = e.clock.Now()
			turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()
			e.persistAndPause(turn, entity.ErrVLMEmpty)
			return
		}
	}
	turn.VLMText = vlmRes.VLMText
	turn.Usage = vlmRes.Usage
	vlmDone := e.clock.Now()
	turn.Latency.VLMMS = vlmDone.Sub(annotateDone).Milliseconds()

	// Step 7: parse tool calls, enforcing the >=2-calls hygiene rule.
	calls := e.parser.Parse(vlmRes.VLMText)
	if len(calls) < 2 {
		if e.cfg.StrictUnderflow {
			turn.Errors = append(turn.Errors, entity.WarnToolUnderflow)
			turn.TSEnd = e.clock.Now()
			turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()
			e.persistAndPause(turn, entity.WarnToolUnderflow)
			return
		}
		turn.Warnings = append(turn.Warnings, entity.WarnToolUnderflow)
		calls = append(append([]entity.ToolCall(nil), calls...), e.cfg.DefaultActions...)
	}
	turn.ToolCallsOut = calls

	// Step 8: compose next story_in.
	e.storyInMu.Lock()
	e.storyIn = vlmRes.VLMText
	e.storyInMu.Unlock()

	turn.TSEnd = e.clock.Now()
	turn.Latency.TotalMS = turn.TSEnd.Sub(tsStart).Milliseconds()

	// Step 9: persist then broadcast.
	if !e.sm.Transition(StateStepPersist) {
		return
	}
	if err := e.store.Append(turn); err != nil {
		e.log.Error("turn persist failed", zap.Int64("seq", seq), zap.Error(err))
	}
	e.state.SetLastSeq(seq)
	_ = e.store.WriteState(seq, e.state.Paused(), e.state.LastError())

	if !e.sm.Transition(StateStepBroadcast) {
		return
	}
	e.bus.Broadcast(turn)

	e.sm.Transition(StateIdle)
}

func (e *EngineLoop) callVLM(ctx context.Context, storyIn, imageB64, sysPrompt string) (VLMResult, error) {
	vlmCtx, cancel := context.WithTimeout(ctx, e.cfg.VLMTimeout)
	defer cancel()
	return e.vlm.Complete(vlmCtx, VLMRequest{
		StoryText:    storyIn,
		ImageB64:     imageB64,
		SystemPrompt: sysPrompt,
	})
}

// persistAndPause writes the error turn, flips RunState.paused, and fires
// PauseSink — the degrade-to-visible-pause path spec.md §7 requires for
// every terminal error kind.
func (e *EngineLoop) persistAndPause(turn *entity.Turn, kind string) {
	if err := e.store.Append(turn); err != nil {
		e.log.Error("error turn persist failed", zap.Int64("seq", turn.Seq), zap.Error(err))
	}
	e.state.SetLastSeq(turn.Seq)
	e.pauseOnError(turn, kind)
}

func (e *EngineLoop) pauseOnError(turn *entity.Turn, kind string) {
	e.state.SetLastError(kind)
	e.state.SetPaused(true)
	_ = e.store.WriteState(e.state.LastSeq(), true, kind)

	e.bus.Broadcast(turn)
	e.sm.Transition(StateErrorPaused)

	if e.pauseSink != nil {
		e.pauseSink.NotifyPause(entity.PauseEvent{
			RunID: e.runID,
			Seq:   turn.Seq,
			Kind:  kind,
			TS:    e.clock.Now(),
		})
	}
}

// buildSystemPrompt derives the VLM's tool vocabulary from the live
// ToolPolicy snapshot so the advertised tool set can never drift from
// what the executor will actually accept.
func buildSystemPrompt(allowed []string) string {
	prompt := "You control a GUI through the following tools only: "
	for i, name := range allowed {
		if i > 0 {
			prompt += ", "
		}
		prompt += name
	}
	prompt += ". Reply with at least two well-formed tool calls describing the next actions to take."
	return prompt
}
