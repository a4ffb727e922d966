// Command engined is the visual-loop engine daemon: it owns the turn
// loop, the HTTP surface, and every subprocess/storage adapter the loop
// is wired against.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
	"github.com/vizloop/enginecore/internal/domain/toolpolicy"
	"github.com/vizloop/enginecore/internal/infrastructure/config"
	"github.com/vizloop/enginecore/internal/infrastructure/logger"
	"github.com/vizloop/enginecore/internal/infrastructure/notify"
	"github.com/vizloop/enginecore/internal/infrastructure/persistence"
	"github.com/vizloop/enginecore/internal/infrastructure/renderhub"
	"github.com/vizloop/enginecore/internal/infrastructure/runindex"
	"github.com/vizloop/enginecore/internal/infrastructure/sse"
	"github.com/vizloop/enginecore/internal/infrastructure/subprocess"
	"github.com/vizloop/enginecore/internal/infrastructure/toolcall"
	policywatch "github.com/vizloop/enginecore/internal/infrastructure/toolpolicy"
	enginehttp "github.com/vizloop/enginecore/internal/interfaces/http"
	"github.com/vizloop/enginecore/pkg/safego"
)

const appName = "enginecore"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := config.BootstrapGlobal(log); err != nil {
		log.Warn("bootstrap global config failed", zap.Error(err))
	}

	runID := uuid.NewString()
	runDir, err := config.BootstrapRunDir(cfg.RunDir, time.Now())
	if err != nil {
		return fmt.Errorf("bootstrap run dir: %w", err)
	}
	log.Info("starting engine", zap.String("run_id", runID), zap.String("run_dir", runDir))

	policy, err := toolpolicy.Load(cfg.ToolsFile)
	if err != nil {
		return fmt.Errorf("load tool policy: %w", err)
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := policywatch.Watch(watchCtx, policy, log); err != nil {
		log.Warn("tool policy watcher disabled", zap.Error(err))
	}

	db, err := runindex.Open(runindex.Config{Type: cfg.RunIndex.Type, DSN: cfg.RunIndex.DSN})
	if err != nil {
		return fmt.Errorf("open run index: %w", err)
	}
	index := runindex.New(db)
	if err := index.Upsert(&entity.RunRecord{
		RunID:     runID,
		RunDir:    runDir,
		StartedAt: time.Now().UTC(),
		Status:    "running",
		StorySeed: cfg.Engine.StorySeed,
	}); err != nil {
		log.Warn("run index upsert failed", zap.Error(err))
	}

	store, err := persistence.NewTurnStore(runDir, 256, log)
	if err != nil {
		return fmt.Errorf("open turn store: %w", err)
	}
	defer store.Close()

	broker := sse.New(sse.DefaultQueueSize, log)
	hub := renderhub.New(log)
	state := entity.NewRunState(runDir)

	gate := service.NewRenderJobGate()
	gate.OnPublish(hub.PushSeq)

	execRunner := subprocess.NewRunner(subprocess.Config{
		Command: cfg.Executor.Command,
		Args:    cfg.Executor.Args,
	}, log)
	vlmRunner := subprocess.NewRunner(subprocess.Config{
		Command: cfg.VLM.Command,
		Args:    cfg.VLM.Args,
	}, log)
	executor := subprocess.NewExecutorAdapter(execRunner)
	vlm := subprocess.NewVLMAdapter(vlmRunner)
	parser := toolcall.New()

	pauseSink, err := notify.New(notify.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	}, runDir, log)
	if err != nil {
		log.Warn("telegram pause notifier disabled", zap.Error(err))
	}

	engineCfg := service.EngineConfig{
		ExecuteTimeout:    firstPositive(cfg.Engine.ExecuteTimeout, cfg.Executor.Timeout, 20*time.Second),
		AnnotationTimeout: firstPositive(cfg.Engine.AnnotationTimeout, 30*time.Second),
		VLMTimeout:        firstPositive(cfg.Engine.VLMTimeout, cfg.VLM.Timeout, 30*time.Second),
		StrictUnderflow:   cfg.Engine.StrictUnderflow,
		DefaultActions:    parser.Parse(joinCalls(cfg.Engine.DefaultActions)),
	}

	loop := service.NewEngineLoop(
		runID, cfg.Engine.StorySeed,
		gate, policy, state,
		executor, vlm, parser, store, broker, pauseSinkOrNil(pauseSink),
		engineCfg, log,
	)

	loop.OnTransition(func(from, to service.EngineState) {
		if to != service.StateIdle && to != service.StateErrorPaused {
			return
		}
		status := "running"
		if to == service.StateErrorPaused {
			status = "error"
		}
		_ = index.Upsert(&entity.RunRecord{
			RunID: runID, RunDir: runDir, StartedAt: state.StartedAt(),
			LastSeq: state.LastSeq(), Status: status, StorySeed: cfg.Engine.StorySeed,
		})
	})

	server := enginehttp.New(
		enginehttp.Config{Host: cfg.HTTP.Host, Port: cfg.HTTP.Port},
		loop, gate, state, policy, store, broker, hub, index, executor, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	safego.Go(log, "engine-loop", func() { loop.Run(ctx) })
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}

	endedAt := time.Now().UTC()
	_ = index.Upsert(&entity.RunRecord{
		RunID: runID, RunDir: runDir, StartedAt: state.StartedAt(),
		EndedAt: &endedAt, LastSeq: state.LastSeq(), Status: "stopped",
		StorySeed: cfg.Engine.StorySeed,
	})

	log.Info("engine stopped")
	return nil
}

// pauseSinkOrNil adapts a possibly-nil *notify.PauseNotifier to a possibly-nil
// service.PauseSink: a plain nil *PauseNotifier boxed into the interface is
// not itself a nil interface, so EngineLoop's `if e.pauseSink != nil` guard
// would otherwise still fire and dereference the nil notifier.
func pauseSinkOrNil(n *notify.PauseNotifier) service.PauseSink {
	if n == nil {
		return nil
	}
	return n
}

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}

func joinCalls(calls []string) string {
	out := ""
	for i, c := range calls {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}
