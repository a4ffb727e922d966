// Package notify alerts an operator outside the process when the engine
// can no longer make progress on its own.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
)

// Config enables the notifier when BotToken is non-empty.
type Config struct {
	BotToken string
	ChatID   int64
}

// PauseNotifier sends one Telegram message per PauseEvent, carrying the
// error kind, seq, and a pointer at the frozen frame so an operator can
// go look at what the engine last saw.
type PauseNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	runDir string
	log    *zap.Logger
}

var _ service.PauseSink = (*PauseNotifier)(nil)

// New connects to the Telegram bot API. Returns (nil, nil) when cfg is
// the zero value — callers should treat a nil *PauseNotifier as "not
// configured" and skip wiring it as a PauseSink.
func New(cfg Config, runDir string, log *zap.Logger) (*PauseNotifier, error) {
	if cfg.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &PauseNotifier{bot: bot, chatID: cfg.ChatID, runDir: runDir, log: log}, nil
}

// NotifyPause implements service.PauseSink. The send runs on its own
// goroutine so a slow or unreachable Telegram API never blocks the
// engine loop; a failed send is logged and dropped.
func (n *PauseNotifier) NotifyPause(evt entity.PauseEvent) {
	msg := tgbotapi.NewMessage(n.chatID, formatPauseMessage(n.runDir, evt))
	go func() {
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Error("failed to send pause notification", zap.Error(err), zap.String("kind", evt.Kind))
		}
	}()
}

func formatPauseMessage(runDir string, evt entity.PauseEvent) string {
	return fmt.Sprintf(
		"engine paused\nkind: %s\nseq: %d\nframe: %s/turn_%04d.png",
		evt.Kind, evt.Seq, runDir, evt.Seq,
	)
}
