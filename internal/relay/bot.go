package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/metrics"
	"github.com/stupiduntilnot/chatrelay/internal/persona"
	"github.com/stupiduntilnot/chatrelay/internal/session"
)

// User-facing texts.
const (
	greetingFormat   = "Здравствуйте, %s! Я ваш обновленный ассистент. Чтобы выбрать режим общения, используйте команду /mode."
	resetText        = "Всё сброшено! История диалога и режим общения очищены. Начнем с чистого листа. Выберите режим с помощью /mode."
	menuPrompt       = "Пожалуйста, выберите режим общения:"
	modeChangedFmt   = "Режим '%s' включен! История диалога очищена. Жду вашего первого вопроса."
	modeRejectedText = "Такого режима нет. Выберите режим с помощью /mode."
)

// BotOptions wires a Bot. Commander, Orchestrator, Store and Registry are
// required.
type BotOptions struct {
	Commander    cmdpkg.Commander
	Orchestrator *Orchestrator
	Store        session.Store
	Registry     *persona.Registry
	Journal      EventLogger
	RootEventID  *int64
	Logger       *zap.Logger

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// Idle is how long to wait after an empty poll.
	Idle        time.Duration
	DropPending bool
	Circuit     *control.CircuitBreaker
}

// Bot polls the transport and routes updates through a per-chat Dispatcher.
type Bot struct {
	commander    cmdpkg.Commander
	orchestrator *Orchestrator
	store        session.Store
	registry     *persona.Registry
	journal      EventLogger
	rootEventID  *int64
	logger       *zap.Logger
	pollTimeout  int
	idle         time.Duration
	dropPending  bool
	circuit      *control.CircuitBreaker
	dispatcher   *Dispatcher
}

func NewBot(opts BotOptions) (*Bot, error) {
	if opts.Commander == nil || opts.Orchestrator == nil || opts.Store == nil || opts.Registry == nil {
		return nil, fmt.Errorf("relay: commander, orchestrator, store and registry are required")
	}
	b := &Bot{
		commander:    opts.Commander,
		orchestrator: opts.Orchestrator,
		store:        opts.Store,
		registry:     opts.Registry,
		journal:      opts.Journal,
		rootEventID:  opts.RootEventID,
		logger:       opts.Logger,
		pollTimeout:  opts.PollTimeout,
		idle:         opts.Idle,
		dropPending:  opts.DropPending,
		circuit:      opts.Circuit,
	}
	if b.journal == nil {
		b.journal = nopJournal{}
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.circuit == nil {
		b.circuit = control.NewCircuitBreaker(5, 30*time.Second)
	}
	b.dispatcher = NewDispatcher(b.logger, func(chatID int64, recovered any) {
		b.logEvent(db.EventJobPanicked, map[string]any{"chat_id": chatID, "panic": fmt.Sprint(recovered)})
	})
	return b, nil
}

// Run polls until ctx is cancelled, then waits for accepted jobs. A poll
// already in flight is not interrupted.
func (b *Bot) Run(ctx context.Context) error {
	defer func() {
		b.dispatcher.Close()
		b.dispatcher.Wait()
		b.orchestrator.Wait()
	}()

	var offset int64
	if b.dropPending {
		next, err := b.bootstrapOffset()
		if err != nil {
			b.logger.Warn("bootstrap offset failed", zap.Error(err))
		} else {
			offset = next
		}
	}

	b.logger.Info("relay polling", zap.Int64("offset", offset), zap.Int("poll_timeout", b.pollTimeout))

	failures := 0
	for ctx.Err() == nil {
		if !b.circuit.Allow(time.Now()) {
			sleepCtx(ctx, b.idle)
			continue
		}

		updates, err := b.commander.GetUpdates(offset, b.pollTimeout)
		if err != nil {
			failures++
			metrics.PollErrors.Inc()
			b.logger.Warn("getUpdates error", zap.Int("attempt", failures), zap.Error(err))
			b.logEvent(db.EventPollFailed, map[string]any{"attempt": failures, "error": truncate(err.Error(), 500)})
			if b.circuit.RecordFailure("command_source_api", time.Now()) {
				b.logEvent(db.EventCircuitOpened, map[string]any{
					"error_class":      "command_source_api",
					"threshold":        b.circuit.Threshold,
					"cooldown_seconds": int(b.circuit.Cooldown.Seconds()),
				})
			}
			sleepCtx(ctx, time.Duration(control.RetryBackoffSeconds(failures))*time.Second)
			continue
		}
		failures = 0
		if b.circuit.RecordSuccess() {
			b.logEvent(db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.route(ctx, update)
		}
		if len(updates) == 0 {
			sleepCtx(ctx, b.idle)
		}
	}

	b.logger.Info("relay stopping", zap.Int("pending_chats", b.dispatcher.Pending()))
	return nil
}

// bootstrapOffset skips every update queued while the relay was offline.
func (b *Bot) bootstrapOffset() (int64, error) {
	updates, err := b.commander.GetUpdates(0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	b.logger.Info("dropping pending updates", zap.Int("count", len(updates)))
	return updates[len(updates)-1].UpdateID + 1, nil
}

func (b *Bot) route(ctx context.Context, update cmdpkg.Update) {
	chatID := update.ChatID()

	if sel := update.Selection; sel != nil {
		metrics.MessagesReceived.WithLabelValues(metrics.KindSelection).Inc()
		b.dispatcher.Submit(ctx, chatID, func(context.Context) { b.handleSelection(sel) })
		return
	}

	msg := update.Message
	if msg == nil || msg.Text == nil || strings.TrimSpace(*msg.Text) == "" {
		metrics.MessagesReceived.WithLabelValues(metrics.KindIgnored).Inc()
		return
	}
	text := *msg.Text

	if command, ok := parseCommand(text); ok {
		metrics.MessagesReceived.WithLabelValues(metrics.KindCommand).Inc()
		firstName := ""
		if msg.From != nil {
			firstName = msg.From.FirstName
		}
		b.dispatcher.Submit(ctx, chatID, func(context.Context) { b.handleCommand(chatID, command, firstName) })
		return
	}

	metrics.MessagesReceived.WithLabelValues(metrics.KindText).Inc()
	b.dispatcher.Submit(ctx, chatID, func(jobCtx context.Context) {
		reply := b.orchestrator.HandleMessage(jobCtx, chatID, text)
		b.send(chatID, reply.Text)
	})
}

// parseCommand returns the command name of a "/name" or "/name@bot" message.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), name != ""
}

func (b *Bot) handleCommand(chatID int64, command, firstName string) {
	log := b.logger.With(zap.Int64("chat_id", chatID), zap.String("command", command))
	switch command {
	case "start":
		b.resetSession(chatID, command)
		if firstName == "" {
			firstName = "друг"
		}
		b.send(chatID, fmt.Sprintf(greetingFormat, firstName))
	case "reset":
		b.resetSession(chatID, command)
		b.send(chatID, resetText)
	case "mode":
		personas := b.registry.Personas()
		options := make([]cmdpkg.MenuOption, 0, len(personas))
		for _, p := range personas {
			options = append(options, cmdpkg.MenuOption{Title: p.Title, Data: string(p.Mode)})
		}
		if err := b.commander.SendModeMenu(chatID, menuPrompt, options); err != nil {
			log.Warn("send mode menu failed", zap.Error(err))
		}
	default:
		log.Debug("ignoring unknown command")
	}
}

func (b *Bot) resetSession(chatID int64, command string) {
	b.store.Reset(chatID)
	metrics.ActiveSessions.Set(float64(b.store.Len()))
	b.logEvent(db.EventSessionReset, map[string]any{"chat_id": chatID, "command": command})
	b.logger.Info("session reset", zap.Int64("chat_id", chatID), zap.String("command", command))
}

func (b *Bot) handleSelection(sel *cmdpkg.Selection) {
	chatID := sel.Chat.ID
	log := b.logger.With(zap.Int64("chat_id", chatID))

	mode, err := b.store.SetMode(chatID, sel.Data)
	if err != nil {
		log.Warn("mode selection rejected", zap.String("token", sel.Data), zap.Error(err))
		b.logEvent(db.EventModeRejected, map[string]any{"chat_id": chatID, "token": truncate(sel.Data, 64)})
		if err := b.commander.AnswerSelection(sel, modeRejectedText); err != nil {
			log.Warn("answer selection failed", zap.Error(err))
		}
		return
	}

	metrics.ActiveSessions.Set(float64(b.store.Len()))
	b.logEvent(db.EventModeChanged, map[string]any{"chat_id": chatID, "mode": string(mode)})
	log.Info("mode changed", zap.String("mode", string(mode)))
	if err := b.commander.AnswerSelection(sel, fmt.Sprintf(modeChangedFmt, b.registry.Title(mode))); err != nil {
		log.Warn("answer selection failed", zap.Error(err))
	}
}

func (b *Bot) send(chatID int64, text string) {
	if err := b.commander.SendMessage(chatID, text); err != nil {
		b.logger.Warn("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) logEvent(eventType string, payload map[string]any) {
	if _, err := b.journal.LogEvent(b.rootEventID, eventType, payload); err != nil {
		b.logger.Warn("journal write failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
