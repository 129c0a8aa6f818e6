// Package relay runs one conversational turn per inbound message and routes
// transport updates to it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	"github.com/stupiduntilnot/chatrelay/internal/metrics"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/search"
	"github.com/stupiduntilnot/chatrelay/internal/session"
)

// ApologyText is the only thing a user ever sees when generation fails.
const ApologyText = "Извините, произошла ошибка. Попробуйте переформулировать ваш вопрос или повторите попытку позже."

// GenerationFailure is a failed generation for one chat. Cause is never
// shown to the user.
type GenerationFailure struct {
	ChatID int64
	Cause  error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed for chat %d: %v", e.ChatID, e.Cause)
}

func (e *GenerationFailure) Unwrap() error {
	return e.Cause
}

// EventLogger records journal events. *db.Journal implements it.
type EventLogger interface {
	LogEvent(parentID *int64, eventType string, payload map[string]any) (int64, error)
}

type nopJournal struct{}

func (nopJournal) LogEvent(*int64, string, map[string]any) (int64, error) { return 0, nil }

// TypingNotifier shows a "working" indicator in a chat.
type TypingNotifier interface {
	SendTyping(chatID int64) error
}

// Reply is the settled outcome of one turn.
type Reply struct {
	Text      string
	Searched  bool
	Augmented bool
	// Err is a *GenerationFailure when Text is ApologyText.
	Err error
}

// Options wires an Orchestrator. Store, Assembler and Provider are required.
type Options struct {
	Store     session.Store
	Assembler ctxpkg.Assembler
	Provider  modelpkg.Provider
	// Searcher may be nil to disable search.
	Searcher      search.Searcher
	SearchCircuit *control.CircuitBreaker
	MaxResults    int
	Typing        TypingNotifier
	Journal       EventLogger
	RootEventID   *int64
	Policy        control.Policy
	Logger        *zap.Logger
}

// Orchestrator runs the per-message flow: search, assemble, generate, commit.
type Orchestrator struct {
	store         session.Store
	assembler     ctxpkg.Assembler
	provider      modelpkg.Provider
	searcher      search.Searcher
	searchCircuit *control.CircuitBreaker
	maxResults    int
	typing        TypingNotifier
	journal       EventLogger
	rootEventID   *int64
	policy        control.Policy
	logger        *zap.Logger

	indicators sync.WaitGroup
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Assembler == nil || opts.Provider == nil {
		return nil, errors.New("relay: store, assembler and provider are required")
	}
	o := &Orchestrator{
		store:         opts.Store,
		assembler:     opts.Assembler,
		provider:      opts.Provider,
		searcher:      opts.Searcher,
		searchCircuit: opts.SearchCircuit,
		maxResults:    opts.MaxResults,
		typing:        opts.Typing,
		journal:       opts.Journal,
		rootEventID:   opts.RootEventID,
		policy:        opts.Policy.Normalize(),
		logger:        opts.Logger,
	}
	if o.searchCircuit == nil {
		o.searchCircuit = control.NewCircuitBreaker(5, time.Minute)
	}
	if o.maxResults <= 0 {
		o.maxResults = search.DefaultMaxResults
	}
	if o.journal == nil {
		o.journal = nopJournal{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// HandleMessage settles one user message. It never returns an error: a
// failed generation yields ApologyText with Reply.Err set and leaves the
// session untouched.
func (o *Orchestrator) HandleMessage(ctx context.Context, chatID int64, text string) Reply {
	turnID := uuid.NewString()
	log := o.logger.With(zap.Int64("chat_id", chatID), zap.String("turn_id", turnID))
	log.Info("turn started", logging.Text("text", text))

	turnEventID := o.logEvent(o.rootEventID, db.EventTurnStarted, map[string]any{
		"chat_id": chatID,
		"turn_id": turnID,
		"text":    truncate(text, 1000),
	})

	o.signalTyping(log, chatID)

	reply := Reply{}
	searchContext := ""
	if search.ShouldSearch(text) {
		reply.Searched = true
		searchContext = o.lookup(ctx, log, turnEventID, text)
	}

	snap := o.store.Snapshot(chatID)
	req, err := o.assembler.Assemble(snap.Mode, snap.History, text, searchContext)
	if err != nil {
		return o.fail(log, chatID, turnEventID, err)
	}
	reply.Augmented = searchContext != ""

	gctx, cancel := context.WithTimeout(ctx, o.policy.GenerateTimeout)
	start := time.Now()
	resp, err := o.provider.Generate(gctx, req)
	cancel()
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = modelpkg.ErrEmptyResponse
	}
	if err != nil {
		return o.fail(log, chatID, turnEventID, err)
	}
	metrics.Generations.WithLabelValues(metrics.OutcomeOK).Inc()

	err = o.store.Commit(chatID, snap.Epoch, ctxpkg.UserTurn(text), ctxpkg.AssistantTurn(resp.Content))
	if errors.Is(err, session.ErrSessionChanged) {
		log.Info("session changed during turn; exchange not recorded")
		o.logEvent(turnEventID, db.EventTurnDiscarded, map[string]any{"reason": "session_changed"})
	}
	metrics.ActiveSessions.Set(float64(o.store.Len()))

	o.logEvent(turnEventID, db.EventTurnCompleted, map[string]any{
		"mode":          string(snap.Mode),
		"augmented":     reply.Augmented,
		"latency_ms":    time.Since(start).Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
	log.Info("turn completed",
		zap.String("mode", string(snap.Mode)),
		zap.Bool("augmented", reply.Augmented),
		zap.Duration("latency", time.Since(start)),
	)

	reply.Text = resp.Content
	return reply
}

// lookup returns a formatted search context, or "" on any failure.
func (o *Orchestrator) lookup(ctx context.Context, log *zap.Logger, turnEventID *int64, text string) string {
	if o.searcher == nil || !o.searchCircuit.Allow(time.Now()) {
		reason := "disabled"
		if o.searcher != nil {
			reason = "circuit_open"
		}
		metrics.SearchRequests.WithLabelValues(metrics.OutcomeSkipped).Inc()
		o.logEvent(turnEventID, db.EventSearchSkipped, map[string]any{"reason": reason})
		log.Debug("search skipped", zap.String("reason", reason))
		return ""
	}

	sctx, cancel := context.WithTimeout(ctx, o.policy.SearchTimeout)
	defer cancel()
	results, err := o.searcher.Search(sctx, text)
	if err == nil {
		if formatted := search.FormatContext(results, o.maxResults); formatted != "" {
			if o.searchCircuit.RecordSuccess() {
				log.Info("search circuit closed")
			}
			metrics.SearchRequests.WithLabelValues(metrics.OutcomeOK).Inc()
			o.logEvent(turnEventID, db.EventSearchCompleted, map[string]any{"results": len(results)})
			return formatted
		}
		err = search.ErrNoResults
	}

	outcome, class := classifySearchError(err)
	metrics.SearchRequests.WithLabelValues(outcome).Inc()
	if outcome != metrics.OutcomeEmpty && o.searchCircuit.RecordFailure(class, time.Now()) {
		log.Warn("search circuit opened", zap.String("error_class", class))
	}
	o.logEvent(turnEventID, db.EventSearchFailed, map[string]any{
		"error_class": class,
		"error":       truncate(err.Error(), 500),
	})
	log.Warn("search failed; continuing without context", zap.Error(err))
	return ""
}

func classifySearchError(err error) (outcome, class string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout, "timeout"
	case errors.Is(err, search.ErrNoResults):
		return metrics.OutcomeEmpty, "no_results"
	default:
		return metrics.OutcomeError, "search_api"
	}
}

func (o *Orchestrator) fail(log *zap.Logger, chatID int64, turnEventID *int64, cause error) Reply {
	outcome := metrics.OutcomeError
	if errors.Is(cause, context.DeadlineExceeded) {
		outcome = metrics.OutcomeTimeout
	}
	metrics.Generations.WithLabelValues(outcome).Inc()

	failure := &GenerationFailure{ChatID: chatID, Cause: cause}
	log.Error("generation failed", zap.String("outcome", outcome), zap.Error(cause))
	o.logEvent(turnEventID, db.EventTurnFailed, map[string]any{
		"outcome": outcome,
		"error":   truncate(cause.Error(), 1000),
	})
	return Reply{Text: ApologyText, Err: failure}
}

// signalTyping sends the indicator without holding up the turn.
func (o *Orchestrator) signalTyping(log *zap.Logger, chatID int64) {
	if o.typing == nil {
		return
	}
	o.indicators.Add(1)
	go func() {
		defer o.indicators.Done()
		if err := o.typing.SendTyping(chatID); err != nil {
			log.Debug("typing indicator failed", zap.Error(err))
		}
	}()
}

// Wait blocks until every in-flight typing indicator has returned.
func (o *Orchestrator) Wait() {
	o.indicators.Wait()
}

// logEvent returns a pointer to the new event id, or parentID when the
// journal write failed so children still attach somewhere sensible.
func (o *Orchestrator) logEvent(parentID *int64, eventType string, payload map[string]any) *int64 {
	id, err := o.journal.LogEvent(parentID, eventType, payload)
	if err != nil {
		o.logger.Warn("journal write failed", zap.String("event_type", eventType), zap.Error(err))
		return parentID
	}
	return &id
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "...(truncated)"
}
