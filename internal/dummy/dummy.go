// Package dummy provides scripted stand-ins for the transport, generation
// and search backends. A script is a comma separated list of actions:
// ok, err:<class>, sleep:<ms>, msg:<text>, msgb64:<base64>, and for
// commanders sel:<token>; searchers also accept empty.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/search"
)

// ChatID is the chat every scripted update belongs to.
const ChatID int64 = 1

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64", "sel"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "empty" {
			actions = append(actions, action{kind: token})
			continue
		}
		parsed := false
		for _, kind := range actionKinds {
			if strings.HasPrefix(token, kind+":") {
				actions = append(actions, action{kind: kind, arg: strings.TrimPrefix(token, kind+":")})
				parsed = true
				break
			}
		}
		if !parsed {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions    []action
	index      int
	repeatLast bool
}

func newRunner(script string, repeatLast bool) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions, repeatLast: repeatLast}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		if !r.repeatLast {
			return action{kind: "ok"}
		}
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func (a action) text() (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func sleepCtx(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent is one outbound transport call.
type Sent struct {
	ChatID int64
	Kind   string // message, typing, menu, answer
	Text   string
}

// Commander replays a poll script and records everything sent. Once the
// poll script is exhausted it returns no updates.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []Sent
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript, false)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript, true)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		_ = sleepCtx(context.Background(), a.arg)
		return nil, nil
	case "msg", "msgb64":
		msg, err := a.text()
		if err != nil {
			return nil, err
		}
		c.updateID++
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Message: &cmdpkg.Message{
					MessageID: int(c.updateID),
					Chat:      cmdpkg.Chat{ID: ChatID},
					From:      &cmdpkg.User{ID: ChatID, FirstName: "dummy"},
					Text:      &msg,
					Date:      time.Now().Unix(),
				},
			},
		}, nil
	case "sel":
		c.updateID++
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Selection: &cmdpkg.Selection{
					ID:   fmt.Sprintf("cb-%d", c.updateID),
					Chat: cmdpkg.Chat{ID: ChatID},
					Data: a.arg,
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) record(chatID int64, kind, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		_ = sleepCtx(context.Background(), a.arg)
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Kind: kind, Text: text})
	return nil
}

func (c *Commander) SendMessage(chatID int64, text string) error {
	return c.record(chatID, "message", text)
}

func (c *Commander) SendTyping(chatID int64) error {
	return c.record(chatID, "typing", "")
}

func (c *Commander) SendModeMenu(chatID int64, prompt string, options []cmdpkg.MenuOption) error {
	tokens := make([]string, 0, len(options))
	for _, o := range options {
		tokens = append(tokens, o.Data)
	}
	return c.record(chatID, "menu", prompt+"\n"+strings.Join(tokens, ","))
}

func (c *Commander) AnswerSelection(sel *cmdpkg.Selection, text string) error {
	return c.record(sel.Chat.ID, "answer", text)
}

// Sent returns a copy of every recorded outbound call.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Provider replays a generation script; the last action repeats.
type Provider struct {
	mu       sync.Mutex
	model    string
	script   *scriptRunner
	requests []ctxpkg.Request
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script, true)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) Generate(ctx context.Context, req ctxpkg.Request) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "empty":
		return modelpkg.CompletionResponse{}, modelpkg.ErrEmptyResponse
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider: %w", err)
		}
		return modelpkg.CompletionResponse{Content: "dummy-after-sleep", InputTokens: 1, OutputTokens: 1}, nil
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return modelpkg.CompletionResponse{Content: text, InputTokens: 1, OutputTokens: 1}, nil
	default:
		return modelpkg.CompletionResponse{
			Content:      "dummy-ok",
			InputTokens:  1,
			OutputTokens: 1,
		}, nil
	}
}

// Requests returns every request seen so far.
func (p *Provider) Requests() []ctxpkg.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ctxpkg.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Searcher replays a search script; the last action repeats.
type Searcher struct {
	mu      sync.Mutex
	script  *scriptRunner
	queries []string
}

func NewSearcher(script string) (*Searcher, error) {
	runner, err := newRunner(script, true)
	if err != nil {
		return nil, err
	}
	return &Searcher{script: runner}, nil
}

func (s *Searcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	s.mu.Lock()
	a := s.script.next()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("%w: dummy search error class=%s", search.ErrUnavailable, emptyAs(a.arg, "search_api"))
	case "empty":
		return nil, search.ErrNoResults
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return nil, fmt.Errorf("%w: %w", search.ErrUnavailable, err)
		}
		return []search.Result{{Title: "dummy result", Snippet: "dummy-after-sleep"}}, nil
	case "msg", "msgb64":
		text, err := a.text()
		if err != nil {
			return nil, err
		}
		return []search.Result{{Title: "dummy result", Snippet: text}}, nil
	default:
		return []search.Result{{Title: "dummy result", Snippet: "dummy snippet"}}, nil
	}
}

// Queries returns every query seen so far.
func (s *Searcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
