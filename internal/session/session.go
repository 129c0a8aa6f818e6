// Package session owns the per-chat mode and bounded conversation history.
package session

import (
	"errors"
	"fmt"
	"sync"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/persona"
)

// DefaultHistoryLimit is five user/assistant pairs.
const DefaultHistoryLimit = 10

var (
	// ErrInvalidMode is returned by SetMode for tokens the registry rejects.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrSessionChanged is returned by Commit when the session was reset or
	// switched mode after the snapshot was taken.
	ErrSessionChanged = errors.New("session changed since snapshot")
)

// Snapshot is a consistent read of one chat's session.
type Snapshot struct {
	Mode    persona.Mode
	History []ctxpkg.Message
	// Epoch changes on every SetMode and Reset.
	Epoch uint64
}

// Store is the only owner of session state. Implementations serialize all
// operations per chat id.
type Store interface {
	Mode(chatID int64) persona.Mode
	SetMode(chatID int64, token string) (persona.Mode, error)
	History(chatID int64) []ctxpkg.Message
	AppendTurn(chatID int64, turn ctxpkg.Message)
	Reset(chatID int64)
	Snapshot(chatID int64) Snapshot
	Commit(chatID int64, epoch uint64, turns ...ctxpkg.Message) error
	Len() int
}

type chatSession struct {
	mu      sync.Mutex
	mode    persona.Mode
	history []ctxpkg.Message
	epoch   uint64
}

// MemoryStore keeps sessions in process memory. Sessions are created lazily
// and never expire.
type MemoryStore struct {
	registry   *persona.Registry
	compressor ctxpkg.Compressor

	mu       sync.Mutex
	sessions map[int64]*chatSession
}

// NewMemoryStore creates a store whose histories hold at most limit turns.
// A non-positive limit selects DefaultHistoryLimit.
func NewMemoryStore(registry *persona.Registry, limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryStore{
		registry:   registry,
		compressor: &ctxpkg.SimpleCompressor{MaxMessages: limit},
		sessions:   make(map[int64]*chatSession),
	}
}

func (s *MemoryStore) get(chatID int64) *chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[chatID]
	if !ok {
		cs = &chatSession{mode: s.registry.Default()}
		s.sessions[chatID] = cs
	}
	return cs
}

// Mode returns the chat's mode, or the registry default.
func (s *MemoryStore) Mode(chatID int64) persona.Mode {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.mode
}

// SetMode validates token, stores the mode and clears history. An invalid
// token leaves the session untouched.
func (s *MemoryStore) SetMode(chatID int64, token string) (persona.Mode, error) {
	mode, err := s.registry.Lookup(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMode, err)
	}
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.mode = mode
	cs.history = nil
	cs.epoch++
	return mode, nil
}

// History returns a copy of the chat's history, oldest first.
func (s *MemoryStore) History(chatID int64) []ctxpkg.Message {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cloneTurns(cs.history)
}

// AppendTurn appends one turn and evicts the oldest entries over the limit.
func (s *MemoryStore) AppendTurn(chatID int64, turn ctxpkg.Message) {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = s.compressor.Compress(append(cs.history, turn))
}

// Reset restores the default mode and empties history.
func (s *MemoryStore) Reset(chatID int64) {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.mode = s.registry.Default()
	cs.history = nil
	cs.epoch++
}

// Snapshot reads mode, history and epoch under one lock.
func (s *MemoryStore) Snapshot(chatID int64) Snapshot {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return Snapshot{
		Mode:    cs.mode,
		History: cloneTurns(cs.history),
		Epoch:   cs.epoch,
	}
}

// Commit appends turns atomically, then truncates. It refuses when the
// session epoch differs from the snapshot the exchange was built on.
func (s *MemoryStore) Commit(chatID int64, epoch uint64, turns ...ctxpkg.Message) error {
	cs := s.get(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.epoch != epoch {
		return ErrSessionChanged
	}
	cs.history = s.compressor.Compress(append(cs.history, turns...))
	return nil
}

// Len reports how many chats have a session.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func cloneTurns(in []ctxpkg.Message) []ctxpkg.Message {
	out := make([]ctxpkg.Message, len(in))
	copy(out, in)
	return out
}
