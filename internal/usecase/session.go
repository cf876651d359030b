package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"aembot/internal/domain"
)

// defaultMaxMessages caps per-session history length.
const defaultMaxMessages = 10

// Session represents an active conversation session.
type Session struct {
	mu          sync.RWMutex
	ID          string           // ULID (internal, globally unique)
	ExternalKey string           // caller-supplied session key
	Msgs        []domain.Message
	CreatedAt   time.Time
	UpdatedAt   time.Time
	maxMessages int
}

// NewSession creates a new empty session with a generated ULID. History is
// bounded to maxMessages; older messages are evicted on append.
func NewSession(externalKey string, maxMessages int) *Session {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	now := time.Now()
	return &Session{
		ID:          generateULID(now),
		ExternalKey: externalKey,
		Msgs:        make([]domain.Message, 0, maxMessages),
		CreatedAt:   now,
		UpdatedAt:   now,
		maxMessages: maxMessages,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// AddMessage appends a message, evicting the oldest entries when the cap
// is exceeded (thread-safe).
func (s *Session) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Msgs = append(s.Msgs, msg)
	if len(s.Msgs) > s.maxMessages {
		s.Msgs = s.Msgs[len(s.Msgs)-s.maxMessages:]
	}
	s.UpdatedAt = time.Now()
}

// Messages returns a copy of the message history (thread-safe).
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.Msgs))
	copy(cp, s.Msgs)
	return cp
}

// MessageCount returns the current history length (thread-safe).
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Msgs)
}

// Clear empties the message history while keeping the session alive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Msgs = s.Msgs[:0]
	s.UpdatedAt = time.Now()
}

// SessionStore manages in-memory conversation sessions keyed by the
// caller-supplied session ID.
type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxMessages int
}

// NewSessionStore creates a session store. maxMessages bounds every
// session's history; zero selects the default cap.
func NewSessionStore(maxMessages int) *SessionStore {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &SessionStore{
		sessions:    make(map[string]*Session),
		maxMessages: maxMessages,
	}
}

// GetOrCreate returns an existing session or creates a new empty one.
func (st *SessionStore) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := NewSession(id, st.maxMessages)
	st.sessions[id] = s
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("SessionStore.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Reset clears a session's history. Resetting a session that does not
// exist is a no-op: it succeeds without creating anything.
func (st *SessionStore) Reset(id string) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return
	}
	s.Clear()
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
