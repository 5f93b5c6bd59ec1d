package session

import (
	"context"
	"sync"
	"time"

	"healthq/internal/model"
)

type memorySession struct {
	mu      sync.Mutex
	created time.Time
	turns   []model.Turn
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) session(id string) *memorySession {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess
	}
	sess = &memorySession{created: s.now()}
	s.sessions[id] = sess
	return sess
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	sess := s.session(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &model.Session{
		ID:        id,
		Turns:     append([]model.Turn(nil), sess.turns...),
		CreatedAt: sess.created,
	}, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turn model.Turn) error {
	if id == "" {
		return ErrEmptySessionID
	}
	sess := s.session(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, turn)
	return nil
}

func (s *MemoryStore) Transcript(_ context.Context, id string) ([]model.Turn, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return []model.Turn{}, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]model.Turn{}, sess.turns...), nil
}

func (s *MemoryStore) Reset(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
