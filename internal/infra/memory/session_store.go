package memory

import (
	"context"
	"sync"

	"timed-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. It
// keeps serialized blobs rather than live structs so that the decode path
// (including corrupt-blob-as-absent) behaves exactly like the Redis store.
type SessionStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		blobs: make(map[string][]byte),
	}
}

func (s *SessionStore) Load(_ context.Context, key string) (domain.Session, bool, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, false, nil
	}
	session, ok := domain.DecodeSession(blob)
	if !ok {
		return domain.Session{}, false, nil
	}
	return session, true, nil
}

func (s *SessionStore) Save(_ context.Context, key string, session domain.Session) error {
	blob, err := domain.EncodeSession(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[key] = blob
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
	return nil
}

// Put stores a raw blob directly, bypassing encoding. Test hook for
// exercising corrupt-record recovery.
func (s *SessionStore) Put(key string, blob []byte) {
	s.mu.Lock()
	s.blobs[key] = blob
	s.mu.Unlock()
}
