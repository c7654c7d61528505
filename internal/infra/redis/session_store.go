package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timed-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// SessionStore persists one serialized session blob per key in Redis.
// The blob is versionless JSON; anything that fails structural decoding is
// reported as absent so a corrupt record routes to session creation
// instead of wedging the client. The TTL bounds how long an abandoned
// session lingers; it is refreshed on every save.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *SessionStore) Load(ctx context.Context, key string) (domain.Session, bool, error) {
	blob, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	session, ok := domain.DecodeSession(blob)
	if !ok {
		return domain.Session{}, false, nil
	}
	return session, true, nil
}

func (s *SessionStore) Save(ctx context.Context, key string, session domain.Session) error {
	blob, err := domain.EncodeSession(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *SessionStore) key(key string) string {
	return "quiz:session:" + key
}
