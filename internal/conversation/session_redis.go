package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = time.Hour

// RedisSessionStore keeps each session as one JSON value with a TTL that is
// refreshed on every save.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("medibook.internal.conversation.sessions")
	}
	return &RedisSessionStore{redis: client, ttl: ttl, tracer: tracer}
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()
	span.SetAttributes(attribute.String("medibook.session_id", id))

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()
	if session == nil || session.ID == "" {
		return errors.New("conversation: session id required")
	}
	span.SetAttributes(attribute.String("medibook.session_id", session.ID))

	stored := session.Clone()
	stored.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(stored)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_session")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	return nil
}

// List scans the session keyspace. Keys that expire between the scan and
// the read are skipped.
func (s *RedisSessionStore) List(ctx context.Context) ([]*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.list_sessions")
	defer span.End()

	keys, err := s.scanKeys(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]*Session, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		values, err := s.redis.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to load sessions: %w", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var session Session
			if err := json.Unmarshal([]byte(raw), &session); err != nil {
				continue
			}
			out = append(out, &session)
		}
	}
	sortByRecent(out)
	return out, nil
}

func (s *RedisSessionStore) DeleteAll(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_all_sessions")
	defer span.End()

	keys, err := s.scanKeys(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	removed := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := s.redis.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("conversation: failed to delete sessions: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

const scanBatch = 100

func (s *RedisSessionStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, sessionKey("*"), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("conversation: failed to scan sessions: %w", err)
	}
	return keys, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("medibook:session:%s", id)
}
