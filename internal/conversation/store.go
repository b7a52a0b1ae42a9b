package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// callContextTTL is the default bound on how long an abandoned call
// context survives.
const callContextTTL = 24 * time.Hour

// ContextStore persists CallContexts between webhook turns. Load returns
// nil without error for unknown sessions.
type ContextStore interface {
	Load(ctx context.Context, sessionID string) (*CallContext, error)
	Save(ctx context.Context, call *CallContext) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisContextStore is the production ContextStore.
type RedisContextStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewRedisContextStore creates a Redis-backed call context store.
func NewRedisContextStore(rdb *redis.Client, tracer trace.Tracer) *RedisContextStore {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("frontdesk.internal.conversation.store")
	}
	return &RedisContextStore{
		redis:  rdb,
		tracer: tracer,
		ttl:    callContextTTL,
	}
}

// WithTTL overrides the context expiry. Save re-stamps the TTL on every
// turn, so the expiry acts as an inactivity timeout for abandoned calls.
func (s *RedisContextStore) WithTTL(ttl time.Duration) *RedisContextStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *RedisContextStore) Load(ctx context.Context, sessionID string) (*CallContext, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_context")
	defer span.End()

	data, err := s.redis.Get(ctx, callContextKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load call context: %w", err)
	}

	var call CallContext
	if err := json.Unmarshal(data, &call); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode call context: %w", err)
	}
	return &call, nil
}

func (s *RedisContextStore) Save(ctx context.Context, call *CallContext) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_context")
	defer span.End()

	data, err := json.Marshal(call)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal call context: %w", err)
	}
	if err := s.redis.Set(ctx, callContextKey(call.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist call context: %w", err)
	}
	return nil
}

func (s *RedisContextStore) Delete(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_context")
	defer span.End()

	if err := s.redis.Del(ctx, callContextKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete call context: %w", err)
	}
	return nil
}

func callContextKey(sessionID string) string {
	return fmt.Sprintf("call_context:%s", sessionID)
}
