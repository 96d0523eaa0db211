package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "guardian:session:"
	maxTxAttempts    = 5
)

// RedisStore keeps each session as one JSON document with a sliding TTL.
// AppendExchange uses WATCH/MULTI so concurrent appends are not lost.
type RedisStore struct {
	client redis.Cmdable
	watch  func(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisStore creates a store on client. ttl <= 0 keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		watch:  client.Watch,
		ttl:    ttl,
		logger: logger,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Get loads the session state
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, apperrors.NewCacheError("get session", err)
	}
	return decode(raw)
}

// Put stores the session state and refreshes its TTL
func (s *RedisStore) Put(ctx context.Context, state *models.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session state needs a session id")
	}
	c := clone(state)
	c.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(state.SessionID), raw, s.ttl).Err(); err != nil {
		return apperrors.NewCacheError("put session", err)
	}
	return nil
}

// AppendExchange records one exchange under an optimistic transaction
func (s *RedisStore) AppendExchange(ctx context.Context, sessionID, userText, systemText string) error {
	key := sessionKey(sessionID)

	txf := func(tx *redis.Tx) error {
		state := &models.ConversationState{SessionID: sessionID}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if state, err = decode(raw); err != nil {
				return err
			}
		}

		state.AppendExchange(userText, systemText, time.Now().UTC())
		out, err := json.Marshal(state)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return apperrors.NewCacheError("append exchange", err)
		}
		s.logger.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"attempt":    attempt,
		}).Debug("session changed during append, retrying")
	}
	return apperrors.NewCacheError("append exchange", fmt.Errorf("session %s: too much contention", sessionID))
}

// Clear deletes the session
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return apperrors.NewCacheError("clear session", err)
	}
	return nil
}

func decode(raw []byte) (*models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &state, nil
}
