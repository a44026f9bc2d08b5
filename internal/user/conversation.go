package user

import (
	"context"
	"strings"
	"time"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/logger"
)

// StateCache is the slice of the Redis client the state store needs.
type StateCache interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// StateStore writes conversation state durably to the user row, with a
// cache-through copy in Redis keyed by phone number. The DB write is verified
// by reloading the row before the prompt that depends on it is sent; a reply
// arriving into an empty state is worse than a failed prompt.
type StateStore struct {
	Repo  Repository
	Cache StateCache
}

func NewStateStore(repo Repository, stateCache StateCache) *StateStore {
	return &StateStore{Repo: repo, Cache: stateCache}
}

// Set persists the state and verifies awaiting_input landed. One retry is
// permitted; after that it fails StatePersistenceFailed and the caller must
// not send the prompt.
func (s *StateStore) Set(ctx context.Context, usr *User, state *ConversationState) error {
	state.UpdatedAt = time.Now()

	for attempt := 0; attempt < 2; attempt++ {
		if err := s.Repo.SetConversationState(usr.ID.String(), state); err != nil {
			logger.Warn("Conversation state write failed", logger.Fields{
				logger.UserIdKey: usr.ID.String(),
				"attempt":        attempt + 1,
				logger.ErrorKey:  err.Error(),
			})
			continue
		}

		reloaded, err := s.Repo.FindByID(usr.ID.String())
		if err == nil && reloaded.ConversationState != nil &&
			reloaded.ConversationState.AwaitingInput == state.AwaitingInput {
			s.writeCache(ctx, usr.PhoneNumber, reloaded.ConversationState)
			usr.ConversationState = reloaded.ConversationState
			return nil
		}
	}

	logger.Error("Conversation state did not persist", logger.Fields{
		logger.UserIdKey: usr.ID.String(),
		"awaiting_input": state.AwaitingInput,
	})
	return ledger.ErrStatePersistence
}

// Get prefers the cached copy and falls back to the user row.
func (s *StateStore) Get(ctx context.Context, usr *User) *ConversationState {
	var cached ConversationState
	if err := s.Cache.GetJSON(ctx, cache.ChatStateKey(usr.PhoneNumber), &cached); err == nil {
		return &cached
	}
	return usr.ConversationState
}

// Clear unconditionally nulls the embedded state and drops the cache copy.
func (s *StateStore) Clear(ctx context.Context, usr *User) error {
	if err := s.Repo.ClearConversationState(usr.ID.String()); err != nil {
		return err
	}
	usr.ConversationState = nil
	if err := s.Cache.Delete(ctx, cache.ChatStateKey(usr.PhoneNumber)); err != nil {
		logger.Warn("Failed to drop cached conversation state", logger.Fields{
			logger.PhoneKey: usr.PhoneNumber,
			logger.ErrorKey: err.Error(),
		})
	}
	return nil
}

// IsCancel reports whether an inbound message cancels the pending question.
func IsCancel(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "cancel")
}

func (s *StateStore) writeCache(ctx context.Context, phone string, state *ConversationState) {
	if err := s.Cache.SetJSON(ctx, cache.ChatStateKey(phone), state, cache.ChatSessionTTL); err != nil {
		logger.Warn("Failed to cache conversation state", logger.Fields{
			logger.PhoneKey: phone,
			logger.ErrorKey: err.Error(),
		})
	}
}
