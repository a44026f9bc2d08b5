package flow

import (
	"context"
	"time"

	"github.com/kudichat/kudichat/pkg/cache"
)

// Store is the slice of the Redis client the flow layer needs.
type Store interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst interface{}) error
	Delete(ctx context.Context, keys ...string) error
	EnqueueCompletion(ctx context.Context, job cache.CompletionJob) error
}

// Sessions holds the merged form state of one flow across screens, keyed by
// flow token. Short TTL; an abandoned form just evaporates.
type Sessions struct {
	store Store
}

func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// Merge folds updates into the existing session so each screen only sends
// its own fields.
func (s *Sessions) Merge(ctx context.Context, flowToken string, updates map[string]interface{}) (map[string]interface{}, error) {
	key := cache.FlowSessionKey(flowToken)

	existing := map[string]interface{}{}
	_ = s.store.GetJSON(ctx, key, &existing)

	for k, v := range updates {
		existing[k] = v
	}

	if err := s.store.SetJSON(ctx, key, existing, cache.FlowSessionTTL); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Sessions) Get(ctx context.Context, flowToken string) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	err := s.store.GetJSON(ctx, cache.FlowSessionKey(flowToken), &data)
	return data, err
}

func (s *Sessions) Clear(ctx context.Context, flowToken string) error {
	return s.store.Delete(ctx, cache.FlowSessionKey(flowToken))
}
