package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
)

const (
	CompletionQueue = "completion_jobs"
	FailedQueue     = "failed_completion_jobs"
)

// TTLs for the short-lived key families.
const (
	FlowSessionTTL  = 5 * time.Minute
	ProcessingTTL   = 5 * time.Minute
	ChatSessionTTL  = 30 * time.Minute
	OTPTTL          = 5 * time.Minute
)

func FlowSessionKey(flowToken string) string {
	return fmt.Sprintf("session:%s", flowToken)
}

func TransferProcessingKey(userID string, ts int64) string {
	return fmt.Sprintf("transfer_processing:%s:%d", userID, ts)
}

func DataPurchaseProcessingKey(userID string, ts int64) string {
	return fmt.Sprintf("data_purchase_processing:%s:%d", userID, ts)
}

func ChatStateKey(phone string) string {
	return fmt.Sprintf("whatsapp:%s", phone)
}

func OTPKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

type RedisClient struct {
	Client *redis.Client
}

// CompletionJob is the unit of work handed from a terminal flow screen to the
// background worker. ProcessingKey points at the short-TTL record carrying the
// full payload.
type CompletionJob struct {
	Kind          string    `json:"kind"` // "bank_transfer" or "data_purchase"
	UserID        string    `json:"user_id"`
	ProcessingKey string    `json:"processing_key"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func NewRedisClient(cfg config.Config) *RedisClient {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis url", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
		opt = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		}
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
	} else {
		logger.Info("Connected to Redis", logger.Fields{"url": cfg.RedisURL})
	}

	return &RedisClient{Client: rdb}
}

// SetJSON stores v marshalled as JSON under key with the given TTL.
func (r *RedisClient) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %v", key, err)
	}
	return r.Client.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads key into dst. Returns redis.Nil when the key is absent or expired.
func (r *RedisClient) GetJSON(ctx context.Context, key string, dst interface{}) error {
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) EnqueueCompletion(ctx context.Context, job CompletionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal completion job: %v", err)
	}

	if err := r.Client.RPush(ctx, CompletionQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push job to redis: %v", err)
	}

	return nil
}

func (r *RedisClient) PushToDLQ(ctx context.Context, data []byte) error {
	if err := r.Client.RPush(ctx, FailedQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push job to DLQ: %v", err)
	}
	return nil
}
