package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trustpipe/internal/constants"
	"trustpipe/internal/logger"
	"trustpipe/pkg/models"
)

type DedupStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

type RedisDedupStore struct {
	client *redis.Client
}

func NewRedisDedupStore(client *redis.Client) DedupStore {
	return &RedisDedupStore{client: client}
}

func (r *RedisDedupStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

// Deduper drops replayed lifecycle events. Producers redeliver on their own
// retries, and a redelivered LeaseTerminated should not email the owner
// twice.
type Deduper struct {
	store  DedupStore
	ttl    time.Duration
	logger logger.Logger
}

func NewDeduper(store DedupStore, ttlSeconds int, log logger.Logger) *Deduper {
	if ttlSeconds <= 0 {
		ttlSeconds = constants.DefaultDedupTTLSeconds
	}
	return &Deduper{
		store:  store,
		ttl:    time.Duration(ttlSeconds) * time.Second,
		logger: log,
	}
}

// FirstSeen reports whether this event has not been processed inside the
// dedup window. Redis being down fails open.
func (d *Deduper) FirstSeen(ctx context.Context, event models.LeaseEvent) bool {
	key := constants.CacheKeyPrefixEventDedup + eventFingerprint(event)

	unique, err := d.store.SetNX(ctx, key, time.Now().Unix(), d.ttl)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Dedup check failed, allowing event through",
			"error", err,
		)
		return true
	}

	return unique
}

func eventFingerprint(event models.LeaseEvent) string {
	h := sha256.New()
	h.Write([]byte(event.ID))
	h.Write([]byte{0})
	h.Write([]byte(event.Kind))
	h.Write([]byte{0})
	h.Write([]byte(event.LeaseID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(event.OwnerEmail)))
	return hex.EncodeToString(h.Sum(nil))
}
