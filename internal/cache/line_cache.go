package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

const keyPrefix = "comms:line:"

// cachedLine is the subset of a BusinessLine needed to attribute a webhook.
type cachedLine struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	LineMode      model.LineMode   `json:"line_mode"`
	PhoneNumber   string           `json:"phone_number"`
	SetupComplete bool             `json:"setup_complete"`
	Status        model.LineStatus `json:"status"`
}

// LineCache is a read-through cache of phone -> line lookups backed by Redis.
// Only positive results are stored; Redis errors are treated as misses.
type LineCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewLineCache creates a cache with the given entry TTL.
func NewLineCache(client redis.UniversalClient, ttl time.Duration) *LineCache {
	return &LineCache{client: client, ttl: ttl}
}

func key(phone string) string {
	return keyPrefix + phone
}

// Get returns the cached line for phone, if any.
func (c *LineCache) Get(ctx context.Context, phone string) (*model.BusinessLine, bool) {
	raw, err := c.client.Get(ctx, key(phone)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn("Line cache read failed", zap.Error(err))
			observer.IncCacheCheck("line", "error")
		} else {
			observer.IncCacheCheck("line", "miss")
		}
		return nil, false
	}

	var cl cachedLine
	if err := json.Unmarshal(raw, &cl); err != nil {
		logger.FromContext(ctx).Warn("Dropping undecodable line cache entry", zap.Error(err))
		c.Invalidate(ctx, phone)
		observer.IncCacheCheck("line", "error")
		return nil, false
	}

	observer.IncCacheCheck("line", "hit")
	return &model.BusinessLine{
		ID:            cl.ID,
		TenantID:      cl.TenantID,
		LineMode:      cl.LineMode,
		PhoneNumber:   cl.PhoneNumber,
		SetupComplete: cl.SetupComplete,
		Status:        cl.Status,
	}, true
}

// Set stores line under its phone number.
func (c *LineCache) Set(ctx context.Context, line *model.BusinessLine) {
	if line == nil || line.PhoneNumber == "" || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cachedLine{
		ID:            line.ID,
		TenantID:      line.TenantID,
		LineMode:      line.LineMode,
		PhoneNumber:   line.PhoneNumber,
		SetupComplete: line.SetupComplete,
		Status:        line.Status,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(line.PhoneNumber), raw, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn("Line cache write failed", zap.Error(err))
	}
}

// Invalidate drops the entry for phone.
func (c *LineCache) Invalidate(ctx context.Context, phone string) {
	if phone == "" {
		return
	}
	if err := c.client.Del(ctx, key(phone)).Err(); err != nil {
		logger.FromContext(ctx).Warn("Line cache invalidate failed", zap.Error(err))
	}
}
