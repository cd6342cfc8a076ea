// Package cache keeps the latest normalized snapshot per device in Redis
// for API reads and state pushes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// StateChannel is the pub/sub channel carrying state updates to the web
// push feed.
const StateChannel = "state:updates"

const metricsTTL = time.Hour

// Cache wraps the Redis client.
type Cache struct {
	client *redis.Client
}

func New(addr string) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func metricsKey(deviceSN string) string {
	return fmt.Sprintf("device:%s:metrics", deviceSN)
}

// SetDeviceMetrics stores the latest snapshot and publishes it on the state
// channel.
func (c *Cache) SetDeviceMetrics(ctx context.Context, m models.DeviceMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, metricsKey(m.DeviceSN), payload, metricsTTL).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, StateChannel, payload).Err()
}

// GetDeviceMetrics returns the latest snapshot, or (nil, nil) when none is
// cached.
func (c *Cache) GetDeviceMetrics(ctx context.Context, deviceSN string) (*models.DeviceMetrics, error) {
	raw, err := c.client.Get(ctx, metricsKey(deviceSN)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m models.DeviceMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SubscribeState subscribes to the state update channel.
func (c *Cache) SubscribeState(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, StateChannel)
}
