package notifcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Notification priorities, derived from device-reported error severity.
const (
	PriorityCritical = "critical"
	PriorityWarning  = "warning"
	PriorityInfo     = "info"
)

// keyPrefix namespaces all cache keys written by this package.
const keyPrefix = "notification:"

// errorKeyPrefix namespaces the per-device error history lists.
const errorKeyPrefix = "errors:"

// Notification is a cached device notification, replayed to viewers who
// subscribe within the TTL window.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	RawData   map[string]any `json:"raw_data,omitempty"`
}

// Cache stores device notifications with a fixed TTL so that viewers
// joining shortly after an alarm still see it. It is a replay buffer,
// not an audit log; expiry is the point.
type Cache struct {
	store Store
	ttl   time.Duration
}

// NewCache creates a notification cache over the given store.
// A non-positive ttl falls back to 5 minutes.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{store: store, ttl: ttl}
}

// StoreNotification caches a notification for the TTL window.
func (c *Cache) StoreNotification(ctx context.Context, n Notification) error {
	if n.ID == "" || n.DeviceID == "" {
		return ErrInvalidNotification
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}

	key := keyPrefix + n.DeviceID + ":" + n.ID
	if err := c.store.Put(ctx, key, string(data), c.ttl); err != nil {
		return fmt.Errorf("caching notification: %w", err)
	}
	return nil
}

// RecentNotifications returns the unexpired notifications for a device.
// Entries that fail to decode are skipped rather than failing the whole
// replay.
func (c *Cache) RecentNotifications(ctx context.Context, deviceID string) ([]Notification, error) {
	values, err := c.store.ListByPrefix(ctx, keyPrefix+deviceID+":")
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	notifications := make([]Notification, 0, len(values))
	for _, raw := range values {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// PushDeviceError appends an error payload to the device's error history
// list. The whole list expires TTL after the most recent push, so a quiet
// device's history ages out together.
func (c *Cache) PushDeviceError(ctx context.Context, deviceID string, payload map[string]any) error {
	if deviceID == "" {
		return ErrInvalidNotification
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling device error: %w", err)
	}

	if err := c.store.PushList(ctx, errorKeyPrefix+deviceID, string(data), c.ttl); err != nil {
		return fmt.Errorf("caching device error: %w", err)
	}
	return nil
}

// RecentDeviceErrors returns the device's unexpired error history, most
// recent first. Entries that fail to decode are skipped.
func (c *Cache) RecentDeviceErrors(ctx context.Context, deviceID string) ([]map[string]any, error) {
	values, err := c.store.GetList(ctx, errorKeyPrefix+deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing device errors: %w", err)
	}

	errs := make([]map[string]any, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var payload map[string]any
		if err := json.Unmarshal([]byte(values[i]), &payload); err != nil {
			continue
		}
		errs = append(errs, payload)
	}
	return errs, nil
}

// TTL returns the cache's notification lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// HealthCheck verifies the underlying store is reachable.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
