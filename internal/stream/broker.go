package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pumplink/pumplink-core/internal/notifcache"
)

// Logger defines the logging interface used by the Broker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber receives events for the device rooms it has joined.
// Send must not block indefinitely; a Send error marks the subscriber
// dead and it is dropped from the room (it must resubscribe for a fresh
// replay).
type Subscriber interface {
	// ID uniquely identifies the subscriber within the broker.
	ID() string

	// Send delivers one event to the subscriber.
	Send(event Event) error
}

// DeviceChecker validates device existence on subscription.
// *pump.Registry satisfies it via a thin adapter in the caller, or any
// type exposing pump lookup.
type DeviceChecker interface {
	Exists(ctx context.Context, deviceID string) bool
}

// room holds one device's subscribers and retained snapshot.
// The room mutex orders snapshot updates and delivery: every subscriber
// observes events in exactly the publish order.
type room struct {
	mu          sync.Mutex
	subscribers map[string]Subscriber
	snapshot    Snapshot
}

// Broker is the real-time fan-out hub: rooms keyed by device ID, a
// retained snapshot per room, and a live-device presence set.
type Broker struct {
	mu    sync.RWMutex
	rooms map[string]*room
	live  map[string]struct{}

	devices DeviceChecker
	cache   *notifcache.Cache
	logger  Logger
}

// NewBroker creates a stream broker. The cache may be nil when
// notification replay is disabled.
func NewBroker(devices DeviceChecker, cache *notifcache.Cache) *Broker {
	return &Broker{
		rooms:   make(map[string]*room),
		live:    make(map[string]struct{}),
		devices: devices,
		cache:   cache,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// getRoom returns the room for a device, creating it on first use.
func (b *Broker) getRoom(deviceID string) *room {
	b.mu.RLock()
	r, ok := b.rooms[deviceID]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.rooms[deviceID]; ok {
		return r
	}
	r = &room{subscribers: make(map[string]Subscriber)}
	b.rooms[deviceID] = r
	return r
}

// Subscribe joins a subscriber to a device's room.
//
// An unknown device sends an explicit error event to the subscriber and
// returns ErrUnknownDevice. Otherwise, under the room lock, the
// subscriber receives a subscribed acknowledgment, then a replay of the
// retained snapshot (latest progress, latest status, most recent error),
// then the unexpired cached notifications — and from then on live events,
// with no gap or reorder between replay and live.
func (b *Broker) Subscribe(ctx context.Context, sub Subscriber, deviceID string) error {
	if !b.devices.Exists(ctx, deviceID) {
		// Best-effort rejection event; the subscriber may already be gone.
		_ = sub.Send(Event{
			Type:      EventError,
			DeviceID:  deviceID,
			Payload:   map[string]any{"message": fmt.Sprintf("unknown device %q", deviceID)},
			Timestamp: time.Now().UTC(),
		})
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	// Fetch cached notifications and error history before taking the room
	// lock; the cache may be a network call.
	var notifications []notifcache.Notification
	var cachedErrors []map[string]any
	if b.cache != nil {
		var err error
		notifications, err = b.cache.RecentNotifications(ctx, deviceID)
		if err != nil {
			b.logger.Warn("notification replay unavailable",
				"device_id", deviceID, "error", err)
		}
		cachedErrors, err = b.cache.RecentDeviceErrors(ctx, deviceID)
		if err != nil {
			b.logger.Warn("error history unavailable",
				"device_id", deviceID, "error", err)
		}
	}

	r := b.getRoom(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()

	// A fresh room has no in-memory error ring yet; seed it from the
	// cached history so replay survives a restart. A room that has seen
	// errors keeps its own ring.
	if len(r.snapshot.RecentErrors) == 0 && len(cachedErrors) > 0 {
		if len(cachedErrors) > recentErrorCap {
			cachedErrors = cachedErrors[:recentErrorCap]
		}
		r.snapshot.RecentErrors = cachedErrors
	}

	now := time.Now().UTC()
	if err := sub.Send(Event{
		Type: EventSubscribed, DeviceID: deviceID, Timestamp: now,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscriberGone, err)
	}

	b.replayLocked(sub, deviceID, &r.snapshot, notifications)

	r.subscribers[sub.ID()] = sub
	b.logger.Debug("subscriber joined", "device_id", deviceID, "subscriber", sub.ID())
	return nil
}

// replayLocked sends the snapshot and cached notifications to a new
// subscriber. Replay failures are ignored; the subscriber will be
// dropped on its first live delivery failure.
func (b *Broker) replayLocked(sub Subscriber, deviceID string, snap *Snapshot, notifications []notifcache.Notification) {
	now := time.Now().UTC()

	if snap.LatestProgress != nil {
		_ = sub.Send(Event{Type: EventProgress, DeviceID: deviceID,
			Payload: copyMap(snap.LatestProgress), Timestamp: now})
	}
	if snap.LatestStatus != nil {
		_ = sub.Send(Event{Type: EventStatus, DeviceID: deviceID,
			Payload: copyMap(snap.LatestStatus), Timestamp: now})
	}
	if len(snap.RecentErrors) > 0 {
		_ = sub.Send(Event{Type: EventDeviceError, DeviceID: deviceID,
			Payload: copyMap(snap.RecentErrors[0]), Timestamp: now})
	}

	for _, n := range notifications {
		_ = sub.Send(Event{Type: EventNotification, DeviceID: deviceID,
			Payload: map[string]any{
				"id":        n.ID,
				"type":      n.Type,
				"priority":  n.Priority,
				"title":     n.Title,
				"message":   n.Message,
				"timestamp": n.Timestamp,
				"modal":     n.Priority == notifcache.PriorityCritical,
			},
			Timestamp: now})
	}
}

// Unsubscribe removes a subscriber from a device's room.
func (b *Broker) Unsubscribe(sub Subscriber, deviceID string) {
	b.mu.RLock()
	r, ok := b.rooms[deviceID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.subscribers, sub.ID())
	r.mu.Unlock()
	b.logger.Debug("subscriber left", "device_id", deviceID, "subscriber", sub.ID())
}

// UnsubscribeAll removes a subscriber from every room.
// Called when a viewer connection closes.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.RLock()
	rooms := make([]*room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		delete(r.subscribers, sub.ID())
		r.mu.Unlock()
	}
}

// Publish updates the retained snapshot for a device and delivers the
// event, in publish order, to every subscriber of that room. Zero
// subscribers still updates the snapshot. A subscriber whose Send fails
// is dropped on the spot.
func (b *Broker) Publish(deviceID, eventType string, payload map[string]any) {
	r := b.getRoom(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()

	b.updateSnapshotLocked(&r.snapshot, eventType, payload)

	event := Event{
		Type:      eventType,
		DeviceID:  deviceID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	for id, sub := range r.subscribers {
		if err := sub.Send(event); err != nil {
			delete(r.subscribers, id)
			b.logger.Info("subscriber dropped",
				"device_id", deviceID, "subscriber", id, "error", err)
		}
	}
}

// updateSnapshotLocked folds an event into the retained snapshot.
func (b *Broker) updateSnapshotLocked(snap *Snapshot, eventType string, payload map[string]any) {
	switch eventType {
	case EventProgress:
		snap.LatestProgress = copyMap(payload)
	case EventStatus:
		snap.LatestStatus = copyMap(payload)
	case EventDeviceError:
		// Most-recent-first ring, capped
		errs := make([]map[string]any, 0, recentErrorCap)
		errs = append(errs, copyMap(payload))
		for _, e := range snap.RecentErrors {
			if len(errs) == recentErrorCap {
				break
			}
			errs = append(errs, e)
		}
		snap.RecentErrors = errs
	case EventInfusionConfirmed:
		snap.CurrentInfusion = copyMap(payload)
	case EventInfusionCompleted:
		snap.CurrentInfusion = nil
		snap.LatestProgress = nil
	}
}

// GetSnapshot returns a copy of a device's retained snapshot.
func (b *Broker) GetSnapshot(deviceID string) Snapshot {
	r := b.getRoom(deviceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.clone()
}

// SubscriberCount returns the number of subscribers in a device's room.
func (b *Broker) SubscriberCount(deviceID string) int {
	b.mu.RLock()
	r, ok := b.rooms[deviceID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// MarkLive records a device as present in the live set.
func (b *Broker) MarkLive(deviceID string) {
	b.mu.Lock()
	b.live[deviceID] = struct{}{}
	b.mu.Unlock()
}

// MarkOffline removes a device from the live set.
func (b *Broker) MarkOffline(deviceID string) {
	b.mu.Lock()
	delete(b.live, deviceID)
	b.mu.Unlock()
}

// LiveDevices returns the device IDs currently considered live,
// maintained from status telemetry.
func (b *Broker) LiveDevices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.live))
	for id := range b.live {
		out = append(out, id)
	}
	return out
}
