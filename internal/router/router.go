package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pumplink/pumplink-core/internal/infrastructure/mqtt"
	"github.com/pumplink/pumplink-core/internal/lifecycle"
	"github.com/pumplink/pumplink-core/internal/notifcache"
	"github.com/pumplink/pumplink-core/internal/pump"
	"github.com/pumplink/pumplink-core/internal/stream"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Router.
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

// Subscriber is the transport subscription surface the router needs.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MetricsWriter records numeric telemetry samples. *influxdb.Client
// satisfies it; a nil writer disables metric recording.
type MetricsWriter interface {
	WriteInfusionProgress(deviceID, infusionID string, timeRemainingMin, volumeRemainingMl float64)
	WriteDeviceVitals(deviceID string, batteryPercent, reservoirMl float64)
	WriteDeviceError(deviceID, code string)
}

// Device status values reported on the status telemetry category.
// Offline and degraded remove the device from the live presence set.
const (
	deviceStatusOffline  = "offline"
	deviceStatusDegraded = "degraded"
)

// Router consumes inbound device telemetry and drives the rest of the
// system: lifecycle transitions, notification caching, metric writes and
// stream fan-out.
//
// Handlers run on transport delivery goroutines. Messages for the same
// device are serialized through a per-device mutex; different devices
// proceed in parallel.
type Router struct {
	pumps   *pump.Registry
	machine *lifecycle.Machine
	broker  *stream.Broker
	cache   *notifcache.Cache
	metrics MetricsWriter
	logger  Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a telemetry router. The cache and metrics writer may be
// nil; the corresponding side effects are then skipped.
func New(pumps *pump.Registry, machine *lifecycle.Machine, broker *stream.Broker, cache *notifcache.Cache, metrics MetricsWriter) *Router {
	return &Router{
		pumps:   pumps,
		machine: machine,
		broker:  broker,
		cache:   cache,
		metrics: metrics,
		logger:  noopLogger{},
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes to the full telemetry hierarchy.
func (r *Router) Start(sub Subscriber) error {
	topic := mqtt.Topics{}.AllTelemetry()
	if err := sub.Subscribe(topic, 1, r.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	r.logger.Info("telemetry routing started", "topic", topic)
	return nil
}

// lockDevice returns the mutex serializing message handling for one
// device, creating it on first use. Locks are never removed; the device
// population is small and stable.
func (r *Router) lockDevice(deviceID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	mu, ok := r.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[deviceID] = mu
	}
	return mu
}

// HandleMessage routes one inbound telemetry message. Malformed topics
// or payloads, unknown categories and unknown devices are logged and
// dropped; the error return is reserved for handler-internal failures
// the transport layer should count.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	deviceID, category, ok := mqtt.ParseTelemetryTopic(topic)
	if !ok {
		r.logger.Warn("unroutable telemetry topic dropped", "topic", topic)
		return nil
	}

	ctx := context.Background()

	if !r.pumps.Exists(ctx, deviceID) {
		r.logger.Warn("telemetry for unknown device dropped",
			"device_id", deviceID, "category", category)
		return nil
	}

	mu := r.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	switch category {
	case mqtt.CategoryProgress:
		return r.handleProgress(ctx, deviceID, payload)
	case mqtt.CategoryError:
		return r.handleError(ctx, deviceID, payload)
	case mqtt.CategoryStatus:
		return r.handleStatus(ctx, deviceID, payload)
	case mqtt.CategoryConfirmation:
		return r.handleConfirmation(ctx, deviceID, payload)
	case mqtt.CategoryCompletion:
		return r.handleCompletion(ctx, deviceID, payload)
	case mqtt.CategoryAction:
		return r.handleAction(ctx, deviceID, payload)
	default:
		r.logger.Warn("unknown telemetry category dropped",
			"device_id", deviceID, "category", category)
		return nil
	}
}

// decode unmarshals a payload, logging and reporting malformed input.
func (r *Router) decode(deviceID, category string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		r.logger.Warn("malformed telemetry payload dropped",
			"device_id", deviceID, "category", category, "error", err)
		return false
	}
	return true
}

type progressPayload struct {
	TimeRemainingMin  float64 `json:"timeRemainingMin"`
	VolumeRemainingMl float64 `json:"volumeRemainingMl"`
	InfusionID        string  `json:"infusionId,omitempty"`
	Timestamp         string  `json:"timestamp"`
}

// handleProgress streams a progress sample. A sample tagged with an
// infusion ID that does not match the device's current active infusion
// is stale and dropped.
func (r *Router) handleProgress(ctx context.Context, deviceID string, payload []byte) error {
	var msg progressPayload
	if !r.decode(deviceID, mqtt.CategoryProgress, payload, &msg) {
		return nil
	}

	p, err := r.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return err
	}

	active := ""
	if p.ActiveInfusionID != nil {
		active = *p.ActiveInfusionID
	}
	if msg.InfusionID != "" && msg.InfusionID != active {
		r.logger.Debug("stale progress dropped",
			"device_id", deviceID, "infusion_id", msg.InfusionID, "active", active)
		return nil
	}

	r.broker.Publish(deviceID, stream.EventProgress, map[string]any{
		"timeRemainingMin":  msg.TimeRemainingMin,
		"volumeRemainingMl": msg.VolumeRemainingMl,
		"infusionId":        msg.InfusionID,
		"timestamp":         msg.Timestamp,
	})

	if r.metrics != nil && active != "" {
		r.metrics.WriteInfusionProgress(deviceID, active, msg.TimeRemainingMin, msg.VolumeRemainingMl)
	}
	return nil
}

type errorPayload struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// priorityFromSeverity maps a device-declared severity to a
// notification priority.
func priorityFromSeverity(severity string) string {
	switch strings.ToLower(severity) {
	case "high":
		return notifcache.PriorityCritical
	case "medium":
		return notifcache.PriorityWarning
	default:
		return notifcache.PriorityInfo
	}
}

// handleError accepts every error report regardless of infusion
// association: caches a derived notification, records the metric, and
// fans out both the raw error and the notification. Cache failures are
// logged; the stream still sees the event.
func (r *Router) handleError(ctx context.Context, deviceID string, payload []byte) error {
	var msg errorPayload
	if !r.decode(deviceID, mqtt.CategoryError, payload, &msg) {
		return nil
	}

	priority := priorityFromSeverity(msg.Severity)
	notification := notifcache.Notification{
		ID:        uuid.New().String(),
		Type:      msg.Type,
		Priority:  priority,
		Title:     deviceErrorTitle(msg.Type),
		Message:   msg.Message,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		RawData:   msg.Details,
	}

	if r.cache != nil {
		if err := r.cache.StoreNotification(ctx, notification); err != nil {
			r.logger.Error("caching notification failed",
				"device_id", deviceID, "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.WriteDeviceError(deviceID, msg.Type)
	}

	errEvent := map[string]any{
		"type":      msg.Type,
		"severity":  msg.Severity,
		"message":   msg.Message,
		"details":   msg.Details,
		"timestamp": msg.Timestamp,
	}
	if r.cache != nil {
		// Error history outlives the process; the broker hydrates fresh
		// rooms from it so replay works across restarts.
		if err := r.cache.PushDeviceError(ctx, deviceID, errEvent); err != nil {
			r.logger.Error("caching device error failed",
				"device_id", deviceID, "error", err)
		}
	}

	r.broker.Publish(deviceID, stream.EventDeviceError, errEvent)
	r.broker.Publish(deviceID, stream.EventNotification, map[string]any{
		"id":       notification.ID,
		"type":     msg.Type,
		"priority": priority,
		"title":    notification.Title,
		"message":  msg.Message,
		"modal":    priority == notifcache.PriorityCritical,
	})

	r.logger.Info("device error reported",
		"device_id", deviceID, "type", msg.Type, "severity", msg.Severity)
	return nil
}

// deviceErrorTitle renders a human-readable title from an error type
// code like "air_in_line".
func deviceErrorTitle(errType string) string {
	if errType == "" {
		return "Device error"
	}
	words := strings.Split(strings.ReplaceAll(errType, "_", " "), " ")
	if len(words) > 0 && len(words[0]) > 0 {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}

type statusPayload struct {
	Status      string   `json:"status"`
	LastPing    string   `json:"lastPing,omitempty"`
	BatteryPct  *float64 `json:"batteryPercent,omitempty"`
	ReservoirMl *float64 `json:"reservoirMl,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// handleStatus merges a status report into the snapshot, refreshes the
// pump's last-seen mark and maintains the live presence set. Durable
// write failures are logged; the snapshot still streams.
func (r *Router) handleStatus(ctx context.Context, deviceID string, payload []byte) error {
	var msg statusPayload
	if !r.decode(deviceID, mqtt.CategoryStatus, payload, &msg) {
		return nil
	}

	if err := r.pumps.TouchLastSeen(ctx, deviceID, time.Now().UTC()); err != nil {
		r.logger.Error("updating last-seen failed",
			"device_id", deviceID, "error", err)
	}

	reported := strings.ToLower(msg.Status)
	switch reported {
	case deviceStatusOffline, deviceStatusDegraded:
		r.broker.MarkOffline(deviceID)
		if reported == deviceStatusDegraded {
			r.markDegraded(ctx, deviceID)
		}
	default:
		r.broker.MarkLive(deviceID)
	}

	if r.metrics != nil && msg.BatteryPct != nil && msg.ReservoirMl != nil {
		r.metrics.WriteDeviceVitals(deviceID, *msg.BatteryPct, *msg.ReservoirMl)
	}

	r.broker.Publish(deviceID, stream.EventStatus, map[string]any{
		"status":    msg.Status,
		"lastPing":  msg.LastPing,
		"timestamp": msg.Timestamp,
	})
	return nil
}

// markDegraded moves a pump's record to degraded. A pump mid-infusion
// keeps its lifecycle status; the degradation shows through presence and
// the streamed status until the infusion resolves.
func (r *Router) markDegraded(ctx context.Context, deviceID string) {
	p, err := r.pumps.GetPump(ctx, deviceID)
	if err != nil {
		r.logger.Error("fetching pump for degrade failed",
			"device_id", deviceID, "error", err)
		return
	}
	if p.IsInfusing() {
		r.logger.Warn("degraded report during infusion",
			"device_id", deviceID, "status", p.Status)
		return
	}
	if p.Status == pump.StatusDegraded {
		return
	}
	if err := r.pumps.SetPumpStatus(ctx, deviceID, pump.StatusDegraded, nil); err != nil {
		r.logger.Error("marking pump degraded failed",
			"device_id", deviceID, "error", err)
	}
}

type confirmationPayload struct {
	InfusionID  string         `json:"infusionId"`
	Confirmed   bool           `json:"confirmed"`
	ConfirmedAt string         `json:"confirmedAt,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// handleConfirmation applies a start confirmation through the lifecycle
// machine and fans out infusionConfirmed. Duplicates and confirmations
// for finished infusions are absorbed by the machine without a second
// fan-out.
func (r *Router) handleConfirmation(ctx context.Context, deviceID string, payload []byte) error {
	var msg confirmationPayload
	if !r.decode(deviceID, mqtt.CategoryConfirmation, payload, &msg) {
		return nil
	}
	if msg.InfusionID == "" {
		r.logger.Warn("confirmation without infusion id dropped", "device_id", deviceID)
		return nil
	}
	if !msg.Confirmed {
		r.logger.Warn("negative confirmation dropped",
			"device_id", deviceID, "infusion_id", msg.InfusionID)
		return nil
	}

	// The machine reports whether this confirmation performed the
	// transition under its own device lock. Re-reading pump state here
	// would race with operator commands, which take only that lock.
	applied, err := r.machine.OnConfirmed(ctx, deviceID, msg.InfusionID)
	if err != nil {
		r.logger.Error("applying confirmation failed",
			"device_id", deviceID, "infusion_id", msg.InfusionID, "error", err)
		return nil
	}

	// Fan out only on the transition, not on duplicates and not when the
	// machine dropped a late confirmation.
	if applied {
		r.broker.Publish(deviceID, stream.EventInfusionConfirmed, map[string]any{
			"infusionId":  msg.InfusionID,
			"confirmedAt": msg.ConfirmedAt,
			"parameters":  msg.Parameters,
		})
	}
	return nil
}

type completionPayload struct {
	Completed bool           `json:"completed"`
	Summary   map[string]any `json:"summary,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// handleCompletion finalises the active infusion through the lifecycle
// machine and fans out infusionCompleted exactly once per terminal
// transition.
func (r *Router) handleCompletion(ctx context.Context, deviceID string, payload []byte) error {
	var msg completionPayload
	if !r.decode(deviceID, mqtt.CategoryCompletion, payload, &msg) {
		return nil
	}
	if !msg.Completed {
		r.logger.Warn("completion without completed flag dropped", "device_id", deviceID)
		return nil
	}

	before, err := r.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return err
	}
	if before.ActiveInfusionID == nil {
		r.logger.Debug("duplicate completion dropped", "device_id", deviceID)
		if err := r.machine.OnCompleted(ctx, deviceID, msg.Summary); err != nil {
			r.logger.Error("reconciling duplicate completion failed",
				"device_id", deviceID, "error", err)
		}
		return nil
	}
	infusionID := *before.ActiveInfusionID

	if err := r.machine.OnCompleted(ctx, deviceID, msg.Summary); err != nil {
		r.logger.Error("applying completion failed",
			"device_id", deviceID, "infusion_id", infusionID, "error", err)
		return nil
	}

	r.broker.Publish(deviceID, stream.EventInfusionCompleted, map[string]any{
		"infusionId": infusionID,
		"summary":    msg.Summary,
		"timestamp":  msg.Timestamp,
	})
	return nil
}

// Wire names for device-initiated actions.
const (
	actionManualPause  = "MANUAL_PAUSE"
	actionManualResume = "MANUAL_RESUME"
	actionManualStop   = "MANUAL_STOP"
)

type actionPayload struct {
	Action     string `json:"action"`
	Source     string `json:"source,omitempty"`
	InfusionID string `json:"infusionId,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// handleAction applies a device-initiated pause/resume/stop. An action
// naming an infusion that is not the device's current active infusion is
// dropped, like the stale-progress rule.
func (r *Router) handleAction(ctx context.Context, deviceID string, payload []byte) error {
	var msg actionPayload
	if !r.decode(deviceID, mqtt.CategoryAction, payload, &msg) {
		return nil
	}

	var cmd lifecycle.Command
	switch msg.Action {
	case actionManualPause:
		cmd = lifecycle.CommandPause
	case actionManualResume:
		cmd = lifecycle.CommandResume
	case actionManualStop:
		cmd = lifecycle.CommandStop
	default:
		r.logger.Warn("unknown manual action dropped",
			"device_id", deviceID, "action", msg.Action)
		return nil
	}

	err := r.machine.OnManualAction(ctx, deviceID, cmd, msg.InfusionID)
	switch {
	case errors.Is(err, lifecycle.ErrInfusionMismatch):
		r.logger.Warn("manual action for mismatched infusion dropped",
			"device_id", deviceID, "action", msg.Action, "infusion_id", msg.InfusionID)
		return nil
	case errors.Is(err, lifecycle.ErrNoActiveInfusion):
		r.logger.Info("manual action without active infusion dropped",
			"device_id", deviceID, "action", msg.Action)
		return nil
	case err != nil:
		r.logger.Error("applying manual action failed",
			"device_id", deviceID, "action", msg.Action, "error", err)
		return nil
	}

	r.broker.Publish(deviceID, stream.EventAction, map[string]any{
		"action":     msg.Action,
		"source":     msg.Source,
		"infusionId": msg.InfusionID,
		"timestamp":  msg.Timestamp,
	})
	return nil
}
