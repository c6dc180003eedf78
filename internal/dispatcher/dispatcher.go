package dispatcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pumplink/pumplink-core/internal/infrastructure/mqtt"
	"github.com/pumplink/pumplink-core/internal/lifecycle"
)

// Logger defines the logging interface used by the dispatcher.
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

// Publisher is the transport surface the dispatcher needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Wire command names understood by pump firmware.
const (
	WireStartInfusion  = "START_INFUSION"
	WireStopInfusion   = "STOP_INFUSION"
	WirePauseInfusion  = "PAUSE_INFUSION"
	WireResumeInfusion = "RESUME_INFUSION"
)

// wireCommands maps lifecycle commands to their wire names.
var wireCommands = map[lifecycle.Command]string{
	lifecycle.CommandStart:  WireStartInfusion,
	lifecycle.CommandStop:   WireStopInfusion,
	lifecycle.CommandPause:  WirePauseInfusion,
	lifecycle.CommandResume: WireResumeInfusion,
}

// Envelope is the outbound message format published to devices.
type Envelope struct {
	Command   string         `json:"command"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
	CommandID string         `json:"commandId"`
}

// Dispatcher publishes operator commands to devices over MQTT.
//
// Dispatch is fire-and-forget: it returns once the publish call has been
// issued and never waits for device acknowledgment. Confirmation arrives
// later through the inbound router as an independent event.
type Dispatcher struct {
	publisher Publisher
	logger    Logger
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(publisher Publisher) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch publishes a command to a device's command topic at QoS 1 and
// returns the generated command ID.
//
// A publish failure is surfaced as ErrTransportUnavailable wrapping the
// transport error. Durable state changes made before Dispatch was called
// are never rolled back on failure; idempotent confirmation handling
// reconciles the difference.
func (d *Dispatcher) Dispatch(deviceID string, cmd lifecycle.Command, payload map[string]any) (string, error) {
	wire, ok := wireCommands[cmd]
	if !ok {
		return "", fmt.Errorf("%w: %q", lifecycle.ErrUnknownCommand, cmd)
	}

	if payload == nil {
		payload = map[string]any{}
	}

	envelope := Envelope{
		Command:   wire,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CommandID: uuid.New().String(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	if err := d.publisher.Publish(topic, data, 1, false); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	d.logger.Info("command dispatched",
		"device_id", deviceID, "command", wire, "command_id", envelope.CommandID)

	return envelope.CommandID, nil
}
