package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pumplink/pumplink-core/internal/infusion"
	"github.com/pumplink/pumplink-core/internal/pump"
)

// Logger defines the logging interface used by the Machine.
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

// Command is an operator-initiated lifecycle command.
type Command string

// Lifecycle commands.
const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

// TransitionRequest carries the operator inputs for a transition.
// Parameters and Patient apply to start only; Reason to stop and pause.
type TransitionRequest struct {
	Parameters infusion.Parameters
	Patient    *infusion.Patient
	Reason     string
}

// CommandRecord describes a transition the machine has applied and the
// dispatcher must now relay to the device.
type CommandRecord struct {
	// DeviceID is the target pump.
	DeviceID string

	// Command is the applied lifecycle command.
	Command Command

	// InfusionID is the infusion the command concerns: the newly created
	// record for start, the active infusion otherwise.
	InfusionID string

	// PumpStatus is the pump's status after the transition bookkeeping.
	PumpStatus pump.Status

	// Payload is the command payload for the outbound message.
	Payload map[string]any
}

// Machine applies lifecycle transitions to pumps and infusions.
//
// All durable state changes for a device flow through here, serialized by
// a per-device mutex: two operators racing commands at one pump, or a
// command racing a device event, resolve in some order with the
// preconditions re-checked under the lock. Different devices never
// contend with each other.
type Machine struct {
	pumps     *pump.Registry
	infusions infusion.Repository
	logger    Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // Per-device mutexes, created on first use
}

// NewMachine creates a lifecycle machine over the given registry and
// infusion repository.
func NewMachine(pumps *pump.Registry, infusions infusion.Repository) *Machine {
	return &Machine{
		pumps:     pumps,
		infusions: infusions,
		logger:    noopLogger{},
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// lockDevice returns the mutex for a device, creating it on first use.
// Locks are never removed; the set of devices is small and stable.
func (m *Machine) lockDevice(deviceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	mu, ok := m.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[deviceID] = mu
	}
	return mu
}

// RequestTransition validates and applies an operator command.
//
// Preconditions: start requires healthy or stopped; pause and stop require
// running; resume requires paused. A violation returns
// *InvalidTransitionError and changes nothing.
//
// For start, the infusion record is created (status created) before this
// returns, so a device confirmation always has a target to update. The
// pump itself does not move to running until OnConfirmed.
func (m *Machine) RequestTransition(ctx context.Context, deviceID string, cmd Command, req TransitionRequest) (*CommandRecord, error) {
	mu := m.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := m.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	switch cmd {
	case CommandStart:
		return m.applyStart(ctx, p, req)
	case CommandPause:
		return m.applyPause(ctx, p, req)
	case CommandResume:
		return m.applyResume(ctx, p)
	case CommandStop:
		return m.applyStop(ctx, p, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func (m *Machine) applyStart(ctx context.Context, p *pump.Pump, req TransitionRequest) (*CommandRecord, error) {
	if p.Status != pump.StatusHealthy && p.Status != pump.StatusStopped {
		return nil, &InvalidTransitionError{
			Command:  CommandStart,
			Current:  p.Status,
			Required: []pump.Status{pump.StatusHealthy, pump.StatusStopped},
		}
	}

	var (
		inf *infusion.Infusion
		err error
	)
	if req.Patient != nil {
		inf, err = infusion.WithPatient(p.ID, req.Parameters, *req.Patient)
	} else {
		inf, err = infusion.SkipPatient(p.ID, req.Parameters)
	}
	if err != nil {
		return nil, err
	}

	if err := m.infusions.Create(ctx, inf); err != nil {
		return nil, fmt.Errorf("creating infusion record: %w", err)
	}

	m.logger.Info("infusion created",
		"device_id", p.ID, "infusion_id", inf.ID,
		"patient_skipped", inf.PatientSkipped)

	payload := map[string]any{
		"infusionId": inf.ID,
		"parameters": inf.Parameters,
	}
	if inf.Patient != nil {
		payload["patientId"] = inf.Patient.ID
	}

	return &CommandRecord{
		DeviceID:   p.ID,
		Command:    CommandStart,
		InfusionID: inf.ID,
		PumpStatus: p.Status,
		Payload:    payload,
	}, nil
}

func (m *Machine) applyPause(ctx context.Context, p *pump.Pump, req TransitionRequest) (*CommandRecord, error) {
	if p.Status != pump.StatusRunning {
		return nil, &InvalidTransitionError{
			Command:  CommandPause,
			Current:  p.Status,
			Required: []pump.Status{pump.StatusRunning},
		}
	}

	infusionID := activeInfusionID(p)
	if err := m.pumps.SetPumpStatus(ctx, p.ID, pump.StatusPaused, p.ActiveInfusionID); err != nil {
		return nil, err
	}

	payload := map[string]any{"infusionId": infusionID}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}

	return &CommandRecord{
		DeviceID:   p.ID,
		Command:    CommandPause,
		InfusionID: infusionID,
		PumpStatus: pump.StatusPaused,
		Payload:    payload,
	}, nil
}

func (m *Machine) applyResume(ctx context.Context, p *pump.Pump) (*CommandRecord, error) {
	if p.Status != pump.StatusPaused {
		return nil, &InvalidTransitionError{
			Command:  CommandResume,
			Current:  p.Status,
			Required: []pump.Status{pump.StatusPaused},
		}
	}

	infusionID := activeInfusionID(p)
	if err := m.pumps.SetPumpStatus(ctx, p.ID, pump.StatusRunning, p.ActiveInfusionID); err != nil {
		return nil, err
	}

	return &CommandRecord{
		DeviceID:   p.ID,
		Command:    CommandResume,
		InfusionID: infusionID,
		PumpStatus: pump.StatusRunning,
		Payload:    map[string]any{"infusionId": infusionID},
	}, nil
}

func (m *Machine) applyStop(ctx context.Context, p *pump.Pump, req TransitionRequest) (*CommandRecord, error) {
	if p.Status != pump.StatusRunning {
		return nil, &InvalidTransitionError{
			Command:  CommandStop,
			Current:  p.Status,
			Required: []pump.Status{pump.StatusRunning},
		}
	}

	infusionID := activeInfusionID(p)

	// Finalise the infusion first so a crash between the two writes leaves
	// a terminal infusion and a stale pump status, which OnCompleted and
	// status telemetry can both repair.
	if infusionID != "" {
		err := m.infusions.MarkStopped(ctx, infusionID, time.Now().UTC())
		if err != nil && !errors.Is(err, infusion.ErrTerminalStatus) {
			return nil, fmt.Errorf("finalising infusion: %w", err)
		}
	}

	if err := m.pumps.SetPumpStatus(ctx, p.ID, pump.StatusStopped, nil); err != nil {
		return nil, err
	}

	m.logger.Info("infusion stopped by operator",
		"device_id", p.ID, "infusion_id", infusionID, "reason", req.Reason)

	payload := map[string]any{"infusionId": infusionID}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}

	return &CommandRecord{
		DeviceID:   p.ID,
		Command:    CommandStop,
		InfusionID: infusionID,
		PumpStatus: pump.StatusStopped,
		Payload:    payload,
	}, nil
}

// OnConfirmed applies a device's start confirmation: the pump moves to
// running with the confirmed infusion active, and the infusion record moves
// to running. A duplicate confirmation is a logged no-op; a confirmation
// for an already-finished infusion is dropped.
//
// The applied result reports whether this call performed the transition.
// It is false for duplicates and dropped confirmations, so callers can
// fan out exactly one confirmed event without re-reading pump state.
func (m *Machine) OnConfirmed(ctx context.Context, deviceID, infusionID string) (applied bool, err error) {
	mu := m.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := m.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return false, err
	}

	if p.Status == pump.StatusRunning && activeInfusionID(p) == infusionID {
		m.logger.Debug("duplicate confirmation ignored",
			"device_id", deviceID, "infusion_id", infusionID)
		return false, nil
	}

	err = m.infusions.MarkRunning(ctx, infusionID, time.Now().UTC())
	switch {
	case errors.Is(err, infusion.ErrTerminalStatus):
		m.logger.Info("confirmation for finished infusion dropped",
			"device_id", deviceID, "infusion_id", infusionID)
		return false, nil
	case errors.Is(err, infusion.ErrStatusRegression):
		// Already running in storage; fall through to repair the pump record.
	case err != nil:
		return false, fmt.Errorf("confirming infusion: %w", err)
	}

	if err := m.pumps.SetPumpStatus(ctx, deviceID, pump.StatusRunning, &infusionID); err != nil {
		return false, err
	}

	m.logger.Info("infusion confirmed",
		"device_id", deviceID, "infusion_id", infusionID)
	return true, nil
}

// OnCompleted applies a device's completion report: the pump returns to
// healthy with no active infusion, and the infusion record is finalised
// with the device-reported summary. A second completion for the same
// infusion is a logged no-op.
func (m *Machine) OnCompleted(ctx context.Context, deviceID string, summary map[string]any) error {
	mu := m.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := m.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return err
	}

	infusionID := activeInfusionID(p)
	if infusionID == "" {
		// Pump already cleared; find a lingering non-terminal record in
		// case the previous completion only half-applied.
		active, err := m.infusions.GetActiveByDevice(ctx, deviceID)
		if errors.Is(err, infusion.ErrInfusionNotFound) {
			m.logger.Debug("duplicate completion ignored", "device_id", deviceID)
			return nil
		}
		if err != nil {
			return err
		}
		infusionID = active.ID
	}

	err = m.infusions.MarkCompleted(ctx, infusionID, summary, time.Now().UTC())
	if err != nil && !errors.Is(err, infusion.ErrTerminalStatus) {
		return fmt.Errorf("completing infusion: %w", err)
	}

	if p.Status != pump.StatusHealthy || p.ActiveInfusionID != nil {
		if err := m.pumps.SetPumpStatus(ctx, deviceID, pump.StatusHealthy, nil); err != nil {
			return err
		}
	}

	m.logger.Info("infusion completed",
		"device_id", deviceID, "infusion_id", infusionID)
	return nil
}

// OnManualAction applies a pause/resume/stop the device performed itself.
// The device is authoritative, so operator preconditions do not apply; the
// pump record follows the reported action. An infusion ID that does not
// match the current active infusion returns ErrInfusionMismatch and
// changes nothing.
func (m *Machine) OnManualAction(ctx context.Context, deviceID string, action Command, infusionID string) error {
	mu := m.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := m.pumps.GetPump(ctx, deviceID)
	if err != nil {
		return err
	}

	active := activeInfusionID(p)
	if infusionID != "" && active != "" && infusionID != active {
		return fmt.Errorf("%w: got %s, active %s", ErrInfusionMismatch, infusionID, active)
	}
	if active == "" {
		return ErrNoActiveInfusion
	}

	switch action {
	case CommandPause:
		return m.pumps.SetPumpStatus(ctx, deviceID, pump.StatusPaused, p.ActiveInfusionID)
	case CommandResume:
		return m.pumps.SetPumpStatus(ctx, deviceID, pump.StatusRunning, p.ActiveInfusionID)
	case CommandStop:
		err := m.infusions.MarkStopped(ctx, active, time.Now().UTC())
		if err != nil && !errors.Is(err, infusion.ErrTerminalStatus) {
			return fmt.Errorf("finalising infusion: %w", err)
		}
		return m.pumps.SetPumpStatus(ctx, deviceID, pump.StatusStopped, nil)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, action)
	}
}

func activeInfusionID(p *pump.Pump) string {
	if p.ActiveInfusionID == nil {
		return ""
	}
	return *p.ActiveInfusionID
}
