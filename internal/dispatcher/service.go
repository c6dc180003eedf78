package dispatcher

import (
	"context"

	"github.com/pumplink/pumplink-core/internal/infusion"
	"github.com/pumplink/pumplink-core/internal/lifecycle"
	"github.com/pumplink/pumplink-core/internal/pump"
)

// CommandResult is what an operator command returns: the dispatched
// command's ID, the infusion it concerns, and the pump's status after the
// durable transition.
type CommandResult struct {
	CommandID    string      `json:"command_id"`
	InfusionID   string      `json:"infusion_id,omitempty"`
	DeviceStatus pump.Status `json:"device_status"`
}

// Service is the operator command surface: each method runs the lifecycle
// transition, then dispatches the resulting command to the device.
//
// The two failure kinds stay distinguishable: a precondition violation
// surfaces as *lifecycle.InvalidTransitionError before anything is
// published, and a transport failure surfaces as ErrTransportUnavailable
// after the durable transition has already been applied (and is kept).
type Service struct {
	machine    *lifecycle.Machine
	dispatcher *Dispatcher
	logger     Logger
}

// NewService creates the operator command service.
func NewService(machine *lifecycle.Machine, dispatcher *Dispatcher) *Service {
	return &Service{
		machine:    machine,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// StartInfusion creates an infusion record and commands the device to
// start delivering. A nil patient starts the infusion explicitly
// patient-skipped.
func (s *Service) StartInfusion(ctx context.Context, deviceID string, params infusion.Parameters, patient *infusion.Patient) (*CommandResult, error) {
	return s.run(ctx, deviceID, lifecycle.CommandStart, lifecycle.TransitionRequest{
		Parameters: params,
		Patient:    patient,
	})
}

// StopInfusion halts the active infusion on a device.
func (s *Service) StopInfusion(ctx context.Context, deviceID, reason string) (*CommandResult, error) {
	return s.run(ctx, deviceID, lifecycle.CommandStop, lifecycle.TransitionRequest{Reason: reason})
}

// PauseInfusion suspends the active infusion on a device.
func (s *Service) PauseInfusion(ctx context.Context, deviceID, reason string) (*CommandResult, error) {
	return s.run(ctx, deviceID, lifecycle.CommandPause, lifecycle.TransitionRequest{Reason: reason})
}

// ResumeInfusion resumes a paused infusion on a device.
func (s *Service) ResumeInfusion(ctx context.Context, deviceID string) (*CommandResult, error) {
	return s.run(ctx, deviceID, lifecycle.CommandResume, lifecycle.TransitionRequest{})
}

func (s *Service) run(ctx context.Context, deviceID string, cmd lifecycle.Command, req lifecycle.TransitionRequest) (*CommandResult, error) {
	rec, err := s.machine.RequestTransition(ctx, deviceID, cmd, req)
	if err != nil {
		return nil, err
	}

	commandID, err := s.dispatcher.Dispatch(deviceID, rec.Command, rec.Payload)
	if err != nil {
		// The durable transition stands; the operator retries the command
		// once transport recovers.
		s.logger.Error("command not delivered to transport",
			"device_id", deviceID, "command", cmd, "error", err)
		return nil, err
	}

	return &CommandResult{
		CommandID:    commandID,
		InfusionID:   rec.InfusionID,
		DeviceStatus: rec.PumpStatus,
	}, nil
}
