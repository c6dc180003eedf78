package lifecycle

import (
	"errors"
	"fmt"

	"github.com/pumplink/pumplink-core/internal/pump"
)

// Domain errors for the lifecycle package.
var (
	// ErrInvalidTransition is returned when a command's precondition on the
	// pump status does not hold. Use errors.As with *InvalidTransitionError
	// to read the statuses involved.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")

	// ErrUnknownCommand is returned for a command the machine does not know.
	ErrUnknownCommand = errors.New("lifecycle: unknown command")

	// ErrInfusionMismatch is returned when a device event references an
	// infusion that is not the pump's current active infusion.
	ErrInfusionMismatch = errors.New("lifecycle: infusion id does not match active infusion")

	// ErrNoActiveInfusion is returned when an event requires an active
	// infusion but the pump has none.
	ErrNoActiveInfusion = errors.New("lifecycle: no active infusion")
)

// InvalidTransitionError reports a rejected operator command: which command
// was attempted, the pump's current status, and the statuses the command
// requires. It wraps ErrInvalidTransition for errors.Is checks.
type InvalidTransitionError struct {
	Command  Command
	Current  pump.Status
	Required []pump.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot %s while pump is %s (requires %v)",
		e.Command, e.Current, e.Required)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
