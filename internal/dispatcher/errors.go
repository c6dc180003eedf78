package dispatcher

import "errors"

// Domain errors for the dispatcher package.
var (
	// ErrTransportUnavailable is returned when a command could not be
	// handed to the transport at all. It is distinct from precondition
	// errors so callers can tell "your command was rejected" from "we
	// couldn't even try".
	ErrTransportUnavailable = errors.New("dispatcher: transport unavailable")
)
