package pump

import "errors"

// Domain errors for the pump package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, pump.ErrPumpNotFound) {
//	    // handle not found case
//	}
var (
	// ErrPumpNotFound is returned when a pump ID does not exist.
	ErrPumpNotFound = errors.New("pump: not found")

	// ErrPumpExists is returned when registering a pump with an ID that already exists.
	ErrPumpExists = errors.New("pump: already exists")

	// ErrInvalidPump is returned when pump validation fails.
	ErrInvalidPump = errors.New("pump: invalid")

	// ErrInvalidName is returned when a pump name is empty or too long.
	ErrInvalidName = errors.New("pump: invalid name")

	// ErrInvalidID is returned when a pump ID contains topic-reserved characters.
	ErrInvalidID = errors.New("pump: invalid id")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("pump: invalid status")
)
