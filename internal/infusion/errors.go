package infusion

import "errors"

// Domain errors for the infusion package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, infusion.ErrInfusionNotFound) {
//	    // handle not found case
//	}
var (
	// ErrInfusionNotFound is returned when an infusion ID does not exist.
	ErrInfusionNotFound = errors.New("infusion: not found")

	// ErrInfusionExists is returned when creating an infusion with an ID that already exists.
	ErrInfusionExists = errors.New("infusion: already exists")

	// ErrInvalidInfusion is returned when infusion validation fails.
	ErrInvalidInfusion = errors.New("infusion: invalid")

	// ErrInvalidParameters is returned when delivery parameters fail validation.
	ErrInvalidParameters = errors.New("infusion: invalid parameters")

	// ErrPatientConflict is returned when patient data and the skipped flag
	// are both set or both absent.
	ErrPatientConflict = errors.New("infusion: patient data and skipped flag conflict")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("infusion: invalid status")

	// ErrTerminalStatus is returned when attempting to move an infusion
	// that has already reached stopped or completed.
	ErrTerminalStatus = errors.New("infusion: already in terminal status")

	// ErrStatusRegression is returned when a status change would move
	// backwards through the lifecycle.
	ErrStatusRegression = errors.New("infusion: status cannot regress")
)
