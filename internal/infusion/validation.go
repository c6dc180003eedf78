package infusion

import (
	"fmt"

	"github.com/google/uuid"
)

// Validation constants. Delivery parameters are bounded to catch
// fat-finger entry before a command ever reaches a device.
const (
	maxFlowRateMlMin   = 100.0
	maxPlannedTimeMin  = 24 * 60
	maxPlannedVolumeMl = 5000.0
	maxBolusVolumeMl   = 50.0
	maxPatientIDLength = 64
	maxSummaryKeys     = 50
)

// Pre-computed validation set for O(1) lookups.
var validStatuses map[Status]struct{}

func init() {
	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// Validate performs comprehensive validation on an infusion record.
// Returns an error describing the first validation failure found.
func Validate(i *Infusion) error {
	if i == nil {
		return ErrInvalidInfusion
	}

	if i.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidInfusion)
	}
	if i.DeviceID == "" {
		return fmt.Errorf("%w: device id cannot be empty", ErrInvalidInfusion)
	}

	// Tagged variant: exactly one of patient data or the skipped flag.
	if i.Patient != nil && i.PatientSkipped {
		return fmt.Errorf("%w: both set", ErrPatientConflict)
	}
	if i.Patient == nil && !i.PatientSkipped {
		return fmt.Errorf("%w: neither set", ErrPatientConflict)
	}
	if i.Patient != nil {
		if i.Patient.ID == "" {
			return fmt.Errorf("%w: patient id cannot be empty", ErrInvalidInfusion)
		}
		if len(i.Patient.ID) > maxPatientIDLength {
			return fmt.Errorf("%w: patient id exceeds %d characters", ErrInvalidInfusion, maxPatientIDLength)
		}
	}

	if err := ValidateParameters(i.Parameters); err != nil {
		return err
	}

	if err := ValidateStatus(i.Status); err != nil {
		return err
	}

	// Summary belongs to completion only.
	if i.Summary != nil && i.Status != StatusCompleted {
		return fmt.Errorf("%w: summary set before completion", ErrInvalidInfusion)
	}
	if len(i.Summary) > maxSummaryKeys {
		return fmt.Errorf("%w: summary exceeds max keys (%d)", ErrInvalidInfusion, maxSummaryKeys)
	}

	return nil
}

// ValidateParameters checks prescribed delivery parameters against
// plausibility bounds.
func ValidateParameters(p Parameters) error {
	if p.FlowRateMlMin <= 0 {
		return fmt.Errorf("%w: flow rate must be positive", ErrInvalidParameters)
	}
	if p.FlowRateMlMin > maxFlowRateMlMin {
		return fmt.Errorf("%w: flow rate exceeds %.0f ml/min", ErrInvalidParameters, maxFlowRateMlMin)
	}
	if p.PlannedTimeMin <= 0 {
		return fmt.Errorf("%w: planned time must be positive", ErrInvalidParameters)
	}
	if p.PlannedTimeMin > maxPlannedTimeMin {
		return fmt.Errorf("%w: planned time exceeds %d minutes", ErrInvalidParameters, maxPlannedTimeMin)
	}
	if p.PlannedVolumeMl <= 0 {
		return fmt.Errorf("%w: planned volume must be positive", ErrInvalidParameters)
	}
	if p.PlannedVolumeMl > maxPlannedVolumeMl {
		return fmt.Errorf("%w: planned volume exceeds %.0f ml", ErrInvalidParameters, maxPlannedVolumeMl)
	}
	if p.Bolus != nil && p.Bolus.Enabled {
		if p.Bolus.VolumeMl <= 0 {
			return fmt.Errorf("%w: bolus volume must be positive", ErrInvalidParameters)
		}
		if p.Bolus.VolumeMl > maxBolusVolumeMl {
			return fmt.Errorf("%w: bolus volume exceeds %.0f ml", ErrInvalidParameters, maxBolusVolumeMl)
		}
	}
	return nil
}

// ValidateStatus checks if a status is valid.
// Uses O(1) map lookup for efficiency.
func ValidateStatus(status Status) error {
	if _, ok := validStatuses[status]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// CanTransition reports whether a status change is a legal forward move.
// Terminal states accept no transitions; same-state moves are not
// transitions (callers treat them as idempotent no-ops).
func CanTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusRunning || to == StatusStopped || to == StatusCompleted
	case StatusRunning:
		return to == StatusStopped || to == StatusCompleted
	default:
		return false
	}
}

// GenerateID creates a new UUID for an infusion.
func GenerateID() string {
	return uuid.New().String()
}
