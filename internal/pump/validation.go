package pump

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxLocationLength = 200
	maxIDLength       = 64
)

// Pre-computed validation set for O(1) lookups instead of O(n) linear search.
var validStatuses map[Status]struct{}

func init() {
	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// Validate performs comprehensive validation on a pump.
// Returns an error describing the first validation failure found.
func Validate(p *Pump) error {
	if p == nil {
		return ErrInvalidPump
	}

	if err := ValidateID(p.ID); err != nil {
		return err
	}

	if err := ValidateName(p.Name); err != nil {
		return err
	}

	if len(p.Location) > maxLocationLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidPump, maxLocationLength)
	}

	if err := ValidateStatus(p.Status); err != nil {
		return err
	}

	// An active infusion exists exactly while the pump is running or paused.
	// Anything else is a bookkeeping bug upstream.
	if p.IsInfusing() && p.ActiveInfusionID == nil {
		return fmt.Errorf("%w: status %q requires an active infusion", ErrInvalidPump, p.Status)
	}
	if !p.IsInfusing() && p.ActiveInfusionID != nil {
		return fmt.Errorf("%w: status %q cannot carry an active infusion", ErrInvalidPump, p.Status)
	}

	return nil
}

// ValidateID checks that a pump ID is non-empty, within length limits,
// and safe to embed in an MQTT topic path.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	// Topic-reserved characters would corrupt command and telemetry routing.
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: id contains topic-reserved characters", ErrInvalidID)
	}
	return nil
}

// ValidateName checks if a pump name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
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

// GenerateID creates a new UUID for a pump.
func GenerateID() string {
	return uuid.New().String()
}
