package pump

import "time"

// Status represents the operational state of a pump as known to the server.
//
// Status transitions are driven by the lifecycle machine: operator commands
// move a pump towards running/paused/stopped, device telemetry confirms or
// overrides those moves, and completion returns the pump to healthy.
type Status string

// Pump status values.
const (
	// StatusHealthy means the pump is online and idle, ready for an infusion.
	StatusHealthy Status = "healthy"

	// StatusRunning means an infusion is actively being delivered.
	StatusRunning Status = "running"

	// StatusPaused means a running infusion has been suspended on-device.
	StatusPaused Status = "paused"

	// StatusStopped means the last infusion was halted before completion.
	StatusStopped Status = "stopped"

	// StatusDegraded means the pump has reported an unrecoverable fault
	// or has not been seen within the liveness window.
	StatusDegraded Status = "degraded"
)

// AllStatuses returns all valid pump statuses.
func AllStatuses() []Status {
	return []Status{
		StatusHealthy,
		StatusRunning,
		StatusPaused,
		StatusStopped,
		StatusDegraded,
	}
}

// Pump represents a registered infusion pump.
//
// The ID is assigned at registration and is stable for the life of the
// device; it appears in MQTT topic paths, so it must never contain '/',
// '+', or '#'.
type Pump struct {
	// ID is the unique pump identifier (UUID or operator-assigned).
	ID string `json:"id"`

	// Name is the human-readable pump name shown to operators.
	Name string `json:"name"`

	// Location is an optional free-text placement hint (ward, bay, room).
	Location string `json:"location,omitempty"`

	// Status is the current operational state.
	Status Status `json:"status"`

	// ActiveInfusionID references the infusion currently running or paused
	// on this pump. It is set exactly when Status is running or paused.
	ActiveInfusionID *string `json:"active_infusion_id,omitempty"`

	// LastSeen is the time of the most recent telemetry from this pump.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// CreatedAt is when the pump was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the pump record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsInfusing reports whether the pump currently holds an active infusion.
func (p *Pump) IsInfusing() bool {
	return p.Status == StatusRunning || p.Status == StatusPaused
}

// DeepCopy returns a deep copy of the pump.
// Pointer fields are duplicated so the copy shares no memory with the
// original; callers can mutate the result freely.
func (p *Pump) DeepCopy() *Pump {
	if p == nil {
		return nil
	}

	copied := *p

	if p.ActiveInfusionID != nil {
		id := *p.ActiveInfusionID
		copied.ActiveInfusionID = &id
	}
	if p.LastSeen != nil {
		seen := *p.LastSeen
		copied.LastSeen = &seen
	}

	return &copied
}
