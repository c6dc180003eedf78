package infusion

import "time"

// Status represents the delivery state of an infusion.
//
// Status only moves forward: created → running → stopped or completed.
// Stopped and completed are terminal; a record never changes again once
// it reaches either. Pause/resume cycles are tracked on the pump record,
// not here.
type Status string

// Infusion status values.
const (
	// StatusCreated means the infusion record exists but the device has
	// not yet confirmed the start command.
	StatusCreated Status = "created"

	// StatusRunning means the device has confirmed and is delivering.
	StatusRunning Status = "running"

	// StatusStopped means delivery was halted before completion.
	StatusStopped Status = "stopped"

	// StatusCompleted means the planned volume was fully delivered.
	StatusCompleted Status = "completed"
)

// AllStatuses returns all valid infusion statuses.
func AllStatuses() []Status {
	return []Status{StatusCreated, StatusRunning, StatusStopped, StatusCompleted}
}

// IsTerminal reports whether the status is a terminal sink.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted
}

// Patient is the snapshot of patient identity attached to an infusion.
// Only opaque identifiers are held here; clinical data lives in the
// hospital systems that assigned them.
type Patient struct {
	// ID is the opaque patient identifier from the ordering system.
	ID string `json:"id"`

	// Name is an optional display name for operator screens.
	Name string `json:"name,omitempty"`
}

// Bolus describes an optional initial bolus dose.
type Bolus struct {
	Enabled  bool    `json:"enabled"`
	VolumeMl float64 `json:"volume_ml"`
}

// Parameters holds the prescribed delivery parameters for an infusion.
type Parameters struct {
	// FlowRateMlMin is the delivery rate in millilitres per minute.
	FlowRateMlMin float64 `json:"flow_rate_ml_min"`

	// PlannedTimeMin is the planned duration in minutes.
	PlannedTimeMin int `json:"planned_time_min"`

	// PlannedVolumeMl is the total volume to deliver in millilitres.
	PlannedVolumeMl float64 `json:"planned_volume_ml"`

	// Bolus is an optional initial bolus dose.
	Bolus *Bolus `json:"bolus,omitempty"`
}

// Infusion represents a single prescribed delivery on one pump.
//
// Patient identity is a tagged variant: either Patient is set, or
// PatientSkipped is true — never both, never neither. Use the
// WithPatient and SkipPatient constructors; they are the only supported
// way to build a valid record.
type Infusion struct {
	// ID is the unique infusion identifier (UUID).
	ID string `json:"id"`

	// DeviceID references the pump delivering this infusion.
	DeviceID string `json:"device_id"`

	// Patient is the patient snapshot, nil when skipped.
	Patient *Patient `json:"patient,omitempty"`

	// PatientSkipped marks an infusion started without patient data.
	PatientSkipped bool `json:"patient_skipped"`

	// Parameters are the prescribed delivery parameters.
	Parameters Parameters `json:"parameters"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// Summary holds the device-reported completion summary.
	// Populated only when Status is completed.
	Summary map[string]any `json:"summary,omitempty"`

	// CreatedAt is when the operator issued the start command.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when the device confirmed the start.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// StoppedAt is when delivery was halted, if it was.
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// CompletedAt is when the device reported completion, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WithPatient creates a new infusion record carrying a patient snapshot.
// The record starts in StatusCreated with a generated ID.
func WithPatient(deviceID string, params Parameters, patient Patient) (*Infusion, error) {
	inf := newInfusion(deviceID, params)
	p := patient
	inf.Patient = &p

	if err := Validate(inf); err != nil {
		return nil, err
	}
	return inf, nil
}

// SkipPatient creates a new infusion record explicitly marked as having
// no patient data. The record starts in StatusCreated with a generated ID.
func SkipPatient(deviceID string, params Parameters) (*Infusion, error) {
	inf := newInfusion(deviceID, params)
	inf.PatientSkipped = true

	if err := Validate(inf); err != nil {
		return nil, err
	}
	return inf, nil
}

func newInfusion(deviceID string, params Parameters) *Infusion {
	now := time.Now().UTC()
	return &Infusion{
		ID:         GenerateID(),
		DeviceID:   deviceID,
		Parameters: params,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DeepCopy returns a deep copy of the infusion.
// Pointer and map fields are duplicated so the copy shares no memory
// with the original.
func (i *Infusion) DeepCopy() *Infusion {
	if i == nil {
		return nil
	}

	copied := *i

	if i.Patient != nil {
		p := *i.Patient
		copied.Patient = &p
	}
	if i.Parameters.Bolus != nil {
		b := *i.Parameters.Bolus
		copied.Parameters.Bolus = &b
	}
	if i.Summary != nil {
		summary := make(map[string]any, len(i.Summary))
		for k, v := range i.Summary {
			summary[k] = v
		}
		copied.Summary = summary
	}
	if i.StartedAt != nil {
		t := *i.StartedAt
		copied.StartedAt = &t
	}
	if i.StoppedAt != nil {
		t := *i.StoppedAt
		copied.StoppedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		copied.CompletedAt = &t
	}

	return &copied
}
