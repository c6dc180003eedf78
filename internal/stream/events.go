package stream

import "time"

// Event types fanned out to viewers.
const (
	EventSubscribed        = "subscribed"
	EventError             = "error"
	EventProgress          = "progress"
	EventDeviceError       = "deviceError"
	EventNotification      = "notification"
	EventStatus            = "status"
	EventInfusionConfirmed = "infusionConfirmed"
	EventInfusionCompleted = "infusionCompleted"
	EventAction            = "action"
)

// Event is a single fan-out message to viewers of one device.
type Event struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"deviceId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// recentErrorCap bounds the per-device error ring.
const recentErrorCap = 10

// Snapshot is the retained per-device telemetry state, replayed to each
// new subscriber so they join at the current picture without the event
// history. In-memory only; lost on restart by design.
type Snapshot struct {
	// LatestProgress is the most recent progress payload.
	LatestProgress map[string]any `json:"latest_progress,omitempty"`

	// LatestStatus is the most recent status payload.
	LatestStatus map[string]any `json:"latest_status,omitempty"`

	// RecentErrors holds the last errors, most recent first, capped.
	RecentErrors []map[string]any `json:"recent_errors,omitempty"`

	// CurrentInfusion is the confirmed infusion summary, cleared on
	// completion.
	CurrentInfusion map[string]any `json:"current_infusion,omitempty"`
}

// clone returns a copy safe to hand outside the room lock.
func (s *Snapshot) clone() Snapshot {
	out := Snapshot{
		LatestProgress:  copyMap(s.LatestProgress),
		LatestStatus:    copyMap(s.LatestStatus),
		CurrentInfusion: copyMap(s.CurrentInfusion),
	}
	if s.RecentErrors != nil {
		out.RecentErrors = make([]map[string]any, len(s.RecentErrors))
		for i, e := range s.RecentErrors {
			out.RecentErrors[i] = copyMap(e)
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
