// Package lifecycle implements the infusion lifecycle state machine for
// PumpLink Core.
//
// The machine is the single writer for pump status and infusion status.
// Operator commands enter through RequestTransition; device telemetry
// enters through OnConfirmed, OnCompleted and OnManualAction. Everything
// else in the system reads those records but never mutates them.
//
// # Transitions
//
// Operator commands are precondition-checked against the pump's current
// status:
//
//	start  requires healthy or stopped
//	pause  requires running
//	resume requires paused
//	stop   requires running
//
// A violated precondition returns *InvalidTransitionError and nothing is
// persisted or dispatched. Device-reported events skip the preconditions
// entirely — a pump that paused itself is paused whether or not the server
// thought it could be.
//
// # Start is two-phase
//
// RequestTransition(start) creates the infusion record before returning,
// but leaves the pump in its current status. Only the device's
// confirmation (OnConfirmed) moves the pump to running. Between the two,
// the infusion sits in status created; a confirmation that never arrives
// leaves a created record and an idle pump, which the next start from
// healthy/stopped simply leaves behind.
//
// # Concurrency
//
// A per-device mutex serializes all transitions for one pump. Commands
// and device events racing on the same pump apply in some order, each
// seeing the other's completed writes. Different pumps never contend.
//
// # Idempotency
//
// Duplicate confirmations and duplicate completions are logged no-ops.
// Terminal infusion states are enforced by the infusion repository's
// guarded updates, so even interleaved duplicates cannot resurrect a
// finished record.
package lifecycle
