// Package dispatcher publishes operator commands to pumps and exposes the
// operator command surface consumed by the HTTP layer.
//
// Dispatch order is fixed: durable bookkeeping first (through the
// lifecycle machine), transport publish second. A publish failure after a
// successful transition leaves the durable records in place — the system
// accepts at-least-once command intent and relies on idempotent
// confirmation handling to reconcile, rather than rolling back.
//
// Every outbound message is a JSON envelope:
//
//	{
//	    "command":   "START_INFUSION",
//	    "payload":   { "infusionId": "...", "parameters": { ... } },
//	    "timestamp": "2026-03-01T10:00:00Z",
//	    "commandId": "uuid"
//	}
//
// published to pumplink/command/{deviceID} at QoS 1. The command ID is
// generated per dispatch for traceability; devices echo nothing back
// through it (confirmations reference the infusion, not the command).
package dispatcher
