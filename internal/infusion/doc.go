// Package infusion provides infusion records for PumpLink Core.
//
// An infusion is one prescribed delivery on one pump: parameters, an
// optional patient snapshot, and a forward-only status lifecycle. The
// lifecycle machine owns all state changes; this package supplies the
// types, validation, and persistence they operate on.
//
// # Patient identity
//
// Patient presence is a tagged variant, never inferred from which fields
// happen to be set. WithPatient attaches a snapshot; SkipPatient marks
// the record as explicitly started without one. Validation rejects
// records where both or neither are set, so the ambiguity cannot reach
// storage. Only opaque identifiers are held; clinical data stays in the
// systems that assigned them.
//
// # Status lifecycle
//
//	created ──▶ running ──▶ completed
//	    │           │
//	    └───────────┴─────▶ stopped
//
// Stopped and completed are terminal sinks. The repository enforces this
// with status-guarded UPDATEs: a duplicate completion or a late stop
// against a finished record matches no rows and surfaces as
// ErrTerminalStatus, which callers treat as an idempotent no-op.
// Pause/resume cycles live on the pump record, not here — an infusion
// paused on-device is still "running" as far as its record is concerned.
//
// # Usage
//
//	inf, err := infusion.SkipPatient("PUMP_0001", infusion.Parameters{
//	    FlowRateMlMin:   10,
//	    PlannedTimeMin:  60,
//	    PlannedVolumeMl: 600,
//	})
//	if err != nil {
//	    return err
//	}
//
//	repo := infusion.NewSQLiteRepository(db)
//	if err := repo.Create(ctx, inf); err != nil {
//	    return err
//	}
//
//	// Device confirmed the start
//	err = repo.MarkRunning(ctx, inf.ID, time.Now())
package infusion
