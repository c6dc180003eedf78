// Package pump provides the Pump Registry for PumpLink Core.
//
// The Pump Registry is the central catalogue of all infusion pumps known
// to a PumpLink installation. It manages pump records, operational status,
// and provides query operations for the REST API, the lifecycle machine,
// and the inbound telemetry router.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                           Pump Registry                                  │
//	│                                                                          │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐   │
//	│  │     Registry     │    │    Repository    │    │    Validation    │   │
//	│  │   (registry.go)  │───▶│  (repository.go) │    │ (validation.go)  │   │
//	│  │                  │    │                  │    │                  │   │
//	│  │ • CRUD ops       │    │ • SQLite queries │    │ • Name/ID checks │   │
//	│  │ • In-memory cache│    │ • RFC3339 times  │    │ • Status checks  │   │
//	│  │ • Thread safety  │    │ • RowsAffected   │    │ • Infusion inv.  │   │
//	│  └──────────────────┘    └──────────────────┘    └──────────────────┘   │
//	│           │                       │                                      │
//	└───────────│───────────────────────│──────────────────────────────────────┘
//	            │                       │
//	            ▼                       ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│  Lifecycle machine   │   │   SQLite Database    │
//	│  Telemetry router    │   │    (pumps table)     │
//	│  REST API            │   └──────────────────────┘
//	└──────────────────────┘
//
// # Key Types
//
//   - Pump: A registered infusion pump with status and active infusion
//   - Status: Operational state (healthy, running, paused, stopped, degraded)
//
// # Usage
//
//	repo := pump.NewSQLiteRepository(db)
//	registry := pump.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	p := &pump.Pump{
//	    Name:     "Bay 4 Syringe Driver",
//	    Location: "ICU / Bay 4",
//	}
//	if err := registry.CreatePump(ctx, p); err != nil {
//	    return err
//	}
//
//	// Lifecycle transition (from the state machine)
//	registry.SetPumpStatus(ctx, p.ID, pump.StatusRunning, &infusionID)
//
// # Invariants
//
// A pump carries an active infusion reference exactly while its status is
// running or paused. Validation rejects records that break this, and
// SetPumpStatus writes both fields in a single statement so readers never
// observe a half-applied transition.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// a read-write mutex. The Repository implementation must also be thread-safe.
package pump
