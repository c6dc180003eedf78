package pump

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides pump management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups;
// the inbound telemetry router hits GetPump on every message, so reads
// must not touch the database on the hot path.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Pump // Cached pumps by ID
	cacheMu sync.RWMutex     // Protects cache
	logger  Logger
}

// NewRegistry creates a new pump registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Pump),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all pumps from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	pumps, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading pumps: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Pump, len(pumps))
	for i := range pumps {
		p := pumps[i]
		r.cache[p.ID] = p.DeepCopy()
	}

	r.logger.Info("pump cache refreshed", "count", len(pumps))
	return nil
}

// GetPump retrieves a pump by ID.
// Returns ErrPumpNotFound if the pump does not exist.
// The returned pump is a deep copy; callers can safely modify it.
func (r *Registry) GetPump(ctx context.Context, id string) (*Pump, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new pump not yet cached)
	p, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = p.DeepCopy()
	r.cacheMu.Unlock()

	return p, nil
}

// Exists reports whether a pump with the given ID is registered.
// Used to validate stream subscriptions and inbound telemetry.
func (r *Registry) Exists(ctx context.Context, id string) bool {
	_, err := r.GetPump(ctx, id)
	return err == nil
}

// ListPumps retrieves all pumps.
// The returned pumps are deep copies; callers can safely modify them.
func (r *Registry) ListPumps(ctx context.Context) ([]Pump, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		pumps := make([]Pump, 0, len(r.cache))
		for _, p := range r.cache {
			// Deep copy to prevent external mutation of cache
			pumps = append(pumps, *p.DeepCopy())
		}
		return pumps, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetPumpsByStatus retrieves all pumps in a specific operational state.
// The returned pumps are deep copies; callers can safely modify them.
func (r *Registry) GetPumpsByStatus(ctx context.Context, status Status) ([]Pump, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var pumps []Pump
		for _, p := range r.cache {
			if p.Status == status {
				// Deep copy to prevent external mutation of cache
				pumps = append(pumps, *p.DeepCopy())
			}
		}
		return pumps, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// CreatePump registers a new pump.
// It validates the pump, generates an ID if needed, and persists it.
// New pumps start healthy unless a status is explicitly set.
func (r *Registry) CreatePump(ctx context.Context, p *Pump) error {
	// Generate ID if not provided
	if p.ID == "" {
		p.ID = GenerateID()
	}

	if p.Status == "" {
		p.Status = StatusHealthy
	}

	// Validate
	if err := Validate(p); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, p); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("pump registered", "id", p.ID, "name", p.Name)
	return nil
}

// UpdatePump updates an existing pump.
// It validates the pump and persists the changes.
func (r *Registry) UpdatePump(ctx context.Context, p *Pump) error {
	// Validate
	if err := Validate(p); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("pump updated", "id", p.ID, "name", p.Name)
	return nil
}

// DeletePump removes a pump.
func (r *Registry) DeletePump(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("pump deleted", "id", id)
	return nil
}

// SetPumpStatus updates the operational state and active infusion reference.
// This is the lifecycle machine's write path; status and active infusion
// always change together so the running/paused invariant holds in storage.
func (r *Registry) SetPumpStatus(ctx context.Context, id string, status Status, activeInfusionID *string) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}

	if err := r.repo.UpdateStatus(ctx, id, status, activeInfusionID); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		// Create a deep copy with updated status (atomic replacement)
		updated := cached.DeepCopy()
		updated.Status = status
		if activeInfusionID != nil {
			infID := *activeInfusionID
			updated.ActiveInfusionID = &infID
		} else {
			updated.ActiveInfusionID = nil
		}
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("pump status updated", "id", id, "status", status)
	return nil
}

// TouchLastSeen records the time of the most recent telemetry from a pump.
// This is optimised for frequent updates from the inbound router.
func (r *Registry) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	if err := r.repo.UpdateLastSeen(ctx, id, seen); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		seenUTC := seen.UTC()
		updated.LastSeen = &seenUTC
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	return nil
}

// GetPumpCount returns the number of cached pumps.
func (r *Registry) GetPumpCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalPumps int
	ByStatus   map[Status]int
	Infusing   int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalPumps: len(r.cache),
		ByStatus:   make(map[Status]int),
	}

	for _, p := range r.cache {
		stats.ByStatus[p.Status]++
		if p.IsInfusing() {
			stats.Infusing++
		}
	}

	return stats
}
