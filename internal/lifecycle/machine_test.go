package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pumplink/pumplink-core/internal/infusion"
	"github.com/pumplink/pumplink-core/internal/pump"
)

// fakePumpRepo is an in-memory pump.Repository.
type fakePumpRepo struct {
	mu    sync.Mutex
	pumps map[string]*pump.Pump
}

func newFakePumpRepo() *fakePumpRepo {
	return &fakePumpRepo{pumps: make(map[string]*pump.Pump)}
}

func (f *fakePumpRepo) GetByID(_ context.Context, id string) (*pump.Pump, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pumps[id]; ok {
		return p.DeepCopy(), nil
	}
	return nil, pump.ErrPumpNotFound
}

func (f *fakePumpRepo) List(_ context.Context) ([]pump.Pump, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pump.Pump, 0, len(f.pumps))
	for _, p := range f.pumps {
		out = append(out, *p.DeepCopy())
	}
	return out, nil
}

func (f *fakePumpRepo) ListByStatus(_ context.Context, status pump.Status) ([]pump.Pump, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pump.Pump
	for _, p := range f.pumps {
		if p.Status == status {
			out = append(out, *p.DeepCopy())
		}
	}
	return out, nil
}

func (f *fakePumpRepo) Create(_ context.Context, p *pump.Pump) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pumps[p.ID]; ok {
		return pump.ErrPumpExists
	}
	f.pumps[p.ID] = p.DeepCopy()
	return nil
}

func (f *fakePumpRepo) Update(_ context.Context, p *pump.Pump) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pumps[p.ID]; !ok {
		return pump.ErrPumpNotFound
	}
	f.pumps[p.ID] = p.DeepCopy()
	return nil
}

func (f *fakePumpRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pumps[id]; !ok {
		return pump.ErrPumpNotFound
	}
	delete(f.pumps, id)
	return nil
}

func (f *fakePumpRepo) UpdateStatus(_ context.Context, id string, status pump.Status, activeInfusionID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pumps[id]
	if !ok {
		return pump.ErrPumpNotFound
	}
	p.Status = status
	p.ActiveInfusionID = activeInfusionID
	return nil
}

func (f *fakePumpRepo) UpdateLastSeen(_ context.Context, id string, seen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pumps[id]
	if !ok {
		return pump.ErrPumpNotFound
	}
	seenUTC := seen.UTC()
	p.LastSeen = &seenUTC
	return nil
}

// fakeInfusionRepo is an in-memory infusion.Repository enforcing the same
// forward-only guards as the SQLite implementation.
type fakeInfusionRepo struct {
	mu        sync.Mutex
	infusions map[string]*infusion.Infusion
	createErr error
}

func newFakeInfusionRepo() *fakeInfusionRepo {
	return &fakeInfusionRepo{infusions: make(map[string]*infusion.Infusion)}
}

func (f *fakeInfusionRepo) GetByID(_ context.Context, id string) (*infusion.Infusion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inf, ok := f.infusions[id]; ok {
		return inf.DeepCopy(), nil
	}
	return nil, infusion.ErrInfusionNotFound
}

func (f *fakeInfusionRepo) ListByDevice(_ context.Context, deviceID string) ([]infusion.Infusion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []infusion.Infusion
	for _, inf := range f.infusions {
		if inf.DeviceID == deviceID {
			out = append(out, *inf.DeepCopy())
		}
	}
	return out, nil
}

func (f *fakeInfusionRepo) GetActiveByDevice(_ context.Context, deviceID string) (*infusion.Infusion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inf := range f.infusions {
		if inf.DeviceID == deviceID && !inf.Status.IsTerminal() {
			return inf.DeepCopy(), nil
		}
	}
	return nil, infusion.ErrInfusionNotFound
}

func (f *fakeInfusionRepo) Create(_ context.Context, inf *infusion.Infusion) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.infusions[inf.ID]; ok {
		return infusion.ErrInfusionExists
	}
	f.infusions[inf.ID] = inf.DeepCopy()
	return nil
}

func (f *fakeInfusionRepo) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inf, ok := f.infusions[id]
	if !ok {
		return infusion.ErrInfusionNotFound
	}
	if inf.Status.IsTerminal() {
		return infusion.ErrTerminalStatus
	}
	if inf.Status != infusion.StatusCreated {
		return infusion.ErrStatusRegression
	}
	inf.Status = infusion.StatusRunning
	t := startedAt.UTC()
	inf.StartedAt = &t
	return nil
}

func (f *fakeInfusionRepo) MarkStopped(_ context.Context, id string, stoppedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inf, ok := f.infusions[id]
	if !ok {
		return infusion.ErrInfusionNotFound
	}
	if inf.Status.IsTerminal() {
		return infusion.ErrTerminalStatus
	}
	inf.Status = infusion.StatusStopped
	t := stoppedAt.UTC()
	inf.StoppedAt = &t
	return nil
}

func (f *fakeInfusionRepo) MarkCompleted(_ context.Context, id string, summary map[string]any, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inf, ok := f.infusions[id]
	if !ok {
		return infusion.ErrInfusionNotFound
	}
	if inf.Status.IsTerminal() {
		return infusion.ErrTerminalStatus
	}
	inf.Status = infusion.StatusCompleted
	inf.Summary = summary
	t := completedAt.UTC()
	inf.CompletedAt = &t
	return nil
}

func testParams() infusion.Parameters {
	return infusion.Parameters{
		FlowRateMlMin:   10,
		PlannedTimeMin:  60,
		PlannedVolumeMl: 600,
	}
}

func newTestMachine(t *testing.T, status pump.Status, activeInfusionID *string) (*Machine, *pump.Registry, *fakeInfusionRepo) {
	t.Helper()

	pumpRepo := newFakePumpRepo()
	p := &pump.Pump{
		ID: "PUMP_0001", Name: "Bay 1",
		Status: status, ActiveInfusionID: activeInfusionID,
	}
	if err := pumpRepo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding pump: %v", err)
	}

	registry := pump.NewRegistry(pumpRepo)
	infusions := newFakeInfusionRepo()
	return NewMachine(registry, infusions), registry, infusions
}

func TestRequestTransition_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("creates infusion before returning", func(t *testing.T) {
		machine, registry, infusions := newTestMachine(t, pump.StatusHealthy, nil)

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}

		if rec.Command != CommandStart {
			t.Errorf("Command = %q, want start", rec.Command)
		}
		if rec.InfusionID == "" {
			t.Fatal("expected infusion ID in record")
		}

		inf, err := infusions.GetByID(ctx, rec.InfusionID)
		if err != nil {
			t.Fatalf("infusion not persisted: %v", err)
		}
		if inf.Status != infusion.StatusCreated {
			t.Errorf("infusion status = %q, want created", inf.Status)
		}
		if !inf.PatientSkipped {
			t.Error("infusion without patient data should be marked skipped")
		}

		// Pump must not move until the device confirms
		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusHealthy {
			t.Errorf("pump status = %q, want healthy until confirmation", p.Status)
		}

		if rec.Payload["infusionId"] != rec.InfusionID {
			t.Errorf("payload infusionId = %v, want %s", rec.Payload["infusionId"], rec.InfusionID)
		}
	})

	t.Run("carries patient snapshot", func(t *testing.T) {
		machine, _, infusions := newTestMachine(t, pump.StatusHealthy, nil)

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{
				Parameters: testParams(),
				Patient:    &infusion.Patient{ID: "pat-9"},
			})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}

		inf, _ := infusions.GetByID(ctx, rec.InfusionID)
		if inf.Patient == nil || inf.Patient.ID != "pat-9" {
			t.Errorf("Patient = %v, want pat-9", inf.Patient)
		}
		if rec.Payload["patientId"] != "pat-9" {
			t.Errorf("payload patientId = %v, want pat-9", rec.Payload["patientId"])
		}
	})

	t.Run("allowed from stopped", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusStopped, nil)

		if _, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()}); err != nil {
			t.Errorf("RequestTransition() from stopped error = %v", err)
		}
	})

	t.Run("rejected while running", func(t *testing.T) {
		infID := "inf-1"
		machine, _, infusions := newTestMachine(t, pump.StatusRunning, &infID)

		_, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("RequestTransition() error = %v, want ErrInvalidTransition", err)
		}

		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatal("error should be *InvalidTransitionError")
		}
		if ite.Current != pump.StatusRunning {
			t.Errorf("Current = %q, want running", ite.Current)
		}

		// Nothing persisted on violation
		if len(infusions.infusions) != 0 {
			t.Error("no infusion should be created on precondition violation")
		}
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusHealthy, nil)

		_, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart, TransitionRequest{})
		if !errors.Is(err, infusion.ErrInvalidParameters) {
			t.Errorf("RequestTransition() error = %v, want ErrInvalidParameters", err)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusHealthy, nil)

		_, err := machine.RequestTransition(ctx, "PUMP_MISSING", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if !errors.Is(err, pump.ErrPumpNotFound) {
			t.Errorf("RequestTransition() error = %v, want ErrPumpNotFound", err)
		}
	})
}

func TestRequestTransition_PauseResumeStop(t *testing.T) {
	ctx := context.Background()
	infID := "inf-1"

	t.Run("pause running pump", func(t *testing.T) {
		machine, registry, _ := newTestMachine(t, pump.StatusRunning, &infID)

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandPause,
			TransitionRequest{Reason: "clinician request"})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}
		if rec.PumpStatus != pump.StatusPaused {
			t.Errorf("PumpStatus = %q, want paused", rec.PumpStatus)
		}
		if rec.Payload["reason"] != "clinician request" {
			t.Errorf("payload reason = %v", rec.Payload["reason"])
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusPaused {
			t.Errorf("pump status = %q, want paused", p.Status)
		}
		if p.ActiveInfusionID == nil {
			t.Error("pause must keep the active infusion")
		}
	})

	t.Run("pause requires running", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusHealthy, nil)

		_, err := machine.RequestTransition(ctx, "PUMP_0001", CommandPause, TransitionRequest{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("RequestTransition() error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("resume paused pump", func(t *testing.T) {
		machine, registry, _ := newTestMachine(t, pump.StatusPaused, &infID)

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandResume, TransitionRequest{})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}
		if rec.PumpStatus != pump.StatusRunning {
			t.Errorf("PumpStatus = %q, want running", rec.PumpStatus)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusRunning {
			t.Errorf("pump status = %q, want running", p.Status)
		}
	})

	t.Run("resume requires paused", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusRunning, &infID)

		_, err := machine.RequestTransition(ctx, "PUMP_0001", CommandResume, TransitionRequest{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("RequestTransition() error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("stop finalises infusion and clears pump", func(t *testing.T) {
		machine, registry, infusions := newTestMachine(t, pump.StatusRunning, &infID)
		seeded, _ := infusion.SkipPatient("PUMP_0001", testParams())
		seeded.ID = infID
		if err := infusions.Create(ctx, seeded); err != nil {
			t.Fatalf("seeding infusion: %v", err)
		}

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStop,
			TransitionRequest{Reason: "occlusion suspected"})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}
		if rec.PumpStatus != pump.StatusStopped {
			t.Errorf("PumpStatus = %q, want stopped", rec.PumpStatus)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusStopped {
			t.Errorf("pump status = %q, want stopped", p.Status)
		}
		if p.ActiveInfusionID != nil {
			t.Error("stop must clear the active infusion")
		}

		inf, _ := infusions.GetByID(ctx, infID)
		if inf.Status != infusion.StatusStopped {
			t.Errorf("infusion status = %q, want stopped", inf.Status)
		}
	})
}

func TestOnConfirmed(t *testing.T) {
	ctx := context.Background()

	t.Run("moves pump and infusion to running", func(t *testing.T) {
		machine, registry, infusions := newTestMachine(t, pump.StatusHealthy, nil)

		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}

		applied, err := machine.OnConfirmed(ctx, "PUMP_0001", rec.InfusionID)
		if err != nil {
			t.Fatalf("OnConfirmed() error = %v", err)
		}
		if !applied {
			t.Error("OnConfirmed() applied = false, want true for the first confirmation")
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusRunning {
			t.Errorf("pump status = %q, want running", p.Status)
		}
		if p.ActiveInfusionID == nil || *p.ActiveInfusionID != rec.InfusionID {
			t.Errorf("ActiveInfusionID = %v, want %s", p.ActiveInfusionID, rec.InfusionID)
		}

		inf, _ := infusions.GetByID(ctx, rec.InfusionID)
		if inf.Status != infusion.StatusRunning {
			t.Errorf("infusion status = %q, want running", inf.Status)
		}
		if inf.StartedAt == nil {
			t.Error("StartedAt should be set on confirmation")
		}
	})

	t.Run("duplicate confirmation is a no-op", func(t *testing.T) {
		machine, registry, _ := newTestMachine(t, pump.StatusHealthy, nil)

		rec, _ := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if _, err := machine.OnConfirmed(ctx, "PUMP_0001", rec.InfusionID); err != nil {
			t.Fatalf("first OnConfirmed() error = %v", err)
		}
		applied, err := machine.OnConfirmed(ctx, "PUMP_0001", rec.InfusionID)
		if err != nil {
			t.Fatalf("second OnConfirmed() error = %v", err)
		}
		if applied {
			t.Error("OnConfirmed() applied = true, want false for a duplicate")
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusRunning {
			t.Errorf("pump status = %q, want running", p.Status)
		}
	})

	t.Run("confirmation after stop is dropped", func(t *testing.T) {
		machine, registry, infusions := newTestMachine(t, pump.StatusHealthy, nil)

		rec, _ := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})

		// Infusion finished before the confirmation arrived
		if err := infusions.MarkStopped(ctx, rec.InfusionID, time.Now()); err != nil {
			t.Fatalf("MarkStopped() error = %v", err)
		}

		applied, err := machine.OnConfirmed(ctx, "PUMP_0001", rec.InfusionID)
		if err != nil {
			t.Fatalf("OnConfirmed() error = %v", err)
		}
		if applied {
			t.Error("OnConfirmed() applied = true, want false for a finished infusion")
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status == pump.StatusRunning {
			t.Error("pump must not run on a confirmation for a finished infusion")
		}
	})
}

func TestOnCompleted(t *testing.T) {
	ctx := context.Background()

	startRunning := func(t *testing.T) (*Machine, *pump.Registry, *fakeInfusionRepo, string) {
		t.Helper()
		machine, registry, infusions := newTestMachine(t, pump.StatusHealthy, nil)
		rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
			TransitionRequest{Parameters: testParams()})
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}
		if _, err := machine.OnConfirmed(ctx, "PUMP_0001", rec.InfusionID); err != nil {
			t.Fatalf("OnConfirmed() error = %v", err)
		}
		return machine, registry, infusions, rec.InfusionID
	}

	t.Run("finalises infusion with summary", func(t *testing.T) {
		machine, registry, infusions, infID := startRunning(t)

		summary := map[string]any{"volume_infused_ml": 600.0}
		if err := machine.OnCompleted(ctx, "PUMP_0001", summary); err != nil {
			t.Fatalf("OnCompleted() error = %v", err)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusHealthy {
			t.Errorf("pump status = %q, want healthy", p.Status)
		}
		if p.ActiveInfusionID != nil {
			t.Error("completion must clear the active infusion")
		}

		inf, _ := infusions.GetByID(ctx, infID)
		if inf.Status != infusion.StatusCompleted {
			t.Errorf("infusion status = %q, want completed", inf.Status)
		}
		if inf.Summary["volume_infused_ml"] != 600.0 {
			t.Errorf("Summary = %v", inf.Summary)
		}
	})

	t.Run("duplicate completion is a no-op", func(t *testing.T) {
		machine, _, infusions, infID := startRunning(t)

		if err := machine.OnCompleted(ctx, "PUMP_0001", map[string]any{"first": true}); err != nil {
			t.Fatalf("first OnCompleted() error = %v", err)
		}
		if err := machine.OnCompleted(ctx, "PUMP_0001", map[string]any{"second": true}); err != nil {
			t.Fatalf("second OnCompleted() error = %v", err)
		}

		inf, _ := infusions.GetByID(ctx, infID)
		if _, exists := inf.Summary["second"]; exists {
			t.Error("duplicate completion must not overwrite the summary")
		}
	})
}

func TestOnManualAction(t *testing.T) {
	ctx := context.Background()
	infID := "inf-1"

	seed := func(t *testing.T, status pump.Status) (*Machine, *pump.Registry, *fakeInfusionRepo) {
		t.Helper()
		machine, registry, infusions := newTestMachine(t, status, &infID)
		seeded, _ := infusion.SkipPatient("PUMP_0001", testParams())
		seeded.ID = infID
		seeded.Status = infusion.StatusRunning
		if err := infusions.Create(ctx, seeded); err != nil {
			t.Fatalf("seeding infusion: %v", err)
		}
		return machine, registry, infusions
	}

	t.Run("device pause applies without preconditions", func(t *testing.T) {
		machine, registry, _ := seed(t, pump.StatusRunning)

		if err := machine.OnManualAction(ctx, "PUMP_0001", CommandPause, infID); err != nil {
			t.Fatalf("OnManualAction() error = %v", err)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusPaused {
			t.Errorf("pump status = %q, want paused", p.Status)
		}
	})

	t.Run("device stop finalises infusion", func(t *testing.T) {
		machine, registry, infusions := seed(t, pump.StatusRunning)

		if err := machine.OnManualAction(ctx, "PUMP_0001", CommandStop, infID); err != nil {
			t.Fatalf("OnManualAction() error = %v", err)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusStopped || p.ActiveInfusionID != nil {
			t.Errorf("pump = %q/%v, want stopped/nil", p.Status, p.ActiveInfusionID)
		}

		inf, _ := infusions.GetByID(ctx, infID)
		if inf.Status != infusion.StatusStopped {
			t.Errorf("infusion status = %q, want stopped", inf.Status)
		}
	})

	t.Run("mismatched infusion ID is rejected", func(t *testing.T) {
		machine, registry, _ := seed(t, pump.StatusRunning)

		err := machine.OnManualAction(ctx, "PUMP_0001", CommandPause, "inf-other")
		if !errors.Is(err, ErrInfusionMismatch) {
			t.Fatalf("OnManualAction() error = %v, want ErrInfusionMismatch", err)
		}

		p, _ := registry.GetPump(ctx, "PUMP_0001")
		if p.Status != pump.StatusRunning {
			t.Errorf("pump status = %q, want unchanged running", p.Status)
		}
	})

	t.Run("no active infusion", func(t *testing.T) {
		machine, _, _ := newTestMachine(t, pump.StatusHealthy, nil)

		err := machine.OnManualAction(ctx, "PUMP_0001", CommandPause, "inf-1")
		if !errors.Is(err, ErrNoActiveInfusion) {
			t.Errorf("OnManualAction() error = %v, want ErrNoActiveInfusion", err)
		}
	})
}

func TestMachine_ConcurrentSameDevice(t *testing.T) {
	ctx := context.Background()
	machine, registry, _ := newTestMachine(t, pump.StatusHealthy, nil)

	// Race several starts at one pump: exactly one wins once the winner's
	// confirmation lands, the rest fail preconditions or leave created
	// records that are never confirmed.
	var wg sync.WaitGroup
	results := make(chan *CommandRecord, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
				TransitionRequest{Parameters: testParams()})
			if err == nil {
				results <- rec
			}
		}()
	}
	wg.Wait()
	close(results)

	var first *CommandRecord
	for rec := range results {
		if first == nil {
			first = rec
		}
	}
	if first == nil {
		t.Fatal("at least one start should succeed")
	}

	if _, err := machine.OnConfirmed(ctx, "PUMP_0001", first.InfusionID); err != nil {
		t.Fatalf("OnConfirmed() error = %v", err)
	}

	p, _ := registry.GetPump(ctx, "PUMP_0001")
	if p.Status != pump.StatusRunning {
		t.Errorf("pump status = %q, want running", p.Status)
	}

	// Further starts must now fail the precondition
	_, err := machine.RequestTransition(ctx, "PUMP_0001", CommandStart,
		TransitionRequest{Parameters: testParams()})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start while running error = %v, want ErrInvalidTransition", err)
	}
}
