package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/wotrack_backend/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
	err    error
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var testActor = Actor{Id: "u-17", Name: "Operator"}

// seedOrder imports one order and marks Assembly done on 05-Mar.
func seedOrder(t *testing.T, repo *models.MemoryRepository) models.OrderKey {
	t.Helper()
	ctx := context.Background()
	r, _ := newTestReconciler(repo)
	if _, err := r.Reconcile(ctx, testDefinition(), []ImportRow{importRow(3, map[string]string{models.ColumnWoId: "6000785969"})}, ImportModeUpdate); err != nil {
		t.Fatalf("seed import: %v", err)
	}
	key := models.OrderKey{ProductId: "CT", WoId: "6000785969"}
	o, _ := repo.FindOrder(ctx, key)
	o.StepStatuses.Set("Assembly", models.ParseStepStatus("05-Mar"))
	if err := repo.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	return key
}

func newTestTransitioner(repo models.Repository, pub EventPublisher) *Transitioner {
	at := time.Date(2024, time.March, 12, 14, 5, 0, 0, time.UTC)
	return NewTransitioner(repo, NewKeyedMutex(), pub).WithClock(func() time.Time { return at })
}

func TestTransitionWritesOrderAndOneAuditEntry(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	pub := &recordingPublisher{}
	tr := newTestTransitioner(repo, pub)

	updated, err := tr.Transition(ctx, testDefinition(), key, "Assembly", "Hold", testActor)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.StepStatuses.StatusOf("Assembly").State != models.StepStateHold {
		t.Fatalf("returned order Assembly=%s", updated.StepStatuses.StatusOf("Assembly"))
	}
	if got := Derive(updated, testDefinition()); got.CurrentStep != "Assembly" || got.OverallStatus != OverallHold {
		t.Fatalf("derived=%+v", got)
	}

	entries, _ := repo.QueryByOrder(ctx, key)
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries", len(entries))
	}
	e := entries[0]
	if e.PreviousRawValue != "05-Mar" || e.NewRawValue != "Hold" || e.Step != "Assembly" || e.ActorId != "u-17" {
		t.Fatalf("entry=%+v", e)
	}
	if e.OrderSnapshot == "" || e.OrderSnapshot != updated.Snapshot() {
		t.Fatalf("snapshot does not match the committed order")
	}
	at := time.Date(2024, time.March, 12, 14, 5, 0, 0, time.UTC)
	if !updated.UpdatedAt.Equal(at) {
		t.Fatalf("returned UpdatedAt=%s, want %s", updated.UpdatedAt, at)
	}
	if stored, _ := repo.FindOrder(ctx, key); !stored.UpdatedAt.Equal(at) || stored.Snapshot() != e.OrderSnapshot {
		t.Fatalf("stored order differs from the audited snapshot: %s", stored.UpdatedAt)
	}

	if len(pub.events) != 1 || pub.events[0].OverallStatus != OverallHold || pub.events[0].PreviousRaw != "05-Mar" {
		t.Fatalf("events=%+v", pub.events)
	}
}

func TestTransitionDoneAndReset(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	tr := newTestTransitioner(repo, nil)

	updated, err := tr.Transition(ctx, testDefinition(), key, "QC", "done", testActor)
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if raw := updated.StepStatuses.StatusOf("QC").Raw(); raw != "12-Mar, 14:05" {
		t.Fatalf("QC=%q", raw)
	}
	updated, err = tr.Transition(ctx, testDefinition(), key, "QC", "Reset", testActor)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st := updated.StepStatuses.StatusOf("QC"); st.State != models.StepStatePending {
		t.Fatalf("QC=%s", st)
	}

	entries, _ := repo.QueryByOrder(ctx, key)
	if len(entries) != 2 || entries[0].PreviousRawValue != "12-Mar, 14:05" || entries[0].NewRawValue != "" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestTransitionRollsBackOnAuditFailure(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	pub := &recordingPublisher{}
	tr := newTestTransitioner(repo, pub)

	repo.SetFault(func(op string) error {
		if op == "append audit" {
			return errors.New("audit sink unavailable")
		}
		return nil
	})
	_, err := tr.Transition(ctx, testDefinition(), key, "Assembly", "Hold", testActor)
	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v, want StorageError", err)
	}
	repo.SetFault(nil)

	o, _ := repo.FindOrder(ctx, key)
	if raw := o.StepStatuses.StatusOf("Assembly").Raw(); raw != "05-Mar" {
		t.Fatalf("Assembly=%q after failed transition", raw)
	}
	if entries, _ := repo.QueryByOrder(ctx, key); len(entries) != 0 {
		t.Fatalf("audit entries=%d", len(entries))
	}
	if len(pub.events) != 0 {
		t.Fatalf("event published for a rolled back transition")
	}
}

func TestTransitionPublishFailureDoesNotFail(t *testing.T) {
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	tr := newTestTransitioner(repo, &recordingPublisher{err: errors.New("pubsub down")})

	if _, err := tr.Transition(context.Background(), testDefinition(), key, "Cut", "WIP", testActor); err != nil {
		t.Fatalf("Transition: %v", err)
	}
}

func TestTransitionRejects(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	tr := newTestTransitioner(repo, nil)

	var unknown *models.UnknownStepError
	if _, err := tr.Transition(ctx, testDefinition(), key, "Paint", "Done", testActor); !errors.As(err, &unknown) {
		t.Fatalf("unknown step err=%v", err)
	}
	var invalid *models.InvalidActionError
	if _, err := tr.Transition(ctx, testDefinition(), key, "Cut", "  ", testActor); !errors.As(err, &invalid) {
		t.Fatalf("blank action err=%v", err)
	}
	if _, err := tr.Transition(ctx, testDefinition(), key, "Cut", "Done", Actor{}); !errors.As(err, &invalid) {
		t.Fatalf("anonymous actor err=%v", err)
	}
	var notFound *models.OrderNotFoundError
	missing := models.OrderKey{ProductId: "CT", WoId: "nope"}
	if _, err := tr.Transition(ctx, testDefinition(), missing, "Cut", "Done", testActor); !errors.As(err, &notFound) {
		t.Fatalf("missing order err=%v", err)
	}
	var ce *models.ConfigError
	other := models.OrderKey{ProductId: "BX", WoId: "6000785969"}
	if _, err := tr.Transition(ctx, testDefinition(), other, "Cut", "Done", testActor); !errors.As(err, &ce) {
		t.Fatalf("product mismatch err=%v", err)
	}

	if entries, _ := repo.QueryByOrder(ctx, key); len(entries) != 0 {
		t.Fatalf("rejected transitions wrote %d audit entries", len(entries))
	}
}

func TestTransitionConcurrentUpdatesAllAudited(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	tr := newTestTransitioner(repo, nil)

	actions := []string{"P", "WIP", "Hold", "QN", "DIFA", "N/A", "Done", "Reset"}
	var wg sync.WaitGroup
	for _, a := range actions {
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			if _, err := tr.Transition(ctx, testDefinition(), key, "Packing", action, testActor); err != nil {
				t.Errorf("Transition %s: %v", action, err)
			}
		}(a)
	}
	wg.Wait()

	entries, _ := repo.QueryByOrder(ctx, key)
	if len(entries) != len(actions) {
		t.Fatalf("got %d audit entries, want %d", len(entries), len(actions))
	}
	// every entry's previous value is some other entry's new value, or the initial Pending
	news := map[string]int{"": 1}
	for _, e := range entries {
		news[e.NewRawValue]++
	}
	for _, e := range entries {
		if news[e.PreviousRawValue] == 0 {
			t.Fatalf("entry %+v starts from a value no transition produced", e)
		}
	}
}

func TestTransitionKeepsOperatorActionText(t *testing.T) {
	ctx := context.Background()
	repo := models.NewMemoryRepository()
	key := seedOrder(t, repo)
	tr := newTestTransitioner(repo, nil)

	updated, err := tr.Transition(ctx, testDefinition(), key, "QC", " hold ", testActor)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if raw := updated.StepStatuses.StatusOf("QC").Raw(); raw != models.TokenHold {
		t.Fatalf("QC=%q, want canonical %q", raw, models.TokenHold)
	}
	entries, _ := repo.QueryByOrder(ctx, key)
	if len(entries) != 1 || entries[0].Action != "hold" || entries[0].NewRawValue != models.TokenHold {
		t.Fatalf("entries=%+v", entries)
	}
}
