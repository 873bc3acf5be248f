package sweeper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lifeadmin/commitd/internal/models"
	"github.com/lifeadmin/commitd/internal/notify"
	"github.com/lifeadmin/commitd/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureNotifier struct {
	sent []notify.Message
	fail map[string]error
}

func (c *captureNotifier) Send(ctx context.Context, msg notify.Message) error {
	if err := c.fail[msg.To]; err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func newSweeper(st store.Store, ntf notify.Notifier) *Sweeper {
	return New(st, ntf, Config{
		AppURL: "https://app.example.com",
		Now:    func() time.Time { return testNow },
	})
}

func pending(id, email string, deadline time.Time) models.Commitment {
	return models.Commitment{
		ID: id, Owner: "A", Email: email, Service: "Run 5k",
		Status: models.StatusPending, Deadline: deadline,
		StakeAmount: 0.1, CreatedAt: testNow.Add(-time.Hour),
	}
}

func mustSeed(t *testing.T, st store.Store, cs ...models.Commitment) {
	t.Helper()
	for _, c := range cs {
		if err := st.Upsert(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSweepSendsInsideWindow(t *testing.T) {
	st := store.NewMemoryStore()
	ntf := &captureNotifier{}
	mustSeed(t, st, pending("m1", "a@example.com", testNow.Add(20*time.Minute)))

	sent, err := newSweeper(st, ntf).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent != 1 || len(ntf.sent) != 1 {
		t.Fatalf("expected 1 reminder, got sent=%d msgs=%d", sent, len(ntf.sent))
	}
	if !strings.Contains(ntf.sent[0].Subject, "20 min left") {
		t.Fatalf("subject missing minutes: %q", ntf.sent[0].Subject)
	}

	rec, _ := st.Get(context.Background(), "m1")
	if rec.LastNotifiedAt == nil || !rec.LastNotifiedAt.Equal(testNow) {
		t.Fatalf("lastNotified not stamped: %+v", rec)
	}
}

func TestSweepSkipsOutsideWindow(t *testing.T) {
	st := store.NewMemoryStore()
	ntf := &captureNotifier{}
	mustSeed(t, st,
		pending("far", "a@example.com", testNow.Add(3*time.Hour)),
		pending("past", "b@example.com", testNow.Add(-time.Minute)),
	)

	sent, err := newSweeper(st, ntf).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent != 0 || len(ntf.sent) != 0 {
		t.Fatalf("no reminders expected, got %d", sent)
	}
}

func TestSweepDebounce(t *testing.T) {
	st := store.NewMemoryStore()
	ntf := &captureNotifier{}

	recent := testNow.Add(-30 * time.Minute)
	stale := testNow.Add(-3 * time.Hour)
	debounced := pending("debounced", "a@example.com", testNow.Add(20*time.Minute))
	debounced.LastNotifiedAt = &recent
	due := pending("due-again", "b@example.com", testNow.Add(20*time.Minute))
	due.LastNotifiedAt = &stale
	mustSeed(t, st, debounced, due)

	sent, err := newSweeper(st, ntf).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent != 1 || len(ntf.sent) != 1 || ntf.sent[0].To != "b@example.com" {
		t.Fatalf("debounce broken: sent=%d msgs=%+v", sent, ntf.sent)
	}
}

func TestSweepSkipsNonPendingAndContactless(t *testing.T) {
	st := store.NewMemoryStore()
	ntf := &captureNotifier{}

	proofed := pending("proofed", "a@example.com", testNow.Add(10*time.Minute))
	proofed.Status = models.StatusProofSubmitted
	noEmail := pending("silent", "", testNow.Add(10*time.Minute))
	mustSeed(t, st, proofed, noEmail)

	sent, _ := newSweeper(st, ntf).Sweep(context.Background())
	if sent != 0 {
		t.Fatalf("expected no reminders, got %d", sent)
	}
}

func TestSweepSendFailureSkipsStamp(t *testing.T) {
	st := store.NewMemoryStore()
	ntf := &captureNotifier{fail: map[string]error{"broken@example.com": errors.New("smtp down")}}
	mustSeed(t, st,
		pending("broken", "broken@example.com", testNow.Add(10*time.Minute)),
		pending("fine", "ok@example.com", testNow.Add(10*time.Minute)),
	)

	sent, err := newSweeper(st, ntf).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder despite failure, got %d", sent)
	}

	failed, _ := st.Get(context.Background(), "broken")
	if failed.LastNotifiedAt != nil {
		t.Fatalf("failed send must not stamp lastNotified, so the next sweep retries")
	}
	ok, _ := st.Get(context.Background(), "fine")
	if ok.LastNotifiedAt == nil {
		t.Fatalf("successful send not stamped")
	}
}

// proofSubmittingNotifier resolves the record it is notifying about while the
// mail is in flight, standing in for a proof handler racing the sweep.
type proofSubmittingNotifier struct {
	st store.Store
	at time.Time
}

func (n *proofSubmittingNotifier) Send(ctx context.Context, msg notify.Message) error {
	rec, err := n.st.Get(ctx, "m1")
	if err != nil {
		return err
	}
	at := n.at
	rec.Status = models.StatusProofSubmitted
	rec.ProofRef = "cid-racing"
	rec.ProofSubmittedAt = &at
	return n.st.Upsert(ctx, rec)
}

func TestSweepNeverOverwritesConcurrentWrites(t *testing.T) {
	st := store.NewMemoryStore()
	mustSeed(t, st, pending("m1", "a@example.com", testNow.Add(20*time.Minute)))

	ntf := &proofSubmittingNotifier{st: st, at: testNow}
	if _, err := newSweeper(st, ntf).Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	rec, err := st.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusProofSubmitted || rec.ProofRef != "cid-racing" || rec.ProofSubmittedAt == nil {
		t.Fatalf("sweep clobbered a write that landed during dispatch: %+v", rec)
	}
	if rec.LastNotifiedAt != nil {
		t.Fatalf("resolved record must not be stamped: %+v", rec)
	}
}

func TestRunWorkerStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, &captureNotifier{}, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunWorker(ctx, s)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
