// Package sweeper scans pending commitments and sends deadline reminders. At
// most one reminder goes out per record per debounce window, and only while the
// record is unexpired and still PENDING.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lifeadmin/commitd/internal/models"
	"github.com/lifeadmin/commitd/internal/notify"
	"github.com/lifeadmin/commitd/internal/store"
)

type Config struct {
	// Interval between sweeps; defaults to one minute.
	Interval time.Duration
	// Window is how close to the deadline a record must be to earn a reminder.
	Window time.Duration
	// Debounce suppresses repeat reminders after one was sent.
	Debounce time.Duration
	// AppURL is linked from reminder messages.
	AppURL string
	// Now overrides the clock; tests only.
	Now func() time.Time
}

type Sweeper struct {
	store    store.Store
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

func New(st store.Store, ntf notify.Notifier, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if ntf == nil {
		ntf = notify.NewLogNotifier()
	}
	return &Sweeper{store: st, notifier: ntf, cfg: cfg, now: now}
}

// RunWorker sweeps on the configured interval until ctx is cancelled.
func RunWorker(ctx context.Context, s *Sweeper) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			log.Printf("[sweeper] sweep: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// Sweep performs one scan and returns how many reminders were sent. Stamps are
// persisted in a single batched write after all dispatches.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()

	// Mail runs before the store write so a crash re-sends rather than silently
	// drops; the debounce makes the repeat harmless. The stamp below touches
	// only last_notified_at, guarded on current status, so a proof or
	// resolution landing mid-sweep is never overwritten by this snapshot.
	var notified []string
	for _, rec := range records {
		minutes, ok := s.reminderDue(rec, now)
		if !ok {
			continue
		}
		if err := s.notifier.Send(ctx, reminderMessage(rec, minutes, s.cfg.AppURL)); err != nil {
			log.Printf("[sweeper] notify %s: %v", rec.ID, err)
			continue
		}
		log.Printf("[sweeper] deadline near: %q (%d min left)", rec.Service, minutes)
		notified = append(notified, rec.ID)
	}
	if len(notified) == 0 {
		return 0, nil
	}
	if err := s.store.MarkNotified(ctx, notified, now); err != nil {
		return len(notified), fmt.Errorf("persist sweep: %w", err)
	}
	return len(notified), nil
}

func (s *Sweeper) reminderDue(rec models.Commitment, now time.Time) (int, bool) {
	if rec.Email == "" || rec.Status != models.StatusPending || rec.Deadline.IsZero() {
		return 0, false
	}
	minutes := int(rec.Deadline.Sub(now) / time.Minute)
	if minutes <= 0 || time.Duration(minutes)*time.Minute > s.cfg.Window {
		return 0, false
	}
	if rec.LastNotifiedAt != nil && now.Sub(*rec.LastNotifiedAt) < s.cfg.Debounce {
		return 0, false
	}
	return minutes, true
}

func reminderMessage(rec models.Commitment, minutes int, appURL string) notify.Message {
	return notify.Message{
		To:      rec.Email,
		Subject: fmt.Sprintf("Hurry! %d min left: %s", minutes, rec.Service),
		Text: fmt.Sprintf("Your commitment %q is due in %d minutes. Submit your proof now!",
			rec.Service, minutes),
		HTML: fmt.Sprintf("<h2>Deadline approaching</h2><p>You have <strong>%d minutes</strong> left to complete <strong>%s</strong>.</p><p>Stake: %g</p><p><a href=%q>Submit proof</a></p>",
			minutes, rec.Service, rec.StakeAmount, appURL),
	}
}
