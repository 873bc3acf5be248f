// Package lifecycle drives a commitment through its status transitions and owns
// every write path into the record store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifeadmin/commitd/internal/archive"
	"github.com/lifeadmin/commitd/internal/escrow"
	"github.com/lifeadmin/commitd/internal/events"
	"github.com/lifeadmin/commitd/internal/models"
	"github.com/lifeadmin/commitd/internal/notify"
	"github.com/lifeadmin/commitd/internal/store"
)

var (
	// ErrForbidden marks a caller identity mismatch against owner or verifier.
	ErrForbidden = errors.New("forbidden")
	// ErrTerminal marks an attempted transition out of COMPLETED or FAILED.
	ErrTerminal = errors.New("commitment already resolved")
	// ErrValidation marks a missing or malformed required field.
	ErrValidation = errors.New("validation")
	// ErrTransferFailed marks an escrow release failure; commitment state is
	// untouched and the caller must retry the approval.
	ErrTransferFailed = errors.New("escrow transfer failed")
)

// Contact channel recorded on records synthesized from recovery hints; there is
// no way to learn the real channel after the original registration was lost.
const recoveredContact = ""

type Options struct {
	DefaultVerifier string
	AppURL          string
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Service serializes every read-modify-write sequence behind one mutex. Slow
// I/O (escrow, mail, Kafka, S3) never runs under the lock: state is snapshotted
// locked, I/O runs unlocked, and the lock is re-acquired to persist.
type Service struct {
	mu       sync.Mutex
	store    store.Store
	escrow   escrow.Client
	notifier notify.Notifier
	events   events.Publisher
	archiver archive.Archiver

	defaultVerifier string
	appURL          string
	now             func() time.Time

	sideEffects sync.WaitGroup
}

func New(st store.Store, esc escrow.Client, ntf notify.Notifier, pub events.Publisher, arc archive.Archiver, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if ntf == nil {
		ntf = notify.NewLogNotifier()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		store:           st,
		escrow:          esc,
		notifier:        ntf,
		events:          pub,
		archiver:        arc,
		defaultVerifier: opts.DefaultVerifier,
		appURL:          opts.AppURL,
		now:             now,
	}
}

// Wait blocks until detached side effects have drained; used on shutdown and in
// tests.
func (s *Service) Wait() { s.sideEffects.Wait() }

type TrackRequest struct {
	ID          string
	Owner       string
	Verifier    string
	Email       string
	MetadataURI string
	Service     string
	Deadline    time.Time
	Stake       float64
}

// Track registers a new commitment. A duplicate id is not an error: the call
// reports created=false and leaves the existing record untouched.
func (s *Service) Track(ctx context.Context, req TrackRequest) (created bool, err error) {
	if req.ID == "" || req.Owner == "" || req.MetadataURI == "" {
		return false, fmt.Errorf("%w: id, owner, and metadataUri required", ErrValidation)
	}
	if req.Service == "" {
		req.Service = "Unknown Task"
	}
	if req.Verifier == "" {
		req.Verifier = s.defaultVerifier
	}

	s.mu.Lock()
	_, err = s.store.Get(ctx, req.ID)
	if err == nil {
		s.mu.Unlock()
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.mu.Unlock()
		return false, err
	}
	rec := models.Commitment{
		ID:          req.ID,
		Owner:       req.Owner,
		Verifier:    req.Verifier,
		Email:       req.Email,
		MetadataURI: req.MetadataURI,
		Service:     req.Service,
		Deadline:    req.Deadline,
		StakeAmount: req.Stake,
		Status:      models.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	if rec.Email != "" {
		s.detach("locked notification", func(ctx context.Context) error {
			return s.sendLockedInvite(ctx, rec)
		})
	}
	s.publish(events.TypeTracked, rec)
	return true, nil
}

func (s *Service) sendLockedInvite(ctx context.Context, rec models.Commitment) error {
	end := rec.Deadline.Add(time.Hour)
	return s.notifier.Send(ctx, notify.Message{
		To:      rec.Email,
		Subject: fmt.Sprintf("Locked: %s", rec.Service),
		HTML: fmt.Sprintf("<h2>%s</h2><p>Deadline: %s</p>",
			rec.Service, rec.Deadline.Format(time.RFC1123)),
		ICalEvent: notify.GenerateICal(notify.ICalInput{
			Service:     rec.Service,
			Start:       rec.Deadline,
			End:         end,
			Description: fmt.Sprintf("Stake: %g", rec.StakeAmount),
			URL:         s.appURL,
		}),
	})
}

// RecoveryHints carries the client-supplied description of a commitment whose
// registration was lost. Best-effort: the hints are trusted.
type RecoveryHints struct {
	Service  string
	Stake    float64
	Deadline time.Time
}

type ProofRequest struct {
	ID          string
	SubmittedBy string
	ProofRef    string
	Recovery    *RecoveryHints
}

// SubmitProof records a proof submission, recovering the record first when the
// id is unknown: a PENDING record with the same owner and service is treated as
// a ghost and rebound to the submitted id; failing that, hints synthesize a
// fresh record. Resubmission while PROOF_SUBMITTED overwrites the proof
// reference; terminal records reject further submissions.
func (s *Service) SubmitProof(ctx context.Context, req ProofRequest) (models.Commitment, error) {
	if req.ID == "" || req.SubmittedBy == "" {
		return models.Commitment{}, fmt.Errorf("%w: id and submittedBy required", ErrValidation)
	}

	s.mu.Lock()
	rec, err := s.store.Get(ctx, req.ID)
	switch {
	case err == nil:
		if rec.Owner != req.SubmittedBy {
			s.mu.Unlock()
			return models.Commitment{}, fmt.Errorf("%w: submitter is not the owner", ErrForbidden)
		}
		if rec.Status.Terminal() {
			s.mu.Unlock()
			return models.Commitment{}, ErrTerminal
		}
		s.applyProof(&rec, req.ProofRef)
		err = s.store.Upsert(ctx, rec)
	case errors.Is(err, store.ErrNotFound):
		rec, err = s.recoverLocked(ctx, req)
	}
	s.mu.Unlock()
	if err != nil {
		return models.Commitment{}, err
	}

	s.publish(events.TypeProofSubmitted, rec)
	return rec, nil
}

func (s *Service) applyProof(rec *models.Commitment, proofRef string) {
	now := s.now()
	rec.ProofRef = proofRef
	rec.Status = models.StatusProofSubmitted
	rec.ProofSubmittedAt = &now
}

// recoverLocked runs with s.mu held. It merges the submission into a matching
// ghost record, or synthesizes one from the hints.
func (s *Service) recoverLocked(ctx context.Context, req ProofRequest) (models.Commitment, error) {
	hints := req.Recovery
	if hints == nil || hints.Service == "" {
		return models.Commitment{}, store.ErrNotFound
	}

	owned, err := s.store.ListByOwner(ctx, req.SubmittedBy)
	if err != nil {
		return models.Commitment{}, err
	}
	for _, ghost := range owned {
		if ghost.Status != models.StatusPending || ghost.Service != hints.Service {
			continue
		}
		placeholderID := ghost.ID
		ghost.ID = req.ID
		s.applyProof(&ghost, req.ProofRef)
		if err := s.store.Rebind(ctx, placeholderID, ghost); err != nil {
			return models.Commitment{}, err
		}
		log.Printf("[lifecycle] recovered ghost %s as %s (owner=%s service=%q)",
			placeholderID, req.ID, req.SubmittedBy, hints.Service)
		return ghost, nil
	}

	rec := models.Commitment{
		ID:          req.ID,
		Owner:       req.SubmittedBy,
		Verifier:    s.defaultVerifier,
		Email:       recoveredContact,
		Service:     hints.Service,
		Deadline:    hints.Deadline,
		StakeAmount: hints.Stake,
		Status:      models.StatusPending,
		CreatedAt:   s.now(),
	}
	s.applyProof(&rec, req.ProofRef)
	if err := s.store.Upsert(ctx, rec); err != nil {
		return models.Commitment{}, err
	}
	log.Printf("[lifecycle] synthesized record %s from recovery hints (owner=%s service=%q)",
		req.ID, req.SubmittedBy, hints.Service)
	return rec, nil
}

type ApproveRequest struct {
	ID           string
	Verifier     string
	ResolutionTx string
}

// Approve completes a commitment. When the caller did not already perform the
// transfer, the escrow collaborator releases the stake to the owner first; a
// release failure aborts the approval with state unchanged.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (models.Commitment, error) {
	if req.ID == "" || req.Verifier == "" {
		return models.Commitment{}, fmt.Errorf("%w: id and verifier required", ErrValidation)
	}

	s.mu.Lock()
	rec, err := s.store.Get(ctx, req.ID)
	if err != nil {
		s.mu.Unlock()
		return models.Commitment{}, err
	}
	if rec.Verifier != req.Verifier {
		s.mu.Unlock()
		return models.Commitment{}, fmt.Errorf("%w: caller is not the verifier", ErrForbidden)
	}
	if rec.Status.Terminal() {
		s.mu.Unlock()
		return models.Commitment{}, ErrTerminal
	}
	s.mu.Unlock()

	// Transfer runs unlocked; it can take tens of seconds.
	txRef := req.ResolutionTx
	if txRef == "" {
		txRef, err = s.escrow.Release(ctx, escrow.Request{
			ToWallet: rec.Owner,
			Amount:   rec.StakeAmount,
		})
		if err != nil {
			return models.Commitment{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	s.mu.Lock()
	rec, err = s.store.Get(ctx, req.ID)
	if err != nil {
		s.mu.Unlock()
		return models.Commitment{}, err
	}
	if rec.Status.Terminal() {
		// Resolved while the transfer was in flight; keep the first resolution.
		s.mu.Unlock()
		return models.Commitment{}, ErrTerminal
	}
	now := s.now()
	rec.Status = models.StatusCompleted
	rec.ResolvedAt = &now
	rec.ResolutionTx = txRef
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.mu.Unlock()
		return models.Commitment{}, err
	}
	s.mu.Unlock()

	s.publish(events.TypeResolved, rec)
	s.archiveResolution(rec)
	return rec, nil
}

type RejectRequest struct {
	ID       string
	Verifier string
}

// Reject fails a commitment; the stake stays in escrow.
func (s *Service) Reject(ctx context.Context, req RejectRequest) (models.Commitment, error) {
	if req.ID == "" || req.Verifier == "" {
		return models.Commitment{}, fmt.Errorf("%w: id and verifier required", ErrValidation)
	}

	s.mu.Lock()
	rec, err := s.store.Get(ctx, req.ID)
	if err != nil {
		s.mu.Unlock()
		return models.Commitment{}, err
	}
	if rec.Verifier != req.Verifier {
		s.mu.Unlock()
		return models.Commitment{}, fmt.Errorf("%w: caller is not the verifier", ErrForbidden)
	}
	if rec.Status.Terminal() {
		s.mu.Unlock()
		return models.Commitment{}, ErrTerminal
	}
	now := s.now()
	rec.Status = models.StatusFailed
	rec.ResolvedAt = &now
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.mu.Unlock()
		return models.Commitment{}, err
	}
	s.mu.Unlock()

	s.publish(events.TypeResolved, rec)
	s.archiveResolution(rec)
	return rec, nil
}

// NewGhostID mints a placeholder id for records created before on-chain
// confirmation.
func NewGhostID() string {
	return "ghost-" + uuid.NewString()
}

func (s *Service) publish(eventType string, rec models.Commitment) {
	s.detach("publish "+eventType, func(ctx context.Context) error {
		return s.events.Publish(ctx, events.Event{
			Type:         eventType,
			CommitmentID: rec.ID,
			Owner:        rec.Owner,
			Status:       string(rec.Status),
		})
	})
}

func (s *Service) archiveResolution(rec models.Commitment) {
	if s.archiver == nil {
		return
	}
	s.detach("archive resolution", func(ctx context.Context) error {
		return s.archiver.ArchiveResolution(ctx, rec)
	})
}

// detach runs a best-effort side effect on its own context; failures are logged
// and never surfaced to the caller.
func (s *Service) detach(name string, fn func(ctx context.Context) error) {
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("[lifecycle] %s: %v", name, err)
		}
	}()
}
