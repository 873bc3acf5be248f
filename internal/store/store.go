package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lifeadmin/commitd/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the off-chain record store: the single source of truth for commitment
// status. Writes are whole-record replacements; callers serialize their own
// read-modify-write sequences.
type Store interface {
	Get(ctx context.Context, id string) (models.Commitment, error)
	List(ctx context.Context) ([]models.Commitment, error)
	ListByOwner(ctx context.Context, owner string) ([]models.Commitment, error)
	// FindByVerifier returns the verifier's open queue: exact verifier match,
	// status PENDING or PROOF_SUBMITTED.
	FindByVerifier(ctx context.Context, verifier string) ([]models.Commitment, error)
	Upsert(ctx context.Context, c models.Commitment) error
	// MarkNotified stamps last_notified_at on the named records in a single
	// write (one statement, or one file rewrite for the file store). Only
	// records still PENDING are stamped: the guard runs against current state,
	// so a record resolved after the caller's snapshot is left untouched.
	MarkNotified(ctx context.Context, ids []string, at time.Time) error
	// Rebind replaces a ghost record's placeholder id with the record's real id.
	// The record keeps its slot; callers may rebind a given record at most once.
	Rebind(ctx context.Context, placeholderID string, c models.Commitment) error
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const commitmentColumns = `id, owner, verifier, email, metadata_uri, service, deadline, stake_amount, status, proof_ref, created_at, proof_submitted_at, resolved_at, last_notified_at, resolution_tx`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommitment(row rowScanner) (models.Commitment, error) {
	var (
		c                models.Commitment
		email            sql.NullString
		metadataURI      sql.NullString
		proofRef         sql.NullString
		proofSubmittedAt sql.NullTime
		resolvedAt       sql.NullTime
		lastNotifiedAt   sql.NullTime
		resolutionTx     sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.Owner,
		&c.Verifier,
		&email,
		&metadataURI,
		&c.Service,
		&c.Deadline,
		&c.StakeAmount,
		&c.Status,
		&proofRef,
		&c.CreatedAt,
		&proofSubmittedAt,
		&resolvedAt,
		&lastNotifiedAt,
		&resolutionTx,
	); err != nil {
		return models.Commitment{}, err
	}
	c.Email = email.String
	c.MetadataURI = metadataURI.String
	c.ProofRef = proofRef.String
	if proofSubmittedAt.Valid {
		t := proofSubmittedAt.Time
		c.ProofSubmittedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if lastNotifiedAt.Valid {
		t := lastNotifiedAt.Time
		c.LastNotifiedAt = &t
	}
	c.ResolutionTx = resolutionTx.String
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (models.Commitment, error) {
	query := fmt.Sprintf(`SELECT %s FROM commitments WHERE id=$1`, commitmentColumns)
	c, err := scanCommitment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Commitment{}, ErrNotFound
		}
		return models.Commitment{}, fmt.Errorf("get commitment: %w", err)
	}
	return c, nil
}

func (s *PGStore) List(ctx context.Context) ([]models.Commitment, error) {
	query := fmt.Sprintf(`SELECT %s FROM commitments ORDER BY created_at, id`, commitmentColumns)
	return s.queryMany(ctx, "list commitments", query)
}

func (s *PGStore) ListByOwner(ctx context.Context, owner string) ([]models.Commitment, error) {
	query := fmt.Sprintf(`SELECT %s FROM commitments WHERE owner=$1 ORDER BY created_at, id`, commitmentColumns)
	return s.queryMany(ctx, "list commitments by owner", query, owner)
}

func (s *PGStore) FindByVerifier(ctx context.Context, verifier string) ([]models.Commitment, error) {
	query := fmt.Sprintf(`SELECT %s FROM commitments WHERE verifier=$1 AND status IN ('PENDING','PROOF_SUBMITTED') ORDER BY created_at, id`, commitmentColumns)
	return s.queryMany(ctx, "find by verifier", query, verifier)
}

func (s *PGStore) queryMany(ctx context.Context, op, query string, args ...interface{}) ([]models.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

const upsertQuery = `
	INSERT INTO commitments (id, owner, verifier, email, metadata_uri, service, deadline, stake_amount, status, proof_ref, created_at, proof_submitted_at, resolved_at, last_notified_at, resolution_tx)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (id) DO UPDATE SET
		status=EXCLUDED.status,
		proof_ref=EXCLUDED.proof_ref,
		proof_submitted_at=EXCLUDED.proof_submitted_at,
		resolved_at=EXCLUDED.resolved_at,
		last_notified_at=EXCLUDED.last_notified_at,
		resolution_tx=EXCLUDED.resolution_tx
`

func upsertArgs(c models.Commitment) []interface{} {
	return []interface{}{
		c.ID,
		c.Owner,
		c.Verifier,
		nullString(c.Email),
		nullString(c.MetadataURI),
		c.Service,
		c.Deadline,
		c.StakeAmount,
		string(c.Status),
		nullString(c.ProofRef),
		c.CreatedAt,
		nullTimePtr(c.ProofSubmittedAt),
		nullTimePtr(c.ResolvedAt),
		nullTimePtr(c.LastNotifiedAt),
		nullString(c.ResolutionTx),
	}
}

func (s *PGStore) Upsert(ctx context.Context, c models.Commitment) error {
	if _, err := s.db.ExecContext(ctx, upsertQuery, upsertArgs(c)...); err != nil {
		return fmt.Errorf("upsert commitment: %w", err)
	}
	return nil
}

func (s *PGStore) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE commitments SET last_notified_at=$2 WHERE id = ANY($1) AND status='PENDING'`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (s *PGStore) Rebind(ctx context.Context, placeholderID string, c models.Commitment) error {
	const query = `
		UPDATE commitments
		SET id=$2, status=$3, proof_ref=$4, proof_submitted_at=$5
		WHERE id=$1
	`
	res, err := s.db.ExecContext(ctx, query, placeholderID, c.ID, string(c.Status), nullString(c.ProofRef), nullTimePtr(c.ProofSubmittedAt))
	if err != nil {
		return fmt.Errorf("rebind commitment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
