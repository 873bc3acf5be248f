package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeadmin/commitd/internal/models"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func commitmentRows(cs ...models.Commitment) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "owner", "verifier", "email", "metadata_uri", "service", "deadline",
		"stake_amount", "status", "proof_ref", "created_at", "proof_submitted_at",
		"resolved_at", "last_notified_at", "resolution_tx",
	})
	for _, c := range cs {
		rows.AddRow(
			c.ID, c.Owner, c.Verifier, nullString(c.Email), nullString(c.MetadataURI),
			c.Service, c.Deadline, c.StakeAmount, string(c.Status), nullString(c.ProofRef),
			c.CreatedAt, nullTimePtr(c.ProofSubmittedAt), nullTimePtr(c.ResolvedAt),
			nullTimePtr(c.LastNotifiedAt), nullString(c.ResolutionTx),
		)
	}
	return rows
}

func TestPGStoreGet(t *testing.T) {
	st, mock := newMockStore(t)
	want := commitment("m1", "o1", "v1", models.StatusPending)

	mock.ExpectQuery(`SELECT .+ FROM commitments WHERE id=\$1`).
		WithArgs("m1").
		WillReturnRows(commitmentRows(want))

	got, err := st.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Status, got.Status)
	assert.Nil(t, got.ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM commitments WHERE id=\$1`).
		WithArgs("missing").
		WillReturnRows(commitmentRows())

	_, err := st.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreFindByVerifierQueue(t *testing.T) {
	st, mock := newMockStore(t)
	a := commitment("a", "o1", "v1", models.StatusPending)
	b := commitment("b", "o2", "v1", models.StatusProofSubmitted)

	mock.ExpectQuery(`SELECT .+ FROM commitments WHERE verifier=\$1 AND status IN \('PENDING','PROOF_SUBMITTED'\)`).
		WithArgs("v1").
		WillReturnRows(commitmentRows(a, b))

	queue, err := st.FindByVerifier(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "a", queue[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreUpsert(t *testing.T) {
	st, mock := newMockStore(t)
	c := commitment("m1", "o1", "v1", models.StatusProofSubmitted)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c.ProofRef = "cid"
	c.ProofSubmittedAt = &now

	mock.ExpectExec(`INSERT INTO commitments .+ ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(
			c.ID, c.Owner, c.Verifier, nullString(c.Email), nullString(c.MetadataURI),
			c.Service, c.Deadline, c.StakeAmount, string(c.Status), nullString(c.ProofRef),
			c.CreatedAt, nullTimePtr(c.ProofSubmittedAt), nullTimePtr(nil),
			nullTimePtr(nil), nullString(""),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreMarkNotifiedGuardsOnStatus(t *testing.T) {
	st, mock := newMockStore(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE commitments SET last_notified_at=\$2 WHERE id = ANY\(\$1\) AND status='PENDING'`).
		WithArgs(pq.Array([]string{"a", "b"}), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.MarkNotified(context.Background(), []string{"a", "b"}, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreMarkNotifiedEmptyBatchSkipsDB(t *testing.T) {
	st, mock := newMockStore(t)
	require.NoError(t, st.MarkNotified(context.Background(), nil, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreRebind(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c := commitment("real", "o1", "v1", models.StatusProofSubmitted)
	c.ProofRef = "cid"
	c.ProofSubmittedAt = &now

	mock.ExpectExec(`UPDATE commitments\s+SET id=\$2`).
		WithArgs("ghost-1", "real", string(c.Status), nullString("cid"), nullTimePtr(&now)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.Rebind(context.Background(), "ghost-1", c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreRebindMissingPlaceholder(t *testing.T) {
	st, mock := newMockStore(t)
	c := commitment("real", "o1", "v1", models.StatusProofSubmitted)

	mock.ExpectExec(`UPDATE commitments\s+SET id=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Rebind(context.Background(), "ghost-1", c)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
