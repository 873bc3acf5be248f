package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeadmin/commitd/internal/models"
)

func commitment(id, owner, verifier string, status models.Status) models.Commitment {
	return models.Commitment{
		ID:          id,
		Owner:       owner,
		Verifier:    verifier,
		Service:     "Run 5k",
		Status:      status,
		StakeAmount: 0.1,
		CreatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListKeepsInsertionOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("b", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("a", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("c", "o2", "v", models.StatusPending)))

	// Updating an existing record must not move it.
	updated := commitment("b", "o1", "v", models.StatusCompleted)
	require.NoError(t, m.Upsert(ctx, updated))

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, models.StatusCompleted, all[0].Status)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
}

func TestMemoryStoreListByOwner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("a", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("b", "o2", "v", models.StatusPending)))

	owned, err := m.ListByOwner(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "a", owned[0].ID)
}

func TestMemoryStoreFindByVerifierFiltersTerminal(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("a", "o1", "v1", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("b", "o1", "v1", models.StatusProofSubmitted)))
	require.NoError(t, m.Upsert(ctx, commitment("c", "o1", "v1", models.StatusCompleted)))
	require.NoError(t, m.Upsert(ctx, commitment("d", "o1", "v2", models.StatusPending)))

	queue, err := m.FindByVerifier(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "a", queue[0].ID)
	assert.Equal(t, "b", queue[1].ID)
}

func TestMemoryStoreRebindKeepsSlot(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("first", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("ghost-1", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("last", "o1", "v", models.StatusPending)))

	rebound := commitment("real", "o1", "v", models.StatusProofSubmitted)
	require.NoError(t, m.Rebind(ctx, "ghost-1", rebound))

	_, err := m.Get(ctx, "ghost-1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.Get(ctx, "real")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProofSubmitted, got.Status)

	all, _ := m.List(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"first", "real", "last"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestMemoryStoreRebindMissingPlaceholder(t *testing.T) {
	m := NewMemoryStore()
	err := m.Rebind(context.Background(), "ghost-1", commitment("real", "o1", "v", models.StatusPending))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMarkNotifiedStampsPendingOnly(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("a", "o1", "v", models.StatusPending)))
	require.NoError(t, m.Upsert(ctx, commitment("b", "o1", "v", models.StatusProofSubmitted)))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkNotified(ctx, []string{"a", "b", "missing"}, at))

	a, _ := m.Get(ctx, "a")
	require.NotNil(t, a.LastNotifiedAt)
	assert.True(t, a.LastNotifiedAt.Equal(at))

	// A record that moved on since the caller's snapshot keeps its state.
	b, _ := m.Get(ctx, "b")
	assert.Nil(t, b.LastNotifiedAt)
	assert.Equal(t, models.StatusProofSubmitted, b.Status)
}

func TestMemoryStoreListReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, commitment("a", "o1", "v", models.StatusPending)))

	all, _ := m.List(ctx)
	all[0].Status = models.StatusFailed

	got, _ := m.Get(ctx, "a")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestMemoryStoreRebindErrNotFoundIsSentinel(t *testing.T) {
	m := NewMemoryStore()
	err := m.Rebind(context.Background(), "missing", commitment("x", "o", "v", models.StatusPending))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
