package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packrelay/packrelay/internal/fact"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func archivedFact(id string, createdAt int64, kind fact.Kind, orderID string) fact.Fact {
	tagName := "delivery_id"
	if kind == fact.KindPosting {
		tagName = "d"
	}
	return fact.Fact{
		ID: id, Author: "alice", CreatedAt: createdAt, Kind: kind,
		Tags:    []fact.Tag{{tagName, orderID}},
		Content: `{"id":"` + orderID + `"}`,
	}
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestSaveAndReadBack(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	facts := []fact.Fact{
		archivedFact("f2", 200, fact.KindPosting, "order-1"),
		archivedFact("f1", 100, fact.KindPosting, "order-2"),
		archivedFact("f3", 300, fact.KindBid, "order-1"),
	}
	require.NoError(t, a.SaveFacts(ctx, facts))

	got, err := a.Facts(ctx, fact.KindPosting)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].ID, "ordered by created_at")
	assert.Equal(t, "f2", got[1].ID)
	assert.Equal(t, facts[1].Tags, got[0].Tags)
}

func TestSaveDuplicateIsNoop(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	f := archivedFact("f1", 100, fact.KindPosting, "order-1")
	require.NoError(t, a.SaveFacts(ctx, []fact.Fact{f}))

	// Same id with different content must not overwrite: facts are
	// immutable and the first archived copy stands.
	altered := f
	altered.Content = `{"id":"order-1","tampered":true}`
	require.NoError(t, a.SaveFacts(ctx, []fact.Fact{altered}))

	got, err := a.FactByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, f.Content, got.Content)
}

func TestFactsForOrder(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveFacts(ctx, []fact.Fact{
		archivedFact("f1", 100, fact.KindPosting, "order-1"),
		archivedFact("f2", 200, fact.KindBid, "order-1"),
		archivedFact("f3", 300, fact.KindBid, "order-other"),
	}))

	got, err := a.FactsForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFactByIDNotFound(t *testing.T) {
	a := openTestArchive(t)

	_, err := a.FactByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountByKind(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveFacts(ctx, []fact.Fact{
		archivedFact("f1", 100, fact.KindPosting, "order-1"),
		archivedFact("f2", 200, fact.KindBid, "order-1"),
		archivedFact("f3", 300, fact.KindBid, "order-2"),
	}))

	counts, err := a.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[fact.Kind]int{fact.KindPosting: 1, fact.KindBid: 2}, counts)
}

func TestSaveEmptyBatch(t *testing.T) {
	a := openTestArchive(t)
	assert.NoError(t, a.SaveFacts(context.Background(), nil))
}
