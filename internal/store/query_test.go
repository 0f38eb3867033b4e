package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

func TestCompileFilter(t *testing.T) {
	query, params, err := compileFilter(relay.Filter{
		Kinds: []fact.Kind{fact.KindPosting, fact.KindStatus},
		Tags:  map[string][]string{"d": {"order-1"}},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, author, created_at, kind, tags, content, sig FROM facts"+
			" WHERE kind IN (?, ?) AND order_id IN (?) ORDER BY created_at, id LIMIT ?",
		query)
	assert.Equal(t, []any{35000, 35002, "order-1", 10}, params)
}

func TestCompileFilterEmpty(t *testing.T) {
	query, params, err := compileFilter(relay.Filter{})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, author, created_at, kind, tags, content, sig FROM facts ORDER BY created_at, id",
		query)
	assert.Empty(t, params)
}

func TestCompileFilterRejectsUnindexedTag(t *testing.T) {
	_, _, err := compileFilter(relay.Filter{Tags: map[string][]string{"p": {"alice"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"p"`)
}

func TestSearchMirrorsRelayQueries(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveFacts(ctx, []fact.Fact{
		archivedFact("f-3", 300, fact.KindBid, "order-1"),
		archivedFact("f-1", 100, fact.KindPosting, "order-1"),
		archivedFact("f-2", 200, fact.KindPosting, "order-2"),
	}))

	// Kind query comes back in (created_at, id) order.
	got, err := a.Search(ctx, relay.KindFilter(fact.KindPosting, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f-1", got[0].ID)
	assert.Equal(t, "f-2", got[1].ID)

	// Order-correlated query spans kinds via the order_id column.
	got, err = a.Search(ctx, relay.Filter{Tags: map[string][]string{"delivery_id": {"order-1"}}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f-1", got[0].ID)
	assert.Equal(t, "f-3", got[1].ID)

	// ID + author + limit.
	got, err = a.Search(ctx, relay.Filter{IDs: []string{"f-2"}, Authors: []string{"alice"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f-2", got[0].ID)

	got, err = a.Search(ctx, relay.Filter{Authors: []string{"nobody"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}
