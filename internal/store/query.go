package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

// tagColumns maps the filterable tag names onto archive columns. Tags
// outside this set cannot be answered from the archive; Search rejects
// them instead of silently returning everything.
var tagColumns = map[string]string{
	"d":           "order_id",
	"delivery_id": "order_id",
}

// Search answers a relay filter from the archive. The same filter given to
// the pool and to Search yields the same facts modulo archive staleness,
// which is what lets offline listings reuse relay query shapes. Results
// are ordered by (created_at, id); every query carries the ORDER BY so
// result order never depends on SQLite internals.
func (a *Archive) Search(ctx context.Context, filter relay.Filter) ([]fact.Fact, error) {
	query, params, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// compileFilter translates a relay filter into parameterized SQL. Values
// are always bound, never interpolated.
func compileFilter(filter relay.Filter) (string, []any, error) {
	var conds []string
	var params []any

	if len(filter.Kinds) > 0 {
		ph := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			ph[i] = "?"
			params = append(params, int(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(ph, ", ")+")")
	}
	if len(filter.IDs) > 0 {
		conds = append(conds, inClause("id", filter.IDs, &params))
	}
	if len(filter.Authors) > 0 {
		conds = append(conds, inClause("author", filter.Authors, &params))
	}
	for name, values := range filter.Tags {
		if len(values) == 0 {
			continue
		}
		column, ok := tagColumns[name]
		if !ok {
			return "", nil, fmt.Errorf("tag %q is not indexed in the archive", name)
		}
		conds = append(conds, inClause(column, values, &params))
	}

	var b strings.Builder
	b.WriteString("SELECT id, author, created_at, kind, tags, content, sig FROM facts")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, filter.Limit)
	}
	return b.String(), params, nil
}

func inClause(column string, values []string, params *[]any) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = "?"
		*params = append(*params, v)
	}
	return column + " IN (" + strings.Join(ph, ", ") + ")"
}
