package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

// ErrNotFound is returned when a fact id is not in the archive.
var ErrNotFound = errors.New("fact not found in archive")

// Facts returns every archived fact of the given kind, ordered by
// (created_at, id) like a relay query result.
func (a *Archive) Facts(ctx context.Context, kind fact.Kind) ([]fact.Fact, error) {
	facts, err := a.Search(ctx, relay.KindFilter(kind, 0))
	if err != nil {
		return nil, fmt.Errorf("query facts kind %d: %w", kind, err)
	}
	return facts, nil
}

// FactsForOrder returns every archived fact correlated to orderID.
func (a *Archive) FactsForOrder(ctx context.Context, orderID string) ([]fact.Fact, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, author, created_at, kind, tags, content, sig
		FROM facts
		WHERE order_id = ?
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query facts for order %s: %w", orderID, err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// FactByID fetches one archived fact.
func (a *Archive) FactByID(ctx context.Context, id string) (fact.Fact, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, author, created_at, kind, tags, content, sig
		FROM facts
		WHERE id = ?
	`, id)

	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.Fact{}, fmt.Errorf("fact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fact.Fact{}, fmt.Errorf("query fact %s: %w", id, err)
	}
	return f, nil
}

// CountByKind reports archive size per kind, for the archive command.
func (a *Archive) CountByKind(ctx context.Context) (map[fact.Kind]int, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM facts GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count facts: %w", err)
	}
	defer rows.Close()

	out := make(map[fact.Kind]int)
	for rows.Next() {
		var kind, n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[fact.Kind(kind)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (fact.Fact, error) {
	var f fact.Fact
	var kind int
	var tags string
	if err := row.Scan(&f.ID, &f.Author, &f.CreatedAt, &kind, &tags, &f.Content, &f.Sig); err != nil {
		return fact.Fact{}, err
	}
	f.Kind = fact.Kind(kind)
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		return fact.Fact{}, fmt.Errorf("decode tags for %s: %w", f.ID, err)
	}
	return f, nil
}

func scanFacts(rows *sql.Rows) ([]fact.Fact, error) {
	var out []fact.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
