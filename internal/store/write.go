package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/packrelay/packrelay/internal/fact"
)

// SaveFacts archives a batch inside one transaction. Facts are immutable,
// so re-archiving a known id is a no-op rather than a conflict; the whole
// batch is therefore safe to replay after a crash.
func (a *Archive) SaveFacts(ctx context.Context, facts []fact.Fact) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts (id, author, created_at, kind, order_id, tags, content, sig, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().Unix()
	for _, f := range facts {
		tags, err := json.Marshal(f.Tags)
		if err != nil {
			return fmt.Errorf("encode tags for %s: %w", f.ID, err)
		}
		orderID, _ := f.OrderID() // unresolvable correlation archives as ""
		if _, err := stmt.ExecContext(ctx, f.ID, f.Author, f.CreatedAt, int(f.Kind), orderID, string(tags), f.Content, f.Sig, fetchedAt); err != nil {
			return fmt.Errorf("save fact %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}
