// Package fact defines the immutable units of the append-only log: typed,
// signed, content-addressed records exchanged with relays. A fact is never
// edited in place; newer facts supersede older ones at aggregation time.
package fact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind identifies the payload schema carried in a fact's content.
// The numeric values are part of the wire contract and must not change.
type Kind int

const (
	KindPosting  Kind = 35000 // delivery order posting
	KindBid      Kind = 35001 // courier bid on an order
	KindStatus   Kind = 35002 // lifecycle status update
	KindProfile  Kind = 35009 // actor profile (reputation, completions)
	KindSettings Kind = 35010 // encrypted per-actor settings
)

// Tag is a name followed by zero or more values, as transmitted on the wire.
// Correlation tags: a Posting carries ["d", orderID]; Bids and StatusUpdates
// carry ["delivery_id", orderID].
type Tag []string

// Name returns the tag's name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value, or "" if it has none.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Fact is one record in the shared log.
//
// ID is the lowercase hex SHA-256 of the canonical serialization and is the
// sole identity used for deduplication. Sig is opaque to this module; relays
// and peers verify it, we never inspect it.
type Fact struct {
	ID        string `json:"id"`
	Author    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      Kind   `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// TagValue returns the first value of the first tag named name, and whether
// such a tag exists.
func (f Fact) TagValue(name string) (string, bool) {
	for _, t := range f.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// OrderID resolves the order this fact correlates to. Postings use the "d"
// tag; bids and status updates use "delivery_id". Profile facts key on "d"
// as well (the actor id). Returns ErrMalformedFact when the tag is absent.
func (f Fact) OrderID() (string, error) {
	name := "delivery_id"
	if f.Kind == KindPosting || f.Kind == KindProfile || f.Kind == KindSettings {
		name = "d"
	}
	v, ok := f.TagValue(name)
	if !ok || v == "" {
		return "", fmt.Errorf("fact %s: missing %q tag: %w", f.ID, name, ErrMalformedFact)
	}
	return v, nil
}

// ComputeID returns the content-addressed identity for the fact's current
// author, timestamp, kind, tags, and content. The preimage is the canonical
// array [0, author, created_at, kind, tags, content].
func ComputeID(f Fact) (string, error) {
	pre, err := canonicalPreimage(f)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pre)
	return hex.EncodeToString(sum[:]), nil
}
