package fact

import (
	"context"
	"fmt"
)

// Signer turns a draft fact into a publishable one: it stamps the author,
// computes the content-addressed id, and attaches a signature. Key handling
// and signature schemes live behind this interface; nothing else in the
// module touches private key material.
//
// The caller sets Kind, CreatedAt, Tags, and Content before signing.
type Signer interface {
	// Author returns the actor id the signer signs as.
	Author() string
	// Sign fills in Author, ID, and Sig on the draft.
	Sign(ctx context.Context, draft Fact) (Fact, error)
}

// HashSigner is a Signer that content-addresses facts without attaching a
// cryptographic signature. Suitable for tests and for deployments where the
// relay layer performs its own authentication.
type HashSigner struct {
	Actor string
}

func (s HashSigner) Author() string { return s.Actor }

func (s HashSigner) Sign(_ context.Context, draft Fact) (Fact, error) {
	draft.Author = s.Actor
	id, err := ComputeID(draft)
	if err != nil {
		return Fact{}, fmt.Errorf("sign: %w", err)
	}
	draft.ID = id
	draft.Sig = ""
	return draft, nil
}
