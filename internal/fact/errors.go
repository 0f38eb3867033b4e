package fact

import "errors"

// ErrMalformedFact marks a fact whose payload cannot be decoded or whose
// correlation tag is missing. Callers drop such facts and keep going; a
// malformed fact from one peer must never poison aggregation of the rest.
var ErrMalformedFact = errors.New("malformed fact")
