package profile

import (
	"encoding/json"

	"github.com/packrelay/packrelay/internal/fact"
)

// BlendRating folds a new delivery rating into a courier's profile. The
// first completion takes the rating as is; afterwards the score decays 10%
// of its distance from a perfect 5 and moves 10% of the way toward the new
// rating, so one bad delivery dents an established reputation without
// destroying it. The result is clamped to [0, 5] and the completion count
// incremented.
func BlendRating(p fact.Profile, rating float64) fact.Profile {
	var next float64
	if p.CompletedDeliveries == 0 {
		next = rating
	} else {
		next = 5 - (5-p.Reputation)*0.9 + (rating-p.Reputation)*0.1
	}
	if next > 5 {
		next = 5
	}
	if next < 0 {
		next = 0
	}
	p.Reputation = next
	p.CompletedDeliveries++
	p.VerifiedIdentity = true
	return p
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
