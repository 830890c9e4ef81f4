// Package model defines the core domain types for randchat.
package model

import (
	"fmt"
	"strings"
)

// Interest is the topic filter the server uses to bias pairing.
type Interest string

const (
	InterestAny        Interest = "Any"
	InterestTechnology Interest = "Technology"
	InterestSports     Interest = "Sports"
	InterestMusic      Interest = "Music"
	InterestMovies     Interest = "Movies"
	InterestTravel     Interest = "Travel"
)

var interests = []Interest{
	InterestAny,
	InterestTechnology,
	InterestSports,
	InterestMusic,
	InterestMovies,
	InterestTravel,
}

// Interests returns the closed set of interests in display order.
func Interests() []Interest {
	out := make([]Interest, len(interests))
	copy(out, interests)
	return out
}

// InterestNames returns the interests as plain strings, useful for selects and help text.
func InterestNames() []string {
	out := make([]string, len(interests))
	for i, in := range interests {
		out[i] = string(in)
	}
	return out
}

// Valid reports whether i is one of the enumerated interests.
func (i Interest) Valid() bool {
	for _, in := range interests {
		if in == i {
			return true
		}
	}
	return false
}

func (i Interest) String() string { return string(i) }

// ParseInterest matches s case-insensitively against the enumeration.
// An empty string selects InterestAny.
func ParseInterest(s string) (Interest, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return InterestAny, nil
	}
	for _, in := range interests {
		if strings.EqualFold(string(in), s) {
			return in, nil
		}
	}
	return "", &ValidationError{
		Field:  "interest",
		Value:  s,
		Reason: fmt.Errorf("%w (valid: %s)", ErrUnknownInterest, strings.Join(InterestNames(), ", ")),
	}
}
