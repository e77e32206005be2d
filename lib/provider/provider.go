// Package provider contains the client for the external puzzle provider.
// The provider generates and grades the actual CAPTCHA puzzles; the gateway
// treats it as a black box and never exposes its puzzle identifiers to
// clients.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the provider cannot be reached, times
// out, or answers with something the client cannot use. Callers treat all
// of these the same way.
var ErrUnavailable = errors.New("provider: captcha service unavailable")

// Puzzle is a freshly generated puzzle.
type Puzzle struct {
	// ID is the provider-internal puzzle identifier. It must never be
	// exposed to gateway clients.
	ID string

	// Image is the base64-encoded PNG the human has to read.
	Image string
}

// Result is the provider's judgement of an answer.
type Result int

const (
	ResultIncorrect Result = iota
	ResultCorrect
	ResultExpired
)

func (r Result) String() string {
	switch r {
	case ResultCorrect:
		return "correct"
	case ResultExpired:
		return "expired"
	default:
		return "incorrect"
	}
}

// Interface is the puzzle provider as seen by the challenge lifecycle.
// Tests substitute providertest.Fake.
type Interface interface {
	// CreatePuzzle generates a new puzzle and fetches its image.
	CreatePuzzle(ctx context.Context) (Puzzle, error)

	// CheckAnswer grades answer against the puzzle identified by puzzleID.
	CheckAnswer(ctx context.Context, puzzleID, answer string) (Result, error)
}
