// Package providertest contains an in-memory fake of the puzzle provider
// for use in tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/uvensys/sphinx/lib/provider"
)

// Fake implements provider.Interface without any network I/O. Every puzzle
// it creates accepts Answer as the one correct answer. The zero value is
// ready to use.
type Fake struct {
	// Answer is the correct answer to every puzzle.
	Answer string

	// Down makes every call fail with provider.ErrUnavailable.
	Down bool

	// ExpireAnswers makes CheckAnswer report every puzzle as expired.
	ExpireAnswers bool

	mu           sync.Mutex
	nextID       int
	lastPuzzleID string
	createCalls  int
	checkCalls   int
}

var _ provider.Interface = (*Fake)(nil)

func (f *Fake) CreatePuzzle(ctx context.Context) (provider.Puzzle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.Down {
		return provider.Puzzle{}, provider.ErrUnavailable
	}

	f.nextID++
	f.lastPuzzleID = fmt.Sprintf("puzzle-%d", f.nextID)
	return provider.Puzzle{ID: f.lastPuzzleID, Image: "ZmFrZSBpbWFnZQ=="}, nil
}

func (f *Fake) CheckAnswer(ctx context.Context, puzzleID, answer string) (provider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkCalls++
	switch {
	case f.Down:
		return provider.ResultIncorrect, provider.ErrUnavailable
	case f.ExpireAnswers:
		return provider.ResultExpired, nil
	case answer == f.Answer:
		return provider.ResultCorrect, nil
	default:
		return provider.ResultIncorrect, nil
	}
}

// LastPuzzleID returns the provider-internal id of the most recently
// created puzzle.
func (f *Fake) LastPuzzleID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPuzzleID
}

// CheckCalls returns how many times CheckAnswer has been called.
func (f *Fake) CheckCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

// CreateCalls returns how many times CreatePuzzle has been called.
func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}
