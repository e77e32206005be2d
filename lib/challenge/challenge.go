// Package challenge implements the challenge lifecycle engine: issuing
// challenges against provider puzzles, consuming the single solve attempt,
// and redeeming verification tokens exactly once.
//
// A challenge moves through three states. It is created bound to a provider
// puzzle, becomes used on its first solve attempt no matter how that attempt
// goes, and is deleted when its token is redeemed. Records that never reach
// deletion fall out of the store when their time to live elapses. No
// transition reverses.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/uvensys/sphinx/lib/credential"
	"github.com/uvensys/sphinx/lib/provider"
	"github.com/uvensys/sphinx/lib/store"
)

// TokenSeparator joins the challenge identifier and the verification secret
// in a composite token. Tokens split on the first occurrence only.
const TokenSeparator = "-"

const (
	challengeIDBytes = 16
	secretBytes      = 32
	lockStripes      = 256
)

// Stable user-facing messages. The provider's own wording and identifiers
// never reach clients.
const (
	msgSolved       = "CAPTCHA solved successfully."
	msgWrongAnswer  = "Captcha verification failed. Incorrect answer."
	msgExpired      = "Captcha has expired. Please request a new one."
	msgCheckFailed  = "Failed to verify captcha."
	msgNotFound     = "Challenge ID not found or has expired."
	msgNotSolved    = "CAPTCHA challenge has not been solved yet."
	msgInvalidToken = "Invalid token provided."
	msgVerified     = "Token verified successfully."
)

// Record is the stored state of one issued challenge. The challenge
// identifier it is stored under is random and carries no relation to the
// provider's puzzle identifier.
type Record struct {
	// PuzzleID is the provider-internal puzzle this challenge is bound to.
	PuzzleID string `json:"puzzleId"`

	// Used is set by the first solve attempt and never cleared.
	Used bool `json:"used"`

	// Secret is bound on a successful solve and redeemable exactly once.
	// Empty means the challenge was never solved.
	Secret string `json:"secret,omitempty"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"createdAt"`
}

// CreateResult is the outcome of a successful Create.
type CreateResult struct {
	ChallengeID string
	Image       string
}

// SolveResult is the business outcome of a solve attempt. OK is false for
// a wrong answer, a provider-side expiry, or a provider fault; in every
// such case the attempt is still spent.
type SolveResult struct {
	OK      bool
	Message string
	Token   string
}

// VerifyResult is the business outcome of a token verification.
type VerifyResult struct {
	OK      bool
	Message string
}

// Lifecycle orchestrates challenge state against the store and the puzzle
// provider. Mutations of a record are serialized by a mutex picked from a
// fixed set of stripes keyed by the challenge identifier, so concurrent
// calls against the same challenge cannot interleave their read-then-write
// sequences. No stripe lock is ever held across a provider call.
type Lifecycle struct {
	store *store.JSON[Record]
	prov  provider.Interface
	auth  *credential.Authenticator
	ttl   time.Duration
	locks [lockStripes]sync.Mutex
}

// NewLifecycle wires the lifecycle engine. Records live in st under the
// "challenge:" prefix for ttl per write.
func NewLifecycle(st store.Interface, prov provider.Interface, auth *credential.Authenticator, ttl time.Duration) *Lifecycle {
	return &Lifecycle{
		store: &store.JSON[Record]{Underlying: st, Prefix: "challenge:"},
		prov:  prov,
		auth:  auth,
		ttl:   ttl,
	}
}

func (l *Lifecycle) lockFor(challengeID string) *sync.Mutex {
	return &l.locks[xxhash.Sum64String(challengeID)%lockStripes]
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("can't read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create issues a new challenge: it authenticates the public identifier,
// requests a puzzle from the provider, and stores a fresh record under a
// random identifier. Nothing is stored when the provider fails.
func (l *Lifecycle) Create(ctx context.Context, clientID string) (CreateResult, error) {
	ok, err := l.auth.Authenticate(clientID, credential.RoleIdentifier)
	if err != nil {
		return CreateResult{}, err
	}
	if !ok {
		return CreateResult{}, ErrUnauthorized
	}

	puz, err := l.prov.CreatePuzzle(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	challengeID, err := randomHex(challengeIDBytes)
	if err != nil {
		return CreateResult{}, err
	}

	rec := Record{PuzzleID: puz.ID, CreatedAt: time.Now()}
	if err := l.store.Set(ctx, challengeID, rec, l.ttl); err != nil {
		return CreateResult{}, err
	}

	return CreateResult{ChallengeID: challengeID, Image: puz.Image}, nil
}

// Solve consumes the challenge's single attempt and grades the answer.
//
// The attempt is claimed atomically before the provider is consulted: once
// a caller gets past the used check, every later attempt fails with
// ErrAlreadyUsed even if this one goes on to fail at the provider. The
// stripe lock is released for the duration of the provider call and
// reacquired to bind the secret, so a slow provider cannot stall unrelated
// challenges. A crash between the two steps leaves a used record with no
// secret, which is permanently unsolvable and safe.
func (l *Lifecycle) Solve(ctx context.Context, clientID, challengeID, answer string) (SolveResult, error) {
	ok, err := l.auth.Authenticate(clientID, credential.RoleIdentifier)
	if err != nil {
		return SolveResult{}, err
	}
	if !ok {
		return SolveResult{}, ErrUnauthorized
	}

	if challengeID == "" {
		return SolveResult{}, fmt.Errorf("%w: challenge_id", ErrMissingField)
	}
	if answer == "" {
		return SolveResult{}, fmt.Errorf("%w: answer", ErrMissingField)
	}

	rec, err := l.claimAttempt(ctx, challengeID)
	if err != nil {
		return SolveResult{}, err
	}

	result, err := l.prov.CheckAnswer(ctx, rec.PuzzleID, answer)
	if err != nil {
		return SolveResult{Message: msgCheckFailed}, nil
	}

	switch result {
	case provider.ResultExpired:
		return SolveResult{Message: msgExpired}, nil
	case provider.ResultIncorrect:
		return SolveResult{Message: msgWrongAnswer}, nil
	}

	secret, err := randomHex(secretBytes)
	if err != nil {
		return SolveResult{}, err
	}

	if err := l.bindSecret(ctx, challengeID, secret); err != nil {
		return SolveResult{}, err
	}

	return SolveResult{
		OK:      true,
		Message: msgSolved,
		Token:   challengeID + TokenSeparator + secret,
	}, nil
}

// claimAttempt marks the record used under its stripe lock, spending the
// challenge's one solve attempt.
func (l *Lifecycle) claimAttempt(ctx context.Context, challengeID string) (Record, error) {
	mu := l.lockFor(challengeID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	if rec.Used {
		return Record{}, ErrAlreadyUsed
	}

	rec.Used = true
	if err := l.store.Set(ctx, challengeID, rec, l.ttl); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// bindSecret attaches the verification secret as a second atomic step. A
// record that already carries a secret keeps it; the secret is immutable
// once bound.
func (l *Lifecycle) bindSecret(ctx context.Context, challengeID, secret string) error {
	mu := l.lockFor(challengeID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if rec.Secret != "" {
		return ErrAlreadyUsed
	}

	rec.Secret = secret
	return l.store.Set(ctx, challengeID, rec, l.ttl)
}

// Verify redeems a composite token. Redemption deletes the record, so a
// token verifies at most once; a mismatched secret mutates nothing, so the
// caller may retry with the right token until the record expires.
func (l *Lifecycle) Verify(ctx context.Context, clientSecret, token string) (VerifyResult, error) {
	ok, err := l.auth.Authenticate(clientSecret, credential.RoleSecret)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{}, ErrUnauthorized
	}

	if token == "" {
		return VerifyResult{}, fmt.Errorf("%w: token", ErrMissingField)
	}

	challengeID, presented, found := strings.Cut(token, TokenSeparator)
	if !found {
		return VerifyResult{}, ErrMalformedToken
	}

	mu := l.lockFor(challengeID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerifyResult{Message: msgNotFound}, nil
		}
		return VerifyResult{}, err
	}

	if !rec.Used || rec.Secret == "" {
		return VerifyResult{Message: msgNotSolved}, nil
	}

	if subtle.ConstantTimeCompare([]byte(rec.Secret), []byte(presented)) != 1 {
		return VerifyResult{Message: msgInvalidToken}, nil
	}

	if err := l.store.Delete(ctx, challengeID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return VerifyResult{}, err
	}

	return VerifyResult{OK: true, Message: msgVerified}, nil
}
