package challenge

import "errors"

// Sentinel errors for the outcomes the gateway maps to transport-level
// statuses. Business failures (wrong answer, unsolved or mismatched token)
// are not errors; they are carried in SolveResult and VerifyResult.
var (
	// ErrUnauthorized means the presented credential does not match the
	// configured value for the required role.
	ErrUnauthorized = errors.New("challenge: invalid credential")

	// ErrMissingField means a required request field is empty.
	ErrMissingField = errors.New("challenge: missing required field")

	// ErrNotFound means the challenge identifier is unknown or its record
	// has expired. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("challenge: challenge not found or expired")

	// ErrAlreadyUsed means a solve attempt was already made against the
	// challenge. The single attempt is spent no matter how it went.
	ErrAlreadyUsed = errors.New("challenge: challenge already used")

	// ErrMalformedToken means the token does not contain the separator
	// between the challenge identifier and the secret.
	ErrMalformedToken = errors.New("challenge: malformed token")

	// ErrProviderUnavailable means the puzzle provider could not be
	// reached while creating a challenge.
	ErrProviderUnavailable = errors.New("challenge: captcha provider unavailable")
)
