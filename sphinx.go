// Package sphinx contains service-wide constants and defaults for the Sphinx
// CAPTCHA gateway. Sphinx sits between untrusted clients and a Libre Captcha
// instance, issuing single-use challenges and redeeming verification tokens.
package sphinx

import "time"

// Version is the version of Sphinx in use. Set at build time with ldflags.
var Version = "devel"

// APIPrefix is the URL prefix all gateway operations are served under.
const APIPrefix = "/v1"

const (
	// DefaultChallengeTTL is how long an unredeemed challenge survives in
	// the store. Every write to a challenge restarts this window.
	DefaultChallengeTTL = 5 * time.Minute

	// DefaultMaxChallenges bounds the number of live challenges held by the
	// in-memory storage backend.
	DefaultMaxChallenges = 1000

	// DefaultProviderTimeout bounds every network call to the puzzle
	// provider. A timeout is treated the same as a provider error.
	DefaultProviderTimeout = 10 * time.Second
)
