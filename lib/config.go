package lib

import (
	"errors"
	"fmt"
	"time"

	"github.com/uvensys/sphinx"
	"github.com/uvensys/sphinx/lib/provider"
	"github.com/uvensys/sphinx/lib/store"
)

var (
	ErrNoStore        = errors.New("lib: Options.Store is required")
	ErrNoProvider     = errors.New("lib: Options.Provider is required")
	ErrNoClientID     = errors.New("lib: Options.ClientID is required")
	ErrNoClientSecret = errors.New("lib: Options.ClientSecret is required")
)

// Options configures a gateway Server.
type Options struct {
	// Store persists challenge records. Records expire on their own, so
	// any backend satisfying store.Interface works.
	Store store.Interface

	// Provider generates and grades the underlying puzzles.
	Provider provider.Interface

	// ClientID is the public credential accepted for challenge creation
	// and solving.
	ClientID string

	// ClientSecret is the private credential accepted for token
	// verification. It must never be distributed to end clients.
	ClientSecret string

	// ChallengeTTL is how long a challenge record lives past its most
	// recent write. Defaults to sphinx.DefaultChallengeTTL.
	ChallengeTTL time.Duration
}

func (o Options) Valid() error {
	var errs []error

	if o.Store == nil {
		errs = append(errs, ErrNoStore)
	}
	if o.Provider == nil {
		errs = append(errs, ErrNoProvider)
	}
	if o.ClientID == "" {
		errs = append(errs, ErrNoClientID)
	}
	if o.ClientSecret == "" {
		errs = append(errs, ErrNoClientSecret)
	}
	if o.ChallengeTTL < 0 {
		errs = append(errs, fmt.Errorf("lib: Options.ChallengeTTL must not be negative, got: %s", o.ChallengeTTL))
	}

	if len(errs) != 0 {
		return fmt.Errorf("lib: invalid options: %w", errors.Join(errs...))
	}

	return nil
}

func (o Options) withDefaults() Options {
	if o.ChallengeTTL == 0 {
		o.ChallengeTTL = sphinx.DefaultChallengeTTL
	}
	return o
}
