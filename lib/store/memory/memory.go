// Package memory provides the default storage backend: a decaying in-process
// map bounded by a maximum entry count. This is the only backend that
// enforces the challenge capacity limit itself; it does not survive process
// restarts and will not scale past a single instance.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uvensys/sphinx/decaymap"
	"github.com/uvensys/sphinx/lib/store"
)

type factory struct{}

func (factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return New(ctx, config.MaxEntries), nil
}

func (factory) Valid(data json.RawMessage) error {
	var config Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

func init() {
	store.Register("memory", factory{})
}

// Config is the memory storage backend configuration.
type Config struct {
	// MaxEntries bounds the number of live entries. Once full, the least
	// recently touched entry is evicted on insert. Zero means unbounded.
	MaxEntries int `json:"maxEntries"`
}

func (c Config) Valid() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("maxEntries must not be negative, got %d", c.MaxEntries)
	}

	return nil
}

type impl struct {
	store *decaymap.Impl[string, []byte]
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.store.Set(key, value, expiry)
	return nil
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}

// New creates an in-memory store holding at most maxEntries live entries.
// maxEntries of zero means unbounded.
func New(ctx context.Context, maxEntries int) store.Interface {
	result := &impl{
		store: decaymap.New[string, []byte](maxEntries),
	}

	go result.cleanupThread(ctx)

	return result
}
