package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider stores opaque query payloads.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }

// Options selects and configures a backend.
type Options struct {
	Enabled  bool
	Backend  string
	Valkey   ValkeyConfig
	Path     string
	Compress bool
}

// New builds the configured Provider. Disabled caching yields NoopProvider.
func New(opts Options) (Provider, error) {
	if !opts.Enabled {
		return NoopProvider{}, nil
	}

	var (
		provider Provider
		err      error
	)
	switch strings.ToLower(opts.Backend) {
	case "", "valkey", "redis":
		provider, err = NewValkeyProvider(opts.Valkey)
	case "badger":
		provider, err = NewBadgerProvider(BadgerConfig{Path: opts.Path})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.Compress {
		compressed, err := NewCompressed(provider)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
		return compressed, nil
	}
	return provider, nil
}
