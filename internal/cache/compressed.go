package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Compressed wraps a Provider and stores zstd-compressed values.
type Compressed struct {
	inner   Provider
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressed(inner Provider) (*Compressed, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Compressed{inner: inner, encoder: encoder, decoder: decoder}, nil
}

func (c *Compressed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %q: %w", key, err)
	}
	return out, nil
}

func (c *Compressed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.inner.Set(ctx, key, c.encoder.EncodeAll(value, nil), ttl)
}

func (c *Compressed) Del(ctx context.Context, key string) error {
	return c.inner.Del(ctx, key)
}

// Close releases the codec and closes the wrapped provider.
func (c *Compressed) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return c.inner.Close()
}
