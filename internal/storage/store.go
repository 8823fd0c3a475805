package storage

import (
	"context"
	"encoding"
	"fmt"
)

// Store is the private key/value store of one actor.
// There are no multi-key transactions; writes to a single key are ordered.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Backend hands out one isolated Store per actor namespace.
type Backend interface {
	Namespace(name string) Store
	Close() error
}

// Load reads key into v. It reports false when the key is absent.
func Load(ctx context.Context, s Store, key string, v encoding.BinaryUnmarshaler) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := v.UnmarshalBinary(data); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Save encodes v and writes it under key.
func Save(ctx context.Context, s Store, key string, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
