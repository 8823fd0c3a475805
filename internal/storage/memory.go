package storage

import (
	"context"
	"errors"

	"github.com/c-pro/geche"
)

// MemoryStorage is a process-local backend. Contents are lost on restart.
type MemoryStorage struct {
	cache geche.Geche[string, []byte]
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{cache: geche.NewMapCache[string, []byte]()}
}

func (s *MemoryStorage) Namespace(name string) Store {
	return &memoryStore{cache: s.cache, prefix: name + "\x00"}
}

func (s *MemoryStorage) Close() error {
	return nil
}

type memoryStore struct {
	cache  geche.Geche[string, []byte]
	prefix string
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	value, err := s.cache.Get(s.prefix + key)
	if errors.Is(err, geche.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return append([]byte(nil), value...), true, nil
}

func (s *memoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(s.prefix+key, append([]byte(nil), value...))
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.cache.Del(s.prefix + key); err != nil && !errors.Is(err, geche.ErrNotFound) {
		return err
	}
	return nil
}
