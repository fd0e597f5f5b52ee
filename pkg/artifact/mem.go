package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemStore keeps blobs in memory. Used in tests and by the loopback
// backend in development setups.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: map[string][]byte{}}
}

// Put implements Store.
func (s *MemStore) Put(_ context.Context, r io.Reader) (string, int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read artifact: %w", err)
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	s.mu.Lock()
	s.blobs[digest] = b
	s.mu.Unlock()
	return RefPrefix + digest, int64(len(b)), nil
}

// Open implements Store.
func (s *MemStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.blobs[digest]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Ref: ref}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Stat implements Store.
func (s *MemStore) Stat(_ context.Context, ref string) (int64, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	b, ok := s.blobs[digest]
	s.mu.RUnlock()
	if !ok {
		return 0, &NotFoundError{Ref: ref}
	}
	return int64(len(b)), nil
}

// Delete removes a blob. Test helper.
func (s *MemStore) Delete(ref string) {
	if digest, err := ParseRef(ref); err == nil {
		s.mu.Lock()
		delete(s.blobs, digest)
		s.mu.Unlock()
	}
}
