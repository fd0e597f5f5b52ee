package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore keeps blobs on the local filesystem under
// <root>/<first two hex chars>/<digest>. Writes spool to a temp file and
// rename into place, so readers never observe partial blobs.
type FSStore struct {
	root string
}

// NewFSStore creates the root and temp directories if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) blobPath(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

// Put implements Store.
func (s *FSStore) Put(_ context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("failed to spool artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to flush artifact: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	ref := RefPrefix + digest
	dest := s.blobPath(digest)

	// Already stored: the rename would overwrite identical bytes, skip it.
	if _, err := os.Stat(dest); err == nil {
		return ref, size, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create shard dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("failed to store artifact %s: %w", ref, err)
	}
	return ref, size, nil
}

// Open implements Store.
func (s *FSStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.blobPath(digest))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", ref, err)
	}
	return f, nil
}

// Stat implements Store.
func (s *FSStore) Stat(_ context.Context, ref string) (int64, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(s.blobPath(digest))
	if os.IsNotExist(err) {
		return 0, &NotFoundError{Ref: ref}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat artifact %s: %w", ref, err)
	}
	return info.Size(), nil
}
