// Package artifact stores model artifact blobs addressed by content
// digest. References have the form "sha256:<hex>"; a blob never changes
// once written, so stores are free to deduplicate and cache aggressively.
package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// RefPrefix is the digest algorithm prefix of every artifact reference.
const RefPrefix = "sha256:"

const digestHexLen = 64

// NotFoundError reports a reference with no stored blob.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found", e.Ref)
}

// RefError reports a malformed artifact reference.
type RefError struct {
	Ref string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("malformed artifact reference %q", e.Ref)
}

// Store is a content-addressed blob store.
type Store interface {
	// Put writes a blob and returns its canonical reference. Writing the
	// same bytes twice yields the same reference.
	Put(ctx context.Context, r io.Reader) (ref string, size int64, err error)
	// Open returns the blob's contents. The caller closes the reader.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Stat returns the blob's size, or *NotFoundError.
	Stat(ctx context.Context, ref string) (int64, error)
}

// ParseRef validates a reference and returns the hex digest.
func ParseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok || len(digest) != digestHexLen {
		return "", &RefError{Ref: ref}
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", &RefError{Ref: ref}
		}
	}
	return digest, nil
}
