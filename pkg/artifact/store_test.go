package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refFor(b []byte) string {
	sum := sha256.Sum256(b)
	return RefPrefix + hex.EncodeToString(sum[:])
}

func TestParseRef(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	got, err := ParseRef(RefPrefix + digest)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	for _, ref := range []string{
		"",
		"sha256:",
		"sha256:short",
		"md5:" + digest,
		RefPrefix + strings.Repeat("XY", 32),
		RefPrefix + digest + "00",
	} {
		_, err := ParseRef(ref)
		var refErr *RefError
		require.ErrorAs(t, err, &refErr, "ref %q", ref)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte("model weights")
	ref, size, err := s.Put(ctx, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, refFor(payload), ref)
	assert.EqualValues(t, len(payload), size)

	rc, err := s.Open(ctx, ref)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	n, err := s.Stat(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
}

func TestFSStoreDeduplicates(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte("same bytes")
	ref1, _, err := s.Put(ctx, bytes.NewReader(payload))
	require.NoError(t, err)
	ref2, _, err := s.Put(ctx, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	var files int
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && !strings.Contains(strings.TrimPrefix(path, root), string(filepath.Separator)+"tmp"+string(filepath.Separator)) {
			files++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}

func TestFSStoreMissing(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ref := refFor([]byte("never stored"))
	_, err = s.Open(context.Background(), ref)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ref, nf.Ref)

	_, err = s.Stat(context.Background(), ref)
	require.ErrorAs(t, err, &nf)
}

func TestFSStoreRejectsBadRef(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Open(context.Background(), "not-a-ref")
	var refErr *RefError
	require.ErrorAs(t, err, &refErr)
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	payload := []byte("in memory")
	ref, size, err := s.Put(ctx, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, refFor(payload), ref)
	assert.EqualValues(t, len(payload), size)

	rc, err := s.Open(ctx, ref)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	s.Delete(ref)
	_, err = s.Open(ctx, ref)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
