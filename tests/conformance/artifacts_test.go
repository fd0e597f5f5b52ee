package conformance

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

// TestArtifactRoundTrip uploads bytes and reads them back by ref.
func TestArtifactRoundTrip(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	payload := []byte("conformance artifact payload " + testSeqNum())
	ref := uploadArtifact(t, payload)

	if !strings.HasPrefix(ref, "sha256:") {
		t.Errorf("expected a sha256: ref, got %q", ref)
	}

	t.Run("download", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, serverURL+registryBase+"/artifacts/"+ref, nil, userHeaders("conf-artifact-reader"))
		requireStatus(t, resp, http.StatusOK)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("reading artifact body: %v", err)
		}
		if string(body) != string(payload) {
			t.Errorf("downloaded bytes differ from the upload")
		}
	})

	t.Run("stat", func(t *testing.T) {
		var meta struct {
			Ref  string `json:"ref"`
			Size int64  `json:"size"`
		}
		getJSON(t, registryBase+"/artifacts/"+ref+"/meta", nil, &meta)
		if meta.Ref != ref {
			t.Errorf("expected ref %q, got %q", ref, meta.Ref)
		}
		if meta.Size != int64(len(payload)) {
			t.Errorf("expected size %d, got %d", len(payload), meta.Size)
		}
	})
}

// TestArtifactContentAddressed verifies identical bytes land on the same
// ref, so a re-upload is a no-op.
func TestArtifactContentAddressed(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	payload := []byte("dedup me " + testSeqNum())
	first := uploadArtifact(t, payload)
	second := uploadArtifact(t, payload)

	if first != second {
		t.Errorf("identical uploads produced refs %q and %q", first, second)
	}
}

// TestArtifactErrors covers the unknown-ref and malformed-ref responses.
func TestArtifactErrors(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	t.Run("unknown_ref", func(t *testing.T) {
		ref := "sha256:" + strings.Repeat("0", 64)
		resp := doRequest(t, http.MethodGet, serverURL+registryBase+"/artifacts/"+ref, nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 for unknown ref, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("malformed_ref", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, serverURL+registryBase+"/artifacts/not-a-ref", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for malformed ref, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}
