// Package e2e contains smoke tests that exercise a running modelkeep
// server end to end over plain HTTP: the model lifecycle from artifact
// upload through promotion, an execution against the active version,
// and the preset round trip.
//
// The tests skip unless MODELKEEP_SERVER_URL points at a live server:
//
//	MODELKEEP_SERVER_URL=http://localhost:8080 go test ./tests/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const (
	registryBase = "/api/registry/v1alpha1"
	ledgerBase   = "/api/ledger/v1alpha1"
)

var (
	client = &http.Client{Timeout: 30 * time.Second}
	smoke  atomic.Uint64
)

func serverURL() string {
	return strings.TrimRight(os.Getenv("MODELKEEP_SERVER_URL"), "/")
}

func skipWithoutServer(t *testing.T) {
	t.Helper()
	if serverURL() == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
}

// smokeID returns a per-run unique suffix so repeated runs against the
// same server never collide on asset names.
func smokeID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli()%100000, smoke.Add(1))
}

func adminHeaders() map[string]string {
	return map[string]string{
		"X-Remote-User":  "e2e-admin",
		"X-Remote-Group": "modelkeep-admins",
	}
}

func userHeaders(name string) map[string]string {
	return map[string]string{"X-Remote-User": name}
}

func doGet(t *testing.T, path string, headers map[string]string) ([]byte, int) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, serverURL()+path, nil)
	if err != nil {
		t.Fatalf("failed to build GET %s: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("reading GET %s response: %v", path, err)
	}
	return buf.Bytes(), resp.StatusCode
}

func doPost(t *testing.T, path string, body any, headers map[string]string) ([]byte, int) {
	t.Helper()
	var reader *bytes.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode POST %s body: %v", path, err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	req, err := http.NewRequest(http.MethodPost, serverURL()+path, reader)
	if err != nil {
		t.Fatalf("failed to build POST %s: %v", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("reading POST %s response: %v", path, err)
	}
	return buf.Bytes(), resp.StatusCode
}

func doDelete(t *testing.T, path string, headers map[string]string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, serverURL()+path, nil)
	if err != nil {
		t.Fatalf("failed to build DELETE %s: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s failed: %v", path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func unmarshal(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to decode response %s: %v", data, err)
	}
}

func TestSmokeHealth(t *testing.T) {
	skipWithoutServer(t)

	body, status := doGet(t, "/healthz", nil)
	if status != http.StatusOK {
		t.Fatalf("healthz returned %d: %s", status, body)
	}

	body, status = doGet(t, "/livez", nil)
	if status != http.StatusOK {
		t.Fatalf("livez returned %d: %s", status, body)
	}
	var live struct {
		Status string `json:"status"`
	}
	unmarshal(t, body, &live)
	if live.Status != "alive" {
		t.Errorf("expected livez status alive, got %q", live.Status)
	}

	body, status = doGet(t, "/readyz", nil)
	if status != http.StatusOK {
		t.Fatalf("readyz returned %d: %s", status, body)
	}
	var ready struct {
		Status string `json:"status"`
	}
	unmarshal(t, body, &ready)
	if ready.Status != "ready" {
		t.Errorf("expected readyz status ready, got %q", ready.Status)
	}
}

// TestSmokeModelToExecution walks the whole pipeline: upload weights,
// register a draft, record a passing test, promote, then run an
// execution against the freshly active version and read the echo back.
func TestSmokeModelToExecution(t *testing.T) {
	skipWithoutServer(t)

	id := smokeID()

	body, status := doPost(t, registryBase+"/artifacts", []byte("smoke weights "+id), adminHeaders())
	if status != http.StatusCreated {
		t.Fatalf("artifact upload returned %d: %s", status, body)
	}
	var artifact struct {
		Ref string `json:"ref"`
	}
	unmarshal(t, body, &artifact)
	if !strings.HasPrefix(artifact.Ref, "sha256:") {
		t.Fatalf("expected a sha256 ref, got %q", artifact.Ref)
	}

	createReq := map[string]any{
		"name":        "smoke-" + id,
		"version":     "1.0.0",
		"artifactRef": artifact.Ref,
		"schema": []map[string]any{
			{"name": "age", "type": "integer", "required": true, "min": 0, "max": 120},
		},
	}
	body, status = doPost(t, registryBase+"/models", createReq, adminHeaders())
	if status != http.StatusCreated {
		t.Fatalf("create model returned %d: %s", status, body)
	}
	var mv struct {
		ID    uint   `json:"id"`
		State string `json:"state"`
	}
	unmarshal(t, body, &mv)
	if mv.State != "draft" {
		t.Fatalf("expected draft after create, got %q", mv.State)
	}

	body, status = doPost(t, fmt.Sprintf("%s/models/%d/tests", registryBase, mv.ID),
		map[string]any{"passed": true, "sampleInput": map[string]any{"age": 33}}, adminHeaders())
	if status != http.StatusCreated {
		t.Fatalf("record test returned %d: %s", status, body)
	}

	body, status = doPost(t, fmt.Sprintf("%s/models/%d/promote", registryBase, mv.ID), nil, adminHeaders())
	if status != http.StatusOK {
		t.Fatalf("promote returned %d: %s", status, body)
	}

	body, status = doGet(t, registryBase+"/models/active", nil)
	if status != http.StatusOK {
		t.Fatalf("active model returned %d: %s", status, body)
	}
	var active struct {
		ID uint `json:"id"`
	}
	unmarshal(t, body, &active)
	if active.ID != mv.ID {
		t.Fatalf("expected version %d to be active, got %d", mv.ID, active.ID)
	}

	user := "smoke-user-" + id
	body, status = doPost(t, ledgerBase+"/executions",
		map[string]any{"inputs": map[string]any{"age": 42}}, userHeaders(user))
	if status != http.StatusAccepted {
		t.Fatalf("begin execution returned %d: %s", status, body)
	}
	var exec struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	unmarshal(t, body, &exec)
	if exec.ID == "" {
		t.Fatal("begin execution returned no id")
	}

	var done struct {
		Status string         `json:"status"`
		Output map[string]any `json:"output"`
	}
	deadline := time.Now().Add(30 * time.Second)
	for {
		body, status = doGet(t, ledgerBase+"/executions/"+exec.ID, userHeaders(user))
		if status != http.StatusOK {
			t.Fatalf("get execution returned %d: %s", status, body)
		}
		unmarshal(t, body, &done)
		if done.Status == "succeeded" || done.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution %s stuck in %q", exec.ID, done.Status)
		}
		time.Sleep(500 * time.Millisecond)
	}
	if done.Status != "succeeded" {
		t.Fatalf("expected execution to succeed, got %q", done.Status)
	}
	echo, ok := done.Output["echo"].(map[string]any)
	if !ok {
		t.Fatalf("expected an echo object in output, got %v", done.Output)
	}
	if echo["age"] != float64(42) {
		t.Errorf("expected echoed age 42, got %v", echo["age"])
	}

	// Leave the server tidy.
	if status := doDelete(t, ledgerBase+"/executions/"+exec.ID, userHeaders(user)); status != http.StatusNoContent {
		t.Errorf("cleanup delete returned %d", status)
	}
}

func TestSmokePresetRoundTrip(t *testing.T) {
	skipWithoutServer(t)

	id := smokeID()
	user := "smoke-preset-" + id

	body, status := doPost(t, ledgerBase+"/presets",
		map[string]any{"name": "smoke-checkup-" + id, "inputs": map[string]any{"age": 30}},
		userHeaders(user))
	if status != http.StatusOK {
		t.Fatalf("save preset returned %d: %s", status, body)
	}
	var saved struct {
		ID string `json:"id"`
	}
	unmarshal(t, body, &saved)
	if saved.ID == "" {
		t.Fatal("save preset returned no id")
	}

	body, status = doGet(t, ledgerBase+"/presets/"+saved.ID, userHeaders(user))
	if status != http.StatusOK {
		t.Fatalf("load preset returned %d: %s", status, body)
	}
	var load struct {
		Preset struct {
			Name string `json:"name"`
		} `json:"preset"`
	}
	unmarshal(t, body, &load)
	if load.Preset.Name != "smoke-checkup-"+id {
		t.Errorf("expected preset name smoke-checkup-%s, got %q", id, load.Preset.Name)
	}

	if status := doDelete(t, ledgerBase+"/presets/"+saved.ID, userHeaders(user)); status != http.StatusNoContent {
		t.Errorf("cleanup delete returned %d", status)
	}
}

func TestSmokeAnonymousWriteRejected(t *testing.T) {
	skipWithoutServer(t)

	body, status := doPost(t, registryBase+"/models", map[string]any{"name": "nope"}, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous create, got %d: %s", status, body)
	}
}
