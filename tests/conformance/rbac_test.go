package conformance

import (
	"fmt"
	"net/http"
	"testing"
)

// TestRegistryWritesRequireAdmin verifies every mutating registry endpoint
// rejects non-admin callers before touching the body.
func TestRegistryWritesRequireAdmin(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	mutations := []struct {
		method string
		path   string
	}{
		{"POST", registryBase + "/models"},
		{"POST", registryBase + "/models/1/tests"},
		{"POST", registryBase + "/models/1/promote"},
		{"POST", registryBase + "/models/rollback"},
		{"POST", registryBase + "/artifacts"},
	}

	for _, m := range mutations {
		t.Run(fmt.Sprintf("%s %s", m.method, m.path), func(t *testing.T) {
			// Plain user.
			resp := doRequest(t, m.method, serverURL+m.path, map[string]any{}, userHeaders("conf-rbac-user"))
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected 403 for plain user, got %d", resp.StatusCode)
			}
			resp.Body.Close()

			// No identity at all.
			resp = doRequest(t, m.method, serverURL+m.path, map[string]any{}, nil)
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected 403 for anonymous caller, got %d", resp.StatusCode)
			}
			resp.Body.Close()
		})
	}
}

// TestAdminGroupGrantsAccess verifies the admin group mapping admits
// mutations that plain users are denied.
func TestAdminGroupGrantsAccess(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	// createDraft sends adminHeaders; reaching 201 proves the group
	// mapping admits the call.
	mv := createDraft(t, "conf-rbac-admin-"+testSeqNum(), "1.0.0", patientSchema())
	if mv.ID == 0 {
		t.Error("expected a persisted model version id")
	}
}

// TestReadEndpointsOpenToUsers verifies reads need no special role.
func TestReadEndpointsOpenToUsers(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	mv := activateModel(t, "conf-rbac-read-"+testSeqNum())

	reads := []string{
		registryBase + "/models",
		registryBase + "/models/active",
		fmt.Sprintf("%s/models/%d", registryBase, mv.ID),
		fmt.Sprintf("%s/models/%d/tests", registryBase, mv.ID),
		registryBase + "/promotions",
		registryBase + "/artifacts/" + mv.ArtifactRef + "/meta",
	}

	for _, path := range reads {
		t.Run(path, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, serverURL+path, nil, userHeaders("conf-rbac-reader"))
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 for plain user on GET %s, got %d", path, resp.StatusCode)
			}
			resp.Body.Close()
		})
	}
}

// TestAuditEndpointsRequireAdmin verifies the audit trail is admin-only.
func TestAuditEndpointsRequireAdmin(t *testing.T) {
	if serverURL == "" {
		t.Skip("requires running modelkeep-server (set MODELKEEP_SERVER_URL)")
	}
	waitForReady(t)

	resp := doRequest(t, http.MethodGet, serverURL+auditBase+"/records", nil, userHeaders("conf-rbac-user"))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for plain user on audit records, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, serverURL+auditBase+"/records", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for admin on audit records, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
