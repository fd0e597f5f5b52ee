package audit

import (
	"strings"
)

// apiGroup extracts the API group from a path such as
// /api/registry/v1alpha1/models. It returns "registry", "ledger", or ""
// for paths outside the API tree.
func apiGroup(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return ""
	}
	return parts[1]
}

// resourceFromPath returns the resource collection a request addresses.
func resourceFromPath(path string) string {
	for _, p := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		switch p {
		case "models", "artifacts", "executions", "presets", "promotions":
			return p
		}
	}
	return ""
}

// resourceIDFromPath returns the identifier following the resource
// segment, if any. Collection-level verbs such as models/rollback are
// not identifiers.
func resourceIDFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		switch p {
		case "models", "artifacts", "executions", "presets":
			if i+1 >= len(parts) {
				return ""
			}
			next := parts[i+1]
			if next == "" || next == "rollback" {
				return ""
			}
			return next
		}
	}
	return ""
}

// actionFromRequest returns a short verb describing the request.
func actionFromRequest(method, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	last := ""
	if len(parts) > 0 {
		last = parts[len(parts)-1]
	}

	switch last {
	case "promote":
		return "promote"
	case "rollback":
		return "rollback"
	case "tests":
		if method == "POST" {
			return "record-test"
		}
	}

	if method == "POST" {
		switch resourceFromPath(path) {
		case "executions":
			return "begin"
		case "presets":
			return "save"
		case "artifacts":
			return "upload"
		}
	}

	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAuditedRequest reports whether the request should be recorded.
// Mutating methods are, browsing is not.
func isAuditedRequest(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}
