package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Config controls how request identity is established.
type Config struct {
	// JWTEnabled turns on bearer-token extraction.
	JWTEnabled bool `json:"jwtEnabled" yaml:"jwtEnabled"`
	// PublicKeyPath points at a PEM-encoded RSA public key used to verify
	// token signatures when VerifySignature is set.
	PublicKeyPath string `json:"publicKeyPath" yaml:"publicKeyPath"`
	// VerifySignature requires a valid signature. When false, tokens are
	// parsed without verification: trusted-proxy mode, for deployments where
	// a gateway in front has already verified them.
	VerifySignature bool `json:"verifySignature" yaml:"verifySignature"`
	// SubjectClaim names the claim carrying the user id. Dot notation
	// traverses nested claims.
	SubjectClaim string `json:"subjectClaim" yaml:"subjectClaim"`
	// RoleClaim names the claim carrying a role string or list.
	RoleClaim string `json:"roleClaim" yaml:"roleClaim"`
	// AdminRoles lists role-claim values granted the admin role.
	AdminRoles []string `json:"adminRoles" yaml:"adminRoles"`
	// AdminGroups lists X-Remote-Group values granted the admin role.
	AdminGroups []string `json:"adminGroups" yaml:"adminGroups"`
}

// DefaultConfig matches the common service-token layout: subject in "sub",
// role in "role", admins named plainly.
func DefaultConfig() Config {
	return Config{
		SubjectClaim: "sub",
		RoleClaim:    "role",
		AdminRoles:   []string{"admin"},
		AdminGroups:  []string{"modelkeep-admins"},
	}
}

// Extractor resolves identities from requests according to a Config.
type Extractor struct {
	cfg Config
	key *rsa.PublicKey
}

// NewExtractor builds an Extractor, loading the verification key when
// signature verification is required.
func NewExtractor(cfg Config) (*Extractor, error) {
	e := &Extractor{cfg: cfg}
	if cfg.SubjectClaim == "" {
		e.cfg.SubjectClaim = "sub"
	}
	if cfg.RoleClaim == "" {
		e.cfg.RoleClaim = "role"
	}
	if cfg.JWTEnabled && cfg.VerifySignature {
		if cfg.PublicKeyPath == "" {
			return nil, fmt.Errorf("identity: verifySignature requires publicKeyPath")
		}
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		e.key = key
	}
	return e, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key in %s is %T, want RSA", path, pub)
	}
	return rsaKey, nil
}

// fromToken parses (and, when configured, verifies) a bearer token into an
// Identity.
func (e *Extractor) fromToken(raw string) (Identity, error) {
	claims := jwt.MapClaims{}
	if e.key != nil {
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return e.key, nil
		})
		if err != nil {
			return Identity{}, fmt.Errorf("failed to verify token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return Identity{}, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	subject, _ := claimString(claims, e.cfg.SubjectClaim)
	if subject == "" {
		return Identity{}, fmt.Errorf("token carries no %q claim", e.cfg.SubjectClaim)
	}

	roles := claimStrings(claims, e.cfg.RoleClaim)
	role := RoleUser
	for _, rv := range roles {
		if slices.Contains(e.cfg.AdminRoles, rv) {
			role = RoleAdmin
			break
		}
	}
	return Identity{Subject: subject, Groups: roles, Role: role}, nil
}

// claimValue resolves a dot-notation path into nested claim maps.
func claimValue(claims map[string]any, path string) (any, bool) {
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func claimString(claims map[string]any, path string) (string, bool) {
	v, ok := claimValue(claims, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func claimStrings(claims map[string]any, path string) []string {
	v, ok := claimValue(claims, path)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	}
	return nil
}
