package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

// Authentication methods.
const (
	MethodHeader    = "header"
	MethodAPIHeader = "api_header"
	MethodBearer    = "bearer"
	MethodQuery     = "query"
	MethodAny       = "any"
	MethodNone      = "none"
)

// Token transport names.
const (
	HeaderWebhookToken = "X-Webhook-Token"
	HeaderAPIToken     = "X-API-Token"
	QueryToken         = "token"
)

// ValidMethod reports whether m is a configurable authentication method.
func ValidMethod(m string) bool {
	switch m {
	case MethodHeader, MethodAPIHeader, MethodBearer, MethodQuery, MethodAny:
		return true
	default:
		return false
	}
}

// AuthConfig controls webhook authentication.
type AuthConfig struct {
	Enabled bool
	Method  string
	Secret  string
}

// Authenticate checks the shared secret in the transport selected by cfg.
// It returns the method that was satisfied, MethodNone when authentication
// is disabled. An empty secret never authenticates.
func Authenticate(cfg AuthConfig, header http.Header, query url.Values) (string, bool) {
	if !cfg.Enabled {
		return MethodNone, true
	}
	if cfg.Secret == "" {
		return "", false
	}

	candidates := map[string]func() (string, bool){
		MethodHeader:    func() (string, bool) { return present(header.Get(HeaderWebhookToken)) },
		MethodAPIHeader: func() (string, bool) { return present(header.Get(HeaderAPIToken)) },
		MethodBearer:    func() (string, bool) { return bearerToken(header.Get("Authorization")) },
		MethodQuery:     func() (string, bool) { return present(query.Get(QueryToken)) },
	}

	methods := []string{cfg.Method}
	if cfg.Method == MethodAny {
		methods = []string{MethodHeader, MethodAPIHeader, MethodBearer, MethodQuery}
	}

	for _, m := range methods {
		extract, ok := candidates[m]
		if !ok {
			continue
		}
		token, ok := extract()
		if ok && tokenEqual(token, cfg.Secret) {
			return m, true
		}
	}
	return "", false
}

func present(v string) (string, bool) {
	return v, v != ""
}

func bearerToken(v string) (string, bool) {
	const prefix = "bearer "
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", false
	}
	return present(strings.TrimSpace(v[len(prefix):]))
}

// tokenEqual compares fixed-size digests so the comparison time depends on
// neither the content nor the length of the token.
func tokenEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
