package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"genesis-ngx/internal/infra/config"
)

// ClientInfo identifies the authenticated caller.
type ClientInfo struct {
	Name string
}

// Authenticator validates credentials on incoming gateway requests.
type Authenticator interface {
	Authenticate(r *http.Request) (*ClientInfo, bool)
}

// StaticTokenAuth validates bearer tokens against a fixed list from config.
type StaticTokenAuth struct {
	tokens []tokenEntry
}

type tokenEntry struct {
	token []byte
	name  string
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	entries := make([]tokenEntry, 0, len(tokens))
	for _, tc := range tokens {
		if tc.Token == "" {
			continue
		}
		entries = append(entries, tokenEntry{token: []byte(tc.Token), name: tc.Name})
	}
	return &StaticTokenAuth{tokens: entries}
}

// Authenticate checks the Authorization bearer token with a constant-time
// compare per candidate.
func (a *StaticTokenAuth) Authenticate(r *http.Request) (*ClientInfo, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, false
	}
	candidate := []byte(raw)

	for _, e := range a.tokens {
		if subtle.ConstantTimeCompare(candidate, e.token) == 1 {
			return &ClientInfo{Name: e.name}, true
		}
	}
	return nil, false
}

// NoAuth accepts every request. Used when the gateway auth type is unset,
// which only makes sense behind a trusted private network.
type NoAuth struct{}

func (NoAuth) Authenticate(*http.Request) (*ClientInfo, bool) {
	return &ClientInfo{Name: "anonymous"}, true
}
