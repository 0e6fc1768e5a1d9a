package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Mode says how a request was authenticated.
type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// Info is attached to the request context once a request clears auth.
// Project is set only for key-authenticated callers; localhost callers are
// unscoped and may touch any project.
type Info struct {
	Mode      Mode
	Project   string
	Localhost bool
}

type contextKey struct{}

// FromContext returns the auth info stored by Middleware, if any.
func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// Middleware authenticates every request against the keyring. Loopback
// callers bypass key checks when the keyring policy allows it; everyone
// else must present a Bearer key mapping to a project.
func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := identify(r, ring)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

func identify(r *http.Request, ring *Keyring) (Info, bool) {
	if ring.AllowLocalhostWithoutAuth && requestIsLocal(r) {
		return Info{Mode: ModeLocalhost, Localhost: true}, true
	}
	key, ok := bearerKey(r)
	if !ok {
		return Info{}, false
	}
	project, ok := ring.ProjectForKey(key)
	if !ok {
		return Info{}, false
	}
	return Info{Mode: ModeAPIKey, Project: project}, true
}

func bearerKey(r *http.Request) (string, bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	key := strings.TrimSpace(rest)
	return key, key != ""
}

// requestIsLocal trusts the first X-Forwarded-For hop when present (the
// local proxy case), otherwise the socket peer address.
func requestIsLocal(r *http.Request) bool {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return isLoopbackHost(strings.TrimSpace(first))
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	return isLoopbackHost(strings.TrimSpace(host))
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
