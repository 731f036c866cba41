package auth

import (
	"net/http"
	"strings"
)

// AuthorizationHeader is the credential lookup key.
const AuthorizationHeader = "Authorization"

// CredentialSource exposes a case-insensitive header-style lookup.
type CredentialSource interface {
	// Header returns the value for name, or "" when absent.
	Header(name string) string
}

// HeaderSource reads credentials from HTTP request headers.
type HeaderSource http.Header

// Header returns the first value for name.
func (h HeaderSource) Header(name string) string {
	return http.Header(h).Get(name)
}

// ConnectionParams reads credentials from a WebSocket connection_init payload.
// Keys match case-insensitively. Clients that nest headers under a "headers"
// object are also supported.
type ConnectionParams map[string]interface{}

// Header returns the string value for name, or "".
func (p ConnectionParams) Header(name string) string {
	if v := lookupFold(p, name); v != "" {
		return v
	}
	for k, v := range p {
		if !strings.EqualFold(k, "headers") {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			return lookupFold(nested, name)
		}
	}
	return ""
}

func lookupFold(m map[string]interface{}, name string) string {
	if v, ok := m[name].(string); ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// BearerToken extracts the token from an Authorization value.
// A literal "Bearer " prefix is stripped if present.
func BearerToken(value string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "Bearer "))
}
