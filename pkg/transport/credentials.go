package transport

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// CredentialProvider supplies the per-call authorization headers. The
// session lifecycle is owned by the host; the core only asks for the
// current values.
type CredentialProvider interface {
	Headers(ctx context.Context) (http.Header, error)
}

// StaticCredentials returns a fixed set of headers, typically an
// Authorization value plus a session security token.
type StaticCredentials struct {
	header http.Header
}

// NewStaticCredentials builds a provider from a bearer/cookie value and an
// optional CSRF-style session token sent under tokenHeader.
func NewStaticCredentials(authorization, tokenHeader, token string) *StaticCredentials {
	h := http.Header{}
	if authorization != "" {
		h.Set("Authorization", authorization)
	}
	if tokenHeader != "" && token != "" {
		h.Set(tokenHeader, token)
	}
	return &StaticCredentials{header: h}
}

// Headers returns a copy of the configured headers.
func (s *StaticCredentials) Headers(ctx context.Context) (http.Header, error) {
	return s.header.Clone(), nil
}

// OAuth2Credentials derives the Authorization header from an oauth2 token
// source. Token refresh is left to the source.
type OAuth2Credentials struct {
	source oauth2.TokenSource
}

// NewOAuth2Credentials wraps ts. Use oauth2.ReuseTokenSource to avoid
// fetching a token per request.
func NewOAuth2Credentials(ts oauth2.TokenSource) *OAuth2Credentials {
	return &OAuth2Credentials{source: ts}
}

// Headers returns the Authorization header for the current token.
func (o *OAuth2Credentials) Headers(ctx context.Context) (http.Header, error) {
	tok, err := o.source.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("obtain token: token invalid or expired")
	}
	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return h, nil
}
