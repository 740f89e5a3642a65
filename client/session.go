package client

import (
	"context"
	"net/http"
)

// SessionProvider opens a Data API session and returns its token. Providers
// are called lazily on the first request and again whenever the server
// reports the current token invalid.
type SessionProvider interface {
	Login(ctx context.Context, c *HTTPClient) (token string, err error)
}

// UsernamePassword authenticates with a FileMaker account name and password.
type UsernamePassword struct {
	Username string
	Password string
}

func (p UsernamePassword) Login(ctx context.Context, c *HTTPClient) (string, error) {
	return c.openSession(ctx, func(req *http.Request) {
		req.SetBasicAuth(p.Username, p.Password)
	})
}

// OAuth authenticates with a request id and identifier obtained from the
// server's OAuth flow.
type OAuth struct {
	RequestID  string
	Identifier string
}

func (p OAuth) Login(ctx context.Context, c *HTTPClient) (string, error) {
	return c.openSession(ctx, func(req *http.Request) {
		req.Header.Set("X-FM-Data-OAuth-Request-Id", p.RequestID)
		req.Header.Set("X-FM-Data-OAuth-Identifier", p.Identifier)
	})
}

// ClarisCloud authenticates with a Claris ID token.
type ClarisCloud struct {
	FMIDToken string
}

func (p ClarisCloud) Login(ctx context.Context, c *HTTPClient) (string, error) {
	return c.openSession(ctx, func(req *http.Request) {
		req.Header.Set("Authorization", "FMID "+p.FMIDToken)
	})
}

// StaticToken reuses an externally managed session token. Renewal is not
// possible: once the server rejects the token the error is surfaced as-is.
type StaticToken struct {
	Token string
}

func (p StaticToken) Login(ctx context.Context, c *HTTPClient) (string, error) {
	return p.Token, nil
}
