package client

import "context"

type csrfKey struct{}

// WithCSRFToken attaches the caller's CSRF token to ctx so backend calls
// made on its behalf can forward it.
func WithCSRFToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, csrfKey{}, token)
}

func CSRFToken(ctx context.Context) string {
	tok, _ := ctx.Value(csrfKey{}).(string)
	return tok
}
