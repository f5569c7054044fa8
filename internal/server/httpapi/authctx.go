package httpapi

import (
	"context"

	"github.com/carebridge/carelink/internal/service"
)

type ctxKey string

const claimsKey ctxKey = "carelink.claims"

// withClaims stores verified token claims in the request context.
func withClaims(ctx context.Context, c *service.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// claimsFromCtx fetches verified token claims from the request context.
func claimsFromCtx(ctx context.Context) (*service.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*service.AccessClaims)
	return c, ok
}
