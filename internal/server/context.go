package server

import "context"

type contextKey int

const (
	ctxKeyWallet contextKey = iota
	ctxKeyRequestID
)

func withWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxKeyWallet, wallet)
}

// WalletFromContext returns the authenticated wallet address from the
// context, or "".
func WalletFromContext(ctx context.Context) string {
	w, _ := ctx.Value(ctxKeyWallet).(string)
	return w
}

// RequestIDFromContext returns the request ID from the context, if present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}
