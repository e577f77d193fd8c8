package hospitalauth

import (
	"context"

	"github.com/MrEthical07/hospitalauth/internal/reqctx"
)

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for IP throttling, stuffing detection and audit location.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return reqctx.WithClientIP(ctx, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is recorded
// in audits and in password change notifications.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return reqctx.WithUserAgent(ctx, userAgent)
}

// WithDeviceID attaches the client-owned device id to ctx.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return reqctx.WithDeviceID(ctx, deviceID)
}
