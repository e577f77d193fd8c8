// Package reqctx carries request-scoped caller metadata (client ip, user
// agent, device id) from the transport layer into the security components.
package reqctx

import "context"

type clientIPKey struct{}
type userAgentKey struct{}
type deviceIDKey struct{}

// WithClientIP attaches the caller's IP address to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// WithDeviceID attaches the client-supplied device fingerprint to ctx.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey{}, deviceID)
}

// ClientIP returns the IP attached by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	return stringValue(ctx, clientIPKey{})
}

// UserAgent returns the attached User-Agent, or "".
func UserAgent(ctx context.Context) string {
	return stringValue(ctx, userAgentKey{})
}

// DeviceID returns the attached device id, or "".
func DeviceID(ctx context.Context) string {
	return stringValue(ctx, deviceIDKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
