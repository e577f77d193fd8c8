// Package pipeline composes request-scoped interceptors around a security
// operation. Interceptors run in the order given to Chain, the first one being
// outermost, and communicate only through the typed Call value.
package pipeline

import (
	"context"
	"strings"
	"sync"
)

// Call describes one invocation of a security operation.
type Call struct {
	Action     string
	Identifier string
	IP         string
	UserAgent  string

	mu     sync.Mutex
	detail map[string]string
}

// NewCall creates a Call for action on behalf of identifier.
func NewCall(action, identifier, ip, userAgent string) *Call {
	return &Call{
		Action:     action,
		Identifier: strings.TrimSpace(identifier),
		IP:         ip,
		UserAgent:  userAgent,
	}
}

// Annotate records a detail entry that the audit interceptor will persist.
func (c *Call) Annotate(key, value string) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detail == nil {
		c.detail = make(map[string]string)
	}
	c.detail[key] = value
}

// Detail returns a copy of the annotations.
func (c *Call) Detail() map[string]string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.detail) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.detail))
	for k, v := range c.detail {
		out[k] = v
	}
	return out
}

// Handler runs the operation body.
type Handler func(ctx context.Context, call *Call) error

// Interceptor wraps a Handler.
type Interceptor func(next Handler) Handler

// Chain wraps h with interceptors; interceptors[0] runs first.
func Chain(h Handler, interceptors ...Interceptor) Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] == nil {
			continue
		}
		h = interceptors[i](h)
	}
	return h
}
