package platform

import (
	"context"
	"strings"
)

// Context carries everything an adapter needs to talk to one competition
// site: the base URL, whatever credential arguments the caller has
// (username/password/email/teamToken/...), and the current session.
//
// A Context is owned by a single caller. Adapters mutate only the Session
// field, and only through LoginIfNeeded; running two operations against the
// same Context concurrently is not safe.
type Context struct {
	BaseURL string
	Args    map[string]string
	Session *Session
}

// NewContext builds a context from a base URL and credential arguments.
func NewContext(baseURL string, args map[string]string) *Context {
	if args == nil {
		args = make(map[string]string)
	}
	return &Context{BaseURL: baseURL, Args: args}
}

// URL returns the base URL without a trailing slash.
func (c *Context) URL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Arg returns a credential argument, or "" when absent.
func (c *Context) Arg(key string) string {
	return c.Args[key]
}

// HasArgs reports whether every listed argument is present and non-blank.
func (c *Context) HasArgs(keys ...string) bool {
	for _, key := range keys {
		if strings.TrimSpace(c.Args[key]) == "" {
			return false
		}
	}
	return true
}

// Authorized reports whether the context holds a usable session.
func (c *Context) Authorized() bool {
	return c.Session.Valid()
}

// LoginFunc is an adapter's login routine. It returns nil on bad
// credentials, an unreachable platform, or an unparsable response.
type LoginFunc func(ctx context.Context, pctx *Context) *Session

// LoginIfNeeded installs a fresh session via login unless the context
// already holds a valid one, and reports whether the context ends up
// authorized. Every adapter operation funnels through this so that a
// long-lived context authenticates once, not per call.
func (c *Context) LoginIfNeeded(ctx context.Context, login LoginFunc) bool {
	if !c.Authorized() {
		c.Session = login(ctx, c)
	}
	return c.Authorized()
}
