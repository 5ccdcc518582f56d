package identity

import (
	"context"
	"unicode/utf8"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// Longer client fields are cut before they reach a session record.
const (
	maxClientIPBytes  = 64
	maxUserAgentBytes = 1024
)

// ClientInfo describes the transport-level caller of an Identity.
type ClientInfo struct {
	IP        string
	UserAgent string
}

func (c ClientInfo) clamped() ClientInfo {
	return ClientInfo{
		IP:        truncateUTF8(c.IP, maxClientIPBytes),
		UserAgent: truncateUTF8(c.UserAgent, maxUserAgentBytes),
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// WithClientIP attaches the caller's IP address to ctx. Engine-level calls
// such as RequestPasswordReset use it for rate limiting and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// ClientFromContext returns whatever WithClientIP and WithUserAgent stored.
func ClientFromContext(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ClientInfo{IP: ip, UserAgent: ua}
}
