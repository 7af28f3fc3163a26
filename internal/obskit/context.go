// Package obskit holds typed context keys so log lines can carry
// switch/session identity without each package inventing its own key type.
// The acceptor attaches and reads them for its per-connection log lines.
package obskit

import "context"

type contextKey string

const (
	sessionIDKey  contextKey = "ofcore_session_id"
	remoteAddrKey contextKey = "ofcore_remote_addr"
	dpidKey       contextKey = "ofcore_dpid"
	roleKey       contextKey = "ofcore_role"
)

// WithSessionID attaches the non-protocol correlation ID assigned to a
// channel at connect time (see idgen).
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID returns the correlation ID attached by WithSessionID, or "".
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithRemoteAddr attaches the switch's remote TCP address.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// RemoteAddr returns the remote address attached by WithRemoteAddr, or "".
func RemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteAddrKey).(string)
	return v
}

// WithDPID attaches the switch's datapath ID once the handshake has
// identified it (before that, only the remote address is known).
func WithDPID(ctx context.Context, dpid uint64) context.Context {
	return context.WithValue(ctx, dpidKey, dpid)
}

// DPID returns the datapath ID attached by WithDPID, or 0 if none.
func DPID(ctx context.Context) uint64 {
	v, _ := ctx.Value(dpidKey).(uint64)
	return v
}

// WithRole attaches the controller's role at the time a log line or error
// was produced, for correlating role-flap incidents after the fact.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// RoleFromContext returns the role attached by WithRole, or "".
func RoleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}
