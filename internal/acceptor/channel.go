package acceptor

import (
	"context"
	"net"
	"sync"

	"github.com/flowhaven/ofcore/internal/rolechanger"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

// channelHandler is the per-connection Channel implementation: it owns the
// TCP socket and the write-side framing, and bridges rolemanager's
// RoleChannel notifications into a rolechanger submission for this one
// switch.
type channelHandler struct {
	conn    net.Conn
	factory ofp.MessageFactory
	changer *rolechanger.Changer

	writeMu sync.Mutex
	sw      *ofp.Switch

	closeOnce sync.Once
}

func newChannelHandler(conn net.Conn, factory ofp.MessageFactory, changer *rolechanger.Changer) *channelHandler {
	return &channelHandler{conn: conn, factory: factory, changer: changer}
}

// Write implements ofp.Channel.
func (h *channelHandler) Write(ctx context.Context, m ofp.Message) error {
	b, err := h.factory.Encode(m)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err = h.conn.Write(b)
	return err
}

// Disconnect implements ofp.Channel. Idempotent.
func (h *channelHandler) Disconnect() {
	h.closeOnce.Do(func() { h.conn.Close() })
}

// RemoteAddr implements ofp.Channel.
func (h *channelHandler) RemoteAddr() string {
	return h.conn.RemoteAddr().String()
}

// SendRoleReply implements rolemanager.RoleChannel. The role manager calls
// this for the switch's current role whenever it joins, and again on every
// subsequent effective role change; this channel's only way to actually
// tell the switch is to run the role-request protocol, so it submits a
// one-switch request to the Role Changer rather than writing anything
// itself.
func (h *channelHandler) SendRoleReply(ctx context.Context, role ofp.Role) error {
	if h.sw == nil {
		return nil
	}
	h.changer.SubmitRequest([]*ofp.Switch{h.sw}, role)
	return nil
}

// HasPendingRoleRequest implements rolemanager.RoleChannel.
func (h *channelHandler) HasPendingRoleRequest(role ofp.Role) bool {
	if h.sw == nil {
		return false
	}
	return h.changer.HasPendingRoleRequest(h.sw, role)
}
