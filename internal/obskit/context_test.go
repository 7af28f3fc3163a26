package obskit

import (
	"context"
	"testing"
)

func TestContext_SessionID(t *testing.T) {
	ctx := context.Background()
	if v := SessionID(ctx); v != "" {
		t.Fatalf("empty context: got %q", v)
	}
	ctx = WithSessionID(ctx, "sw_abc123")
	if v := SessionID(ctx); v != "sw_abc123" {
		t.Fatalf("got %q, want sw_abc123", v)
	}
}

func TestContext_DPID(t *testing.T) {
	ctx := context.Background()
	if v := DPID(ctx); v != 0 {
		t.Fatalf("empty context: got %d", v)
	}
	ctx = WithDPID(ctx, 0x0102030405060708)
	if v := DPID(ctx); v != 0x0102030405060708 {
		t.Fatalf("got %#x", v)
	}
}

func TestContext_RemoteAddrAndRole(t *testing.T) {
	ctx := context.Background()
	ctx = WithRemoteAddr(ctx, "10.0.0.1:6633")
	ctx = WithRole(ctx, "MASTER")
	if v := RemoteAddr(ctx); v != "10.0.0.1:6633" {
		t.Fatalf("remote addr: got %q", v)
	}
	if v := RoleFromContext(ctx); v != "MASTER" {
		t.Fatalf("role: got %q", v)
	}
}
