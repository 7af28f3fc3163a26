package ofp

import (
	"sync"
	"sync/atomic"

	"github.com/flowhaven/ofcore/idgen"
)

// StatsCanceler is the capability a Switch's in-flight statistics requests
// implement so the registry can cancel them on disconnect without the core
// knowing anything about flow-mod or stats-request internals (out of scope;
// named only by interface per spec §1).
type StatsCanceler interface {
	CancelOutstandingRequests()
}

var sessionIDGen = idgen.Prefixed("sw_", idgen.NanoID(12))

// Switch is the authoritative in-memory record for one connected OpenFlow
// switch. The Channel Handler exclusively owns it until it becomes active
// (shared with the registry and listeners) or the channel closes (all
// references invalidated, registry entry removed).
type Switch struct {
	DPID       uint64
	SessionID  string // non-protocol correlation ID, see idgen
	RemoteAddr string
	Channel    Channel

	// FlowMods is the opaque set of previously issued flow-mods the core
	// tracks only to know whether flushSwitchesOnReconnect has anything to
	// clear. Its contents are meaningless to this package.
	FlowMods map[uint64]struct{}

	// StatsCancelers are cancel hooks for in-flight stats requests,
	// invoked on DPID-collision replacement and on disconnect.
	StatsCancelers []StatsCanceler

	nextXid atomic.Uint32

	mu             sync.Mutex
	supportsNxRole Tri
	role           *Role // nil: no reply has ever completed
}

// NewSwitch constructs a Switch for a freshly accepted connection. DPID is
// unknown until the features-reply arrives in the handshake; it is set via
// SetDPID at that point.
func NewSwitch(remoteAddr string, ch Channel) *Switch {
	return &Switch{
		SessionID:      sessionIDGen(),
		RemoteAddr:     remoteAddr,
		Channel:        ch,
		FlowMods:       make(map[uint64]struct{}),
		supportsNxRole: Unknown,
	}
}

// SetDPID records the datapath ID once the features-reply has been parsed.
func (s *Switch) SetDPID(dpid uint64) { s.DPID = dpid }

// NextXid allocates a fresh, monotonically increasing transaction ID for
// this switch. Safe for concurrent use, though in practice only the
// handshake goroutine and the Role Changer worker call it for a given
// switch.
func (s *Switch) NextXid() uint32 {
	return s.nextXid.Add(1)
}

// SupportsNxRole returns the tri-valued capability attribute.
func (s *Switch) SupportsNxRole() Tri {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supportsNxRole
}

// SetSupportsNxRole updates the capability attribute alone. The Role Changer
// changes it together with the role through SetHARole: true on a definitive
// reply, false on an explicit not-supported error, and Unknown (rather than
// false) on a timeout.
func (s *Switch) SetSupportsNxRole(v Tri) {
	s.mu.Lock()
	s.supportsNxRole = v
	s.mu.Unlock()
}

// Role returns the switch's last-known role, or nil if no role exchange has
// ever completed.
func (s *Switch) Role() *Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetHARole sets the switch's last-known role and, atomically, its
// supports_nx_role capability. Passing a nil role clears it (used by
// verifyRoleReplyReceived on timeout).
func (s *Switch) SetHARole(role *Role, supportsNxRole Tri) {
	s.mu.Lock()
	s.role = role
	s.supportsNxRole = supportsNxRole
	s.mu.Unlock()
}

// CancelOutstandingRequests invokes and clears all registered stats
// cancelers, used when the registry replaces or removes this switch.
func (s *Switch) CancelOutstandingRequests() {
	s.mu.Lock()
	cancelers := s.StatsCancelers
	s.StatsCancelers = nil
	s.mu.Unlock()
	for _, c := range cancelers {
		c.CancelOutstandingRequests()
	}
}
