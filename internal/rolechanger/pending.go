package rolechanger

import (
	"sync"
	"time"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

// PendingRequest is the (xid, role, cookie, deadline) tuple attached to a
// switch for one outstanding role-request/reply exchange. The per-switch
// list is ordered by issue time (equivalently, strictly increasing xid).
type PendingRequest struct {
	Xid      uint32
	Role     ofp.Role
	Cookie   uint64
	Deadline time.Time
}

// switchState holds one switch's pending-request list. Written by the
// Changer's scheduler worker (sendRoleRequest, verifyRoleReplyReceived) and
// by the owning channel's goroutine (deliverRoleReply,
// deliverRoleRequestNotSupported) — never by anything else, so a plain
// mutex per switch is sufficient.
type switchState struct {
	mu      sync.Mutex
	pending []PendingRequest
}

func (s *switchState) first() (PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return PendingRequest{}, false
	}
	return s.pending[0], true
}

func (s *switchState) append(p PendingRequest) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()
}

// dropFirst removes the first pending entry, matching invariant §8.2: a
// reply reduces pending length by exactly one when it matches the first
// entry's xid and role.
func (s *switchState) dropFirst() {
	s.mu.Lock()
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
	s.mu.Unlock()
}

func (s *switchState) clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *switchState) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// pendingStore maps each switch to its pending-request state, created
// lazily and dropped on disconnect (spec §5: "closing a channel ...
// removes the switch's pending role list").
type pendingStore struct {
	mu     sync.Mutex
	states map[*ofp.Switch]*switchState
}

func newPendingStore() *pendingStore {
	return &pendingStore{states: make(map[*ofp.Switch]*switchState)}
}

func (p *pendingStore) get(sw *ofp.Switch) *switchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[sw]
	if !ok {
		st = &switchState{}
		p.states[sw] = st
	}
	return st
}

func (p *pendingStore) forget(sw *ofp.Switch) {
	p.mu.Lock()
	delete(p.states, sw)
	p.mu.Unlock()
}
