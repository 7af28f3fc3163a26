// Package rolechanger implements the per-switch role-request protocol: it
// emits vendor role-request messages, tracks pending requests per switch,
// applies timeouts, and interprets replies and "unsupported" errors.
package rolechanger

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

// DefaultTimeout is the deadline for a switch to answer a role request
// before verifyRoleReplyReceived forces it back to an unknown role.
const DefaultTimeout = 5 * time.Second

// Option configures a Changer.
type Option func(*Changer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Changer) { c.logger = l }
}

// WithTimeout overrides DefaultTimeout, mainly for tests (spec scenario S6
// uses a 500ms timeout).
func WithTimeout(d time.Duration) Option {
	return func(c *Changer) { c.timeout = d }
}

// withNow overrides the clock, for deterministic task-ordering tests (spec
// scenario S7). Unexported: production callers always use wall time.
func withNow(fn func() time.Time) Option {
	return func(c *Changer) { c.now = fn }
}

// Changer drives the role-request protocol for every connected switch. It
// owns a min-heap of scheduled tasks and a single worker goroutine that
// sleeps until the earliest deadline, exactly as spec §4.3 describes; SEND
// tasks call sendRoleRequest on a defensive copy of the submitted switches,
// TIMEOUT tasks call verifyRoleReplyReceived.
type Changer struct {
	factory ofp.MessageFactory
	pending *pendingStore
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration

	mu   sync.Mutex
	heap taskHeap
	seq  uint64

	cookieSeq atomic.Uint64

	wake    chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a Changer and starts its scheduler worker.
func New(factory ofp.MessageFactory, opts ...Option) *Changer {
	c := &Changer{
		factory: factory,
		pending: newPendingStore(),
		logger:  slog.Default(),
		now:     time.Now,
		timeout: DefaultTimeout,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the scheduler worker and waits for it to exit. Idempotent.
func (c *Changer) Close() {
	c.stopped.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// SubmitRequest enqueues a SEND task with a fresh cookie and a TIMEOUT task
// at now+timeout. Returns the cookie so a caller can correlate later log
// lines. The provided slice is copied; the caller's collection is not
// retained or mutated (sendRoleRequest mutates only the scheduler's own
// snapshot).
func (c *Changer) SubmitRequest(switches []*ofp.Switch, role ofp.Role) uint64 {
	cookie := c.cookieSeq.Add(1)
	snapshot := append([]*ofp.Switch(nil), switches...)
	now := c.now()
	c.schedule(&roleChangeTask{kind: taskSend, switches: snapshot, role: role, cookie: cookie, deadline: now})
	c.schedule(&roleChangeTask{kind: taskTimeout, switches: snapshot, cookie: cookie, deadline: now.Add(c.timeout)})
	return cookie
}

func (c *Changer) schedule(t *roleChangeTask) {
	c.mu.Lock()
	c.seq++
	t.seq = c.seq
	heap.Push(&c.heap, t)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Changer) run() {
	defer c.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		d := c.nextDelay()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-c.stopCh:
			return
		case <-c.wake:
			continue
		case <-timer.C:
			t, ok := c.popDue()
			if !ok {
				continue
			}
			c.execute(t)
		}
	}
}

func (c *Changer) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heap) == 0 {
		return time.Hour
	}
	d := c.heap[0].deadline.Sub(c.now())
	if d < 0 {
		d = 0
	}
	return d
}

func (c *Changer) popDue() (*roleChangeTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&c.heap).(*roleChangeTask), true
}

func (c *Changer) execute(t *roleChangeTask) {
	switch t.kind {
	case taskSend:
		switches := t.switches
		c.SendRoleRequest(context.Background(), &switches, t.role, t.cookie)
	case taskTimeout:
		c.VerifyRoleReplyReceived(t.switches, t.cookie)
	}
}

// SendRoleRequest sends role to every switch in *switches, mutating the
// pointed-to slice in place: on return it contains only switches for which
// the request is in flight or trivially satisfied by non-support (spec
// §4.3 sending logic, cases 1-3).
func (c *Changer) SendRoleRequest(ctx context.Context, switches *[]*ofp.Switch, role ofp.Role, cookie uint64) {
	kept := make([]*ofp.Switch, 0, len(*switches))
	for _, sw := range *switches {
		switch sup := sw.SupportsNxRole(); {
		case sup == ofp.False && role == ofp.RoleSlave:
			// Cannot enforce SLAVE on a switch that won't honor it.
			err := &CapabilityError{DPID: sw.DPID}
			c.logger.Warn("rolechanger: cannot send role request", "dpid", sw.DPID, "role", role, "error", err)
			sw.Channel.Disconnect()
		case sup == ofp.False && role != ofp.RoleSlave:
			kept = append(kept, sw)
		default: // True or Unknown
			xid := sw.NextXid()
			msg := c.factory.NewRoleRequest(xid, role)
			if err := sw.Channel.Write(ctx, msg); err != nil {
				c.logger.Warn("rolechanger: role request write failed",
					"dpid", sw.DPID, "role", role, "error", err)
				sw.Channel.Disconnect()
				continue
			}
			st := c.pending.get(sw)
			st.append(PendingRequest{Xid: xid, Role: role, Cookie: cookie, Deadline: c.now().Add(c.timeout)})
			kept = append(kept, sw)
		}
	}
	*switches = kept
}

// DeliverRoleReply is called by the channel handler when a role-reply is
// received. It enforces the first-entry discipline: a reply must match the
// first pending entry's xid and role, or the channel is closed.
func (c *Changer) DeliverRoleReply(sw *ofp.Switch, xid uint32, role ofp.Role) error {
	st := c.pending.get(sw)
	first, ok := st.first()
	if !ok {
		sw.Channel.Disconnect()
		return &ProtocolViolationError{DPID: sw.DPID, Reason: "unsolicited"}
	}
	if first.Xid != xid {
		st.clear()
		sw.Channel.Disconnect()
		return &ProtocolViolationError{DPID: sw.DPID, Reason: "wrong_xid"}
	}
	if first.Role != role {
		st.clear()
		sw.Channel.Disconnect()
		return &ProtocolViolationError{DPID: sw.DPID, Reason: "wrong_role"}
	}
	sw.SetHARole(&role, ofp.True)
	st.dropFirst()
	return nil
}

// DeliverRoleRequestNotSupported is called when the switch answers the
// vendor role request with an OpenFlow error indicating it does not
// understand NX role. Per spec §9 Open Question 2, the switch's role is set
// to the requested role even though no reply arrived — this mirrors
// observed Open vSwitch behavior and must not be "corrected" to leave the
// role unset.
func (c *Changer) DeliverRoleRequestNotSupported(sw *ofp.Switch, xid uint32) error {
	st := c.pending.get(sw)
	first, ok := st.first()
	if !ok {
		sw.Channel.Disconnect()
		return &ProtocolViolationError{DPID: sw.DPID, Reason: "unsolicited"}
	}
	if first.Xid != xid {
		st.clear()
		sw.Channel.Disconnect()
		return &ProtocolViolationError{DPID: sw.DPID, Reason: "wrong_xid"}
	}
	role := first.Role
	sw.SetHARole(&role, ofp.False)
	st.dropFirst()
	return nil
}

// VerifyRoleReplyReceived is invoked by a TIMEOUT task. For each switch
// whose first pending entry still matches cookie, the reply never arrived
// in time: the switch's role is cleared, its capability reset to Unknown
// (never poisoned to False — a timeout is not a "not supported" answer),
// and it is disconnected. A switch whose first entry has a different cookie
// already had a later reply drain it, or was already removed; it is left
// untouched.
func (c *Changer) VerifyRoleReplyReceived(switches []*ofp.Switch, cookie uint64) {
	for _, sw := range switches {
		st := c.pending.get(sw)
		first, ok := st.first()
		if !ok || first.Cookie != cookie {
			continue
		}
		sw.SetHARole(nil, ofp.Unknown)
		st.clear()
		sw.Channel.Disconnect()
	}
}

// CheckFirstPendingRoleRequestXid reports whether xid matches the switch's
// first pending entry, letting the channel handler distinguish a role-reply
// from a message that should be forwarded to listeners.
func (c *Changer) CheckFirstPendingRoleRequestXid(sw *ofp.Switch, xid uint32) bool {
	first, ok := c.pending.get(sw).first()
	return ok && first.Xid == xid
}

// CheckFirstPendingRoleRequestCookie reports whether cookie matches the
// switch's first pending entry.
func (c *Changer) CheckFirstPendingRoleRequestCookie(sw *ofp.Switch, cookie uint64) bool {
	first, ok := c.pending.get(sw).first()
	return ok && first.Cookie == cookie
}

// HasPendingRoleRequest reports whether sw's first pending entry is a
// request for role, i.e. the protocol is already running for that role and
// a caller (e.g. rolemanager.ReassertRole) need not resubmit it.
func (c *Changer) HasPendingRoleRequest(sw *ofp.Switch, role ofp.Role) bool {
	first, ok := c.pending.get(sw).first()
	return ok && first.Role == role
}

// PendingLen returns the number of outstanding pending requests for sw,
// mainly for tests.
func (c *Changer) PendingLen(sw *ofp.Switch) int {
	return c.pending.get(sw).len()
}

// Forget drops a switch's pending-request state. Called on channel close:
// closing a channel asynchronously cancels all outstanding role state for
// that switch, and no caller blocks on it.
func (c *Changer) Forget(sw *ofp.Switch) {
	c.pending.forget(sw)
}
