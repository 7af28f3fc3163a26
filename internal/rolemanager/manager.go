// Package rolemanager implements the controller's HA role state machine. It
// holds the single effective role (MASTER, EQUAL, or SLAVE), dampens rapid
// oscillation with a debounce timer, and notifies every registered channel
// of the effective role in the same total order role changes actually
// occurred in.
package rolemanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowhaven/ofcore/internal/dispatch"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

// DampenInterval is how long setRole waits, after the most recent call in a
// burst, before the role change actually takes effect and is broadcast. A second
// call during the window cancels and restarts the timer rather than
// stacking a second pending change — the same cancel-then-recreate idiom
// used to reconcile a changed config in place of a stale one.
const DampenInterval = 2000 * time.Millisecond

// RoleChannel is the per-connection handle the manager notifies of role
// transitions; satisfied by the acceptor's channel handler.
type RoleChannel interface {
	SendRoleReply(ctx context.Context, role ofp.Role) error

	// HasPendingRoleRequest reports whether a role-request for role is
	// already in flight on this channel (the role-changer's first pending
	// entry for the underlying switch). ReassertRole uses this to avoid
	// redundantly resubmitting a request the protocol is already running.
	HasPendingRoleRequest(role ofp.Role) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDampenInterval overrides DampenInterval, mainly for tests.
func WithDampenInterval(d time.Duration) Option {
	return func(m *Manager) { m.dampen = d }
}

// withNow overrides the clock, for deterministic tests. Unexported:
// production callers always use wall time.
func withNow(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// RoleInfo is the manager's current role and how it got there.
type RoleInfo struct {
	Role        ofp.Role
	Description string
	Timestamp   time.Time
}

// Manager owns the controller's single effective role.
type Manager struct {
	mu          sync.Mutex
	role        ofp.Role
	description string
	timestamp   time.Time

	channels map[RoleChannel]struct{}

	pendingRole ofp.Role
	pendingDesc string
	timer       *time.Timer

	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	dampen     time.Duration
	now        func() time.Time
}

// New creates a Manager starting in EQUAL, the safe default before any
// configuration or cluster coordination has run.
func New(d *dispatch.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		role:       ofp.RoleEqual,
		channels:   make(map[RoleChannel]struct{}),
		dispatcher: d,
		logger:     slog.Default(),
		dampen:     DampenInterval,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.timestamp = m.now()
	return m
}

// SetRole requests a transition to role, with description recorded for
// GetRoleInfo and logging. A call naming the role already in effect (and no
// pending change in flight) is a no-op. Otherwise the change is dampened: a
// timer is (re)armed for dampen, and only fires — applying the role and
// notifying every channel — if no further SetRole call lands first. This
// absorbs a flapping cluster leader election without spamming every switch
// with role-request churn.
func (m *Manager) SetRole(role ofp.Role, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil && m.role == role {
		return
	}

	m.pendingRole = role
	m.pendingDesc = description

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.dampen, m.applyPending)
}

func (m *Manager) applyPending() {
	m.mu.Lock()
	newRole := m.pendingRole
	desc := m.pendingDesc
	oldRole := m.role
	m.role = newRole
	m.description = desc
	m.timestamp = m.now()
	m.timer = nil
	channels := make([]RoleChannel, 0, len(m.channels))
	for ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	if oldRole == newRole {
		return
	}

	m.logger.Info("rolemanager: effective role changed", "old_role", oldRole, "new_role", newRole, "description", desc)

	for _, ch := range channels {
		m.reassert(ch, newRole)
	}

	if m.dispatcher != nil {
		if err := m.dispatcher.Enqueue(dispatch.Update{
			Kind:        dispatch.HARoleChanged,
			OldRole:     oldRole,
			NewRole:     newRole,
			Description: desc,
		}); err != nil {
			m.logger.Warn("rolemanager: failed to enqueue HA role update", "error", err)
		}
	}
}

// AddChannelAndSendInitialRole registers ch and immediately sends it the
// current effective role — a channel joining mid-stream must not wait for
// the next transition to learn where the cluster stands.
func (m *Manager) AddChannelAndSendInitialRole(ch RoleChannel) {
	m.mu.Lock()
	m.channels[ch] = struct{}{}
	role := m.role
	m.mu.Unlock()

	m.reassert(ch, role)
}

// RemoveChannel unregisters ch, typically on disconnect.
func (m *Manager) RemoveChannel(ch RoleChannel) {
	m.mu.Lock()
	delete(m.channels, ch)
	m.mu.Unlock()
}

// ReassertRole resends role to ch without changing the manager's own state,
// used when a channel reports it missed or mishandled a prior notification.
// It is a no-op unless role is the manager's current effective role and ch
// has no role-request already in flight for it (spec §4.2): reasserting a
// stale role, or one the protocol is already mid-flight on, would just
// duplicate work the next real transition (or the in-flight request's own
// completion) already handles.
func (m *Manager) ReassertRole(ch RoleChannel, role ofp.Role) {
	m.mu.Lock()
	current := m.role
	m.mu.Unlock()

	if current != role || ch.HasPendingRoleRequest(role) {
		return
	}
	m.reassert(ch, role)
}

func (m *Manager) reassert(ch RoleChannel, role ofp.Role) {
	if err := ch.SendRoleReply(context.Background(), role); err != nil {
		m.logger.Warn("rolemanager: failed to send role to channel", "role", role, "error", err)
	}
}

// GetRoleInfo returns the manager's current effective role, its description,
// and when it took effect. Reflects only applied changes, never a pending
// dampened one still in flight.
func (m *Manager) GetRoleInfo() RoleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return RoleInfo{Role: m.role, Description: m.description, Timestamp: m.timestamp}
}
