// Package switchreg is the switch registry: the single authoritative map
// from datapath ID to connected Switch. It resolves DPID collisions (a
// second connection announcing a DPID already registered) and, when an
// external "big sync" source is configured, merges in switches connected to
// other cluster members so GetAllSwitchMap reflects the whole cluster rather
// than just this node's direct connections. The merge does not depend on the
// controller's current role.
package switchreg

import (
	"log/slog"
	"sync"

	"github.com/flowhaven/ofcore/internal/dispatch"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

// BigSyncSource supplies the cluster-wide view of switches connected to
// other controller nodes. An external collaborator: this package only
// declares the shape it needs (spec §1, "big sync" merge for SLAVE reads).
type BigSyncSource interface {
	Snapshot() map[uint64]*ofp.Switch
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithFlushOnReconnect controls whether a switch replacing a prior
// connection for the same DPID has its FlowMods cleared before being
// registered (spec §6, flushSwitchesOnReconnect config key).
func WithFlushOnReconnect(flush bool) Option {
	return func(r *Registry) { r.flushOnReconnect = flush }
}

// WithBigSyncSource sets the cluster-wide view merged into GetAllSwitchMap.
func WithBigSyncSource(src BigSyncSource) Option {
	return func(r *Registry) { r.bigSync = src }
}

// Registry is the switch registry described above.
type Registry struct {
	mu       sync.RWMutex
	switches map[uint64]*ofp.Switch

	dispatcher       *dispatch.Dispatcher
	logger           *slog.Logger
	flushOnReconnect bool
	bigSync          BigSyncSource
}

// New creates a Registry. Switch lifecycle Updates (added/removed) are
// enqueued on d.
func New(d *dispatch.Dispatcher, opts ...Option) *Registry {
	r := &Registry{
		switches:   make(map[uint64]*ofp.Switch),
		dispatcher: d,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AddSwitch registers sw under sw.DPID. Three cases, per spec §4.4:
//
//   - No existing entry: sw is registered and a SwitchAdded Update enqueued.
//   - Existing entry is the same *ofp.Switch: no-op (duplicate registration,
//     e.g. a retried handshake step).
//   - Existing entry is a different *ofp.Switch: the prior connection is
//     superseded — its outstanding requests are canceled, it is
//     disconnected, a SwitchRemoved Update is enqueued for it, sw replaces
//     it (with FlowMods cleared if flushOnReconnect is set), and a
//     SwitchAdded Update is enqueued for sw.
func (r *Registry) AddSwitch(sw *ofp.Switch) {
	r.mu.Lock()
	existing, had := r.switches[sw.DPID]
	if had && existing == sw {
		r.mu.Unlock()
		return
	}
	if had {
		r.logger.Info("switchreg: dpid collision, replacing prior connection",
			"dpid", sw.DPID, "old_remote", existing.RemoteAddr, "new_remote", sw.RemoteAddr)
		if r.flushOnReconnect {
			sw.FlowMods = make(map[uint64]struct{})
		}
	}
	r.switches[sw.DPID] = sw
	r.mu.Unlock()

	if had {
		existing.CancelOutstandingRequests()
		existing.Channel.Disconnect()
		r.enqueue(dispatch.Update{Kind: dispatch.SwitchRemoved, Switch: existing})
	}
	r.enqueue(dispatch.Update{Kind: dispatch.SwitchAdded, Switch: sw})
}

// RemoveSwitch unregisters sw, but only if it is still the current entry
// for its DPID — a switch already superseded by AddSwitch's collision
// handling must not remove the entry that replaced it. Cancels sw's
// outstanding requests and enqueues a SwitchRemoved Update.
func (r *Registry) RemoveSwitch(sw *ofp.Switch) {
	r.mu.Lock()
	current, ok := r.switches[sw.DPID]
	if !ok || current != sw {
		r.mu.Unlock()
		return
	}
	delete(r.switches, sw.DPID)
	r.mu.Unlock()

	sw.CancelOutstandingRequests()
	r.enqueue(dispatch.Update{Kind: dispatch.SwitchRemoved, Switch: sw})
}

// GetSwitch returns the locally-connected switch for dpid, if any. Unlike
// GetAllSwitchMap this never consults the big-sync source: a caller asking
// for one switch by DPID wants this node's own connection to it.
func (r *Registry) GetSwitch(dpid uint64) (*ofp.Switch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sw, ok := r.switches[dpid]
	return sw, ok
}

// GetAllDpids returns the DPIDs of every locally-connected switch.
func (r *Registry) GetAllDpids() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dpids := make([]uint64, 0, len(r.switches))
	for dpid := range r.switches {
		dpids = append(dpids, dpid)
	}
	return dpids
}

// GetAllSwitchMap returns a snapshot of every switch this controller knows
// about: its own direct connections, merged with the big-sync source's view
// of switches connected to other cluster members (present primarily so a
// SLAVE controller can still answer "what switches exist" queries about
// connections it does not itself hold). A local entry always wins over a
// big-sync entry for the same DPID, since the direct connection is
// authoritative.
func (r *Registry) GetAllSwitchMap() map[uint64]*ofp.Switch {
	r.mu.RLock()
	local := make(map[uint64]*ofp.Switch, len(r.switches))
	for dpid, sw := range r.switches {
		local[dpid] = sw
	}
	bigSync := r.bigSync
	r.mu.RUnlock()

	if bigSync == nil {
		return local
	}
	merged := bigSync.Snapshot()
	if merged == nil {
		merged = make(map[uint64]*ofp.Switch, len(local))
	}
	for dpid, sw := range local {
		merged[dpid] = sw
	}
	return merged
}

func (r *Registry) enqueue(u dispatch.Update) {
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.Enqueue(u); err != nil {
		r.logger.Warn("switchreg: failed to enqueue update", "kind", u.Kind, "error", err)
	}
}
