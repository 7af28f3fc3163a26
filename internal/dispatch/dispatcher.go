// Package dispatch is the message dispatcher: it delivers decoded OpenFlow
// messages to per-type listeners in a fixed total order, pre-parses the
// Ethernet header on PACKET_IN, and drains a bounded FIFO of lifecycle
// Updates (switch add/remove/port-change, HA role transitions, controller
// cluster membership) on a single worker goroutine. The Dispatch Guard
// suspends message delivery for the duration of a SLAVE-role transition.
package dispatch

import (
	"log/slog"
	"os"
	"sync"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

const defaultQueueSize = 256

// EthernetParser decodes the Ethernet header of a PACKET_IN payload. The
// default is ofp.ParseEthernetHeader; tests may substitute their own.
type EthernetParser func(data []byte) (*ofp.EthernetHeader, error)

// FatalFunc is invoked for a condition the dispatcher cannot recover from on
// its own (reserved for a future storage-backed listener registry; nothing
// in this core triggers it today). Overridable so tests never exercise
// os.Exit.
type FatalFunc func(reason string, err error)

func defaultFatal(reason string, err error) {
	slog.Error("dispatch: fatal", "reason", reason, "error", err)
	os.Exit(1)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithQueueSize overrides the default bounded Update queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan Update, n) }
}

// WithEthernetParser overrides the PACKET_IN Ethernet header parser.
func WithEthernetParser(p EthernetParser) Option {
	return func(d *Dispatcher) { d.ethParse = p }
}

// WithFatalFunc overrides the fatal-condition hook, mainly for tests.
func WithFatalFunc(f FatalFunc) Option {
	return func(d *Dispatcher) { d.fatal = f }
}

// Dispatcher is the role-aware message dispatcher described above.
type Dispatcher struct {
	mu              sync.RWMutex
	listeners       map[ofp.MessageType][]Listener
	switchListeners []SwitchListener
	haListeners     []HAListener
	nodeIPListeners []NodeIPListener

	guard    *Guard
	ctxPool  sync.Pool
	ethParse EthernetParser
	logger   *slog.Logger
	fatal    FatalFunc

	queue  chan Update
	stopCh chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

// New creates a Dispatcher and starts its single update-draining worker.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		listeners: make(map[ofp.MessageType][]Listener),
		guard:     NewGuard(),
		ethParse:  ofp.ParseEthernetHeader,
		logger:    slog.Default(),
		fatal:     defaultFatal,
		queue:     make(chan Update, defaultQueueSize),
		stopCh:    make(chan struct{}),
	}
	d.ctxPool.New = func() any { return &DispatchContext{} }
	for _, o := range opts {
		o(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Close stops the update worker and waits for it to drain its current item.
// Queued-but-undrained updates are discarded. Idempotent.
func (d *Dispatcher) Close() {
	d.stop.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// AddListener registers l for msgType, appended after every listener already
// registered for that type. Copy-on-write: a Dispatch already in flight sees
// the snapshot it read, never a partial mutation.
func (d *Dispatcher) AddListener(msgType ofp.MessageType, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.listeners[msgType]
	next := make([]Listener, len(old)+1)
	copy(next, old)
	next[len(old)] = l
	d.listeners[msgType] = next
}

// RemoveListener unregisters l from msgType, if present.
func (d *Dispatcher) RemoveListener(msgType ofp.MessageType, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.listeners[msgType]
	next := make([]Listener, 0, len(old))
	for _, x := range old {
		if x != l {
			next = append(next, x)
		}
	}
	d.listeners[msgType] = next
}

// AddSwitchListener registers l to observe switch lifecycle Updates.
func (d *Dispatcher) AddSwitchListener(l SwitchListener) {
	d.mu.Lock()
	d.switchListeners = append(append([]SwitchListener(nil), d.switchListeners...), l)
	d.mu.Unlock()
}

// AddHAListener registers l to observe HA role transition Updates.
func (d *Dispatcher) AddHAListener(l HAListener) {
	d.mu.Lock()
	d.haListeners = append(append([]HAListener(nil), d.haListeners...), l)
	d.mu.Unlock()
}

// AddNodeIPListener registers l to observe controller cluster membership
// Updates.
func (d *Dispatcher) AddNodeIPListener(l NodeIPListener) {
	d.mu.Lock()
	d.nodeIPListeners = append(append([]NodeIPListener(nil), d.nodeIPListeners...), l)
	d.mu.Unlock()
}

// Dispatch delivers msg to every listener registered for its type, in
// registration order, stopping early if a listener returns Stop. If the
// guard is currently disabled (a SLAVE transition is in progress), the
// message is dropped and Dispatch returns immediately. Passing a nil ctx
// gets one from the free list, reset, and returned to the pool before
// Dispatch returns.
func (d *Dispatcher) Dispatch(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) {
	release, ok := d.guard.Acquire()
	if !ok {
		return
	}
	defer release()

	owned := ctx == nil
	if owned {
		ctx = d.ctxPool.Get().(*DispatchContext)
		ctx.reset()
		defer d.ctxPool.Put(ctx)
	}

	if msg.Type() == ofp.TypePacketIn && d.ethParse != nil {
		if pkt, ok := msg.(ofp.PacketInMessage); ok {
			if eth, err := d.ethParse(pkt.Data()); err == nil {
				ctx.Set(EthernetKey, eth)
			} else {
				d.logger.Debug("dispatch: ethernet parse failed", "dpid", sw.DPID, "error", err)
			}
		}
	}

	d.mu.RLock()
	listeners := d.listeners[msg.Type()]
	d.mu.RUnlock()

	for _, l := range listeners {
		if sf, ok := l.(SwitchFilter); ok && !sf.IsInterested(sw) {
			continue
		}
		if d.invoke(l, sw, msg, ctx) == Stop {
			break
		}
	}
}

func (d *Dispatcher) invoke(l Listener, sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) (cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: listener panicked", "dpid", sw.DPID, "msg_type", msg.Type(), "panic", r)
			cmd = Continue
		}
	}()
	return l.Receive(sw, msg, ctx)
}

// Enqueue adds u to the bounded update queue, blocking if it is full. It
// returns QueueClosedError instead of blocking forever once Close has been
// called, so a producer racing with shutdown never deadlocks.
func (d *Dispatcher) Enqueue(u Update) error {
	select {
	case <-d.stopCh:
		return QueueClosedError{}
	default:
	}
	select {
	case d.queue <- u:
		return nil
	case <-d.stopCh:
		return QueueClosedError{}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case u := <-d.queue:
			d.process(u)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) process(u Update) {
	switch u.Kind {
	case SwitchAdded:
		d.mu.RLock()
		ls := d.switchListeners
		d.mu.RUnlock()
		for _, l := range ls {
			d.safeSwitchCall(func() { l.SwitchAdded(u.Switch) })
		}
	case SwitchRemoved:
		d.mu.RLock()
		ls := d.switchListeners
		d.mu.RUnlock()
		for _, l := range ls {
			d.safeSwitchCall(func() { l.SwitchRemoved(u.Switch) })
		}
	case SwitchPortChanged:
		d.mu.RLock()
		ls := d.switchListeners
		d.mu.RUnlock()
		for _, l := range ls {
			d.safeSwitchCall(func() { l.SwitchPortChanged(u.DPID) })
		}
	case HARoleChanged:
		d.processHARoleChanged(u)
	case ControllerNodeIPsChanged:
		d.mu.RLock()
		ls := d.nodeIPListeners
		d.mu.RUnlock()
		for _, l := range ls {
			cur, added, removed := u.Current, u.Added, u.Removed
			d.safeSwitchCall(func() { l.ControllerNodeIPsChanged(cur, added, removed) })
		}
	}
}

// processHARoleChanged implements the ordering spec §4.5 requires: the
// guard is disabled before HA listeners learn of a transition into SLAVE
// (so no message reaches an application-class listener on the stale
// assumption it is still MASTER), and re-enabled only after HA listeners
// have learned of a transition out of SLAVE.
func (d *Dispatcher) processHARoleChanged(u Update) {
	enteringSlave := u.NewRole == ofp.RoleSlave
	leavingSlave := u.OldRole == ofp.RoleSlave && u.NewRole != ofp.RoleSlave

	if enteringSlave {
		d.guard.Disable()
	}

	d.mu.RLock()
	ls := d.haListeners
	d.mu.RUnlock()
	for _, l := range ls {
		old, new_, desc := u.OldRole, u.NewRole, u.Description
		d.safeSwitchCall(func() { l.RoleChanged(old, new_, desc) })
	}

	if leavingSlave {
		d.guard.Enable()
	}
}

func (d *Dispatcher) safeSwitchCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: lifecycle listener panicked", "panic", r)
		}
	}()
	fn()
}

// Fatal invokes the configured FatalFunc. Exposed for forward compatibility
// with an external storage-backed listener registry (out of scope here);
// nothing in this package calls it today.
func (d *Dispatcher) Fatal(reason string, err error) {
	d.fatal(reason, err)
}
