package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

type fakeMessage struct {
	typ ofp.MessageType
	xid uint32
}

func (m *fakeMessage) Type() ofp.MessageType { return m.typ }
func (m *fakeMessage) Xid() uint32           { return m.xid }

type fakePacketIn struct {
	fakeMessage
	data []byte
}

func (m *fakePacketIn) Data() []byte { return m.data }

func newTestSwitch() *ofp.Switch {
	return ofp.NewSwitch("10.0.0.1:6633", nil)
}

type recordingListener struct {
	mu       sync.Mutex
	received []ofp.Message
	cmd      Command
}

func (l *recordingListener) Receive(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
	l.mu.Lock()
	l.received = append(l.received, msg)
	l.mu.Unlock()
	return l.cmd
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

func TestDispatch_OrderedDelivery(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	var order []string
	var mu sync.Mutex
	record := func(name string) Listener {
		return listenerFunc(func(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Continue
		})
	}
	d.AddListener(ofp.TypePacketIn, record("first"))
	d.AddListener(ofp.TypePacketIn, record("second"))
	d.AddListener(ofp.TypePacketIn, record("third"))

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypePacketIn, xid: 1}, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("expected ordered delivery first,second,third, got %v", order)
	}
}

// listenerFunc adapts a function literal to the Listener interface.
type listenerFunc func(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command

func (f listenerFunc) Receive(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
	return f(sw, msg, ctx)
}

func TestDispatch_StopShortCircuits(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	first := &recordingListener{cmd: Stop}
	second := &recordingListener{cmd: Continue}
	d.AddListener(ofp.TypeEchoRequest, first)
	d.AddListener(ofp.TypeEchoRequest, second)

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypeEchoRequest, xid: 1}, nil)

	if first.count() != 1 {
		t.Fatalf("expected first listener invoked once, got %d", first.count())
	}
	if second.count() != 0 {
		t.Fatalf("expected second listener never invoked after Stop, got %d", second.count())
	}
}

func TestDispatch_SwitchFilterSkipped(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	l := &filteringListener{interested: false}
	d.AddListener(ofp.TypeEchoRequest, l)

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypeEchoRequest, xid: 1}, nil)

	if l.calls != 0 {
		t.Fatalf("expected uninterested listener skipped, got %d calls", l.calls)
	}
}

type filteringListener struct {
	interested bool
	calls      int
}

func (l *filteringListener) Receive(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
	l.calls++
	return Continue
}

func (l *filteringListener) IsInterested(sw *ofp.Switch) bool { return l.interested }

func TestDispatch_ListenerPanicIsSwallowed(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	panicking := listenerFunc(func(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
		panic("boom")
	})
	after := &recordingListener{cmd: Continue}
	d.AddListener(ofp.TypeEchoRequest, panicking)
	d.AddListener(ofp.TypeEchoRequest, after)

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypeEchoRequest, xid: 1}, nil)

	if after.count() != 1 {
		t.Fatalf("expected listener after the panicking one to still run, got %d", after.count())
	}
}

func TestDispatch_EthernetHeaderParsedIntoContext(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	var gotEth any
	var gotOK bool
	d.AddListener(ofp.TypePacketIn, listenerFunc(func(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
		gotEth, gotOK = ctx.Get(EthernetKey)
		return Continue
	}))

	frame := make([]byte, 14)
	frame[12] = 0x08
	frame[13] = 0x00 // IPv4
	sw := newTestSwitch()
	d.Dispatch(sw, &fakePacketIn{fakeMessage: fakeMessage{typ: ofp.TypePacketIn, xid: 1}, data: frame}, nil)

	if !gotOK {
		t.Fatal("expected ethernet header in dispatch context")
	}
	eth, ok := gotEth.(*ofp.EthernetHeader)
	if !ok || eth.EtherType != 0x0800 {
		t.Fatalf("expected parsed EtherType 0x0800, got %+v", gotEth)
	}
}

func TestDispatch_ShortFramePacketInSkipsContextNotListener(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	called := false
	d.AddListener(ofp.TypePacketIn, listenerFunc(func(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command {
		called = true
		if _, ok := ctx.Get(EthernetKey); ok {
			t.Fatal("expected no ethernet header for a too-short frame")
		}
		return Continue
	}))

	sw := newTestSwitch()
	d.Dispatch(sw, &fakePacketIn{fakeMessage: fakeMessage{typ: ofp.TypePacketIn, xid: 1}, data: []byte{1, 2, 3}}, nil)
	if !called {
		t.Fatal("expected listener still invoked despite parse failure")
	}
}

func TestGuard_DisableBlocksUntilInFlightReleases(t *testing.T) {
	g := NewGuard()
	release, ok := g.Acquire()
	if !ok {
		t.Fatal("expected guard initially enabled")
	}

	disabled := make(chan struct{})
	go func() {
		g.Disable()
		close(disabled)
	}()

	select {
	case <-disabled:
		t.Fatal("expected Disable to block while a dispatch is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-disabled:
	case <-time.After(time.Second):
		t.Fatal("expected Disable to return once the in-flight dispatch released")
	}

	if _, ok := g.Acquire(); ok {
		t.Fatal("expected Acquire to fail once disabled")
	}
}

func TestDispatch_DroppedWhileGuardDisabled(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	l := &recordingListener{cmd: Continue}
	d.AddListener(ofp.TypeEchoRequest, l)
	d.guard.Disable()

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypeEchoRequest, xid: 1}, nil)

	if l.count() != 0 {
		t.Fatalf("expected no delivery while guard disabled, got %d", l.count())
	}
}

type haRecorder struct {
	mu        sync.Mutex
	old, new_ []ofp.Role
}

func (r *haRecorder) RoleChanged(oldRole, newRole ofp.Role, description string) {
	r.mu.Lock()
	r.old = append(r.old, oldRole)
	r.new_ = append(r.new_, newRole)
	r.mu.Unlock()
}

func TestDispatch_EnteringSlaveDisablesGuardBeforeNotify(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	var guardWasDisabled atomic.Bool
	d.AddHAListener(haListenerFunc(func(oldRole, newRole ofp.Role, description string) {
		if _, ok := d.guard.Acquire(); !ok {
			guardWasDisabled.Store(true)
		}
	}))

	if err := d.Enqueue(Update{Kind: HARoleChanged, OldRole: ofp.RoleMaster, NewRole: ofp.RoleSlave}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if guardWasDisabled.Load() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !guardWasDisabled.Load() {
		t.Fatal("expected guard disabled before HA listener saw the SLAVE transition")
	}
	if _, ok := d.guard.Acquire(); ok {
		t.Fatal("expected guard to remain disabled after entering SLAVE")
	}
}

type haListenerFunc func(oldRole, newRole ofp.Role, description string)

func (f haListenerFunc) RoleChanged(oldRole, newRole ofp.Role, description string) {
	f(oldRole, newRole, description)
}

func TestDispatch_LeavingSlaveEnablesGuardAfterNotify(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)
	d.guard.Disable()

	var guardWasEnabledDuringNotify atomic.Bool
	d.AddHAListener(haListenerFunc(func(oldRole, newRole ofp.Role, description string) {
		if _, ok := d.guard.Acquire(); ok {
			guardWasEnabledDuringNotify.Store(true)
		}
	}))

	if err := d.Enqueue(Update{Kind: HARoleChanged, OldRole: ofp.RoleSlave, NewRole: ofp.RoleMaster}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.guard.Acquire(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if guardWasEnabledDuringNotify.Load() {
		t.Fatal("expected guard still disabled while HA listener was notified of leaving SLAVE")
	}
	if _, ok := d.guard.Acquire(); !ok {
		t.Fatal("expected guard re-enabled after HA listeners notified")
	}
}

func TestDispatch_SwitchLifecycleUpdates(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	added := make(chan *ofp.Switch, 1)
	removed := make(chan *ofp.Switch, 1)
	portChanged := make(chan uint64, 1)
	d.AddSwitchListener(&switchListenerFuncs{
		added:   func(sw *ofp.Switch) { added <- sw },
		removed: func(sw *ofp.Switch) { removed <- sw },
		port:    func(dpid uint64) { portChanged <- dpid },
	})

	sw := newTestSwitch()
	sw.SetDPID(42)
	if err := d.Enqueue(Update{Kind: SwitchAdded, Switch: sw}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case got := <-added:
		if got != sw {
			t.Fatal("expected same switch pointer delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SwitchAdded")
	}

	if err := d.Enqueue(Update{Kind: SwitchPortChanged, DPID: 42}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case dpid := <-portChanged:
		if dpid != 42 {
			t.Fatalf("expected dpid 42, got %d", dpid)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SwitchPortChanged")
	}

	if err := d.Enqueue(Update{Kind: SwitchRemoved, Switch: sw}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case got := <-removed:
		if got != sw {
			t.Fatal("expected same switch pointer delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SwitchRemoved")
	}
}

type switchListenerFuncs struct {
	added   func(*ofp.Switch)
	removed func(*ofp.Switch)
	port    func(uint64)
}

func (f *switchListenerFuncs) SwitchAdded(sw *ofp.Switch)    { f.added(sw) }
func (f *switchListenerFuncs) SwitchRemoved(sw *ofp.Switch)  { f.removed(sw) }
func (f *switchListenerFuncs) SwitchPortChanged(dpid uint64) { f.port(dpid) }

func TestDispatch_EnqueueAfterCloseReturnsQueueClosed(t *testing.T) {
	d := New()
	d.Close()

	err := d.Enqueue(Update{Kind: SwitchAdded, Switch: newTestSwitch()})
	if _, ok := err.(QueueClosedError); !ok {
		t.Fatalf("expected QueueClosedError, got %v", err)
	}
}

func TestDispatchContext_SetGet(t *testing.T) {
	ctx := &DispatchContext{}
	if _, ok := ctx.Get("missing"); ok {
		t.Fatal("expected missing key to report ok=false")
	}
	ctx.Set("k", 7)
	v, ok := ctx.Get("k")
	if !ok || v.(int) != 7 {
		t.Fatalf("expected 7, got %v ok=%v", v, ok)
	}
}

func TestAddRemoveListener(t *testing.T) {
	d := New()
	t.Cleanup(d.Close)

	l := &recordingListener{cmd: Continue}
	d.AddListener(ofp.TypeHello, l)
	d.RemoveListener(ofp.TypeHello, l)

	sw := newTestSwitch()
	d.Dispatch(sw, &fakeMessage{typ: ofp.TypeHello, xid: 1}, nil)
	if l.count() != 0 {
		t.Fatalf("expected removed listener not invoked, got %d", l.count())
	}
}
