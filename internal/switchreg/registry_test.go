package switchreg

import (
	"context"
	"testing"

	"github.com/flowhaven/ofcore/internal/dispatch"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

type fakeChannel struct {
	disconnected int
}

func (c *fakeChannel) Write(ctx context.Context, m ofp.Message) error { return nil }
func (c *fakeChannel) Disconnect()                                    { c.disconnected++ }
func (c *fakeChannel) RemoteAddr() string                             { return "10.0.0.1:1" }

func newSwitch(dpid uint64, remote string) (*ofp.Switch, *fakeChannel) {
	ch := &fakeChannel{}
	sw := ofp.NewSwitch(remote, ch)
	sw.SetDPID(dpid)
	return sw, ch
}

type switchListener struct {
	added   []*ofp.Switch
	removed []*ofp.Switch
}

func (l *switchListener) SwitchAdded(sw *ofp.Switch)    { l.added = append(l.added, sw) }
func (l *switchListener) SwitchRemoved(sw *ofp.Switch)  { l.removed = append(l.removed, sw) }
func (l *switchListener) SwitchPortChanged(dpid uint64) {}

func TestAddSwitch_NewRegistration(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)

	l := &switchListener{}
	done := make(chan struct{}, 1)
	d.AddSwitchListener(&syncSwitchListener{inner: l, notify: done})

	r := New(d)
	sw, _ := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(sw)
	<-done

	got, ok := r.GetSwitch(1)
	if !ok || got != sw {
		t.Fatalf("expected switch 1 registered, got %v ok=%v", got, ok)
	}
	if len(l.added) != 1 || l.added[0] != sw {
		t.Fatalf("expected SwitchAdded delivered once for sw, got %v", l.added)
	}
}

func TestAddSwitch_SameReferenceIsNoop(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)
	r := New(d)

	sw, _ := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(sw)
	r.AddSwitch(sw) // should not enqueue a second Update or touch the channel

	got, ok := r.GetSwitch(1)
	if !ok || got != sw {
		t.Fatalf("expected switch 1 still registered once, got %v ok=%v", got, ok)
	}
}

func TestAddSwitch_CollisionReplacesAndDisconnectsOld(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)

	l := &switchListener{}
	done := make(chan struct{}, 8)
	d.AddSwitchListener(&syncSwitchListener{inner: l, notify: done})

	r := New(d)
	oldSw, oldCh := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(oldSw)
	<-done

	newSw, _ := newSwitch(1, "10.0.0.2:1")
	r.AddSwitch(newSw)
	<-done // removed
	<-done // added

	if oldCh.disconnected != 1 {
		t.Fatalf("expected old channel disconnected once, got %d", oldCh.disconnected)
	}
	got, ok := r.GetSwitch(1)
	if !ok || got != newSw {
		t.Fatalf("expected new switch to own dpid 1, got %v", got)
	}
	if len(l.removed) != 1 || l.removed[0] != oldSw {
		t.Fatalf("expected SwitchRemoved for old switch, got %v", l.removed)
	}
	if len(l.added) != 2 {
		t.Fatalf("expected two SwitchAdded updates (old then new), got %d", len(l.added))
	}
}

func TestAddSwitch_CollisionFlushesFlowModsWhenConfigured(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)
	r := New(d, WithFlushOnReconnect(true))

	oldSw, _ := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(oldSw)

	newSw, _ := newSwitch(1, "10.0.0.2:1")
	newSw.FlowMods[99] = struct{}{}
	r.AddSwitch(newSw)

	if len(newSw.FlowMods) != 0 {
		t.Fatalf("expected FlowMods cleared on collision replacement, got %v", newSw.FlowMods)
	}
}

func TestRemoveSwitch_OnlyRemovesCurrentEntry(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)
	r := New(d)

	oldSw, _ := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(oldSw)
	newSw, _ := newSwitch(1, "10.0.0.2:1")
	r.AddSwitch(newSw) // oldSw is now superseded

	r.RemoveSwitch(oldSw) // stale reference, must not remove newSw's entry

	got, ok := r.GetSwitch(1)
	if !ok || got != newSw {
		t.Fatal("expected stale RemoveSwitch(oldSw) to leave newSw registered")
	}

	r.RemoveSwitch(newSw)
	if _, ok := r.GetSwitch(1); ok {
		t.Fatal("expected newSw removed")
	}
}

func TestGetAllDpids(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)
	r := New(d)

	sw1, _ := newSwitch(1, "10.0.0.1:1")
	sw2, _ := newSwitch(2, "10.0.0.2:1")
	r.AddSwitch(sw1)
	r.AddSwitch(sw2)

	dpids := r.GetAllDpids()
	if len(dpids) != 2 {
		t.Fatalf("expected 2 dpids, got %v", dpids)
	}
}

type fakeBigSync struct {
	snapshot map[uint64]*ofp.Switch
}

func (f *fakeBigSync) Snapshot() map[uint64]*ofp.Switch { return f.snapshot }

func TestGetAllSwitchMap_MergesBigSyncLocalWins(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)

	localSw, _ := newSwitch(1, "10.0.0.1:1")
	remoteSw, _ := newSwitch(2, "10.0.0.2:1")
	conflictingSw, _ := newSwitch(1, "remote-view-of-1")

	r := New(d, WithBigSyncSource(&fakeBigSync{snapshot: map[uint64]*ofp.Switch{
		1: conflictingSw,
		2: remoteSw,
	}}))
	r.AddSwitch(localSw)

	merged := r.GetAllSwitchMap()
	if len(merged) != 2 {
		t.Fatalf("expected 2 entries in merged map, got %d", len(merged))
	}
	if merged[1] != localSw {
		t.Fatal("expected local entry to win over big-sync entry for the same dpid")
	}
	if merged[2] != remoteSw {
		t.Fatal("expected big-sync-only entry to be present")
	}
}

func TestGetAllSwitchMap_NoBigSyncSource(t *testing.T) {
	d := dispatch.New()
	t.Cleanup(d.Close)
	r := New(d)

	sw, _ := newSwitch(1, "10.0.0.1:1")
	r.AddSwitch(sw)

	merged := r.GetAllSwitchMap()
	if len(merged) != 1 || merged[1] != sw {
		t.Fatalf("expected local-only map, got %v", merged)
	}
}

// syncSwitchListener wraps a switchListener and signals notify after each
// callback, so tests can wait for the dispatcher's async worker to deliver
// an Update instead of sleeping.
type syncSwitchListener struct {
	inner  *switchListener
	notify chan struct{}
}

func (s *syncSwitchListener) SwitchAdded(sw *ofp.Switch) {
	s.inner.SwitchAdded(sw)
	s.notify <- struct{}{}
}

func (s *syncSwitchListener) SwitchRemoved(sw *ofp.Switch) {
	s.inner.SwitchRemoved(sw)
	s.notify <- struct{}{}
}

func (s *syncSwitchListener) SwitchPortChanged(dpid uint64) {}
