// Package acceptor is the connection acceptor and per-connection channel
// handler: it accepts TCP connections, drives each one through the
// OpenFlow handshake state machine, and on reaching ACTIVE, registers the
// switch and hands subsequent messages to the dispatcher. Modeled on a
// plain accept-loop-plus-per-connection-goroutine server: Serve(ctx) loops
// on Accept, logs and continues past a transient accept error, and returns
// ctx.Err() once the context is canceled.
package acceptor

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/flowhaven/ofcore/idgen"
	"github.com/flowhaven/ofcore/internal/dispatch"
	"github.com/flowhaven/ofcore/internal/obskit"
	"github.com/flowhaven/ofcore/internal/rolechanger"
	"github.com/flowhaven/ofcore/internal/rolemanager"
	"github.com/flowhaven/ofcore/internal/switchreg"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

// DefaultHandshakeTimeout bounds how long a connection may take to reach
// ACTIVE before it is dropped.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultIdleTimeout bounds how long an ACTIVE connection may go without
// sending anything (an echo-request included) before it is dropped.
const DefaultIdleTimeout = 3 * DefaultEchoInterval

// DefaultEchoInterval is purely informational here — the controller does
// not originate echo-requests itself (a connected switch is expected to),
// but DefaultIdleTimeout is expressed as a multiple of it to document the
// relationship.
const DefaultEchoInterval = 15 * time.Second

const readBufferSize = 4096

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Listener) { a.logger = l }
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Listener) { a.handshakeTimeout = d }
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *Listener) { a.idleTimeout = d }
}

// WithSessionIDGenerator overrides the per-connection correlation ID
// generator (see obskit.WithSessionID).
func WithSessionIDGenerator(gen idgen.Generator) Option {
	return func(a *Listener) { a.newSessionID = gen }
}

// WithWorkerThreads bounds the number of connections handled concurrently,
// mirroring the `workerthreads` config key (spec §6): n <= 0 means the
// default cached-pool behavior of one goroutine per connection; n > 0
// admits at most n connections into handle() at a time, queuing the rest
// in Accept's backlog the way a fixed-size I/O thread pool would.
func WithWorkerThreads(n int) Option {
	return func(a *Listener) {
		if n > 0 {
			a.sem = make(chan struct{}, n)
		} else {
			a.sem = nil
		}
	}
}

// Listener accepts OpenFlow connections on a TCP address.
type Listener struct {
	ln      net.Listener
	factory ofp.MessageFactory

	registry    *switchreg.Registry
	roleManager *rolemanager.Manager
	changer     *rolechanger.Changer
	dispatcher  *dispatch.Dispatcher

	logger           *slog.Logger
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	newSessionID     idgen.Generator

	// sem bounds concurrently handled connections when workerthreads > 0;
	// nil means unbounded (the cached-pool default).
	sem chan struct{}
}

// New binds addr and returns a Listener ready for Serve.
func New(
	addr string,
	factory ofp.MessageFactory,
	registry *switchreg.Registry,
	roleManager *rolemanager.Manager,
	changer *rolechanger.Changer,
	dispatcher *dispatch.Dispatcher,
	opts ...Option,
) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	a := &Listener{
		ln:               ln,
		factory:          factory,
		registry:         registry,
		roleManager:      roleManager,
		changer:          changer,
		dispatcher:       dispatcher,
		logger:           slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		idleTimeout:      DefaultIdleTimeout,
		newSessionID:     idgen.Prefixed("sess_", idgen.Default),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Addr returns the bound listen address.
func (a *Listener) Addr() net.Addr { return a.ln.Addr() }

// Serve accepts connections until ctx is canceled. A transient accept error
// is logged and the loop continues; ctx cancellation closes the listener
// and Serve returns ctx.Err().
func (a *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("acceptor: accept error", "error", err)
			continue
		}
		if a.sem != nil {
			select {
			case a.sem <- struct{}{}:
			case <-ctx.Done():
				conn.Close()
				return ctx.Err()
			}
		}
		go a.handle(ctx, conn)
	}
}

// Close stops accepting new connections.
func (a *Listener) Close() error {
	return a.ln.Close()
}

func (a *Listener) handle(ctx context.Context, conn net.Conn) {
	if a.sem != nil {
		defer func() { <-a.sem }()
	}

	ch := newChannelHandler(conn, a.factory, a.changer)
	sw := ofp.NewSwitch(conn.RemoteAddr().String(), ch)
	ch.sw = sw
	st := stateWaitHello

	ctx = obskit.WithSessionID(ctx, a.newSessionID())
	ctx = obskit.WithRemoteAddr(ctx, sw.RemoteAddr)
	log := a.logger.With("session_id", obskit.SessionID(ctx), "remote", sw.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(a.handshakeTimeout))
	if err := ch.Write(ctx, a.factory.NewHello(sw.NextXid())); err != nil {
		log.Warn("acceptor: failed to write hello", "error", err)
		ch.Disconnect()
		return
	}

	defer a.cleanup(sw, ch, &st)

	buf := make([]byte, 0, readBufferSize)
	tmp := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			log.Debug("acceptor: connection closed", "dpid", sw.DPID, "error", err)
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			msg, consumed, perr := a.factory.Parse(buf)
			if perr != nil {
				log.Warn("acceptor: parse error", "dpid", sw.DPID, "error", perr)
				ch.Disconnect()
				return
			}
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]
			var ok bool
			ctx, ok = a.step(ctx, &st, sw, ch, msg)
			if !ok {
				return
			}
		}
	}
}

// step advances the handshake state machine by one message, or (once
// ACTIVE) routes it to the role-reply interceptor and the dispatcher. It
// returns the context to use for subsequent messages (carrying the DPID
// once learned) and false if the connection must be closed.
func (a *Listener) step(ctx context.Context, st *state, sw *ofp.Switch, ch *channelHandler, msg ofp.Message) (context.Context, bool) {
	if msg.Type() == ofp.TypeEchoRequest {
		if err := ch.Write(ctx, a.factory.NewEchoReply(msg.Xid())); err != nil {
			a.logger.Warn("acceptor: echo reply write failed", "remote", obskit.RemoteAddr(ctx), "error", err)
			ch.Disconnect()
			return ctx, false
		}
		a.refreshDeadline(sw, ch, *st)
		return ctx, true
	}

	switch *st {
	case stateWaitHello:
		if msg.Type() != ofp.TypeHello {
			return ctx, a.fail(ctx, ch, *st, "expected HELLO")
		}
		if err := ch.Write(ctx, a.factory.NewFeaturesRequest(sw.NextXid())); err != nil {
			return ctx, a.writeFailed(ctx, ch, err)
		}
		*st = stateWaitFeaturesReply

	case stateWaitFeaturesReply:
		fr, ok := msg.(ofp.FeaturesReplyMessage)
		if msg.Type() != ofp.TypeFeaturesReply || !ok {
			return ctx, a.fail(ctx, ch, *st, "expected FEATURES_REPLY")
		}
		sw.SetDPID(fr.DPID())
		ctx = obskit.WithDPID(ctx, fr.DPID())
		if err := ch.Write(ctx, a.factory.NewSetConfig(sw.NextXid())); err != nil {
			return ctx, a.writeFailed(ctx, ch, err)
		}
		if err := ch.Write(ctx, a.factory.NewGetConfigRequest(sw.NextXid())); err != nil {
			return ctx, a.writeFailed(ctx, ch, err)
		}
		*st = stateWaitConfigReply

	case stateWaitConfigReply:
		if msg.Type() != ofp.TypeGetConfigReply {
			return ctx, a.fail(ctx, ch, *st, "expected GET_CONFIG_REPLY")
		}
		if err := ch.Write(ctx, a.factory.NewDescriptionStatsRequest(sw.NextXid())); err != nil {
			return ctx, a.writeFailed(ctx, ch, err)
		}
		*st = stateWaitDescriptionStatsReply

	case stateWaitDescriptionStatsReply:
		if msg.Type() != ofp.TypeStatsReply {
			return ctx, a.fail(ctx, ch, *st, "expected STATS_REPLY")
		}
		a.registry.AddSwitch(sw)
		a.roleManager.AddChannelAndSendInitialRole(ch)
		*st = stateActive
		a.logger.Info("acceptor: switch active", "dpid", sw.DPID, "remote", obskit.RemoteAddr(ctx), "session_id", obskit.SessionID(ctx))

	case stateActive:
		a.dispatchOrInterceptRole(sw, msg)
	}

	a.refreshDeadline(sw, ch, *st)
	return ctx, true
}

// dispatchOrInterceptRole intercepts a role-reply or a "role request not
// supported" error correlated to an outstanding rolechanger request before
// it ever reaches application listeners; everything else goes to Dispatch.
func (a *Listener) dispatchOrInterceptRole(sw *ofp.Switch, msg ofp.Message) {
	if rm, ok := msg.(ofp.RoleMessage); ok &&
		rm.VendorID() == ofp.NxVendorID && rm.Subtype() == ofp.NxRoleReplySubtype &&
		a.changer.CheckFirstPendingRoleRequestXid(sw, msg.Xid()) {
		role, ok := ofp.RoleFromNxValue(rm.NxRole())
		if !ok {
			a.logger.Warn("acceptor: role reply carried unrecognized nx_role value", "dpid", sw.DPID, "value", rm.NxRole())
			sw.Channel.Disconnect()
			return
		}
		if err := a.changer.DeliverRoleReply(sw, msg.Xid(), role); err != nil {
			a.logger.Warn("acceptor: role reply rejected", "dpid", sw.DPID, "error", err)
		}
		return
	}

	if em, ok := msg.(ofp.ErrorMessage); ok && em.IsVendorNotSupported() &&
		a.changer.CheckFirstPendingRoleRequestXid(sw, msg.Xid()) {
		if err := a.changer.DeliverRoleRequestNotSupported(sw, msg.Xid()); err != nil {
			a.logger.Warn("acceptor: role-not-supported rejected", "dpid", sw.DPID, "error", err)
		}
		return
	}

	a.dispatcher.Dispatch(sw, msg, nil)
}

func (a *Listener) refreshDeadline(sw *ofp.Switch, ch *channelHandler, st state) {
	d := a.handshakeTimeout
	if st == stateActive {
		d = a.idleTimeout
	}
	ch.conn.SetReadDeadline(time.Now().Add(d))
}

func (a *Listener) fail(ctx context.Context, ch *channelHandler, st state, reason string) bool {
	remote := obskit.RemoteAddr(ctx)
	err := &HandshakeError{RemoteAddr: remote, State: st.String(), Reason: reason}
	a.logger.Warn("acceptor: handshake violation", "remote", remote, "state", st, "reason", reason, "error", err)
	ch.Disconnect()
	return false
}

func (a *Listener) writeFailed(ctx context.Context, ch *channelHandler, err error) bool {
	a.logger.Warn("acceptor: write failed", "remote", obskit.RemoteAddr(ctx), "error", err)
	ch.Disconnect()
	return false
}

func (a *Listener) cleanup(sw *ofp.Switch, ch *channelHandler, st *state) {
	ch.Disconnect()
	a.changer.Forget(sw)
	a.roleManager.RemoveChannel(ch)
	if *st == stateActive {
		a.registry.RemoveSwitch(sw)
	}
}
