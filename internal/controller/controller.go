// Package controller composes the acceptor, role manager, role changer,
// switch registry and dispatcher into a single supervised process.
package controller

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/flowhaven/ofcore/internal/acceptor"
	"github.com/flowhaven/ofcore/internal/config"
	"github.com/flowhaven/ofcore/internal/dispatch"
	"github.com/flowhaven/ofcore/internal/rolechanger"
	"github.com/flowhaven/ofcore/internal/rolemanager"
	"github.com/flowhaven/ofcore/internal/switchreg"
	"github.com/flowhaven/ofcore/pkg/ofp"
)

// Controller owns the lifecycle of every core component and supervises the
// acceptor's accept loop: if it exits for any reason other than context
// cancellation, Run returns that error and every other component is torn
// down alongside it.
type Controller struct {
	Dispatcher  *dispatch.Dispatcher
	Registry    *switchreg.Registry
	RoleManager *rolemanager.Manager
	RoleChanger *rolechanger.Changer
	Acceptor    *acceptor.Listener

	logger *slog.Logger
}

// New wires every component from cfg and factory. factory supplies the
// OpenFlow wire codec; it is the one dependency this package cannot
// construct itself.
func New(cfg config.Map, factory ofp.MessageFactory, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{logger: logger}
	for _, o := range opts {
		o(c)
	}

	c.Dispatcher = dispatch.New(dispatch.WithLogger(logger))
	c.RoleChanger = rolechanger.New(factory, rolechanger.WithLogger(logger))
	c.Registry = switchreg.New(c.Dispatcher,
		switchreg.WithLogger(logger),
		switchreg.WithFlushOnReconnect(cfg.FlushSwitchesOnReconnect()))
	c.RoleManager = rolemanager.New(c.Dispatcher, rolemanager.WithLogger(logger))

	// cfg.RolePath, if set, is expected to already have been resolved into
	// KeyRole by the caller (cmd/ofcored owns the filesystem read via
	// config.ParsePropertiesRole) before New is called.
	if role, ok := cfg.Role(); ok {
		c.RoleManager.SetRole(role, "startup configuration")
	}

	addr := fmt.Sprintf(":%d", cfg.OpenFlowPort())
	ln, err := acceptor.New(addr, factory, c.Registry, c.RoleManager, c.RoleChanger, c.Dispatcher,
		acceptor.WithLogger(logger),
		acceptor.WithWorkerThreads(cfg.WorkerThreads()))
	if err != nil {
		c.Dispatcher.Close()
		c.RoleChanger.Close()
		return nil, fmt.Errorf("controller: bind acceptor: %w", err)
	}
	c.Acceptor = ln

	return c, nil
}

// Option configures a Controller's construction.
type Option func(*Controller)

// Run starts the dispatcher's registered listeners' owner (the caller, via
// AddListener before Run) and serves the acceptor until ctx is canceled or
// the acceptor fails. On return every owned component is closed.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Acceptor.Serve(gctx)
	})

	err := g.Wait()
	c.Acceptor.Close()
	c.RoleChanger.Close()
	c.Dispatcher.Close()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
