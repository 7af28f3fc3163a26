package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowhaven/ofcore/internal/config"
	"github.com/flowhaven/ofcore/internal/controller"
	"github.com/flowhaven/ofcore/pkg/ofp"
	"github.com/flowhaven/ofcore/pkg/ofp10"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")
	configPath := env("OFCORE_CONFIG", "")
	rolePathOverride := env("OFCORE_ROLE_PATH", "")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	if rolePathOverride != "" {
		cfg[config.KeyRolePath] = rolePathOverride
	}
	// rolepath is consulted only if role is absent (spec §6): an explicit
	// role always wins over a (possibly stale) rolepath file.
	if _, roleSet := cfg.Role(); !roleSet {
		if path, ok := cfg.RolePath(); ok {
			role, err := resolveRolePath(path)
			if err != nil {
				slog.Error("resolve rolepath", "path", path, "error", err)
				os.Exit(1)
			}
			cfg[config.KeyRole] = role.String()
		}
	}

	ctrl, err := controller.New(cfg, ofp10.Factory{}, logger)
	if err != nil {
		slog.Error("build controller", "error", err)
		os.Exit(1)
	}

	slog.Info("ofcored starting", "port", cfg.OpenFlowPort(), "worker_threads", cfg.WorkerThreads())
	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("controller exited", "error", err)
		os.Exit(1)
	}
	slog.Info("ofcored stopped")
}

func loadConfig(path string) (config.Map, error) {
	if path == "" {
		return config.Map{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.ParseYAML(f)
}

func resolveRolePath(path string) (ofp.Role, error) {
	f, err := os.Open(path)
	if err != nil {
		return ofp.RoleEqual, err
	}
	defer f.Close()
	return config.ParsePropertiesRole(f)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
