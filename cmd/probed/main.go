package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rexliu/liveprobe/pkg/builtin"
	"github.com/rexliu/liveprobe/pkg/config"
	"github.com/rexliu/liveprobe/pkg/host"
	"github.com/rexliu/liveprobe/pkg/introspect"
	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/journal"
	"github.com/rexliu/liveprobe/pkg/logging"
	"github.com/rexliu/liveprobe/pkg/queue"
	"github.com/rexliu/liveprobe/pkg/router"
)

const version = "0.3.0"

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	addr := flag.String("addr", "", "Override listen address (optional)")
	network := flag.String("network", "", "Override listen network: tcp or unix (optional)")
	flag.Parse()

	logger := logging.New("probed")
	logger.Infof("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *network, *addr, logger); err != nil {
		logger.Errorf("fatal error: %v", err)
		os.Exit(1)
	}
}

type daemon struct {
	world  *World
	scene  *builtin.Scene
	server *ipc.Server
}

func run(ctx context.Context, profileDir, networkOverride, addrOverride string, logger *logging.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Close()
	if networkOverride != "" {
		cfg.Server.Network = networkOverride
	}
	if addrOverride != "" {
		cfg.Server.Address = addrOverride
	}

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = openJournal(ctx, cfg.Journal, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	commands := queue.New[ipc.Request]()
	responses := queue.New[ipc.Response]()
	srv := ipc.NewServer(commands, responses, logger, serverOptions(cfg.Server))

	engine := introspect.New(introspect.Options{
		MaxDepth:      cfg.Introspection.MaxDepth,
		MaxItems:      cfg.Introspection.MaxItems,
		MaxMembers:    cfg.Introspection.MaxMembers,
		SkipOpaque:    cfg.Introspection.SkipOpaque,
		SkipSynthetic: cfg.Introspection.SkipSynthetic,
		InvokeGetters: cfg.Introspection.InvokeGetters,
	})
	world := newWorld(time.Now())
	if err := engine.Register(world, &Player{}, &Vehicle{}, &Transform{}, &Health{}, &Inventory{}, Item{}, Vec2{}); err != nil {
		return fmt.Errorf("register types: %w", err)
	}
	scene := builtin.NewScene()
	for name, obj := range world.objects() {
		if err := scene.Add(name, obj); err != nil {
			return err
		}
	}

	d := &daemon{world: world, scene: scene, server: srv}
	r := router.New(logger)
	deps := builtin.Deps{Name: "probed", Version: version, Engine: engine, Scene: scene}
	hostOpts := []host.Option{
		host.WithLogger(logger),
		host.WithFrame(func(context.Context) { world.Step(cfg.Host.TickInterval.Duration) }),
	}
	if store != nil {
		deps.Journal = store
		hostOpts = append(hostOpts, host.WithRecorder(store))
	}
	if err := builtin.Register(r, deps); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}
	if err := d.registerHandlers(r); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	h := host.New(commands, responses, r, hostOpts...)

	if cfg.Server.Network == "unix" {
		if err := cleanupSocket(cfg.Server.Address); err != nil {
			return err
		}
		defer cleanupSocket(cfg.Server.Address)
	}
	if err := srv.Start(ctx, cfg.Server.Network, cfg.Server.Address); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	logger.Infof("daemon ready on %s %s", cfg.Server.Network, srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(gctx, cfg.Host.TickInterval.Duration)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		stopErr := srv.Stop()
		dropped := commands.Clear() + responses.Clear()
		if dropped > 0 {
			logger.Warnf("discarded %d queued messages", dropped)
		}
		return stopErr
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serverOptions(cfg config.ServerConfig) ipc.Options {
	return ipc.Options{
		HeartbeatInterval: cfg.HeartbeatInterval.Duration,
		ReconnectBackoff:  cfg.ReconnectBackoff.Duration,
		AckPollInterval:   cfg.AckPollInterval.Duration,
		AckPollLimit:      cfg.AckPollLimit,
		AckRetryDelay:     cfg.AckRetryDelay.Duration,
		ShutdownTimeout:   cfg.ShutdownTimeout.Duration,
		MaxFrameBytes:     cfg.MaxFrameBytes,
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig, logger *logging.Logger) (*journal.Store, error) {
	store, err := journal.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	if cfg.MaxEntries > 0 {
		if n, err := store.Prune(ctx, cfg.MaxEntries); err != nil {
			logger.Warnf("journal prune failed: %v", err)
		} else if n > 0 {
			logger.Infof("pruned %d journal entries", n)
		}
	}
	return store, nil
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
