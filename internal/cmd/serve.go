package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	appconfig "github.com/beehive-labs/swarm-orchestrator/internal/config"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/gateway"
	"github.com/beehive-labs/swarm-orchestrator/internal/logging"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
	"github.com/beehive-labs/swarm-orchestrator/internal/router"
	"github.com/beehive-labs/swarm-orchestrator/internal/supervisor"
	"github.com/beehive-labs/swarm-orchestrator/internal/watcher"
)

func registerServe(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: Gateway, Mail Router, and Container Supervisor",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	if verrs := cfg.Validate(); len(verrs) > 0 {
		return fmt.Errorf("invalid configuration: %w", appconfig.ValidationErrors(verrs))
	}

	log, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	fs := afero.NewOsFs()
	store := mailstore.New(fs, cfg.DataRoot)
	human := mailstore.NewHumanStore(fs, cfg.DataRoot)
	files := gateway.NewFileStore(fs, cfg.DataRoot)

	bus := eventbus.New()
	swarmPath := filepath.Join(cfg.DataRoot, "swarm.json")
	firstRun, _ := afero.Exists(fs, swarmPath)
	firstRun = !firstRun

	reg := registry.New(fs, swarmPath, bus)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load swarm registry: %w", err)
	}
	if firstRun && cfg.Swarm.AutoConnectHuman {
		seeded := reg.Get()
		seeded.AutoConnectHuman = true
		if err := reg.Put(seeded); err != nil {
			return fmt.Errorf("seed swarm policy: %w", err)
		}
	}

	rt := router.New(store, human, reg.Topology(), bus)
	subscribeTopologyRefresh(bus, rt, reg)

	var runtime supervisor.Runtime
	switch cfg.Container.Backend {
	default:
		runtime = supervisor.NewLocalProcessRuntime(nil)
	}

	outbox := watcher.New(store, bus, rt.Route)
	counter := watcher.NewCounter(bus)
	defer counter.Stop()

	sup := supervisor.New(runtime, store, reg, bus, outbox, counter, cfg.Provider.APIKey)
	sup.SetCallTimeout(time.Duration(cfg.Container.CallTimeoutSeconds) * time.Second)

	recoverInflight(store, rt)

	srv := gateway.New(reg, rt, sup, counter, store, human, bus, files, log)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Server.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// recoverInflight re-routes every mail left in the inflight spool from a
// prior crash: the spool copy is the durable evidence a mail was
// consumed from an outbox but never confirmed delivered.
func recoverInflight(store *mailstore.Store, rt *router.Router) {
	byAgent, err := store.ListInflight()
	if err != nil {
		return
	}
	for _, files := range byAgent {
		for _, f := range files {
			m, err := store.Peek(f)
			if err != nil {
				continue
			}
			rt.Route(context.Background(), m)
			_ = store.RemoveInflight(f)
		}
	}
}

// subscribeTopologyRefresh keeps the Router's topology snapshot current as
// the registry is mutated, without giving Router a direct dependency on
// Registry.
func subscribeTopologyRefresh(bus *eventbus.Bus, rt *router.Router, reg *registry.Registry) {
	events, _ := bus.Subscribe(eventbus.DefaultQueueSize, eventbus.TopicSwarmUpdated)
	go func() {
		for range events {
			rt.SetTopology(reg.Topology())
		}
	}()
}
