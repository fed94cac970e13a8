package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quicksqlite/corepool/internal/api"
	"github.com/quicksqlite/corepool/internal/config"
	"github.com/quicksqlite/corepool/internal/health"
	"github.com/quicksqlite/corepool/internal/metrics"
	"github.com/quicksqlite/corepool/internal/ops"
	"github.com/quicksqlite/corepool/internal/pool"
	"github.com/quicksqlite/corepool/internal/registry"
)

func main() {
	configPath := flag.String("config", "configs/corepoold.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("corepoold starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d databases configured)", *configPath, len(cfg.Databases))

	m := metrics.New()

	// The dispatcher is the Hook Relay's target: every engine-originated
	// update/commit/rollback hook is captured by value and posted here, so
	// it runs on this single goroutine instead of re-entering the engine
	// from inside the hook's own call stack.
	dispatchCh := make(chan func(), 256)
	go func() {
		for fn := range dispatchCh {
			fn()
		}
	}()
	dispatcher := pool.Dispatcher(func(fn func()) {
		dispatchCh <- fn
	})

	reg := registry.New(cfg.Defaults.DocumentsPath, dispatcher, slog.Default())
	coordinator := ops.New(reg)

	hc := health.NewChecker(reg, m, health.Config{
		Interval:         30 * time.Second,
		FailureThreshold: 3,
		ProbeTimeout:     5 * time.Second,
	})

	apiServer := api.NewServer(coordinator, hc, m, cfg.Listen)

	for name, dbCfg := range cfg.Databases {
		callbacks := databaseCallbacks(name, m)
		opts := ops.OpenOptions{
			NumReadConnections: dbCfg.EffectiveNumReadConnections(cfg.Defaults),
			Location:           dbCfg.Location,
		}
		if err := coordinator.Open(context.Background(), name, opts, callbacks); err != nil {
			log.Fatalf("Failed to open database %q: %v", name, err)
		}
		log.Printf("database %q opened (numReadConnections=%d)", name, opts.NumReadConnections)
	}

	hc.Start()

	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// Hot-reload only replaces cfg. Databases are opened from cfg once, above,
	// so a reload opens, closes or resizes no database.
	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("configuration reloaded, open databases are unchanged")
		cfg = newCfg
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("corepoold ready - API:%d", cfg.Listen.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	reg.CloseAll()
	close(dispatchCh)

	log.Printf("corepoold stopped")
}

// databaseCallbacks wires a database's Hook Relay notifications into the
// metrics collector, keyed by dbName.
func databaseCallbacks(dbName string, m *metrics.Collector) pool.Callbacks {
	return pool.Callbacks{
		OnContextAvailable: func(_, contextID string) {
			slog.Debug("context activated", "database", dbName, "context", contextID)
		},
		OnTableUpdate: func(u pool.TableUpdate) {
			m.TableUpdateObserved(u.DBName, u.TableName)
		},
		OnTransactionFinalized: func(f pool.TransactionFinalized) {
			event := "commit"
			if f.Event == pool.EventRollback {
				event = "rollback"
			}
			m.TransactionFinalizedObserved(f.DBName, event)
		},
	}
}
