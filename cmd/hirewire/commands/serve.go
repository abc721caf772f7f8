package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hirewire/hirewire/config"
	"github.com/hirewire/hirewire/db"
	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/live"
	"github.com/hirewire/hirewire/logger"
	"github.com/hirewire/hirewire/queue"
	"github.com/hirewire/hirewire/scraper"
	"github.com/hirewire/hirewire/worker"
)

// ServeCmd starts the orchestration daemon.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon",
	Long: `Start the orchestration daemon in foreground mode.

The daemon will:
- Recover orphaned processing records from prior runs
- Claim and execute due job records under bounded concurrency
- Drive per-source scrape timers under rolling rate windows
- Serve live status over websocket at /ws
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		defer logger.Cleanup()
		log := logger.Logger

		path := cfg.Database.Path
		if cfg.Database.InMemory {
			path = ":memory:"
		}
		database, err := db.Open(path, log)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.Migrate(database, log); err != nil {
			return err
		}

		manager := queue.NewManager(queue.NewSQLStore(database), log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Background processor with the scrape handler registered.
		processor := worker.NewProcessor(ctx, manager, cfg.WorkerConfig(), log)

		postings := scraper.NewPostingStore(database)
		dedup := scraper.NewDedupIndex()
		if loaded, err := postings.SeedIndex(ctx, dedup); err != nil {
			log.Warnw("Failed to seed dedup index, duplicates from prior runs may recur", "error", err)
		} else if loaded > 0 {
			log.Infow("Dedup index seeded", "keys", loaded)
		}

		fetchHandler := scraper.NewFetchHandler(scraper.NewHTTPFetcher(0), postings, dedup, log)
		if err := processor.Registry().Register(fetchHandler); err != nil {
			return err
		}
		processor.Start()

		// Scrape scheduler over the same queue.
		schedulerCfg, err := cfg.SchedulerConfig()
		if err != nil {
			return err
		}
		scheduler := scraper.NewScheduler(ctx, scraper.NewSourceStore(database), manager, schedulerCfg, log)
		scheduler.Start()

		// Live status channel.
		hub := live.NewHub(log)
		if err := hub.SetMaxSubscribers(cfg.Live.MaxSubscribers); err != nil {
			return err
		}
		live.NewJobEventBridge(manager, hub, log).Start(ctx)
		go live.NewStatusBroadcaster(hub, processor, log).Run(ctx)

		snapshot := func(ctx context.Context) (interface{}, error) {
			return manager.Stats(ctx)
		}

		mux := http.NewServeMux()
		mux.Handle("/ws", live.NewStreamHandler(hub, snapshot, log))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})

		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: mux,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("HTTP server failed", "error", err)
				cancel()
			}
		}()

		log.Infow("Daemon started",
			"port", cfg.Server.Port,
			"database", cfg.Database.Path,
			"max_concurrent", cfg.Worker.MaxConcurrent,
			"max_subscribers", cfg.Live.MaxSubscribers,
		)
		fmt.Printf("Hirewire daemon listening on :%d (Ctrl+C to stop)\n", cfg.Server.Port)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		fmt.Println("Shutting down...")

		// Stop components in reverse order of startup.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)

		scheduler.Stop()
		processor.Stop()
		cancel()

		fmt.Println("Daemon stopped")
		return nil
	},
}

func init() {
	ServeCmd.Flags().String("config", "", "Path to config file (default: hirewire.toml search path)")
}
