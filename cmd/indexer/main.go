package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/rollupscan/batch-indexer/internal/bus"
	internalcfg "github.com/rollupscan/batch-indexer/internal/config"
	"github.com/rollupscan/batch-indexer/internal/db"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
	"github.com/rollupscan/batch-indexer/internal/migrations"
	"github.com/rollupscan/batch-indexer/internal/orchestrator"
	"github.com/rollupscan/batch-indexer/internal/pipeline"
	"github.com/rollupscan/batch-indexer/internal/reconciler"
	"github.com/rollupscan/batch-indexer/internal/rpc"
	"github.com/rollupscan/batch-indexer/internal/store"
	"github.com/rollupscan/batch-indexer/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         batch-indexer v%s              ║
║   Rollup Batch Lifecycle Indexer          ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "batch-indexer - rollup batch lifecycle indexer",
	Long: `batch-indexer follows an L1 inbox contract and the corresponding L2 chain,
recording block headers, batch proposals, proofs, verifications and forced
inclusions into a local database. It detects L2 reorgs, deduplicates repeated
headers, and periodically backfills any blocks the live streams missed.`,
	Version: version,
	RunE:    runIndexer,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	Long:  `Print the JSON schema for the configuration file, for use with editors and validation tooling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := &jsonschema.Reflector{ExpandedStruct: true}
		schema := reflector.Reflect(&config.Config{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log writes instead of committing them")
	rootCmd.AddCommand(schemaCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := internalcfg.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dryRun {
		cfg.Indexer.DryRun = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetDefaultLogger(log)
	defer log.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("Connecting to chain nodes...")
	client, err := rpc.NewClient(ctx, &cfg.Indexer)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer client.Close()
	log.Infof("Connected: l1=%s l2=%s", cfg.Indexer.L1RPCURL, cfg.Indexer.L2RPCURL)

	storage, err := buildStorage(cfg, log)
	if err != nil {
		return err
	}

	pipe := pipeline.New(storage, client, log)
	decoder := events.NewDecoder(cfg.Indexer.InboxAddr(), cfg.Indexer.WrapperAddr())

	// The sink is either the pipeline itself or a bus publisher whose
	// consumer drains into the pipeline. Both paths run the same handlers.
	var sink orchestrator.Sink = pipe

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Indexer.Bus != nil && cfg.Indexer.Bus.Enabled {
		publisher := bus.NewChannelPublisher(cfg.Indexer.Bus.Buffer)
		sink = bus.NewSink(publisher, log)
		consumer := bus.NewConsumer(pipe, log)

		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case msg := <-publisher.Messages():
					if err := consumer.Consume(groupCtx, msg); err != nil {
						log.Errorw("bus consumer error, message dropped", "error", err)
					}
				}
			}
		})
		log.Infof("Event bus enabled (buffer=%d)", cfg.Indexer.Bus.Buffer)
	}

	orch := orchestrator.New(cfg.Indexer, client, sink, storage, log)
	recon := reconciler.New(cfg.Indexer, client, storage, sink, decoder, log)

	log.Info("Starting batch-indexer...")

	group.Go(func() error { return orch.Run(groupCtx) })
	group.Go(func() error { return recon.Run(groupCtx) })

	if err := group.Wait(); err != nil {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("batch-indexer stopped successfully")
	return nil
}

// buildStorage selects the committing SQLite store or the dry-run store.
// Migrations only run for the committing store.
func buildStorage(cfg *config.Config, log *logger.Logger) (store.Storage, error) {
	if cfg.Indexer.DryRun {
		log.Info("Dry-run mode: writes will be logged, not committed")
		if cfg.Indexer.DB.Path == "" {
			return store.NewDryRun(log, nil), nil
		}
		// A database path in dry-run mode enables read-side gap detection
		// against existing data while still suppressing writes.
		database, err := db.NewSQLiteDBFromConfig(cfg.Indexer.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return store.NewDryRun(log, store.NewSQLStore(database, log)), nil
	}

	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.Indexer.DB.Path); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Indexer.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store.NewSQLStore(database, log), nil
}
