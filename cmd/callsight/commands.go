package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/callops/callsight/internal/api"
	"github.com/callops/callsight/internal/artifact"
	"github.com/callops/callsight/internal/config"
	"github.com/callops/callsight/internal/ledger"
	"github.com/callops/callsight/internal/pipeline"
	"github.com/callops/callsight/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline pass over the recording directory",
	Long: `Run one pipeline pass: scan the recording directory, transcribe,
match, embed, and analyze everything not yet journaled, then remove the
source audio of fully processed recordings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServices(); err != nil {
			return err
		}
		setupLogging()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.close()

		sum, err := app.pipeline.Run(ctx)
		if err != nil {
			return err
		}
		printSuccess("Pass complete: %d discovered, %d processed, %d analyzed, %d cleaned",
			sum.Discovered, sum.Processed, sum.Analyzed, sum.Cleaned)
		return nil
	},
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingest API and the periodic pipeline (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "callsight version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServices(); err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	handler := api.NewHandler(api.Deps{
		Store:  app.store,
		Ledger: app.ledger,
		Token:  cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Periodic pipeline passes until shutdown.
	go func() {
		ticker := time.NewTicker(cfg.Pipeline.PollInterval)
		defer ticker.Stop()
		for {
			if _, err := app.pipeline.Run(ctx); err != nil {
				slog.Error("pipeline pass failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "callsight listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show journal and datastore counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		led, err := ledger.Open(cfg.Pipeline.LedgerDir)
		if err != nil {
			return fmt.Errorf("opening journals: %w", err)
		}
		for _, stage := range artifact.Stages() {
			c, err := led.StageCounts(stage)
			if err != nil {
				return err
			}
			printStatus(string(stage), "%d succeeded, %d failed", c.Success, c.Failed)
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		records, err := store.CountCallRecords()
		if err != nil {
			return err
		}
		embeddings, err := store.CountEmbeddings()
		if err != nil {
			return err
		}
		printStatus("Call records", "%d", records)
		printStatus("Embeddings", "%d", embeddings)
		printStatus("Recording dir", "%s", cfg.Pipeline.DataDir)
		return nil
	},
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stage journals so work is redone on the next pass",
	Long: `Clear stage journals. Without --stage every journal is truncated;
with --stage only the named one. Resetting forgets completed and failed
work alike: recordings still on disk are reprocessed on the next pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stageName, _ := cmd.Flags().GetString("stage")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will clear journaled progress. Use --confirm to proceed.")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		led, err := ledger.Open(cfg.Pipeline.LedgerDir)
		if err != nil {
			return fmt.Errorf("opening journals: %w", err)
		}

		stages := artifact.Stages()
		if stageName != "" {
			stage := artifact.Stage(stageName)
			if !stage.Valid() {
				return fmt.Errorf("unknown stage %q", stageName)
			}
			stages = []artifact.Stage{stage}
		}
		for _, stage := range stages {
			if err := led.Reset(stage); err != nil {
				return fmt.Errorf("resetting %s journal: %w", stage, err)
			}
			printSuccess("Cleared %s journal", stage)
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().String("stage", "", "journal to clear (download, transcribe, store, embed, analyze)")
	resetCmd.Flags().Bool("confirm", false, "confirm the reset")
}

// --- wiring ---

// app bundles the wired pipeline with the resources it owns.
type app struct {
	store    *storage.Store
	ledger   *ledger.FileLedger
	pipeline *pipeline.Pipeline
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func buildApp(cfg config.Config) (*app, error) {
	led, err := ledger.Open(cfg.Pipeline.LedgerDir)
	if err != nil {
		return nil, fmt.Errorf("opening journals: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	transcriber := transcribePolicy(cfg)
	embedder := embedClient(cfg)
	llm := analyzeClient(cfg)
	matcher := artifact.NewMatcher(store)

	coord := pipeline.NewCoordinator(led, store, matcher, transcriber, embedder)
	executor := pipeline.NewExecutor(coord, cfg.Pipeline.Workers)
	analyzer := pipeline.NewAnalyzer(led, store, llm, cfg.Pipeline.AnalyzeWorkers)
	pipe := pipeline.New(cfg.Pipeline.DataDir, led, store, executor, analyzer)

	return &app{store: store, ledger: led, pipeline: pipe}, nil
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("CALLSIGHT_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
