package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/agentd/internal/api"
	"github.com/Harshitk-cp/agentd/internal/config"
	"github.com/Harshitk-cp/agentd/internal/observability"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 10 * time.Second

var (
	runOnce      bool
	manifestPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reasoning loop and the status API",
	Long: `Starts the agent loop and serves the status and control API until
SIGINT or SIGTERM. SIGHUP re-reads the environment and applies the new
loop, retry and timeout settings without a restart.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle, print its record and exit")
	runCmd.Flags().StringVar(&manifestPath, "manifest", "", "Agent manifest (overrides AGENT_MANIFEST)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := config.Load(); err != nil {
		return err
	}
	if manifestPath != "" {
		if err := os.Setenv("AGENT_MANIFEST", manifestPath); err != nil {
			return err
		}
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   config.LogLevel(),
		Format:  config.LogFormat(),
		File:    config.LogFile(),
		Service: "agentd",
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Agent()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, config.StoreDriver(), logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	a, err := newAgent(cfg, repo, newReasoner(logger), newEmbedder(logger), logger)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		return err
	}

	if runOnce {
		rec := a.loop.RunCycle(ctx)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	return serve(ctx, a, logger)
}

// serve runs the loop and the HTTP server until ctx is cancelled or either
// of them fails.
func serve(ctx context.Context, a *agent, logger *zap.Logger) error {
	app := api.NewApp(a.apiDeps(), logger)
	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reloadConfig(a, logger)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("agent stopped", zap.Int64("cycles", a.loop.Status().Cycles))
	return err
}

func reloadConfig(a *agent, logger *zap.Logger) {
	if err := config.Reload(); err != nil {
		logger.Warn("reload env", zap.Error(err))
		return
	}
	cfg, err := config.Agent()
	if err != nil {
		logger.Warn("reload rejected", zap.Error(err))
		return
	}
	a.reload(cfg)
}
