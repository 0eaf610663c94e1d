package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	"github.com/klubi/scout/internal/apiserver"
	"github.com/klubi/scout/internal/config"
	"github.com/klubi/scout/internal/runner"
	"github.com/klubi/scout/internal/tools"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		host    string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scout API server",
		Long: `Start the REST API server. Runs launched through the API execute in
the background, each with its own conversation and round budget, and are
journaled to the run database after every round.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Build configuration with CLI overrides.
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Store.DataDir = dataDir
			}

			// 2. Create logger.
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			defer logger.Sync()

			// 3. Open BoltDB store.
			boltStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer boltStore.Close()

			// 4. Create tools, model and runtime. Background runs never stream.
			reg, err := tools.DefaultRegistry(cfg.Tools.Binaries)
			if err != nil {
				return err
			}
			dispatcher := tools.NewDispatcher(reg, runner.New(logger), logger,
				tools.WithOutputLimit(cfg.Tools.OutputLimit),
				tools.WithTimeouts(cfg.ToolTimeouts()),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			mdl, err := newModel(ctx, cfg, logger)
			if err != nil {
				return err
			}
			runtime := agent.NewRuntime(boltStore, mdl, dispatcher, reg.Schemas(), logger)
			if marked, err := runtime.RecoverOrphans(); err != nil {
				logger.Warn("recovering interrupted runs", zap.Error(err))
			} else if len(marked) > 0 {
				logger.Info("marked interrupted runs as aborted", zap.Strings("runIds", marked))
			}

			// 5. Create and start API server.
			addr := cfg.ServerAddress()
			apiSrv := apiserver.NewServer(addr, boltStore, runtime, reg, logger)

			out := cmd.OutOrStdout()
			banner := color.New(color.FgCyan, color.Bold)
			banner.Fprintln(out, "scout API server")
			fmt.Fprintf(out, "   API Server: http://%s\n", addr)
			fmt.Fprintf(out, "   Model:      %s/%s\n", cfg.Model.Provider, cfg.Model.Name)
			fmt.Fprintf(out, "   DB Path:    %s\n", cfg.DBPath())
			fmt.Fprintln(out)

			errCh := make(chan error, 1)
			go func() {
				if err := apiSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			// 6. Wait for interrupt signal for graceful shutdown.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				logger.Error("API server error", zap.Error(err))
				runtime.Shutdown(context.Background())
				return err
			}

			// Graceful shutdown with a 10-second deadline.
			fmt.Fprintln(out)
			logger.Info("shutting down gracefully...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			// Stop accepting requests first, then cancel active runs so they
			// record themselves as aborted.
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("API server shutdown error", zap.Error(err))
			}
			if err := runtime.Shutdown(shutdownCtx); err != nil {
				logger.Error("runtime shutdown error", zap.Error(err))
			}

			logger.Info("scout API server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 7118, "API server port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "API server host")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.scout/data)")

	return cmd
}
