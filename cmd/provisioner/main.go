package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/config"
	"github.com/Sternrassler/token-provisioner/pkg/logging"
	"github.com/Sternrassler/token-provisioner/pkg/provisioner"
	"github.com/Sternrassler/token-provisioner/pkg/remote"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Create and activate remote resources for a local entity set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML config file")
	cmd.PersistentFlags().String("env-file", ".env", "dotenv file with secrets (skipped if missing)")
	cmd.PersistentFlags().StringP("log", "l", "", "Override log level. Available: debug, info, warn, error")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newWorkflowCmd("create", "Create a remote resource for every entity", (*app).startCreation))
	cmd.AddCommand(newWorkflowCmd("activate", "Activate every resource owned by the account", (*app).startActivation))
	cmd.AddCommand(newServeCmd())
	return cmd
}

// loadConfig reads the config named by the persistent flags and sets up logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return cfg, err
	}
	if level, _ := cmd.Flags().GetString("log"); level != "" {
		cfg.Log.Level = logging.LogLevel(level)
	}
	if cfg.Log.Fields == nil {
		cfg.Log.Fields = make(map[string]string)
	}
	cfg.Log.Fields["version"] = version
	logging.Setup(cfg.Log)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "provisioner %s\n", version)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the resolved endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			eps := remote.NewService(nil, cfg.Service.Endpoints, logging.NewLogger("remote")).Endpoints()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:  %s\n", cfg.Account)
			fmt.Fprintf(out, "entities: %d\n", len(cfg.EntityNames()))
			fmt.Fprintf(out, "create:   %s %s\n", eps.Create.Method, eps.Create.URL(eps.BaseURL, nil))
			fmt.Fprintf(out, "status:   %s %s\n", eps.Status.Method, eps.Status.URL(eps.BaseURL, nil))
			fmt.Fprintf(out, "list:     %s %s\n", eps.List.Method, eps.List.URL(eps.BaseURL, nil))
			fmt.Fprintf(out, "activate: %s %s\n", eps.Activate.Method, eps.Activate.URL(eps.BaseURL, nil))
			return nil
		},
	}
}

// newWorkflowCmd runs one workflow in the foreground and waits for it.
func newWorkflowCmd(use, short string, start func(*app) (*provisioner.Run, bool)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reporter := provisioner.Reporters(
				provisioner.NewConsoleReporter(cmd.OutOrStdout()),
				provisioner.NewLogReporter(logging.NewLogger("report")),
			)
			a, err := newApp(cmd.Context(), cfg, reporter)
			if err != nil {
				return err
			}
			defer a.Close()

			run, ok := start(a)
			if !ok {
				return errors.New("another workflow is already running")
			}

			summary, err := run.Wait(cmd.Context())
			if err != nil {
				return err
			}
			if summary.Unsuccessful() > 0 {
				return fmt.Errorf("%d of %d items did not succeed", summary.Unsuccessful(), summary.Total)
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			logger := logging.NewLogger("server")
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newRouter(a, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Server.Addr).Str("account", cfg.Account).Msg("Starting provisioner server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-cmd.Context().Done():
			}

			// Running workflows are detached and end with the process.
			if a.orch.IsRunning() {
				logger.Warn().Msg("Shutting down while a workflow is running")
			}
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func main() {
	logging.Setup(logging.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
