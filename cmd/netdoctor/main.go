package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/talkincode/netdoctor/config"
	"github.com/talkincode/netdoctor/internal/adminapi"
	"github.com/talkincode/netdoctor/internal/app"
	"github.com/talkincode/netdoctor/internal/diagnostic"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/webserver"
	"go.uber.org/zap"
)

const Version = "1.0.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "netdoctor",
		Short:         "Network diagnostic orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(serveCmd(&configPath), migrateCmd(&configPath), diagnoseCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("netdoctor version %s\n", Version)
		},
	})
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, API server and diagnostic workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			application := app.NewApplication(cfg)
			if err := application.Init(cfg); err != nil {
				return err
			}
			defer application.Release()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workersDone := application.StartBackgroundJobs(ctx)

			adminapi.Init()
			server := webserver.NewServer(cfg.Web, application.Gatherer(), app.Middleware(application))
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			zap.L().Info("shutting down", zap.String("namespace", "main"))
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = server.Shutdown(sctx)
			<-workersDone
			return err
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	var track bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			application := app.NewApplication(cfg)
			if err := application.InitDB(cfg); err != nil {
				return err
			}
			defer application.Release()
			return application.MigrateDB(track)
		},
	}
	cmd.Flags().BoolVar(&track, "track", false, "Log the migration SQL")
	return cmd
}

func diagnoseCmd(configPath *string) *cobra.Command {
	var (
		targetType string
		userChecks []string
	)
	cmd := &cobra.Command{
		Use:   "diagnose <target-id>...",
		Short: "Diagnose targets now and print the logs as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := domain.ParseTargetType(targetType)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			application := app.NewApplication(cfg)
			if err := application.Init(cfg); err != nil {
				return err
			}
			defer application.Release()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := application.Diagnostics().Trigger(ctx, diagnostic.TriggerRequest{
				TargetIDs:  args,
				TargetType: tt,
				UserChecks: userChecks,
				Sync:       true,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res.Logs)
		},
	}
	cmd.Flags().StringVarP(&targetType, "type", "t", "", "Target type: device or user (detected when empty)")
	cmd.Flags().StringSliceVar(&userChecks, "user-check", nil, "Extra checks for user targets, e.g. \"Billing Check\"")
	return cmd
}
