package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rampart-ai/rampart/pkg/audit"
	"github.com/rampart-ai/rampart/pkg/auth"
	cachepkg "github.com/rampart-ai/rampart/pkg/cache"
	"github.com/rampart-ai/rampart/pkg/config"
	"github.com/rampart-ai/rampart/pkg/gateway"
	"github.com/rampart-ai/rampart/pkg/metrics"
	"github.com/rampart-ai/rampart/pkg/ratelimit"
	"github.com/rampart-ai/rampart/pkg/registry"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			reg, err := registry.New(cfg.Endpoints)
			if err != nil {
				return err
			}

			resolver := auth.NewResolver(cfg.Tiers)
			limiter := ratelimit.New()

			var c *cachepkg.Cache
			if cfg.Cache.Enabled {
				c = cachepkg.New(cfg.Cache.TTL)
			}

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit.DBPath)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			srv := gateway.New(cfg, reg, resolver, limiter, c, auditor, metrics.New())

			stopJanitor, err := srv.StartJanitor(cfg.Janitor.Schedule)
			if err != nil {
				return err
			}
			defer stopJanitor()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watchConfig {
				go func() {
					err := config.Watch(ctx, configPath, func(next *config.Config) {
						// Endpoint order is fixed for the process lifetime;
						// only tier budgets are picked up live.
						resolver.SetTiers(next.Tiers)
					})
					if err != nil && ctx.Err() == nil {
						slog.Error("config watch stopped", "error", err)
					}
				}()
			}

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "rampart.yaml", "path to config file")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", true, "reload tier budgets when the config file changes")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d endpoints, %d tiers\n", len(cfg.Endpoints), len(cfg.Tiers))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "rampart.yaml", "path to config file")
	return cmd
}
