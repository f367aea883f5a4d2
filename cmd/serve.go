package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ogichanchan/ninja-backup-mate/internal/backup"
	"github.com/ogichanchan/ninja-backup-mate/internal/host"
	"github.com/ogichanchan/ninja-backup-mate/internal/httpserver"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backup admin page",
		Long: `Serve the admin page at /admin/ninja-backup-mate. Users holding the
manage_options capability can trigger a backup there and download it.
Prometheus metrics are exposed at /metrics and a health check at /healthz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			if logger.GetLevel() != logging.LogLevelDebug {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, db, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close(db)

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			fs := afero.NewOsFs()
			manager := newManager(cfg, db, svc, logger, backup.NewMetrics(registry), fs)

			h, err := host.New(host.Options{
				Secret:    cfg.Auth.Secret,
				TokenTTL:  cfg.Auth.TokenTTL,
				NonceTTL:  cfg.Auth.NonceTTL,
				NoticeTTL: cfg.Notices.TTL,
			})
			if err != nil {
				return err
			}

			srv := httpserver.NewServer(httpserver.Options{
				Addr:     cfg.Server.Addr,
				Runner:   manager,
				Host:     h,
				Fs:       fs,
				Logger:   logger,
				Registry: registry,
			})
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start HTTP server: %w", err)
			}

			<-ctx.Done()
			logger.Info("Shutting down HTTP server")
			if err := srv.Stop(); err != nil {
				logger.Error("HTTP server did not shut down cleanly")
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
