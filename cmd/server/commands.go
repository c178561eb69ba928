package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sifan077/PinRadar/config"
	appserver "github.com/sifan077/PinRadar/internal/app/server"
	"github.com/sifan077/PinRadar/internal/app/service"
	inthttp "github.com/sifan077/PinRadar/internal/http/handler"
	httpUtil "github.com/sifan077/PinRadar/internal/http/util"
	infraPostgres "github.com/sifan077/PinRadar/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PinRadar/internal/infra/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, lifecycle reconciler and activity consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, bootstrapOptions{redis: true, nats: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if !skipMigrate {
				if err := infraPostgres.AutoMigrate(ctx, rt.gorm); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			return serve(ctx, rt)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not run schema migrations on start")
	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	log := rt.log

	discovery, err := rt.discovery()
	if err != nil {
		return err
	}
	defer discovery.Wait()

	srv := appserver.New(appserver.Dependencies{
		Logger:             log,
		Pins:               rt.pinService(),
		Interactions:       service.NewInteractionService(rt.interactions),
		Discovery:          discovery,
		Activities:         rt.activities,
		Tokens:             httpUtil.NewTokenSigner([]byte(rt.cfg.Auth.Secret), rt.cfg.Auth.TokenTTL),
		Redis:              rt.redisClient(),
		HeartbeatRateLimit: rt.cfg.Server.HeartbeatRateLimit,
		Required: map[string]inthttp.HealthCheck{
			"postgres": func(ctx context.Context) error { return rt.pool.Ping(ctx) },
		},
		Optional: rt.optionalChecks(),
	})
	if rt.cfg.Auth.Secret == "" {
		log.Warn("auth secret is empty, trusting the X-User-ID header")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", zap.String("addr", rt.cfg.Server.Addr))
		if err := srv.Listen(rt.cfg.Server.Addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	reconciler := rt.reconciler()
	if err := reconciler.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		reconciler.Stop()
		return nil
	})

	if rt.js != nil {
		consumer := service.NewActivityConsumer(rt.js, log, rt.activities)
		if err := consumer.Start(gctx); err != nil {
			log.Warn("activity consumer not started", zap.Error(err))
		}
	}

	if !rt.isDev {
		promServer := infraPrometheus.NewServer(rt.cfg.Prometheus)
		g.Go(func() error {
			log.Info("starting prometheus metrics server", zap.Int("port", rt.cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return promServer.Close()
		})
	} else {
		log.Info("skipping prometheus metrics server in development mode")
	}

	return g.Wait()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), bootstrapOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := infraPostgres.AutoMigrate(cmd.Context(), rt.gorm); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			rt.log.Info("schema is up to date")
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single lifecycle tick and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), bootstrapOptions{redis: true, nats: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			report := rt.reconciler().RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "extended=%d reported=%d expired=%d reindexed=%d\n",
				report.Extended, report.Reported, report.Expired, report.Reindexed)
			if !report.OK() {
				return fmt.Errorf("reconcile: %d pass(es) failed: %s", len(report.Failures), failedPasses(report))
			}
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the proximity index from the pin store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), bootstrapOptions{redis: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.writer.Enabled() {
				return errors.New("reindex: redis is not available")
			}
			if batch <= 0 {
				batch = rt.cfg.Lifecycle.ReindexBatch
			}

			started := time.Now()
			n, err := rt.writer.Rebuild(cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d pins in %s\n", n, time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "pins per page (defaults to lifecycle.reindex_batch)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := httpUtil.NewTokenSigner([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func failedPasses(report service.ReconcileReport) string {
	names := make([]string, 0, len(report.Failures))
	for name, err := range report.Failures {
		names = append(names, name+": "+err.Error())
	}
	return strings.Join(names, "; ")
}
