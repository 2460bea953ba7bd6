package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pointhed/loyalty-ledger/internal/api"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/scheduler"
	"github.com/pointhed/loyalty-ledger/pkg/rabbitmq"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the inbound event consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, withScheduler)
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the maintenance jobs in this process")
	return cmd
}

func runServe(cmd *cobra.Command, withScheduler bool) error {
	rt, err := bootstrap(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger.With("component", "bootstrap")

	if rt.cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET missing; authenticated routes will reject every request")
	}

	if rt.cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(rt.cfg.RabbitMQURL, rt.logger)
		if err != nil {
			logger.Warn("rabbitmq consumer unavailable; inbound events disabled", "error", err)
		} else {
			defer consumer.Close()
			bindings := app.NewEventConsumer(rt.service, rt.logger).Bindings()
			if err := consumer.ConsumeWithBindings(rt.cfg.EventsExchange, rt.cfg.EventsQueue, rt.cfg.EventsPrefetch, bindings); err != nil {
				return err
			}
			logger.Info("consuming inbound events", "exchange", rt.cfg.EventsExchange, "queue", rt.cfg.EventsQueue)
		}
	}

	if withScheduler {
		s := newScheduler(rt)
		s.Start()
		defer func() { <-s.Stop().Done() }()
	}

	router := api.NewRouter(api.NewHandlers(rt.service, rt.logger), api.RouterConfig{
		JWTSecret:      rt.cfg.JWTSecret,
		AllowedOrigins: rt.cfg.AllowedOrigins(),
	})
	server := &http.Server{
		Addr:              ":" + rt.cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", rt.cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
		return err
	}
	logger.Info("http server stopped")
	return nil
}

func newScheduler(rt *components) *scheduler.Scheduler {
	jobs := scheduler.NewJobs(rt.service, rt.logger, rt.cfg.SweepBatchSize)
	return scheduler.NewScheduler(jobs, rt.logger, scheduler.Schedules{
		PointsExpiry:    rt.cfg.PointsExpirySchedule,
		ExpiryWarnings:  rt.cfg.ExpiryWarningSchedule,
		RedemptionSweep: rt.cfg.RedemptionSweepSchedule,
		ClaimSweep:      rt.cfg.ClaimSweepSchedule,
	})
}
