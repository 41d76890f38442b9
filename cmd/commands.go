package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tenant-broadcast/internal/api"
	"tenant-broadcast/internal/auth"
	"tenant-broadcast/internal/broadcast"
	"tenant-broadcast/internal/config"
	"tenant-broadcast/internal/consumer"
	"tenant-broadcast/internal/logging"
	"tenant-broadcast/internal/manager"
	"tenant-broadcast/internal/messaging"
	"tenant-broadcast/internal/metrics"
	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/progress"
	"tenant-broadcast/internal/queue"
	"tenant-broadcast/internal/sender"
	"tenant-broadcast/internal/storage"
)

const (
	shutdownTimeout    = 30 * time.Second
	queueDepthInterval = 10 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the tenant broadcast queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			authn, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := authn.GenerateToken(tenantID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tenant registry schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := storage.NewStorage(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.DB.Close()
			return db.Migrate(cmd.Context())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Init Metrics
	metrics.Init()

	log := logging.New(cfg.Log.Level, cfg.Log.Console)
	log.Info().Str("addr", cfg.Server.Addr).Msg("configuration loaded")

	authn, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// Init PostgreSQL
	db, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.DB.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("PostgreSQL connected")

	mgr, err := manager.NewBroadcastManager(queue.Config{
		MaxConcurrent: cfg.Broadcast.MaxConcurrent,
		MinInterval:   time.Duration(cfg.Broadcast.MinIntervalMs) * time.Millisecond,
		Retries:       cfg.Broadcast.Retries,
	}, logging.Component(log, "manager"))
	if err != nil {
		return err
	}

	// Recover stored config overrides
	tenants, err := db.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}
	restoreOverrides(mgr, tenants, log)

	tracker := progress.NewTracker(progress.Options{
		TTL:         cfg.Progress.TTL,
		MaxErrors:   cfg.Progress.MaxErrors,
		MaxErrorLen: cfg.Progress.MaxErrorLen,
	})
	go tracker.Run()
	defer tracker.Stop()

	client, err := sender.NewClient(sender.Options{
		BaseURL:    cfg.Provider.BaseURL,
		RatePerSec: cfg.Provider.RatePerSec,
		Timeout:    cfg.Provider.Timeout,
	})
	if err != nil {
		return err
	}

	deps := broadcast.Deps{
		Manager: mgr,
		Tracker: tracker,
		Tenants: db,
		Sender:  client,
		Log:     logging.Component(log, "broadcast"),
	}

	// Init RabbitMQ. An empty URL runs HTTP-only.
	var rabbit *messaging.RabbitClient
	if cfg.RabbitMQ.URL != "" {
		rabbit, err = messaging.NewRabbitClient(cfg.RabbitMQ.URL, logging.Component(log, "rabbitmq"))
		if err != nil {
			return err
		}
		defer rabbit.Close()
		deps.Publisher = rabbit
		log.Info().Msg("RabbitMQ connected")
	}

	svc := broadcast.NewService(deps)

	handler := &api.API{
		Tenants:    db,
		Broadcasts: svc,
		Auth:       authn,
		AdminToken: cfg.Auth.AdminToken,
		Log:        logging.Component(log, "api"),
	}

	var consumers *consumer.Group
	if rabbit != nil {
		consumers = consumer.NewGroup(rabbit.GetConnection(), intakeHandler(svc, log), logging.Component(log, "consumer"))
		prov := &brokerProvisioner{rabbit: rabbit, consumers: consumers}
		handler.Provisioner = prov

		for _, t := range tenants {
			if err := prov.Provision(ctx, t.ID); err != nil {
				log.Warn().Err(err).Str("tenant", t.ID).Msg("failed to recover tenant intake")
			}
		}
		go reportQueueDepth(ctx, rabbit, consumers)
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	log.Info().Msg("shutdown initiated")

	// Shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	if consumers != nil {
		consumers.StopAll()
	}
	if err := mgr.ShutdownAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tenant queues did not drain")
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("broadcast collectors did not finish")
	}

	log.Info().Msg("graceful shutdown complete")
	return nil
}

func restoreOverrides(mgr *manager.BroadcastManager, tenants []model.Tenant, log zerolog.Logger) {
	for _, t := range tenants {
		p := storage.Overrides(t)
		if p.IsEmpty() {
			continue
		}
		if _, err := mgr.UpdateTenantConfig(t.ID, p); err != nil {
			log.Warn().Err(err).Str("tenant", t.ID).Msg("ignoring stored config override")
		}
	}
}

// intakeHandler starts broadcasts read from the broker. A replayed job id is
// acknowledged without starting a second job.
func intakeHandler(svc *broadcast.Service, log zerolog.Logger) consumer.RequestHandler {
	return func(ctx context.Context, tenantID string, req model.BroadcastRequest) error {
		jobID, err := svc.Start(ctx, tenantID, req)
		if errors.Is(err, broadcast.ErrDuplicateJob) {
			log.Info().Str("tenant", tenantID).Str("job", req.JobID).Msg("duplicate broadcast request ignored")
			return nil
		}
		if err != nil {
			return err
		}
		log.Debug().Str("tenant", tenantID).Str("job", jobID).Msg("broadcast request accepted from broker")
		return nil
	}
}

func reportQueueDepth(ctx context.Context, rabbit *messaging.RabbitClient, consumers *consumer.Group) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range consumers.TenantIDs() {
				rabbit.UpdateQueueDepth(tenantID)
			}
		}
	}
}

type brokerProvisioner struct {
	rabbit    *messaging.RabbitClient
	consumers *consumer.Group
}

func (p *brokerProvisioner) Provision(_ context.Context, tenantID string) error {
	if err := p.rabbit.DeclareTenant(tenantID); err != nil {
		return err
	}
	return p.consumers.Add(tenantID)
}

func (p *brokerProvisioner) Deprovision(_ context.Context, tenantID string) error {
	p.consumers.Remove(tenantID)
	return p.rabbit.DeleteTenant(tenantID)
}
