// Command server launches the Inkwire newsletter service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/inkwire/inkwire/internal/auth"
	"github.com/inkwire/inkwire/internal/config"
	"github.com/inkwire/inkwire/internal/dispatch"
	"github.com/inkwire/inkwire/internal/domain/idempotency"
	"github.com/inkwire/inkwire/internal/infra/notify/postmark"
	"github.com/inkwire/inkwire/internal/infra/persistence/postgres"
	httpserver "github.com/inkwire/inkwire/internal/infra/server/http"
	"github.com/inkwire/inkwire/internal/observability"
	"github.com/inkwire/inkwire/internal/subscriptions"
	"github.com/inkwire/inkwire/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	serviceName              = "inkwire"
	publishAcceptedBody      = "The newsletter issue has been accepted - emails will go out shortly."
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
	defaultDeadLetterBuffer  = 256
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", defaultConfigPath, "Path to application configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := observability.NewZerologLogger(os.Stdout, serviceName)
	observability.SetLogger(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.Log().Info("configuration loaded",
		observability.Field{Key: "environment", Value: string(cfg.Environment)},
		observability.Field{Key: "addr", Value: cfg.Server.Addr})

	telemetryEndpoint := ""
	if cfg.Telemetry.EnableMetrics {
		telemetryEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	_, telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: telemetryEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	lease, err := cfg.Idempotency.ReservationLeaseDuration()
	if err != nil {
		return err
	}
	idempotencyStore := postgres.NewIdempotencyStore(pool, lease)
	subscriberStore := postgres.NewSubscriberStore(pool)
	authStore := postgres.NewAuthStore(pool)

	sendTimeout, err := cfg.Email.SendTimeoutDuration()
	if err != nil {
		return err
	}
	notifier, err := postmark.NewClient(postmark.Config{
		BaseURL:           cfg.Email.BaseURL,
		ServerToken:       cfg.Email.ServerToken,
		Sender:            cfg.Email.Sender,
		SendTimeout:       sendTimeout,
		MaxAttempts:       cfg.Email.MaxAttempts,
		RequestsPerSecond: cfg.Email.RequestsPerSecond,
	}, nil)
	if err != nil {
		return fmt.Errorf("initialise email client: %w", err)
	}

	deadLetterBuffer := cfg.Dispatch.FailedDeliveryBuffer
	if deadLetterBuffer <= 0 {
		deadLetterBuffer = defaultDeadLetterBuffer
	}
	deadLetter := observability.NewDeliveryDeadLetter(deadLetterBuffer)

	publisher := dispatch.NewOrchestrator(
		idempotencyStore,
		subscriberStore,
		notifier,
		idempotency.SavedResponse{
			StatusCode: http.StatusSeeOther,
			Headers:    []idempotency.HeaderPair{{Name: "Location", Value: "/admin/newsletters"}},
			Body:       []byte(publishAcceptedBody),
		},
		dispatch.WithMaxWorkers(cfg.Dispatch.WorkerCount()),
		dispatch.WithDeadLetter(deadLetter),
	)

	subscriptionBaseURL := cfg.Server.PublicBaseURL
	if subscriptionBaseURL == "" {
		subscriptionBaseURL = "http://" + cfg.Server.Addr
	}
	subscriptionSvc := subscriptions.NewService(subscriberStore, notifier, subscriptionBaseURL)

	handler := httpserver.NewHandler(httpserver.Deps{
		Auth:          auth.NewService(authStore),
		Publisher:     publisher,
		Subscriptions: subscriptionSvc,
		DeadLetter:    deadLetter,
		MaxBodyBytes:  cfg.Server.RequestBodyLimit,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Log().Error("http server failed",
				observability.Field{Key: "error", Value: err.Error()})
			cancel()
		}
	})
	observability.Log().Info("server listening",
		observability.Field{Key: "addr", Value: cfg.Server.Addr})

	<-ctx.Done()
	observability.Log().Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverCtx, serverCancel := context.WithTimeout(shutdownCtx, serverShutdownTimeout)
	defer serverCancel()
	if err := server.Shutdown(serverCtx); err != nil {
		observability.Log().Warn("http server shutdown",
			observability.Field{Key: "error", Value: err.Error()})
	}
	lifecycle.Wait()

	telemetryCtx, telemetryCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := telemetryShutdown(telemetryCtx); err != nil {
		observability.Log().Warn("telemetry shutdown",
			observability.Field{Key: "error", Value: err.Error()})
	}

	observability.Log().Info("shutdown complete")
	return nil
}
