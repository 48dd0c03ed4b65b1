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

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/medibook-assistant/cmd/mainconfig"
	"github.com/wolfman30/medibook-assistant/internal/api/router"
	"github.com/wolfman30/medibook-assistant/internal/bookings"
	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/internal/clinic"
	appconfig "github.com/wolfman30/medibook-assistant/internal/config"
	"github.com/wolfman30/medibook-assistant/internal/conversation"
	"github.com/wolfman30/medibook-assistant/internal/http/handlers"
	"github.com/wolfman30/medibook-assistant/internal/notify"
	"github.com/wolfman30/medibook-assistant/internal/observability/metrics"
	"github.com/wolfman30/medibook-assistant/internal/webchat"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medibook assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
		"session_store", cfg.SessionStore,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	app, err := buildApp(ctx, cfg, prometheus.DefaultRegisterer, promhttp.Handler(), logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	app.close()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// application is the wired HTTP surface plus what must be drained on exit.
type application struct {
	handler  http.Handler
	notifier *notify.BookingNotifier
	redis    *redis.Client
}

func (a *application) close() {
	a.notifier.Wait()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, reg prometheus.Registerer, metricsHandler http.Handler, logger *logging.Logger) (*application, error) {
	loadAWS := mainconfig.NewAWSLoader(ctx, cfg)

	clinicCfg, err := clinic.New(cfg.ClinicName, cfg.ClinicTimezone, cfg.AppointmentDurationMinutes, cfg.ClinicHoursJSON)
	if err != nil {
		return nil, err
	}

	blob, err := setupAppointmentBlob(cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	store := calendar.NewStore(blob, clinicCfg, logger)
	bookingSvc := bookings.NewService(store, logger)

	llm := setupLLM(ctx, cfg, loadAWS, logger)
	extractor, responder := setupConversationModels(llm, cfg, logger)

	sessions, locker, redisClient, err := setupSessions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier := setupNotifier(cfg, loadAWS, logger)
	convMetrics := metrics.NewConversationMetrics(reg)

	engineCfg := conversation.EngineConfig{
		Bookings:   bookingSvc,
		Sessions:   sessions,
		Locker:     locker,
		Extractor:  extractor,
		Responder:  responder,
		Directory:  store,
		Metrics:    convMetrics,
		Logger:     logger,
		ClinicName: clinicCfg.Name,
		LLMTimeout: cfg.LLMTimeout,
	}
	if notifier != nil {
		engineCfg.Notifier = notifier
	}
	engine := conversation.NewEngine(engineCfg)

	checks := map[string]handlers.HealthCheck{
		"appointments": func(ctx context.Context) error {
			_, err := store.All(ctx)
			return err
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	provider, model := describeLLM(cfg, llm)
	r := router.New(&router.Config{
		Logger:       logger,
		ChatHandler:  conversation.NewHandler(engine, logger),
		SessionAdmin: conversation.NewAdminHandler(engine, logger),
		Appointments: handlers.NewAppointmentsHandler(handlers.AppointmentsConfig{
			Book:   store,
			Slots:  bookingSvc,
			Logger: logger,
		}),
		Clinic: clinic.NewHandler(clinicCfg, nil, logger),
		Health: handlers.NewHealthHandler(handlers.HealthConfig{
			Version:     version,
			Environment: cfg.Env,
			Provider:    provider,
			Model:       model,
			Checks:      checks,
		}),
		WebChat:            webchat.NewHandler(engine, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	return &application{handler: r, notifier: notifier, redis: redisClient}, nil
}

func setupAppointmentBlob(cfg *appconfig.Config, loadAWS mainconfig.AWSLoader, logger *logging.Logger) (calendar.Blob, error) {
	if strings.TrimSpace(cfg.AppointmentsS3Bucket) == "" {
		logger.Info("appointments stored on local disk", "path", cfg.AppointmentsFile)
		return calendar.NewFileBlob(cfg.AppointmentsFile), nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		return nil, fmt.Errorf("load aws config for s3: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path.
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	logger.Info("appointments stored in s3", "bucket", cfg.AppointmentsS3Bucket, "key", cfg.AppointmentsS3Key)
	return calendar.NewS3Blob(client, cfg.AppointmentsS3Bucket, cfg.AppointmentsS3Key), nil
}

// setupLLM returns nil when no provider is usable, which selects the local
// extractor and template replies. Providers that fail to build are skipped.
func setupLLM(ctx context.Context, cfg *appconfig.Config, loadAWS mainconfig.AWSLoader, logger *logging.Logger) conversation.LLMClient {
	names := []string{cfg.LLMProvider}
	if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != cfg.LLMProvider {
		names = append(names, cfg.LLMFallbackProvider)
	}

	var chain []conversation.NamedLLM
	for _, name := range names {
		client, err := mainconfig.NewLLMClient(ctx, name, cfg, loadAWS)
		if err != nil {
			logger.Warn("LLM provider unavailable", "provider", name, "error", err)
			continue
		}
		if client != nil {
			chain = append(chain, conversation.NamedLLM{Name: name, Client: client})
		}
	}

	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0].Client
	}
	logger.Info("LLM fallback enabled", "primary", chain[0].Name, "fallback", chain[1].Name)
	return conversation.NewFallbackLLMClient(logger, chain...)
}

func setupConversationModels(llm conversation.LLMClient, cfg *appconfig.Config, logger *logging.Logger) (conversation.EntityExtractor, conversation.Responder) {
	local := conversation.NewLocalExtractor()
	if llm == nil {
		logger.Warn("no LLM configured; using local extraction and template replies")
		return local, conversation.NewTemplateResponder()
	}
	extractor := conversation.NewFallbackExtractor(conversation.NewLLMExtractor(llm, cfg.LLMModel, logger), local, logger)
	return extractor, conversation.NewLLMResponder(llm, cfg.LLMModel, cfg.ClinicName)
}

func describeLLM(cfg *appconfig.Config, llm conversation.LLMClient) (provider, model string) {
	if llm == nil {
		return "local", ""
	}
	switch cfg.LLMProvider {
	case "gemini":
		return cfg.LLMProvider, cfg.GeminiModel
	case "bedrock":
		return cfg.LLMProvider, cfg.BedrockModelID
	}
	return cfg.LLMProvider, cfg.LLMModel
}

func setupSessions(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.SessionStore, conversation.SessionLocker, *redis.Client, error) {
	switch cfg.SessionStore {
	case "redis":
		client := redis.NewClient(mainconfig.RedisOptions(cfg))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("sessions stored in redis", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		store := conversation.NewRedisSessionStore(client, cfg.SessionTTL, nil)
		locker := conversation.NewRedisSessionLocker(client, cfg.SessionLockTTL, cfg.SessionLockWait)
		return store, locker, client, nil
	case "", "memory":
		store := conversation.NewMemorySessionStore(cfg.SessionTTL, cfg.SessionMax)
		go store.RunSweeper(ctx, time.Minute)
		logger.Info("sessions stored in memory", "ttl", cfg.SessionTTL, "max", cfg.SessionMax)
		return store, conversation.NewKeyedMutex(), nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// setupNotifier prefers SendGrid, then SES. It returns nil when no sender or
// recipient is configured.
func setupNotifier(cfg *appconfig.Config, loadAWS mainconfig.AWSLoader, logger *logging.Logger) *notify.BookingNotifier {
	if len(cfg.NotifyEmailTo) == 0 {
		return nil
	}

	var sender notify.EmailSender
	if s := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); s != nil {
		sender = s
	} else if cfg.SESFromEmail != "" {
		awsCfg, err := loadAWS()
		if err != nil {
			logger.Warn("SES notifications disabled", "error", err)
			return nil
		}
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.ClinicName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger); s != nil {
			sender = s
		}
	}
	if sender == nil {
		logger.Warn("staff notifications disabled: no email sender configured")
		return nil
	}
	logger.Info("staff notifications enabled", "recipients", len(cfg.NotifyEmailTo))
	return notify.NewBookingNotifier(sender, cfg.NotifyEmailTo, cfg.ClinicName, logger)
}
