package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hartleylabs/frontdesk/cmd/mainconfig"
	"github.com/hartleylabs/frontdesk/internal/api/router"
	"github.com/hartleylabs/frontdesk/internal/availability"
	"github.com/hartleylabs/frontdesk/internal/booking"
	"github.com/hartleylabs/frontdesk/internal/calllog"
	"github.com/hartleylabs/frontdesk/internal/cliniko"
	appconfig "github.com/hartleylabs/frontdesk/internal/config"
	"github.com/hartleylabs/frontdesk/internal/conversation"
	"github.com/hartleylabs/frontdesk/internal/http/handlers"
	"github.com/hartleylabs/frontdesk/internal/identity"
	"github.com/hartleylabs/frontdesk/internal/notify"
	"github.com/hartleylabs/frontdesk/internal/observability/metrics"
	"github.com/hartleylabs/frontdesk/internal/retry"
	"github.com/hartleylabs/frontdesk/internal/telephony"
	"github.com/hartleylabs/frontdesk/internal/timeparse"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting frontdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Warn("invalid clinic timezone, using UTC", "timezone", cfg.ClinicTimezone)
		loc = time.UTC
	}

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	// Redis holds call contexts and the shared availability cache.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	contextStore := conversation.NewRedisContextStore(redisClient, nil).
		WithTTL(cfg.CallInactivityTimeout)

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		dbPool = pool
		defer dbPool.Close()
	} else {
		logger.Warn("DATABASE_URL not set; call log and failure journal are in-memory only")
	}

	clinikoClient, err := cliniko.NewClient(cliniko.ClientConfig{
		APIKey:     cfg.ClinikoAPIKey,
		BaseURL:    cfg.ClinikoBaseURL,
		Location:   loc,
		RatePerSec: cfg.ClinikoRateLimitPerSec,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler client", "error", err)
		os.Exit(1)
	}

	availabilityMetrics := metrics.NewAvailabilityMetrics(nil)
	aggregator := availability.NewAggregator(clinikoClient, availability.NewRedisCache(redisClient, logger), availability.Config{
		Tenant:            cfg.ClinicName,
		BusinessID:        cfg.ClinikoBusinessID,
		PractitionerID:    cfg.ClinikoPractitionerID,
		AppointmentTypeID: cfg.ClinikoAppointmentTypeID,
		CacheTTL:          cfg.AvailabilityCacheTTL,
		Concurrency:       cfg.AvailabilityConcurrency,
		Location:          loc,
		RetryPolicy:       retryPolicy,
		Logger:            logger,
		Metrics:           availabilityMetrics,
	})

	resolver := identity.NewResolver(clinikoClient, identity.Config{
		SimilarityThreshold: cfg.NameSimilarityThreshold,
		TypoDistance:        cfg.NameTypoDistance,
		RetryPolicy:         retryPolicy,
		Logger:              logger,
	})

	failureSink := booking.FailureSink(booking.NewRingBufferSink(0))
	if dbPool != nil {
		failureSink = booking.FanoutSink{
			booking.NewRingBufferSink(0),
			booking.NewPGFailureJournal(dbPool, logger),
		}
	}
	orchestrator := booking.NewOrchestrator(clinikoClient, resolver, aggregator, failureSink, booking.Config{
		BusinessID:  cfg.ClinikoBusinessID,
		RetryPolicy: retryPolicy,
		Logger:      logger,
		Metrics:     metrics.NewBookingMetrics(nil),
	})

	interpreter, err := conversation.NewGeminiInterpreter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("failed to create turn interpreter", "error", err)
		os.Exit(1)
	}
	defer interpreter.Close()

	var recorder conversation.CallRecorder
	if dbPool != nil {
		recorder = callLogRecorder{store: calllog.NewStore(dbPool, logger)}
	}

	notifier, notifyWorker := buildNotifications(ctx, cfg, logger)

	engine := conversation.NewEngine(
		contextStore,
		interpreter,
		conversation.NewReducer(nil, cfg.NameSimilarityThreshold, cfg.NameTypoDistance),
		resolver,
		aggregator,
		bookerAdapter{orchestrator: orchestrator},
		timeparse.NewResolver(loc),
		conversation.EngineConfig{
			ClinicName:          cfg.ClinicName,
			MaxEmptySpeechTurns: cfg.MaxEmptySpeechTurns,
			Logger:              logger,
			CallMetrics:         metrics.NewCallMetrics(nil),
			Recorder:            recorder,
			Notifier:            notifier,
		},
	)

	voiceWebhooks := handlers.NewVoiceWebhookHandler(handlers.VoiceWebhookConfig{
		Engine:        engine,
		Renderer:      telephony.NewRenderer(cfg.PublicBaseURL+"/webhooks/voice/turn", "", ""),
		TenantID:      cfg.ClinicName,
		WebhookSecret: cfg.TelnyxWebhookSecret,
		Logger:        logger,
	})

	r := router.New(&router.Config{
		Logger:         logger,
		VoiceWebhooks:  voiceWebhooks,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel()
	if notifyWorker != nil {
		notifyWorker.Wait()
	}

	logger.Info("server stopped")
}

// buildNotifications wires the outbox queue, SMS sender and worker.
// Without Telnyx credentials notifications are disabled entirely; the
// conversation core runs fine without them.
func buildNotifications(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.Notifier, *notify.Worker) {
	if cfg.TelnyxAPIKey == "" || cfg.TelnyxFromNumber == "" {
		logger.Warn("sms notifications disabled (TELNYX_API_KEY or TELNYX_FROM_NUMBER not set)")
		return nil, nil
	}

	sender, err := notify.NewTelnyxSender(notify.TelnyxConfig{
		APIKey:     cfg.TelnyxAPIKey,
		FromNumber: cfg.TelnyxFromNumber,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create sms sender; notifications disabled", "error", err)
		return nil, nil
	}

	var queue notify.Queue
	if cfg.UseMemoryQueue || cfg.NotifyQueueURL == "" {
		queue = notify.NewMemoryQueue(0)
		logger.Info("notification outbox using in-memory queue")
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config; notifications disabled", "error", err)
			return nil, nil
		}
		queue = notify.NewSQSQueue(awssqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL)
		logger.Info("notification outbox using SQS", "queue_url", cfg.NotifyQueueURL)
	}

	worker := notify.NewWorker(queue, sender, logger, cfg.NotifyWorkerCount)
	worker.Start(ctx)

	return notifierAdapter{
		publisher:  notify.NewPublisher(queue),
		clinicName: cfg.ClinicName,
		logger:     logger,
	}, worker
}
