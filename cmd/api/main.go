package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carscout/carscout-ai/cmd/mainconfig"
	"github.com/carscout/carscout-ai/internal/api/router"
	"github.com/carscout/carscout-ai/internal/app/bootstrap"
	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/conversation"
	"github.com/carscout/carscout-ai/internal/http/handlers"
	"github.com/carscout/carscout-ai/internal/messaging"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting carscout API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := st.Close(shutdownCtx); err != nil {
			logger.Error("failed to close MongoDB connection", "error", err)
		}
	}()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	mta := bootstrap.BuildMTAClient(cfg, logger)
	if mta == nil {
		logger.Error("MTA_API_KEY is required")
		os.Exit(1)
	}

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build conversation queue", "error", err)
		os.Exit(1)
	}

	stack, err := bootstrap.BuildConversationStack(cfg, st, queue, mta, redisClient, logger)
	if err != nil {
		logger.Error("failed to build conversation stack", "error", err)
		os.Exit(1)
	}
	stack.Worker.Start(ctx)

	webhook := messaging.NewWebhookHandler(messaging.WebhookConfig{
		Threads:   st.Threads,
		Messages:  st.Messages,
		Publisher: stack.Publisher,
		Secret:    cfg.MTAWebhookSecret,
		Logger:    logger,
	})

	dashboard := handlers.NewDashboard(handlers.DashboardConfig{
		Threads:       st.Threads,
		Messages:      st.Messages,
		Listings:      st.Listings,
		Visits:        st.Visits,
		DB:            st,
		MTA:           mta,
		WebhookSecret: cfg.MTAWebhookSecret,
		AlertEmail:    cfg.MTAAlertEmail,
		Logger:        logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Webhook:            webhook,
		Dashboard:          dashboard,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookBurst:       cfg.WebhookBurst,
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

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop the worker and flush any replies still held for delayed send.
	cancel()
	stack.Worker.Wait()

	logger.Info("server stopped")
}

// buildQueue selects the conversation transport: an in-process queue for
// development, SQS otherwise.
func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.Queue, error) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory conversation queue")
		return conversation.NewMemoryQueue(128), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQS conversation queue", "queueUrl", cfg.ConversationQueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL), nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
