package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/carscout/carscout-ai/cmd/mainconfig"
	"github.com/carscout/carscout-ai/internal/app/bootstrap"
	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/conversation"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// The conversation worker runs the queue consumer on its own, for deployments
// where the webhook API and the AI conversation loop scale independently. It
// requires SQS; the in-memory queue only makes sense inside a single process.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting carscout conversation worker", "env", cfg.Env)

	if cfg.ConversationQueueURL == "" {
		logger.Error("conversation worker requires CONVERSATION_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("failed to close MongoDB connection", "error", err)
		}
	}()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.ConversationQueueURL)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	mta := bootstrap.BuildMTAClient(cfg, logger)
	if mta == nil {
		logger.Error("MTA_API_KEY is required")
		os.Exit(1)
	}

	stack, err := bootstrap.BuildConversationStack(cfg, st, queue, mta, redisClient, logger)
	if err != nil {
		logger.Error("failed to build conversation stack", "error", err)
		os.Exit(1)
	}
	stack.Worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("conversation worker shutting down")
	cancel()
	stack.Worker.Wait()
}
