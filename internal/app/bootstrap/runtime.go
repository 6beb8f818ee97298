// Package bootstrap wires the application's services from configuration so
// the api and worker binaries share one construction path.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/messaging/mtaclient"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildMTAClient returns the Mobile Text Alerts client, or nil when no API
// key is configured (local development without a provider).
func BuildMTAClient(cfg *appconfig.Config, logger *logging.Logger) *mtaclient.Client {
	if cfg == nil || strings.TrimSpace(cfg.MTAAPIKey) == "" {
		return nil
	}
	client, err := mtaclient.New(mtaclient.Config{
		BaseURL:    cfg.MTABaseURL,
		APIKey:     cfg.MTAAPIKey,
		LongcodeID: cfg.MTALongcodeID,
		Timeout:    10 * time.Second,
		MaxRetries: cfg.MTARetryMaxAttempts,
		Backoff:    cfg.MTARetryBaseDelay,
		Logger:     logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create MTA client", "error", err)
		return nil
	}
	return client
}

// BuildOpenAIClient returns the chat completion client, or nil when no API
// key is configured.
func BuildOpenAIClient(cfg *appconfig.Config) *openai.Client {
	if cfg == nil || strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil
	}
	return openai.NewClient(cfg.OpenAIAPIKey)
}
