package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/conversation"
	"github.com/carscout/carscout-ai/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		LogLevel:            "error",
		OpenAIAPIKey:        "sk-test",
		OpenAIModel:         "gpt-4o",
		MTAAPIKey:           "mta-test",
		MTABaseURL:          "https://api.example.com/v3",
		MTAFromNumber:       "+18776647380",
		MTALongcodeID:       "8337441549",
		MTARetryMaxAttempts: 1,
		MTARetryBaseDelay:   time.Millisecond,
		WorkerCount:         1,
		ReplyDelay:          time.Millisecond,
		ScheduleTimezone:    "UTC",
	}
}

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = ""
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.New("error"), false))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, nil, false))
}

func TestBuildRedisClientWithoutVerify(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "localhost:6379"
	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), false)
	require.NotNil(t, client)
	_ = client.Close()
}

func TestBuildMTAClientRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.MTAAPIKey = ""
	assert.Nil(t, BuildMTAClient(cfg, logging.New("error")))
}

func TestBuildOpenAIClientRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	assert.Nil(t, BuildOpenAIClient(cfg))
	assert.NotNil(t, BuildOpenAIClient(testConfig()))
}

func TestBuildConversationStackValidatesDeps(t *testing.T) {
	logger := logging.New("error")
	queue := conversation.NewMemoryQueue(4)

	_, err := BuildConversationStack(nil, nil, queue, nil, nil, logger)
	assert.Error(t, err)

	cfg := testConfig()
	mta := BuildMTAClient(cfg, logger)
	require.NotNil(t, mta)

	_, err = BuildConversationStack(cfg, nil, queue, mta, nil, logger)
	assert.Error(t, err)
}
