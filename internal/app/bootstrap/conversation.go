package bootstrap

import (
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/conversation"
	"github.com/carscout/carscout-ai/internal/listing"
	"github.com/carscout/carscout-ai/internal/messaging"
	"github.com/carscout/carscout-ai/internal/messaging/mtaclient"
	"github.com/carscout/carscout-ai/internal/scheduler"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// ConversationStack is everything the binaries need to run conversations:
// the engine behind a queue worker, plus the publisher that feeds it.
type ConversationStack struct {
	Engine     *conversation.Engine
	Publisher  *conversation.Publisher
	Dispatcher *conversation.ReplyDispatcher
	Worker     *conversation.Worker
	Messenger  *messaging.ReplyMessenger
}

// BuildConversationStack wires the conversation engine, scheduler, listing
// importer, and queue worker around the shared store.
func BuildConversationStack(
	cfg *appconfig.Config,
	st *store.Store,
	queue conversation.Queue,
	mta *mtaclient.Client,
	redisClient *redis.Client,
	logger *logging.Logger,
) (*ConversationStack, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if st == nil {
		return nil, errors.New("bootstrap: store is required")
	}
	if queue == nil {
		return nil, errors.New("bootstrap: queue is required")
	}
	if mta == nil {
		return nil, errors.New("bootstrap: MTA client is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	chat := BuildOpenAIClient(cfg)
	if chat == nil {
		return nil, errors.New("bootstrap: OPENAI_API_KEY is required")
	}

	tz, err := time.LoadLocation(cfg.ScheduleTimezone)
	if err != nil {
		return nil, errors.New("bootstrap: invalid SCHEDULE_TIMEZONE " + cfg.ScheduleTimezone)
	}

	var lock *scheduler.SlotLock
	if redisClient != nil {
		lock = scheduler.NewSlotLock(redisClient, 0)
	} else {
		logger.Warn("redis unavailable, visit booking runs without slot leases")
	}

	visitScheduler := scheduler.New(st.Visits, chat, cfg.OpenAIModel, lock, tz, logger)
	importer := listing.NewImporter(chat, cfg.OpenAIModel, &http.Client{Timeout: 15 * time.Second}, logger)

	engine := conversation.NewEngine(
		st.Threads,
		st.Messages,
		st.Listings,
		conversation.NewAgent(chat, cfg.OpenAIModel, logger),
		conversation.NewExtractor(chat, cfg.OpenAIModel, logger),
		conversation.NewClassifier(chat, cfg.OpenAIModel, logger),
		importer,
		visitScheduler,
		logger,
	)

	messenger := messaging.NewReplyMessenger(mta, st.Threads, st.Messages, cfg.MTAFromNumber, logger)
	dispatcher := conversation.NewReplyDispatcher(cfg.ReplyDelay, logger)
	worker := conversation.NewWorker(engine, queue, messenger, dispatcher, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)

	return &ConversationStack{
		Engine:     engine,
		Publisher:  conversation.NewPublisher(queue, logger),
		Dispatcher: dispatcher,
		Worker:     worker,
		Messenger:  messenger,
	}, nil
}
