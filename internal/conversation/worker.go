package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// ReplySender delivers an agent reply to the dealer. Implemented by the
// messaging package.
type ReplySender interface {
	SendReply(ctx context.Context, threadID primitive.ObjectID, to, body string) error
}

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// Worker consumes conversation jobs from the queue, runs the engine, and
// delivers replies through the dispatcher or directly.
type Worker struct {
	processor  Service
	queue      Queue
	sender     ReplySender
	dispatcher *ReplyDispatcher
	logger     *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker constructs a queue consumer around the provided processor.
func NewWorker(processor Service, queue Queue, sender ReplySender, dispatcher *ReplyDispatcher, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if sender == nil {
		panic("conversation: sender cannot be nil")
	}
	if dispatcher == nil {
		panic("conversation: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor:  processor,
		queue:      queue,
		sender:     sender,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit and pending delayed replies
// have drained.
func (w *Worker) Wait() {
	w.wg.Wait()
	w.dispatcher.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err)
		w.deleteMessage(msg)
		return
	}

	req := payload.Message

	// A newer message supersedes any reply still waiting to go out.
	if w.dispatcher.Cancel(req.ThreadID) {
		w.logger.Info("cancelled pending reply due to new message", "thread_id", req.ThreadID)
	}

	resp, err := w.processor.ProcessMessage(ctx, req)
	if err != nil {
		w.logger.Error("conversation job failed", "error", err, "job_id", payload.ID, "thread_id", req.ThreadID)
		metrics.ConversationJobs.WithLabelValues("error").Inc()
		w.deleteMessage(msg)
		return
	}
	metrics.ConversationJobs.WithLabelValues("ok").Inc()

	w.deliver(ctx, req, resp)
	w.deleteMessage(msg)
}

func (w *Worker) deliver(ctx context.Context, req MessageRequest, resp *Response) {
	if resp == nil || resp.Kind == ReplyNone || resp.Message == "" {
		return
	}
	threadID, err := primitive.ObjectIDFromHex(resp.ThreadID)
	if err != nil {
		w.logger.Error("invalid thread id on response", "error", err, "thread_id", resp.ThreadID)
		return
	}

	switch resp.Kind {
	case ReplyImmediate:
		if err := w.sender.SendReply(ctx, threadID, req.Phone, resp.Message); err != nil {
			w.logger.Error("failed to send reply", "error", err, "thread_id", resp.ThreadID)
		}
	case ReplyDelayed:
		message := resp.Message
		w.dispatcher.Schedule(ctx, resp.ThreadID, func(sendCtx context.Context) {
			if err := w.sender.SendReply(sendCtx, threadID, req.Phone, message); err != nil {
				w.logger.Error("failed to send delayed reply", "error", err, "thread_id", resp.ThreadID)
			}
		})
	}
}

func (w *Worker) deleteMessage(msg queueMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err, "message_id", msg.ID)
	}
}
