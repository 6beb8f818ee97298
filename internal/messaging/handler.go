package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/conversation"
	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var webhookTracer = otel.Tracer("carscout/messaging")

// Mobile Text Alerts echoes its own opt-in confirmation back through the
// reply webhook; those must never enter a conversation.
var optInPattern = regexp.MustCompile(`(?i)thanks for opting in to receive messages from us!`)

// conversationPublisher enqueues inbound messages for asynchronous
// processing by the conversation worker.
type conversationPublisher interface {
	EnqueueMessage(ctx context.Context, req conversation.MessageRequest) error
}

// Narrow views of the store repos, so the handler can be exercised without a
// live database.
type inboundThreadStore interface {
	FindByPhone(ctx context.Context, phone string) (*store.Thread, error)
	Create(ctx context.Context, t *store.Thread) error
	RecordInbound(ctx context.Context, id primitive.ObjectID, body string, at time.Time) error
}

type messageLog interface {
	Insert(ctx context.Context, m *store.Message) error
}

// InboundSMS is the reply payload Mobile Text Alerts posts to our webhook.
type InboundSMS struct {
	FromNumber string            `json:"fromNumber"`
	ToNumber   string            `json:"toNumber"`
	Message    string            `json:"message"`
	ReplyID    string            `json:"replyId"`
	Timestamp  string            `json:"timestamp"`
	Tags       map[string]string `json:"tags"`
}

// WebhookHandler receives inbound SMS webhooks, persists them, and hands the
// message to the conversation pipeline.
type WebhookHandler struct {
	threads   inboundThreadStore
	messages  messageLog
	publisher conversationPublisher
	secret    string
	logger    *logging.Logger
}

// WebhookConfig wires the webhook handler's dependencies.
type WebhookConfig struct {
	Threads   inboundThreadStore
	Messages  messageLog
	Publisher conversationPublisher
	Secret    string
	Logger    *logging.Logger
}

// NewWebhookHandler builds the inbound SMS webhook handler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Threads == nil || cfg.Messages == nil {
		panic("messaging: store repos are required")
	}
	if cfg.Publisher == nil {
		panic("messaging: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		threads:   cfg.Threads,
		messages:  cfg.Messages,
		publisher: cfg.Publisher,
		secret:    cfg.Secret,
		logger:    cfg.Logger,
	}
}

// HandleInbound processes one inbound dealer SMS.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "messaging.HandleInbound")
	defer span.End()

	if h.secret != "" && r.Header.Get("X-Webhook-Secret") != h.secret {
		metrics.InboundWebhooks.WithLabelValues("unauthorized").Inc()
		http.Error(w, "invalid webhook secret", http.StatusUnauthorized)
		return
	}

	var payload InboundSMS
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		metrics.InboundWebhooks.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.FromNumber) == "" || strings.TrimSpace(payload.Message) == "" {
		metrics.InboundWebhooks.WithLabelValues("bad_request").Inc()
		http.Error(w, "fromNumber and message are required", http.StatusBadRequest)
		return
	}

	if optInPattern.MatchString(payload.Message) {
		h.logger.Info("ignoring opt-in confirmation", "from", payload.FromNumber)
		metrics.InboundWebhooks.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Opt-in message ignored",
		})
		return
	}

	phone, err := NormalizeE164(payload.FromNumber)
	if err != nil {
		metrics.InboundWebhooks.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid fromNumber", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	thread, err := h.threads.FindByPhone(ctx, phone)
	if err != nil {
		span.RecordError(err)
		metrics.InboundWebhooks.WithLabelValues("error").Inc()
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if thread == nil {
		thread = &store.Thread{
			PhoneNumber:     phone,
			State:           store.StateCollectingInfo,
			LastMessage:     payload.Message,
			LastMessageTime: now,
			UnreadCount:     1,
		}
		if err := h.threads.Create(ctx, thread); err != nil {
			span.RecordError(err)
			metrics.InboundWebhooks.WithLabelValues("error").Inc()
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		h.logger.Info("new conversation thread", "thread_id", thread.ID.Hex(), "phone", phone)
	} else {
		if err := h.threads.RecordInbound(ctx, thread.ID, payload.Message, now); err != nil {
			h.logger.Error("failed to update thread on inbound", "error", err, "thread_id", thread.ID.Hex())
		}
	}

	msg := &store.Message{
		ThreadID:          thread.ID,
		From:              phone,
		To:                payload.ToNumber,
		Body:              payload.Message,
		Direction:         store.DirectionInbound,
		Timestamp:         now,
		ExternalMessageID: externalMessageID(payload),
	}
	if err := h.messages.Insert(ctx, msg); err != nil {
		span.RecordError(err)
		metrics.InboundWebhooks.WithLabelValues("error").Inc()
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if thread.ConversationComplete {
		h.logger.Info("thread already complete, message logged only", "thread_id", thread.ID.Hex())
		metrics.InboundWebhooks.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Conversation complete, no response sent",
		})
		return
	}

	req := conversation.MessageRequest{
		ThreadID:  thread.ID.Hex(),
		Phone:     phone,
		To:        payload.ToNumber,
		Body:      payload.Message,
		Timestamp: now,
	}
	if err := h.publisher.EnqueueMessage(ctx, req); err != nil {
		span.RecordError(err)
		metrics.InboundWebhooks.WithLabelValues("error").Inc()
		http.Error(w, "failed to queue message", http.StatusInternalServerError)
		return
	}

	metrics.InboundWebhooks.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message received",
	})
}

// HandleTest is a reachability probe for webhook registration.
func (h *WebhookHandler) HandleTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook endpoint is reachable",
		"status":  "ok",
	})
}

// externalMessageID pulls the provider message id from wherever the payload
// carries it.
func externalMessageID(p InboundSMS) string {
	if p.ReplyID != "" {
		return p.ReplyID
	}
	return p.Tags["messageId"]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
