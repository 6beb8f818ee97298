package messaging

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/messaging/mtaclient"
	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var senderTracer = otel.Tracer("carscout/messaging")

// Sender delivers an agent reply to a dealer and records it on the thread.
type Sender interface {
	SendReply(ctx context.Context, threadID primitive.ObjectID, to, body string) error
}

// smsAPI is the slice of the MTA client the sender needs.
type smsAPI interface {
	SendMessage(ctx context.Context, req mtaclient.SendMessageRequest) (*mtaclient.SendMessageResponse, error)
}

type outboundThreadStore interface {
	RecordOutbound(ctx context.Context, id primitive.ObjectID, body string, at time.Time) error
}

// ReplyMessenger sends SMS via Mobile Text Alerts and persists the outbound
// message so the dashboard transcript stays complete.
type ReplyMessenger struct {
	client   smsAPI
	threads  outboundThreadStore
	messages messageLog
	from     string
	log      *logging.Logger
}

// NewReplyMessenger wires the SMS provider to the message log.
func NewReplyMessenger(client smsAPI, threads outboundThreadStore, messages messageLog, from string, log *logging.Logger) *ReplyMessenger {
	if client == nil {
		panic("messaging: sms client is required")
	}
	if threads == nil || messages == nil {
		panic("messaging: store repos are required")
	}
	if log == nil {
		panic("messaging: logger is required")
	}
	return &ReplyMessenger{
		client:   client,
		threads:  threads,
		messages: messages,
		from:     from,
		log:      log,
	}
}

// SendReply delivers the body to the dealer, then records the outbound
// message and refreshes the thread preview. A persistence failure after a
// successful send is logged but not returned, because the SMS already left.
func (m *ReplyMessenger) SendReply(ctx context.Context, threadID primitive.ObjectID, to, body string) error {
	ctx, span := senderTracer.Start(ctx, "messaging.SendReply")
	defer span.End()

	resp, err := m.client.SendMessage(ctx, mtaclient.SendMessageRequest{To: to, Body: body})
	if err != nil {
		span.RecordError(err)
		metrics.OutboundMessages.WithLabelValues("error").Inc()
		return fmt.Errorf("messaging: send reply: %w", err)
	}
	metrics.OutboundMessages.WithLabelValues("ok").Inc()

	now := time.Now().UTC()
	msg := &store.Message{
		ThreadID:  threadID,
		From:      m.from,
		To:        to,
		Body:      body,
		Direction: store.DirectionOutbound,
		Timestamp: now,
	}
	if resp != nil {
		msg.ExternalMessageID = resp.MessageID
	}
	if err := m.messages.Insert(ctx, msg); err != nil {
		m.log.Error("failed to persist outbound message", "error", err, "thread_id", threadID.Hex())
	}
	if err := m.threads.RecordOutbound(ctx, threadID, body, now); err != nil {
		m.log.Error("failed to update thread after send", "error", err, "thread_id", threadID.Hex())
	}
	return nil
}
