package conversation

import (
	"context"
	"time"
)

// ReplyKind tells the worker how to deliver an agent reply.
type ReplyKind string

const (
	// ReplyImmediate is sent right away (waiting acknowledgments, visit
	// confirmations).
	ReplyImmediate ReplyKind = "immediate"
	// ReplyDelayed is held for a short human-feeling pause and cancelled if
	// the dealer texts again first.
	ReplyDelayed ReplyKind = "delayed"
	// ReplyNone means no outbound message should be sent.
	ReplyNone ReplyKind = "none"
)

// MessageRequest is one inbound dealer message to process.
type MessageRequest struct {
	ThreadID  string    `json:"thread_id"`
	Phone     string    `json:"phone"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the engine's decision for a processed message.
type Response struct {
	ThreadID       string
	Message        string
	Kind           ReplyKind
	VisitScheduled bool
}

// Service processes inbound dealer messages and produces agent replies.
type Service interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error)
}
