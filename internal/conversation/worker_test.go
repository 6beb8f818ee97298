package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type scriptedService struct {
	mu    sync.Mutex
	resp  *Response
	err   error
	calls []MessageRequest
}

func (s *scriptedService) ProcessMessage(_ context.Context, req MessageRequest) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.resp, s.err
}

type sentReply struct {
	threadID primitive.ObjectID
	to       string
	body     string
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sentReply
	fired chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fired: make(chan struct{}, 16)}
}

func (r *recordingSender) SendReply(_ context.Context, threadID primitive.ObjectID, to, body string) error {
	r.mu.Lock()
	r.sent = append(r.sent, sentReply{threadID: threadID, to: to, body: body})
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recordingSender) replies() []sentReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentReply(nil), r.sent...)
}

func (r *recordingSender) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("no reply was sent in time")
	}
}

func runWorkerOnce(t *testing.T, svc *scriptedService, sender *recordingSender, req MessageRequest) {
	t.Helper()
	queue := NewMemoryQueue(4)
	publisher := NewPublisher(queue, testLogger())
	require.NoError(t, publisher.EnqueueMessage(context.Background(), req))

	dispatcher := NewReplyDispatcher(5*time.Millisecond, testLogger())
	worker := NewWorker(svc, queue, sender, dispatcher, testLogger(),
		WithWorkerCount(1), WithReceiveWaitSeconds(0), WithReceiveBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	// Let the worker drain the queue, then stop it.
	deadline := time.Now().Add(3 * time.Second)
	for {
		svc.mu.Lock()
		processed := len(svc.calls) > 0
		svc.mu.Unlock()
		if processed || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	worker.Wait()
}

func TestWorkerDeliversImmediateReply(t *testing.T) {
	threadID := primitive.NewObjectID()
	svc := &scriptedService{resp: &Response{
		ThreadID: threadID.Hex(),
		Message:  "Perfect! See you Friday.",
		Kind:     ReplyImmediate,
	}}
	sender := newRecordingSender()

	runWorkerOnce(t, svc, sender, MessageRequest{
		ThreadID: threadID.Hex(),
		Phone:    "+15551234567",
		Body:     "Friday works",
	})

	replies := sender.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, threadID, replies[0].threadID)
	assert.Equal(t, "+15551234567", replies[0].to)
	assert.Equal(t, "Perfect! See you Friday.", replies[0].body)

	require.Len(t, svc.calls, 1)
	assert.Equal(t, "Friday works", svc.calls[0].Body)
}

func TestWorkerDeliversDelayedReply(t *testing.T) {
	threadID := primitive.NewObjectID()
	svc := &scriptedService{resp: &Response{
		ThreadID: threadID.Hex(),
		Message:  "What's the lowest you'd take?",
		Kind:     ReplyDelayed,
	}}
	sender := newRecordingSender()

	runWorkerOnce(t, svc, sender, MessageRequest{
		ThreadID: threadID.Hex(),
		Phone:    "+15551234567",
		Body:     "Asking 18500",
	})

	// Worker.Wait drains the dispatcher, so the delayed reply is out by now.
	replies := sender.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "What's the lowest you'd take?", replies[0].body)
}

func TestWorkerSendsNothingOnReplyNone(t *testing.T) {
	threadID := primitive.NewObjectID()
	svc := &scriptedService{resp: &Response{
		ThreadID: threadID.Hex(),
		Kind:     ReplyNone,
	}}
	sender := newRecordingSender()

	runWorkerOnce(t, svc, sender, MessageRequest{
		ThreadID: threadID.Hex(),
		Phone:    "+15551234567",
		Body:     "will get back to you",
	})

	assert.Empty(t, sender.replies())
}

func TestWorkerNewMessageCancelsPendingReply(t *testing.T) {
	threadID := primitive.NewObjectID()
	svc := &scriptedService{resp: &Response{
		ThreadID: threadID.Hex(),
		Message:  "reply",
		Kind:     ReplyDelayed,
	}}
	sender := newRecordingSender()

	queue := NewMemoryQueue(4)
	publisher := NewPublisher(queue, testLogger())
	// Long hold so the second message lands before the first reply fires.
	dispatcher := NewReplyDispatcher(time.Minute, testLogger())
	worker := NewWorker(svc, queue, sender, dispatcher, testLogger(),
		WithWorkerCount(1), WithReceiveWaitSeconds(0), WithReceiveBatchSize(1))

	req := MessageRequest{ThreadID: threadID.Hex(), Phone: "+15551234567", Body: "first"}
	require.NoError(t, publisher.EnqueueMessage(context.Background(), req))
	req.Body = "second"
	require.NoError(t, publisher.EnqueueMessage(context.Background(), req))

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		svc.mu.Lock()
		done := len(svc.calls) == 2
		svc.mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	// The first reply was superseded; only the second is still pending.
	assert.True(t, dispatcher.Cancel(threadID.Hex()))
	worker.Wait()
	assert.Empty(t, sender.replies())
}

func TestEncodePayloadAssignsID(t *testing.T) {
	payload, body, err := encodePayload(queuePayload{
		Message: MessageRequest{ThreadID: "abc", Body: "hi"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, payload.ID)
	assert.Contains(t, body, `"thread_id":"abc"`)
	assert.Contains(t, body, payload.ID)
}

func TestPublisherRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(1)
	publisher := NewPublisher(queue, testLogger())

	sent := MessageRequest{
		ThreadID:  primitive.NewObjectID().Hex(),
		Phone:     "+15551234567",
		Body:      "The doc fee is $299",
		Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.EnqueueMessage(context.Background(), sent))

	msgs, err := queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Contains(t, msgs[0].Body, sent.ThreadID)
	assert.Contains(t, msgs[0].Body, "The doc fee is $299")
}
