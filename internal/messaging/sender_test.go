package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carscout/carscout-ai/internal/messaging/mtaclient"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

type fakeSMSAPI struct {
	sent []mtaclient.SendMessageRequest
	resp *mtaclient.SendMessageResponse
	err  error
}

func (f *fakeSMSAPI) SendMessage(_ context.Context, req mtaclient.SendMessageRequest) (*mtaclient.SendMessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, req)
	return f.resp, nil
}

type fakeOutboundThreads struct {
	recorded int
	lastBody string
}

func (f *fakeOutboundThreads) RecordOutbound(_ context.Context, _ primitive.ObjectID, body string, _ time.Time) error {
	f.recorded++
	f.lastBody = body
	return nil
}

func TestSendReplyPersistsOutbound(t *testing.T) {
	api := &fakeSMSAPI{resp: &mtaclient.SendMessageResponse{MessageID: "msg-9"}}
	threads := &fakeOutboundThreads{}
	messages := &fakeMessageStore{}
	m := NewReplyMessenger(api, threads, messages, "+18776647380", logging.New("error"))

	threadID := primitive.NewObjectID()
	err := m.SendReply(context.Background(), threadID, "+15551234567", "What year is it?")
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	assert.Equal(t, "+15551234567", api.sent[0].To)
	assert.Equal(t, "What year is it?", api.sent[0].Body)

	require.Len(t, messages.inserted, 1)
	msg := messages.inserted[0]
	assert.Equal(t, threadID, msg.ThreadID)
	assert.Equal(t, store.DirectionOutbound, msg.Direction)
	assert.Equal(t, "+18776647380", msg.From)
	assert.Equal(t, "msg-9", msg.ExternalMessageID)

	assert.Equal(t, 1, threads.recorded)
	assert.Equal(t, "What year is it?", threads.lastBody)
}

func TestSendReplyProviderFailure(t *testing.T) {
	api := &fakeSMSAPI{err: assert.AnError}
	threads := &fakeOutboundThreads{}
	messages := &fakeMessageStore{}
	m := NewReplyMessenger(api, threads, messages, "+18776647380", logging.New("error"))

	err := m.SendReply(context.Background(), primitive.NewObjectID(), "+15551234567", "hello")
	require.Error(t, err)
	assert.Empty(t, messages.inserted, "nothing persisted when the send fails")
	assert.Zero(t, threads.recorded)
}
