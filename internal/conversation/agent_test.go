package conversation

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// fakeChat replays a canned completion and records the request for
// assertions. Shared across the package's tests.
type fakeChat struct {
	reply    string
	err      error
	requests []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func (f *fakeChat) lastRequest(t *testing.T) openai.ChatCompletionRequest {
	t.Helper()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testLogger() *logging.Logger {
	return logging.New("error")
}

func TestMarkers(t *testing.T) {
	assert.True(t, HasWaitingMarker("Thank you! # WAITING #"))
	assert.False(t, HasWaitingMarker("Thank you!"))
	assert.True(t, HasScheduleMarker("#SCHEDULE#"))
	assert.False(t, HasScheduleMarker("let's schedule"))

	assert.Equal(t, "Thank you!", StripMarkers("Thank you! # WAITING #"))
	assert.Equal(t, "", StripMarkers(" #SCHEDULE# "))
	assert.Equal(t, "no markers here", StripMarkers("no markers here"))
}

func TestAgentRespond(t *testing.T) {
	chat := &fakeChat{reply: "  What year is the Camry?  "}
	agent := NewAgent(chat, "", testLogger())

	reply, err := agent.Respond(context.Background(), "Dealer: Hi there", store.ListingFields{})
	require.NoError(t, err)
	assert.Equal(t, "What year is the Camry?", reply)

	req := chat.lastRequest(t)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "12")
	assert.Contains(t, req.Messages[1].Content, "Dealer: Hi there")
}

func TestAgentRespondEmptyTranscript(t *testing.T) {
	chat := &fakeChat{reply: "Hi, is the car still available?"}
	agent := NewAgent(chat, "", testLogger())

	_, err := agent.Respond(context.Background(), "", store.ListingFields{})
	require.NoError(t, err)
	assert.Contains(t, chat.lastRequest(t).Messages[1].Content, "(No conversation yet)")
}

func TestAgentRespondKnownInfoInPrompt(t *testing.T) {
	mk := "Toyota"
	year := 2019
	price := 18500.0
	chat := &fakeChat{reply: "How many miles does it have?"}
	agent := NewAgent(chat, "", testLogger())

	_, err := agent.Respond(context.Background(), "Dealer: hello", store.ListingFields{
		Make: &mk, Year: &year, ListingPrice: &price,
	})
	require.NoError(t, err)

	system := chat.lastRequest(t).Messages[0].Content
	assert.Contains(t, system, "- Car make: Toyota")
	assert.Contains(t, system, "- Car year: 2019")
	assert.Contains(t, system, "- Listing price: $18500")
}

func TestAgentRespondEmptyCompletion(t *testing.T) {
	chat := &fakeChat{reply: "   "}
	agent := NewAgent(chat, "", testLogger())

	_, err := agent.Respond(context.Background(), "Dealer: hello", store.ListingFields{})
	assert.Error(t, err)
}

func TestKnownInfoLinesEnumDisplay(t *testing.T) {
	title := store.TitleCheckCarfax
	carfax := store.CarfaxNo
	tire := true
	lines := knownInfoLines(store.ListingFields{
		TireLifeLeft:          &tire,
		TitleStatus:           &title,
		CarfaxDamageIncidents: &carfax,
	})

	assert.Contains(t, lines, "- Tires have life left: Yes")
	assert.Contains(t, lines, "- Title status: Check Carfax (link provided)")
	assert.Contains(t, lines, "- Carfax damage incidents: No")
}
