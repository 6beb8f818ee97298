package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/carscout/carscout-ai/internal/scheduler"
	"github.com/carscout/carscout-ai/internal/store"
)

// routingChat answers each completion based on which component is asking, so
// one fake can back the agent, extractor, and classifier at once.
type routingChat struct {
	agentReply   string
	extractJSON  string
	newInfo      string
	visitInquiry string
}

func (r *routingChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	system := req.Messages[0].Content
	var reply string
	switch {
	case strings.Contains(system, "data extraction"):
		reply = r.extractJSON
	case strings.Contains(system, "message contains new information"):
		reply = r.newInfo
	case strings.Contains(system, "visits or appointments"):
		reply = r.visitInquiry
	default:
		reply = r.agentReply
	}
	if reply == "" {
		return openai.ChatCompletionResponse{}, errors.New("no scripted reply")
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: reply}},
		},
	}, nil
}

type fakeThreads struct {
	thread     *store.Thread
	waitingSet []bool
	states     []string
	completed  bool
}

func (f *fakeThreads) FindByID(_ context.Context, id primitive.ObjectID) (*store.Thread, error) {
	if f.thread == nil || f.thread.ID != id {
		return nil, nil
	}
	cp := *f.thread
	return &cp, nil
}

func (f *fakeThreads) SetWaiting(_ context.Context, _ primitive.ObjectID, waiting bool) error {
	f.waitingSet = append(f.waitingSet, waiting)
	f.thread.WaitingForDealerResponse = waiting
	return nil
}

func (f *fakeThreads) SetState(_ context.Context, _ primitive.ObjectID, state string) error {
	f.states = append(f.states, state)
	f.thread.State = state
	return nil
}

func (f *fakeThreads) MarkComplete(_ context.Context, _ primitive.ObjectID) error {
	f.completed = true
	f.thread.ConversationComplete = true
	return nil
}

type fakeMessages struct {
	msgs []store.Message
}

func (f *fakeMessages) ListByThread(_ context.Context, _ primitive.ObjectID) ([]store.Message, error) {
	return f.msgs, nil
}

type fakeListings struct {
	listing   *store.CarListing
	upserts   int
	completed bool
}

func (f *fakeListings) FindByThread(_ context.Context, _ primitive.ObjectID) (*store.CarListing, error) {
	if f.listing == nil {
		return nil, nil
	}
	cp := *f.listing
	return &cp, nil
}

func (f *fakeListings) Upsert(_ context.Context, l *store.CarListing) error {
	f.upserts++
	if l.ID.IsZero() {
		l.ID = primitive.NewObjectID()
	}
	saved := *l
	f.listing = &saved
	return nil
}

func (f *fakeListings) MarkComplete(_ context.Context, _ primitive.ObjectID) error {
	f.completed = true
	return nil
}

type fakeScheduler struct {
	result  scheduler.Result
	err     error
	lastReq scheduler.Request
	calls   int
}

func (f *fakeScheduler) ProcessRequest(_ context.Context, req scheduler.Request) (scheduler.Result, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeImporter struct {
	url    string
	fields store.ListingFields
	err    error
}

func (f *fakeImporter) DetectURL(_ context.Context, message string) string {
	if f.url != "" && strings.Contains(message, f.url) {
		return f.url
	}
	return ""
}

func (f *fakeImporter) Import(_ context.Context, _ string) (store.ListingFields, error) {
	return f.fields, f.err
}

const emptyExtractJSON = `{"make":null,"model":null,"year":null,"miles":null,"listingPrice":null,"tireLifeLeft":null,"titleStatus":null,"carfaxDamageIncidents":null,"docFeeQuoted":null,"docFeeNegotiable":null,"docFeeAgreed":null,"lowestPrice":null}`

type engineFixture struct {
	engine    *Engine
	threads   *fakeThreads
	listings  *fakeListings
	scheduler *fakeScheduler
	threadID  primitive.ObjectID
}

func newEngineFixture(t *testing.T, chat *routingChat, importer listingImporter) *engineFixture {
	t.Helper()
	if chat.extractJSON == "" {
		chat.extractJSON = emptyExtractJSON
	}
	threadID := primitive.NewObjectID()
	threads := &fakeThreads{thread: &store.Thread{
		ID:          threadID,
		PhoneNumber: "+15551234567",
		State:       store.StateCollectingInfo,
	}}
	listings := &fakeListings{}
	sched := &fakeScheduler{}
	log := testLogger()

	engine := NewEngine(
		threads,
		&fakeMessages{},
		listings,
		NewAgent(chat, "", log),
		NewExtractor(chat, "", log),
		NewClassifier(chat, "", log),
		importer,
		sched,
		log,
	)
	return &engineFixture{
		engine:    engine,
		threads:   threads,
		listings:  listings,
		scheduler: sched,
		threadID:  threadID,
	}
}

func (fx *engineFixture) process(t *testing.T, body string) *Response {
	t.Helper()
	resp, err := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		ThreadID: fx.threadID.Hex(),
		Phone:    "+15551234567",
		Body:     body,
	})
	require.NoError(t, err)
	return resp
}

func TestProcessMessageInvalidThreadID(t *testing.T) {
	fx := newEngineFixture(t, &routingChat{agentReply: "hi"}, nil)
	_, err := fx.engine.ProcessMessage(context.Background(), MessageRequest{ThreadID: "not-hex"})
	assert.Error(t, err)
}

func TestProcessMessageCompleteThread(t *testing.T) {
	fx := newEngineFixture(t, &routingChat{agentReply: "hi"}, nil)
	fx.threads.thread.ConversationComplete = true

	resp := fx.process(t, "Still interested?")
	assert.Equal(t, ReplyNone, resp.Kind)
	assert.Empty(t, resp.Message)
}

func TestProcessMessageDelayedReply(t *testing.T) {
	chat := &routingChat{
		agentReply:  "What year is the Camry?",
		extractJSON: `{"make":"Toyota","model":"Camry"}`,
	}
	fx := newEngineFixture(t, chat, nil)

	resp := fx.process(t, "We have a Toyota Camry available")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	assert.Equal(t, "What year is the Camry?", resp.Message)

	require.NotNil(t, fx.listings.listing)
	require.NotNil(t, fx.listings.listing.Make)
	assert.Equal(t, "Toyota", *fx.listings.listing.Make)
	assert.Equal(t, store.StateCollectingInfo, fx.threads.thread.State)
}

func TestProcessMessageWaitingAcknowledgment(t *testing.T) {
	fx := newEngineFixture(t, &routingChat{agentReply: "ok"}, nil)
	fx.threads.thread.WaitingForDealerResponse = true

	resp := fx.process(t, "Sounds good, will get back to you")
	assert.Equal(t, ReplyNone, resp.Kind)
	assert.Empty(t, fx.threads.waitingSet, "waiting state must stay set")
}

func TestProcessMessageWaitingClearedByNewInfo(t *testing.T) {
	chat := &routingChat{
		agentReply: "Thanks! Is the title clean?",
		newInfo:    "YES",
	}
	fx := newEngineFixture(t, chat, nil)
	fx.threads.thread.WaitingForDealerResponse = true

	resp := fx.process(t, "The price is $15,000")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	require.NotEmpty(t, fx.threads.waitingSet)
	assert.False(t, fx.threads.waitingSet[0], "waiting must be cleared first")
}

func TestProcessMessageWaitingMarker(t *testing.T) {
	chat := &routingChat{agentReply: "Got it, thanks! # WAITING #"}
	fx := newEngineFixture(t, chat, nil)

	resp := fx.process(t, "Let me check with my manager")
	assert.Equal(t, ReplyImmediate, resp.Kind)
	assert.Equal(t, "Got it, thanks!", resp.Message)
	require.NotEmpty(t, fx.threads.waitingSet)
	assert.True(t, fx.threads.waitingSet[len(fx.threads.waitingSet)-1])
}

func TestProcessMessageBareWaitingMarkerDefaultsThankYou(t *testing.T) {
	chat := &routingChat{agentReply: "# WAITING #"}
	fx := newEngineFixture(t, chat, nil)

	resp := fx.process(t, "I'll have to look that up")
	assert.Equal(t, ReplyImmediate, resp.Kind)
	assert.Equal(t, "Thank you", resp.Message)
}

func TestProcessMessageScheduleMarkerBooksVisit(t *testing.T) {
	chat := &routingChat{agentReply: "#SCHEDULE#"}
	fx := newEngineFixture(t, chat, nil)
	fx.scheduler.result = scheduler.Result{
		Message:        "Perfect! I've scheduled a visit for Friday at 03:00 PM Central Time.",
		VisitScheduled: true,
	}

	resp := fx.process(t, "Come by whenever")
	assert.Equal(t, ReplyImmediate, resp.Kind)
	assert.True(t, resp.VisitScheduled)
	assert.Contains(t, resp.Message, "scheduled a visit")
	assert.True(t, fx.threads.completed)
	assert.Equal(t, 1, fx.scheduler.calls)
	assert.Equal(t, "+15551234567", fx.scheduler.lastReq.DealerPhone)
	assert.Contains(t, fx.threads.states, store.StateScheduling)
}

func TestProcessMessageSchedulerDidNotBook(t *testing.T) {
	chat := &routingChat{agentReply: "#SCHEDULE#"}
	fx := newEngineFixture(t, chat, nil)
	fx.scheduler.result = scheduler.Result{
		Message: "How about Friday at 10:00 AM Central Time? I've scheduled it for then.",
	}

	resp := fx.process(t, "What time works for you?")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	assert.Equal(t, fx.scheduler.result.Message, resp.Message)
	assert.False(t, fx.threads.completed)
}

func TestProcessMessageSchedulerFailureFallsBack(t *testing.T) {
	chat := &routingChat{agentReply: "#SCHEDULE#"}
	fx := newEngineFixture(t, chat, nil)
	fx.scheduler.err = errors.New("redis down")

	resp := fx.process(t, "Come by whenever")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	assert.Equal(t, fallbackScheduleReply, resp.Message)
	assert.False(t, fx.threads.completed)
}

func TestProcessMessageVisitInquiryFallback(t *testing.T) {
	// Agent forgets the schedule marker; the classifier plus an identified
	// listing still routes the message to the scheduler.
	chat := &routingChat{
		agentReply:   "Sure, I can come by.",
		visitInquiry: "YES",
	}
	fx := newEngineFixture(t, chat, nil)
	mk, md, yr := "Toyota", "Camry", 2019
	fx.listings.listing = &store.CarListing{
		ID:       primitive.NewObjectID(),
		ThreadID: fx.threadID,
		ListingFields: store.ListingFields{
			Make: &mk, Model: &md, Year: &yr,
		},
	}
	fx.scheduler.result = scheduler.Result{Message: "Perfect! I've scheduled a visit.", VisitScheduled: true}

	resp := fx.process(t, "When can you come in for a test drive?")
	assert.True(t, resp.VisitScheduled)
	assert.Equal(t, 1, fx.scheduler.calls)
}

func TestProcessMessageNoSchedulerFallbackReply(t *testing.T) {
	chat := &routingChat{agentReply: "#SCHEDULE#"}
	fx := newEngineFixture(t, chat, nil)
	fx.engine.scheduler = nil

	resp := fx.process(t, "Come on by")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	assert.Equal(t, fallbackScheduleReply, resp.Message)
}

func TestProcessMessageImportsListingURL(t *testing.T) {
	mk, md := "Honda", "Civic"
	price := 12500.0
	imp := &fakeImporter{
		url:    "https://cars.example.com/listing/42",
		fields: store.ListingFields{Make: &mk, Model: &md, ListingPrice: &price},
	}
	chat := &routingChat{agentReply: "How many miles does it have?"}
	fx := newEngineFixture(t, chat, imp)

	resp := fx.process(t, "Here's the car: https://cars.example.com/listing/42")
	assert.Equal(t, ReplyDelayed, resp.Kind)

	require.NotNil(t, fx.listings.listing)
	assert.Equal(t, "https://cars.example.com/listing/42", fx.listings.listing.SourceURL)
	require.NotNil(t, fx.listings.listing.Make)
	assert.Equal(t, "Honda", *fx.listings.listing.Make)
}

func TestProcessMessageImportFailureContinues(t *testing.T) {
	imp := &fakeImporter{
		url: "https://cars.example.com/listing/42",
		err: errors.New("page blocked"),
	}
	chat := &routingChat{agentReply: "Could you share the price?"}
	fx := newEngineFixture(t, chat, imp)

	resp := fx.process(t, "see https://cars.example.com/listing/42")
	assert.Equal(t, ReplyDelayed, resp.Kind)
	assert.Equal(t, "Could you share the price?", resp.Message)
}

func TestProcessMessageStateAdvancesWithCoreFields(t *testing.T) {
	chat := &routingChat{
		agentReply:  "What's the lowest you'd take?",
		extractJSON: `{"make":"Toyota","model":"Camry","year":2019,"miles":42000,"listingPrice":18500,"tireLifeLeft":true,"titleStatus":"clean","carfaxDamageIncidents":"no","docFeeQuoted":299}`,
	}
	fx := newEngineFixture(t, chat, nil)

	fx.process(t, "Doc fee is $299, everything else checks out")
	assert.Equal(t, store.StateNegotiating, fx.threads.thread.State)
}

func TestDeriveState(t *testing.T) {
	assert.Equal(t, store.StateCollectingInfo, deriveState(store.ListingFields{}))

	mk, md := "Toyota", "Camry"
	yr, mi := 2019, 42000
	price, fee := 18500.0, 299.0
	tire, neg := true, false
	title, carfax := store.TitleClean, store.CarfaxNo
	low := 17000.0

	core := store.ListingFields{
		Make: &mk, Model: &md, Year: &yr, Miles: &mi,
		ListingPrice: &price, TireLifeLeft: &tire,
		TitleStatus: &title, CarfaxDamageIncidents: &carfax,
		DocFeeQuoted: &fee,
	}
	assert.Equal(t, store.StateNegotiating, deriveState(core))

	full := core
	full.DocFeeNegotiable = &neg
	full.LowestPrice = &low
	assert.Equal(t, store.StateScheduling, deriveState(full))
}
