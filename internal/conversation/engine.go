package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/scheduler"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var engineTracer = otel.Tracer("carscout/conversation")

const fallbackScheduleReply = "I'm ready to schedule a visit. What date and time works for you?"

// Narrow views of the store repos, so the engine can be exercised without a
// live database.
type threadStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*store.Thread, error)
	SetWaiting(ctx context.Context, id primitive.ObjectID, waiting bool) error
	SetState(ctx context.Context, id primitive.ObjectID, state string) error
	MarkComplete(ctx context.Context, id primitive.ObjectID) error
}

type messageStore interface {
	ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]store.Message, error)
}

type listingStore interface {
	FindByThread(ctx context.Context, threadID primitive.ObjectID) (*store.CarListing, error)
	Upsert(ctx context.Context, l *store.CarListing) error
	MarkComplete(ctx context.Context, threadID primitive.ObjectID) error
}

// listingImporter detects listing URLs in dealer messages and scrapes them
// into structured fields.
type listingImporter interface {
	DetectURL(ctx context.Context, message string) string
	Import(ctx context.Context, url string) (store.ListingFields, error)
}

// visitScheduler books viewing appointments once the agent has everything it
// needs.
type visitScheduler interface {
	ProcessRequest(ctx context.Context, req scheduler.Request) (scheduler.Result, error)
}

// Engine is the conversation brain: it reads the thread, consults the agent,
// keeps the car listing up to date, and decides what reply (if any) to send.
type Engine struct {
	threads    threadStore
	messages   messageStore
	listings   listingStore
	agent      *Agent
	extractor  *Extractor
	classifier *Classifier
	importer   listingImporter
	scheduler  visitScheduler
	log        *logging.Logger
}

// NewEngine wires the conversation engine. The importer and scheduler are
// optional; without them URL imports and visit booking are skipped.
func NewEngine(
	threads threadStore,
	messages messageStore,
	listings listingStore,
	agent *Agent,
	extractor *Extractor,
	classifier *Classifier,
	importer listingImporter,
	sched visitScheduler,
	log *logging.Logger,
) *Engine {
	if threads == nil || messages == nil || listings == nil {
		panic("conversation: store repos are required")
	}
	if agent == nil || extractor == nil || classifier == nil {
		panic("conversation: agent, extractor and classifier are required")
	}
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		threads:    threads,
		messages:   messages,
		listings:   listings,
		agent:      agent,
		extractor:  extractor,
		classifier: classifier,
		importer:   importer,
		scheduler:  sched,
		log:        log,
	}
}

// ProcessMessage runs the full pipeline for one inbound dealer message.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.ProcessMessage")
	defer span.End()

	threadID, err := primitive.ObjectIDFromHex(req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("conversation: invalid thread id %q: %w", req.ThreadID, err)
	}
	thread, err := e.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, errors.New("conversation: thread not found")
	}
	if thread.ConversationComplete {
		e.log.Info("conversation already complete, not responding", "thread_id", req.ThreadID)
		return &Response{ThreadID: req.ThreadID, Kind: ReplyNone}, nil
	}

	listing, err := e.listings.FindByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	// A listing URL in the message seeds the car record before the agent
	// decides what to ask next.
	listing = e.maybeImportURL(ctx, thread, listing, req.Body)

	known := store.ListingFields{}
	if listing != nil {
		known = listing.ListingFields
	}

	if thread.WaitingForDealerResponse {
		if !e.classifier.HasNewInformation(ctx, req.Body, known) {
			e.log.Info("acknowledgment while waiting, not responding", "thread_id", req.ThreadID)
			return &Response{ThreadID: req.ThreadID, Kind: ReplyNone}, nil
		}
		if err := e.threads.SetWaiting(ctx, threadID, false); err != nil {
			e.log.Error("failed to clear waiting state", "error", err, "thread_id", req.ThreadID)
		}
		thread.WaitingForDealerResponse = false
	}

	msgs, err := e.messages.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	transcript := BuildTranscript(msgs)

	reply, err := e.agent.Respond(ctx, transcript, known)
	if err != nil {
		return nil, err
	}

	// Merge whatever the transcript has established so far into the listing
	// record, so the dashboard and the agent's known-info section stay
	// current after every exchange.
	listing = e.extractAndSave(ctx, thread, listing, transcript)

	if HasWaitingMarker(reply) {
		message := StripMarkers(reply)
		if message == "" {
			message = "Thank you"
		}
		if err := e.threads.SetWaiting(ctx, threadID, true); err != nil {
			e.log.Error("failed to set waiting state", "error", err, "thread_id", req.ThreadID)
		}
		e.log.Info("entering waiting state", "thread_id", req.ThreadID)
		return &Response{ThreadID: req.ThreadID, Message: message, Kind: ReplyImmediate}, nil
	}

	if HasScheduleMarker(reply) {
		return e.runScheduler(ctx, thread, listing, transcript, req.Body)
	}

	// The agent may not have emitted the schedule marker even though the
	// dealer is asking about a visit. When the listing already identifies
	// the car, hand the message to the scheduler anyway.
	if e.scheduler != nil && listing != nil && listingIdentified(listing) &&
		e.classifier.IsVisitInquiry(ctx, req.Body) {
		e.log.Info("visit inquiry with identified listing, trying scheduler", "thread_id", req.ThreadID)
		return e.runScheduler(ctx, thread, listing, transcript, req.Body)
	}

	return &Response{ThreadID: req.ThreadID, Message: reply, Kind: ReplyDelayed}, nil
}

// runScheduler delegates to the visit scheduler and completes the
// conversation when a visit lands on the calendar.
func (e *Engine) runScheduler(ctx context.Context, thread *store.Thread, listing *store.CarListing, transcript, latest string) (*Response, error) {
	threadHex := thread.ID.Hex()
	if err := e.advanceState(ctx, thread, store.StateScheduling); err != nil {
		e.log.Error("failed to advance thread state", "error", err, "thread_id", threadHex)
	}
	if e.scheduler == nil {
		return &Response{ThreadID: threadHex, Message: fallbackScheduleReply, Kind: ReplyDelayed}, nil
	}

	schedReq := scheduler.Request{
		ThreadID:      thread.ID,
		DealerPhone:   thread.PhoneNumber,
		Transcript:    transcript,
		LatestMessage: latest,
	}
	if listing != nil {
		schedReq.CarListingID = &listing.ID
	}
	result, err := e.scheduler.ProcessRequest(ctx, schedReq)
	if err != nil {
		e.log.Error("scheduler failed", "error", err, "thread_id", threadHex)
		return &Response{ThreadID: threadHex, Message: fallbackScheduleReply, Kind: ReplyDelayed}, nil
	}

	if !result.VisitScheduled {
		return &Response{ThreadID: threadHex, Message: result.Message, Kind: ReplyDelayed}, nil
	}

	if err := e.threads.MarkComplete(ctx, thread.ID); err != nil {
		e.log.Error("failed to mark thread complete", "error", err, "thread_id", threadHex)
	}
	if listing != nil {
		if err := e.listings.MarkComplete(ctx, thread.ID); err != nil {
			e.log.Error("failed to mark listing complete", "error", err, "thread_id", threadHex)
		}
	}
	e.log.Info("visit scheduled, conversation complete", "thread_id", threadHex)
	return &Response{
		ThreadID:       threadHex,
		Message:        result.Message,
		Kind:           ReplyImmediate,
		VisitScheduled: true,
	}, nil
}

// maybeImportURL scrapes a listing link out of the message, if present, and
// folds the scraped fields into the car record. Failures are logged and the
// conversation continues on dealer-provided answers alone.
func (e *Engine) maybeImportURL(ctx context.Context, thread *store.Thread, listing *store.CarListing, body string) *store.CarListing {
	if e.importer == nil {
		return listing
	}
	url := e.importer.DetectURL(ctx, body)
	if url == "" {
		return listing
	}
	e.log.Info("listing url detected", "thread_id", thread.ID.Hex(), "url", url)
	fields, err := e.importer.Import(ctx, url)
	if err != nil {
		e.log.Warn("listing import failed, continuing without it", "error", err, "url", url)
		return listing
	}
	updated := e.saveFields(ctx, thread, listing, fields, url)
	if updated == nil {
		return listing
	}
	return updated
}

// extractAndSave runs transcript extraction and persists the merged fields,
// advancing the thread state as the picture fills in.
func (e *Engine) extractAndSave(ctx context.Context, thread *store.Thread, listing *store.CarListing, transcript string) *store.CarListing {
	fields, err := e.extractor.Extract(ctx, transcript)
	if err != nil {
		e.log.Warn("transcript extraction failed", "error", err, "thread_id", thread.ID.Hex())
		return listing
	}
	updated := e.saveFields(ctx, thread, listing, fields, "")
	if updated == nil {
		return listing
	}
	return updated
}

func (e *Engine) saveFields(ctx context.Context, thread *store.Thread, listing *store.CarListing, fields store.ListingFields, sourceURL string) *store.CarListing {
	if listing == nil {
		listing = &store.CarListing{
			ThreadID:    thread.ID,
			PhoneNumber: thread.PhoneNumber,
		}
	}
	listing.ListingFields.Merge(fields)
	if sourceURL != "" {
		listing.SourceURL = sourceURL
	}
	if err := e.listings.Upsert(ctx, listing); err != nil {
		e.log.Error("failed to save car listing", "error", err, "thread_id", thread.ID.Hex())
		return nil
	}

	if err := e.advanceState(ctx, thread, deriveState(listing.ListingFields)); err != nil {
		e.log.Error("failed to advance thread state", "error", err, "thread_id", thread.ID.Hex())
	}
	return listing
}

// advanceState persists a forward-only state transition; regressions are
// silently kept at the current state.
func (e *Engine) advanceState(ctx context.Context, thread *store.Thread, next string) error {
	target := store.MaxState(thread.State, next)
	if target == thread.State {
		return nil
	}
	if err := e.threads.SetState(ctx, thread.ID, target); err != nil {
		return err
	}
	thread.State = target
	return nil
}

// deriveState maps listing completeness to the thread lifecycle.
func deriveState(f store.ListingFields) string {
	switch {
	case f.Complete():
		return store.StateScheduling
	case f.CoreComplete():
		return store.StateNegotiating
	default:
		return store.StateCollectingInfo
	}
}

func listingIdentified(l *store.CarListing) bool {
	return l.Make != nil && l.Model != nil && l.Year != nil
}
