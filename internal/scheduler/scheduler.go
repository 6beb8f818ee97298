package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var tracer = otel.Tracer("carscout/scheduler")

const (
	// How far out visits are booked.
	bookingWindow = 48 * time.Hour
	// Minimum gap between two visits.
	conflictBuffer = time.Hour
	// The strftime-equivalent layout for confirmation messages.
	confirmLayout = "Monday, January 02 at 03:04 PM"

	chatTimeout = 30 * time.Second
)

// Hours tried when we pick the time ourselves.
var preferredHours = []int{10, 14, 16}

// Request asks the scheduler to handle a visit-related dealer message.
type Request struct {
	ThreadID      primitive.ObjectID
	DealerPhone   string
	Transcript    string
	LatestMessage string
	CarListingID  *primitive.ObjectID
}

// Result is the scheduler's reply and whether a visit actually landed on the
// calendar.
type Result struct {
	Message        string
	VisitScheduled bool
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// visitStore is the slice of the visit repository the scheduler uses.
type visitStore interface {
	FindBetween(ctx context.Context, from, to time.Time) ([]store.Visit, error)
	Insert(ctx context.Context, v *store.Visit) error
}

// Scheduler books dealership visits: it reads the dealer's proposed time out
// of the conversation, checks the calendar for conflicts, and either confirms
// the slot or offers an alternative.
type Scheduler struct {
	visits visitStore
	chat   chatClient
	model  string
	lock   *SlotLock
	tz     *time.Location
	now    func() time.Time
	log    *logging.Logger
}

// New creates a Scheduler. The slot lock is optional; without it conflict
// checking relies on Mongo alone.
func New(visits visitStore, chat chatClient, model string, lock *SlotLock, tz *time.Location, log *logging.Logger) *Scheduler {
	if visits == nil {
		panic("scheduler: visit repo cannot be nil")
	}
	if model == "" {
		model = openai.GPT4o
	}
	if tz == nil {
		tz = time.UTC
	}
	if log == nil {
		log = logging.Default()
	}
	return &Scheduler{
		visits: visits,
		chat:   chat,
		model:  model,
		lock:   lock,
		tz:     tz,
		now:    time.Now,
		log:    log,
	}
}

// ProcessRequest handles one scheduling exchange.
func (s *Scheduler) ProcessRequest(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "scheduler.ProcessRequest")
	defer span.End()

	now := s.now().In(s.tz)
	windowEnd := now.Add(bookingWindow)

	existing, err := s.visits.FindBetween(ctx, now, windowEnd)
	if err != nil {
		return Result{}, err
	}

	proposed := s.extractProposedTime(ctx, req, now, existing)
	if proposed == nil || proposed.Before(now) {
		return s.proposeAvailableTime(ctx, req, now, windowEnd, existing), nil
	}

	if conflictsWith(*proposed, existing) {
		alt := findNextAvailable(*proposed, existing, now, windowEnd)
		if alt == nil {
			return s.proposeAvailableTime(ctx, req, now, windowEnd, existing), nil
		}
		if !s.book(ctx, req, *alt) {
			return s.proposeAvailableTime(ctx, req, now, windowEnd, existing), nil
		}
		return Result{
			Message:        fmt.Sprintf("I'm not available at that exact time, but how about %s Central Time? I've scheduled it for then.", alt.Format(confirmLayout)),
			VisitScheduled: true,
		}, nil
	}

	if !s.book(ctx, req, *proposed) {
		return s.proposeAvailableTime(ctx, req, now, windowEnd, existing), nil
	}
	return Result{
		Message:        fmt.Sprintf("Perfect! I've scheduled a visit for %s Central Time. Looking forward to seeing you then!", proposed.Format(confirmLayout)),
		VisitScheduled: true,
	}, nil
}

// extractProposedTime reads a concrete date and time out of the conversation,
// if the dealer named one. Returns nil when they only asked to schedule.
func (s *Scheduler) extractProposedTime(ctx context.Context, req Request, now time.Time, existing []store.Visit) *time.Time {
	if s.chat == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	availability := "No visits scheduled in the next 2 days"
	if len(existing) > 0 {
		entries := make([]map[string]string, 0, len(existing))
		for _, v := range existing {
			t := v.ScheduledTime.In(s.tz)
			entries = append(entries, map[string]string{
				"time":     t.Format(confirmLayout) + " CT",
				"datetime": t.Format(time.RFC3339),
			})
		}
		if encoded, err := json.MarshalIndent(entries, "", "  "); err == nil {
			availability = string(encoded)
		}
	}

	prompt := fmt.Sprintf(`You are a scheduling assistant. Analyze the conversation to determine if the dealer has proposed a specific date and time for a visit.

IMPORTANT: Today is %s, %s (Central Time). When the dealer mentions a day name like "Saturday" or "Monday", interpret it relative to today's date.

Latest dealer message: "%s"

Full conversation:
%s

Your existing scheduled visits in the next 2 days:
%s

If the dealer has proposed a specific date and time, extract:
- dealer_proposed_date: The date (format: YYYY-MM-DD). For relative dates like "Sunday" or "tomorrow", calculate the actual date based on today (%s).
- dealer_proposed_time: The time (format: HH:MM in 24-hour format, Central Time)
- dealer_proposed_datetime: Combined datetime in ISO format (YYYY-MM-DDTHH:MM:SS)

If the dealer has NOT proposed a specific time (just asked to schedule or come in), set dealer_proposed_date and dealer_proposed_time to null.

Return ONLY valid JSON:
{
  "dealer_proposed_date": "YYYY-MM-DD or null",
  "dealer_proposed_time": "HH:MM or null",
  "dealer_proposed_datetime": "YYYY-MM-DDTHH:MM:SS or null"
}`,
		now.Format("Monday"), now.Format("2006-01-02"),
		req.LatestMessage, req.Transcript, availability,
		now.Format("2006-01-02"))

	start := time.Now()
	resp, err := s.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a data extraction assistant. Extract visit scheduling information from conversations."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	metrics.LLMRequestDuration.WithLabelValues("extract_visit_time").Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("proposed-time extraction failed", "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	var parsed struct {
		Date     *string `json:"dealer_proposed_date"`
		Time     *string `json:"dealer_proposed_time"`
		DateTime *string `json:"dealer_proposed_datetime"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &parsed); err != nil {
		s.log.Warn("failed to decode proposed time", "error", err)
		return nil
	}
	if parsed.Date == nil || parsed.Time == nil {
		return nil
	}

	t, err := s.parseProposed(parsed.DateTime, *parsed.Date, *parsed.Time)
	if err != nil {
		s.log.Warn("failed to parse proposed time", "error", err)
		return nil
	}
	return &t
}

func (s *Scheduler) parseProposed(combined *string, date, clock string) (time.Time, error) {
	if combined != nil && *combined != "" {
		raw := strings.TrimSuffix(*combined, "Z")
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, s.tz); err == nil {
			return t, nil
		}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, s.tz)
	if err != nil {
		return time.Time{}, errors.New("scheduler: unparseable proposed time " + date + " " + clock)
	}
	return t, nil
}

// book places a visit at the slot. It takes the Redis lease first so a racing
// worker cannot land on the same slot, then re-checks the calendar.
func (s *Scheduler) book(ctx context.Context, req Request, slot time.Time) bool {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, slot)
		if err != nil {
			s.log.Warn("slot lease unavailable, relying on calendar check", "error", err)
		} else if !acquired {
			s.log.Info("slot lease held elsewhere", "slot", slot)
			return false
		}
	}

	// Re-check inside the lease window.
	recheck, err := s.visits.FindBetween(ctx, slot.Add(-conflictBuffer), slot.Add(conflictBuffer))
	if err != nil {
		s.log.Error("conflict re-check failed", "error", err)
		s.releaseLease(ctx, slot)
		return false
	}
	if conflictsWith(slot, recheck) {
		s.releaseLease(ctx, slot)
		return false
	}

	visit := &store.Visit{
		ThreadID:          req.ThreadID,
		CarListingID:      req.CarListingID,
		ScheduledTime:     slot.UTC(),
		DealerPhoneNumber: req.DealerPhone,
		Status:            store.VisitScheduled,
	}
	if err := s.visits.Insert(ctx, visit); err != nil {
		s.log.Error("failed to create visit", "error", err)
		s.releaseLease(ctx, slot)
		return false
	}
	metrics.VisitsScheduled.Inc()
	s.log.Info("visit booked", "visit_id", visit.ID.Hex(), "thread_id", req.ThreadID.Hex(), "slot", slot)
	return true
}

func (s *Scheduler) releaseLease(ctx context.Context, slot time.Time) {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(ctx, slot); err != nil {
		s.log.Warn("failed to release slot lease", "error", err)
	}
}

// proposeAvailableTime picks a slot ourselves: preferred hours first, then
// any business hour, over the booking window.
func (s *Scheduler) proposeAvailableTime(ctx context.Context, req Request, now, windowEnd time.Time, existing []store.Visit) Result {
	start := now.AddDate(0, 0, 1)
	if now.Hour() < 10 {
		start = time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, s.tz)
	}

	for day := start; !dateAfter(day, windowEnd); day = day.AddDate(0, 0, 1) {
		for _, hour := range preferredHours {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.tz)
			if candidate.Before(now) || candidate.After(windowEnd) {
				continue
			}
			if conflictsWith(candidate, existing) {
				continue
			}
			if s.book(ctx, req, candidate) {
				return Result{
					Message:        fmt.Sprintf("I'll come by at %s Central Time - thank you.", candidate.Format(confirmLayout)),
					VisitScheduled: true,
				}
			}
		}
	}

	for day := start; !dateAfter(day, windowEnd); day = day.AddDate(0, 0, 1) {
		for hour := 9; hour < 18; hour++ {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.tz)
			if candidate.Before(now) || candidate.After(windowEnd) {
				continue
			}
			if conflictsWith(candidate, existing) {
				continue
			}
			if s.book(ctx, req, candidate) {
				return Result{
					Message:        fmt.Sprintf("How about %s Central Time? I've scheduled it for then.", candidate.Format(confirmLayout)),
					VisitScheduled: true,
				}
			}
		}
	}

	return Result{
		Message:        "I'm pretty booked up over the next couple days. What times work best for you?",
		VisitScheduled: false,
	}
}

// findNextAvailable looks for the closest free slot around the proposed time,
// trying 30, 60, then 90 minutes to either side.
func findNextAvailable(proposed time.Time, existing []store.Visit, now, windowEnd time.Time) *time.Time {
	var candidates []time.Time
	for _, offset := range []time.Duration{-30 * time.Minute, 30 * time.Minute, -time.Hour, time.Hour, -90 * time.Minute, 90 * time.Minute} {
		candidate := proposed.Add(offset)
		if candidate.Before(now) || candidate.After(windowEnd) {
			continue
		}
		if !conflictsWith(candidate, existing) {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absDuration(c.Sub(proposed)) < absDuration(best.Sub(proposed)) {
			best = c
		}
	}
	return &best
}

// conflictsWith reports whether the candidate lands within the buffer of any
// existing visit.
func conflictsWith(candidate time.Time, visits []store.Visit) bool {
	for _, v := range visits {
		if absDuration(candidate.Sub(v.ScheduledTime)) < conflictBuffer {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func dateAfter(day, limit time.Time) bool {
	y1, m1, d1 := day.Date()
	y2, m2, d2 := limit.Date()
	if y1 != y2 {
		return y1 > y2
	}
	if m1 != m2 {
		return m1 > m2
	}
	return d1 > d2
}
