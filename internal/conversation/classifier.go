package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// Phrases dealers use when they need time to gather information.
var acknowledgmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sounds good`),
	regexp.MustCompile(`(?i)will get back`),
	regexp.MustCompile(`(?i)get back to you`),
	regexp.MustCompile(`(?i)will update you`),
	regexp.MustCompile(`(?i)update you as soon`),
	regexp.MustCompile(`(?i)will reach out`),
	regexp.MustCompile(`(?i)reach out as soon`),
	regexp.MustCompile(`(?i)will be in touch`),
	regexp.MustCompile(`(?i)be in touch as soon`),
	regexp.MustCompile(`(?i)working to get`),
	regexp.MustCompile(`(?i)gathering.*information`),
	regexp.MustCompile(`(?i)collecting.*information`),
	regexp.MustCompile(`(?i)looking into`),
	regexp.MustCompile(`(?i)will provide`),
	regexp.MustCompile(`(?i)provide.*as soon`),
	regexp.MustCompile(`(?i)thank you for your patience`),
	regexp.MustCompile(`(?i)thank you for checking in`),
	regexp.MustCompile(`(?i)still working`),
	regexp.MustCompile(`(?i)still gathering`),
	regexp.MustCompile(`(?i)still collecting`),
}

var digitPattern = regexp.MustCompile(`\d`)

// Keyword fallback for visit-related messages when the model is unavailable.
var visitKeywords = []string{
	"visit", "appointment", "schedule", "come in", "come by", "stop by",
	"when can you", "what time", "available", "availability", "cancel",
	"reschedule", "change time", "change date", "meet", "see the car",
	"test drive", "view", "inspect",
}

// Classifier answers yes/no questions about dealer messages: does this carry
// new information, and is it about scheduling a visit.
type Classifier struct {
	chat  chatClient
	model string
	log   *logging.Logger
}

// NewClassifier builds a message classifier.
func NewClassifier(chat chatClient, model string, log *logging.Logger) *Classifier {
	if model == "" {
		model = openai.GPT4o
	}
	if log == nil {
		log = logging.Default()
	}
	return &Classifier{chat: chat, model: model, log: log}
}

// HasNewInformation reports whether a dealer message carries information we
// don't already have, versus a bare acknowledgment. Pure acknowledgments with
// no digits and no dollar amounts short-circuit without a model call. On
// model failure it errs toward true so a real answer is never dropped.
func (c *Classifier) HasNewInformation(ctx context.Context, message string, known store.ListingFields) bool {
	if isBareAcknowledgment(message) {
		return false
	}
	if c.chat == nil {
		return true
	}

	knownSection := ""
	if lines := knownInfoLines(known); len(lines) > 0 {
		knownSection = "\n\nKnown information:\n" + strings.Join(lines, "\n")
	}
	prompt := fmt.Sprintf(`Does this dealer message contain NEW information about the car (make, model, year, miles, price, tire condition, title status, carfax, doc fee, etc.) that is not already known?%s

Dealer message: "%s"

Respond with ONLY "YES" if the message contains new information (like specific numbers, prices, details about the car, etc.), or "NO" if it's just an acknowledgment, confirmation, or promise to get back later.`, knownSection, message)

	answer, err := c.yesNo(ctx, "has_new_information",
		"You are a helpful assistant that determines if a message contains new information.", prompt)
	if err != nil {
		c.log.Warn("new-information check failed, assuming new info", "error", err)
		return true
	}
	return answer
}

// IsVisitInquiry reports whether the dealer message is about scheduling,
// modifying, or cancelling a visit. Falls back to keyword matching when the
// model call fails.
func (c *Classifier) IsVisitInquiry(ctx context.Context, message string) bool {
	if c.chat == nil {
		return matchesVisitKeywords(message)
	}

	prompt := fmt.Sprintf(`Does this dealer message ask about scheduling a visit, appointment, or meeting to see the car? This includes:
- Asking when the buyer can come in/visit
- Suggesting a time to meet
- Asking about availability
- Requesting to schedule an appointment
- Asking to reschedule or cancel a visit
- Asking about test driving or viewing the car

Message: "%s"

Respond with ONLY "YES" if it's about visit scheduling, or "NO" if it's not.`, message)

	answer, err := c.yesNo(ctx, "is_visit_inquiry",
		"You are a helpful assistant that determines if a message is about scheduling visits or appointments.", prompt)
	if err != nil {
		c.log.Warn("visit-inquiry check failed, using keyword fallback", "error", err)
		return matchesVisitKeywords(message)
	}
	return answer
}

func (c *Classifier) yesNo(ctx context.Context, operation, system, prompt string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   10,
	})
	metrics.LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("conversation: %s completion: %w", operation, err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("conversation: empty %s completion", operation)
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	return answer == "YES", nil
}

// isBareAcknowledgment matches "we'll get back to you" style messages that
// carry no numbers or dollar amounts.
func isBareAcknowledgment(message string) bool {
	if digitPattern.MatchString(message) || strings.Contains(message, "$") {
		return false
	}
	for _, p := range acknowledgmentPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

func matchesVisitKeywords(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range visitKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
