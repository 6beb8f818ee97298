package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// Extractor pulls structured listing fields out of a conversation transcript.
type Extractor struct {
	chat  chatClient
	model string
	log   *logging.Logger
}

// NewExtractor builds a transcript extractor.
func NewExtractor(chat chatClient, model string, log *logging.Logger) *Extractor {
	if chat == nil {
		panic("conversation: chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4o
	}
	if log == nil {
		log = logging.Default()
	}
	return &Extractor{chat: chat, model: model, log: log}
}

const extractionFieldSpec = `Required fields:
- make: string (car make, e.g., "Toyota", "Honda")
- model: string (car model, e.g., "Camry", "Civic")
- year: number (car year, e.g., 2020)
- miles: number (number of miles, e.g., 50000)
- listingPrice: number (listing price in dollars, e.g., 15000)
- tireLifeLeft: boolean (whether tires have life left - true for yes, false for no, null if not mentioned)
- titleStatus: string ("clean", "rebuilt", "check_carfax", or null) - "clean" or "rebuilt" if mentioned, "check_carfax" if dealer provided a carfax link, null if not mentioned
- carfaxDamageIncidents: string ("yes", "no", "unsure", "check_carfax", or null) - "yes" if carfax shows prior damage incidents, "no" if it doesn't, "check_carfax" if dealer provided a link but you haven't reviewed it, null if not mentioned
- docFeeQuoted: number (doc fee amount quoted in dollars) - if not mentioned, use null
- docFeeNegotiable: boolean (whether doc fee is negotiable - true for yes, false for no, null if not mentioned)
- docFeeAgreed: number (doc fee agreed upon after negotiation in dollars) - if not mentioned, use null
- lowestPrice: number (lowest price dealer will accept in dollars) - if not mentioned, use null`

const extractionFormatSpec = `Return ONLY valid JSON in this exact format (no markdown, no code blocks):
{
  "make": "string or null",
  "model": "string or null",
  "year": number or null,
  "miles": number or null,
  "listingPrice": number or null,
  "tireLifeLeft": boolean or null,
  "titleStatus": "string ('clean', 'rebuilt', 'check_carfax') or null",
  "carfaxDamageIncidents": "string ('yes', 'no', 'unsure', 'check_carfax') or null",
  "docFeeQuoted": number or null,
  "docFeeNegotiable": boolean or null,
  "docFeeAgreed": number or null,
  "lowestPrice": number or null
}`

// Extract reads the transcript and returns whatever listing fields the
// conversation has established so far.
func (e *Extractor) Extract(ctx context.Context, transcript string) (store.ListingFields, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Extract the following information from this conversation between a car buyer and dealer. Return ONLY a JSON object with the extracted data. If information is not available, use null. Make sure numbers are actual numbers, not strings.

%s

Conversation transcript:
%s

%s`, extractionFieldSpec, transcript, extractionFormatSpec)

	start := time.Now()
	resp, err := e.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a data extraction assistant. Extract structured data from conversations and return only valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	metrics.LLMRequestDuration.WithLabelValues("extract_listing").Observe(time.Since(start).Seconds())
	if err != nil {
		return store.ListingFields{}, fmt.Errorf("conversation: extraction completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return store.ListingFields{}, errors.New("conversation: empty extraction completion")
	}
	fields, err := store.ParseListingFieldsJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return store.ListingFields{}, fmt.Errorf("conversation: %w", err)
	}
	return fields, nil
}
