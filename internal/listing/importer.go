package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var tracer = otel.Tracer("carscout/listing")

const (
	// Page text is truncated before extraction to stay inside prompt limits.
	maxPageText = 12000

	fetchTimeout = 15 * time.Second
	chatTimeout  = 30 * time.Second
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Importer turns a listing page URL into structured car fields: fetch the
// page, boil the HTML down to the text that matters, and let the model
// extract the fields.
type Importer struct {
	chat       chatClient
	model      string
	httpClient *http.Client
	log        *logging.Logger
}

// NewImporter creates an Importer.
func NewImporter(chat chatClient, model string, httpClient *http.Client, log *logging.Logger) *Importer {
	if model == "" {
		model = openai.GPT4o
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Importer{chat: chat, model: model, httpClient: httpClient, log: log}
}

// DetectURL finds a listing URL in a dealer message, if any. Uses the model
// for odd formatting and falls back to a regex.
func (i *Importer) DetectURL(ctx context.Context, message string) string {
	if !strings.Contains(message, "http") {
		return ""
	}
	if i.chat == nil {
		return firstURL(message)
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Analyze this message and determine if it contains any URLs or links.
If a URL is found, return ONLY the complete URL. If no URL is found, return null.

Message: %s

Return ONLY a JSON object in this format:
{
  "hasUrl": true or false,
  "url": "complete URL string or null"
}`, message)

	start := time.Now()
	resp, err := i.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: i.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a URL detection assistant. Analyze messages and extract URLs if present. Return only valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	metrics.LLMRequestDuration.WithLabelValues("detect_url").Observe(time.Since(start).Seconds())
	if err != nil || len(resp.Choices) == 0 {
		i.log.Warn("url detection failed, using regex fallback", "error", err)
		return firstURL(message)
	}

	var parsed struct {
		HasURL bool    `json:"hasUrl"`
		URL    *string `json:"url"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return firstURL(message)
	}
	if parsed.HasURL && parsed.URL != nil && *parsed.URL != "" {
		return *parsed.URL
	}
	return ""
}

func firstURL(message string) string {
	return urlPattern.FindString(message)
}

// Import fetches the listing page and extracts car fields from it.
func (i *Importer) Import(ctx context.Context, url string) (store.ListingFields, error) {
	ctx, span := tracer.Start(ctx, "listing.Import")
	defer span.End()

	if i.chat == nil {
		return store.ListingFields{}, errors.New("listing: chat client is not configured")
	}

	pageText, err := i.fetchPageText(ctx, url)
	if err != nil {
		span.RecordError(err)
		return store.ListingFields{}, err
	}
	i.log.Info("fetched listing page", "url", url, "text_chars", len(pageText))

	return i.extract(ctx, pageText)
}

// fetchPageText downloads the page with browser-like headers and reduces the
// HTML to the text fragments that tend to carry listing facts.
func (i *Importer) fetchPageText(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("listing: build fetch request: %w", err)
	}
	// Listing sites block obvious bots.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("listing: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("listing: fetch %s: http status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("listing: read page: %w", err)
	}

	text := reducePage(string(body))
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("listing: page yielded no text")
	}
	return text, nil
}

func (i *Importer) extract(ctx context.Context, pageText string) (store.ListingFields, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Extract car listing information from this web page content. Return ONLY a JSON object with the extracted data. If information is not available, use null. Make sure numbers are actual numbers, not strings.

Required fields:
- make: string (car make, e.g., "Toyota", "Honda")
- model: string (car model, e.g., "Camry", "Civic")
- year: number (car year, e.g., 2020)
- miles: number (number of miles, e.g., 50000)
- listingPrice: number (listing price in dollars, e.g., 15000)
- tireLifeLeft: boolean (whether tires have life left - true for yes, false for no, null if not mentioned)
- titleStatus: string ("clean", "rebuilt", "check_carfax", or null)
- carfaxDamageIncidents: string ("yes", "no", "unsure", "check_carfax", or null)
- docFeeQuoted: number (doc fee amount quoted in dollars) - if not mentioned, use null
- docFeeNegotiable: boolean (whether doc fee is negotiable) - null if not mentioned
- docFeeAgreed: number - if not mentioned, use null
- lowestPrice: number (lowest price dealer will accept) - if not mentioned, use null

Web page content:
%s

Return ONLY valid JSON (no markdown, no code blocks).`, pageText)

	start := time.Now()
	resp, err := i.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: i.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a data extraction assistant. Extract structured car listing data from web pages and return only valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	metrics.LLMRequestDuration.WithLabelValues("extract_page").Observe(time.Since(start).Seconds())
	if err != nil {
		return store.ListingFields{}, fmt.Errorf("listing: extraction completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return store.ListingFields{}, errors.New("listing: empty extraction completion")
	}
	fields, err := store.ParseListingFieldsJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return store.ListingFields{}, fmt.Errorf("listing: %w", err)
	}
	return fields, nil
}
