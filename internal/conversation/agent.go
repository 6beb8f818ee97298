package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/carscout/carscout-ai/internal/observability/metrics"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

var agentTracer = otel.Tracer("carscout/conversation")

// Control markers the agent embeds in its replies.
const (
	// MarkerWaiting signals the dealer said they'd get back to us; the agent
	// stops replying until the dealer provides new information.
	MarkerWaiting = "# WAITING #"
	// MarkerSchedule signals every required field is captured and the visit
	// scheduler should take over.
	MarkerSchedule = "#SCHEDULE#"
)

// HasWaitingMarker reports whether a reply carries the waiting marker.
func HasWaitingMarker(reply string) bool {
	return strings.Contains(reply, MarkerWaiting)
}

// HasScheduleMarker reports whether a reply carries the schedule marker.
func HasScheduleMarker(reply string) bool {
	return strings.Contains(reply, MarkerSchedule)
}

// StripMarkers removes control markers and trims the remainder.
func StripMarkers(reply string) string {
	reply = strings.ReplaceAll(reply, MarkerWaiting, "")
	reply = strings.ReplaceAll(reply, MarkerSchedule, "")
	return strings.TrimSpace(reply)
}

// chatClient is the slice of the OpenAI client the conversation package uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const chatTimeout = 30 * time.Second

// Agent drives the buyer persona: a savvy used-car buyer working through the
// information checklist, negotiating, and eventually scheduling a visit.
type Agent struct {
	chat  chatClient
	model string
	log   *logging.Logger
}

// NewAgent builds the buyer agent around a chat completion client.
func NewAgent(chat chatClient, model string, log *logging.Logger) *Agent {
	if chat == nil {
		panic("conversation: chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4o
	}
	if log == nil {
		log = logging.Default()
	}
	return &Agent{chat: chat, model: model, log: log}
}

// Respond produces the agent's next message to the dealer given the
// conversation so far and what is already known about the car.
func (a *Agent) Respond(ctx context.Context, transcript string, known store.ListingFields) (string, error) {
	ctx, span := agentTracer.Start(ctx, "conversation.AgentRespond")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	if transcript == "" {
		transcript = "(No conversation yet)"
	}
	userPrompt := fmt.Sprintf(`Here is the transcript of the conversation so far:

%s

Please output what you think your next message to the dealer should be.`, transcript)

	start := time.Now()
	resp, err := a.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buyerSystemPrompt(known)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})
	metrics.LLMRequestDuration.WithLabelValues("agent_respond").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("conversation: agent completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("conversation: empty agent completion")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("conversation: empty agent completion")
	}
	return reply, nil
}

func buyerSystemPrompt(known store.ListingFields) string {
	knownSection := ""
	if lines := knownInfoLines(known); len(lines) > 0 {
		knownSection = "\n\nIMPORTANT: You already have the following information (do NOT ask for these again):\n" +
			strings.Join(lines, "\n") +
			"\n\nOnly ask for information you don't already have."
	}

	return fmt.Sprintf(`You are an expert used car buyer. You are in a conversation with a used car dealer, who is selling a car that you indicated interest in online.

Your task is to get the following pieces of information from the dealer:
1. Car make
2. Car model
3. Car year
4. Number of miles on the car
5. Listing price
6. Whether the tires have life left (yes or no)
7. Is it a clean title or rebuilt title (clean or rebuilt)
8. Does the carfax show any prior damage incidents (yes or no)
9. Doc fee amount (the amount they quote)
10. Whether the doc fee is negotiable (yes or no)
11. Doc fee agreed upon (after negotiation, if applicable)
12. Lowest price dealer will accept%s

Guidelines:
1. Maintain a professional, but not overly friendly tone. Do not sound too robotic - you are impersonating a human who is a savvy used car buyer. Do not use perfect punctuation (e.g., 'Can you remind me the car make/model and year? Appreciate it').
2. Try to obtain the pieces of information above in order (e.g., don't ask for the age of the tires before you know the car's make)
3. Where it makes sense, I would ask for the car make, model, year and number of miles in one message
4. Once you have all information from items 1-9 (make, model, year, miles, listing price, tire life status, title status, carfax damage incidents, and doc fee quoted), ask about item 10 (whether the doc fee is negotiable). If the doc fee is negotiable and greater than $150, try to negotiate a lower doc fee. Then negotiate the listing price. If the tires do not have life left, if it's a rebuilt title, or if there are carfax damage incidents, mention those as reasons why you are trying to negotiate. Do not attempt an unreasonable amount of negotiation - if the dealer is not willing to negotiate, move on to the next question. If they lower the price more than 15%% from the listing price, accept the deal. After negotiation, record the final agreed-upon doc fee in item 11.
5. DO NOT ask for information you already have. If you already know the make, model, year, miles, or listing price, skip asking for those and move on to information you don't have.
6. CRITICAL: If the dealer says that they will work on getting information for you, will get back to you, will update you, or similar phrases indicating they need time to gather information, you should acknowledge this. However, if the dealer ALSO asks a question in the same message, you must answer their question first, then acknowledge that you'll wait. For example, if they say "I'll discuss with my GM. Do you have a trade?", respond with something like "No trade, and I'll be financing. Thanks!" and then return '# WAITING #'. If they only say they'll get back without asking a question, respond with ONLY a simple "Thank you" or "Thanks" and then return '# WAITING #'. This tells the system to stop responding until the dealer provides actual new information.
7. If the dealer indicates that they have sent a link to the carfax (whether in the thread or in a separate message), do not continue asking for the carfax, and just make the values for 7 and 8 'check_carfax'.
8. CRITICAL: If the dealer asks you to come in and see the car, or suggests scheduling a visit, BEFORE you have all the information you need (items 1-12), you must deflect politely. Say something like "I'd like to ask a few more questions first" or "Let me get a bit more info before we schedule a visit" and then continue asking for the missing information. Only agree to schedule a visit AFTER you have all the information and are ready to return '#SCHEDULE#'.

Return nothing but the message you would like to send the dealer (e.g., do not pre-pend "You: " or something similar to message). If the dealer says they'll get back to you, return '# WAITING #' after saying thank you. Once you have captured ALL of the information above (items 1-12), return '#SCHEDULE#' to indicate you're ready to schedule a visit. Do not return '#SCHEDULE#' unless you are absolutely certain you have all of the information required.`, knownSection)
}

// knownInfoLines formats already-captured listing fields for prompt context.
func knownInfoLines(f store.ListingFields) []string {
	var lines []string
	if f.Make != nil {
		lines = append(lines, fmt.Sprintf("- Car make: %s", *f.Make))
	}
	if f.Model != nil {
		lines = append(lines, fmt.Sprintf("- Car model: %s", *f.Model))
	}
	if f.Year != nil {
		lines = append(lines, fmt.Sprintf("- Car year: %d", *f.Year))
	}
	if f.Miles != nil {
		lines = append(lines, fmt.Sprintf("- Number of miles: %d", *f.Miles))
	}
	if f.ListingPrice != nil {
		lines = append(lines, fmt.Sprintf("- Listing price: $%.0f", *f.ListingPrice))
	}
	if f.TireLifeLeft != nil {
		lines = append(lines, fmt.Sprintf("- Tires have life left: %s", yesNo(*f.TireLifeLeft)))
	}
	if f.TitleStatus != nil {
		display := *f.TitleStatus
		if display == store.TitleCheckCarfax {
			display = "Check Carfax (link provided)"
		}
		lines = append(lines, fmt.Sprintf("- Title status: %s", display))
	}
	if f.CarfaxDamageIncidents != nil {
		display := map[string]string{
			store.CarfaxYes:         "Yes",
			store.CarfaxNo:          "No",
			store.CarfaxUnsure:      "Unsure",
			store.CarfaxCheckCarfax: "Check Carfax (link provided)",
		}[*f.CarfaxDamageIncidents]
		if display == "" {
			display = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("- Carfax damage incidents: %s", display))
	}
	if f.DocFeeQuoted != nil {
		lines = append(lines, fmt.Sprintf("- Doc fee quoted: $%.0f", *f.DocFeeQuoted))
	}
	if f.DocFeeNegotiable != nil {
		lines = append(lines, fmt.Sprintf("- Doc fee negotiable: %s", yesNo(*f.DocFeeNegotiable)))
	}
	if f.DocFeeAgreed != nil {
		lines = append(lines, fmt.Sprintf("- Doc fee agreed: $%.0f", *f.DocFeeAgreed))
	}
	if f.LowestPrice != nil {
		lines = append(lines, fmt.Sprintf("- Lowest price: $%.0f", *f.LowestPrice))
	}
	return lines
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
