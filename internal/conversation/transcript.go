package conversation

import (
	"strings"

	"github.com/carscout/carscout-ai/internal/store"
)

// BuildTranscript renders a thread's message log as plain text, the form the
// language model prompts consume. Inbound messages are attributed to the
// dealer and outbound ones to the buyer persona.
func BuildTranscript(messages []store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		sender := "You"
		if msg.Direction == store.DirectionInbound {
			sender = "Dealer"
		}
		lines = append(lines, sender+": "+msg.Body)
	}
	return strings.Join(lines, "\n")
}
