package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carscout/carscout-ai/internal/store"
)

func TestIsBareAcknowledgment(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Sounds good, I'll get back to you", true},
		{"We're still gathering that information", true},
		{"Thank you for your patience!", true},
		{"I will reach out as soon as I hear back", true},
		{"Looking into it now", true},
		{"The price is $15,000", false},
		{"It has 42000 miles", false},
		{"We'll get back to you, but the doc fee is $299", false},
		{"Yes the title is clean", false},
		{"ok", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isBareAcknowledgment(tt.message), "message: %q", tt.message)
	}
}

func TestHasNewInformationShortCircuitsOnAcknowledgment(t *testing.T) {
	chat := &fakeChat{reply: "YES"}
	c := NewClassifier(chat, "", testLogger())

	got := c.HasNewInformation(context.Background(), "Sounds good, will get back to you", store.ListingFields{})
	assert.False(t, got)
	assert.Empty(t, chat.requests, "acknowledgments must not hit the model")
}

func TestHasNewInformationWithoutModel(t *testing.T) {
	c := NewClassifier(nil, "", testLogger())
	assert.True(t, c.HasNewInformation(context.Background(), "The tires are brand new", store.ListingFields{}))
}

func TestHasNewInformationConsultsModel(t *testing.T) {
	chat := &fakeChat{reply: "NO"}
	c := NewClassifier(chat, "", testLogger())

	got := c.HasNewInformation(context.Background(), "Checking on that for you, give me 5 minutes", store.ListingFields{})
	assert.False(t, got)
	assert.Len(t, chat.requests, 1)

	chat.reply = "YES"
	got = c.HasNewInformation(context.Background(), "Doc fee is $150", store.ListingFields{})
	assert.True(t, got)
}

func TestHasNewInformationModelFailureAssumesNew(t *testing.T) {
	chat := &fakeChat{err: assert.AnError}
	c := NewClassifier(chat, "", testLogger())

	assert.True(t, c.HasNewInformation(context.Background(), "It has new tires with 90% tread", store.ListingFields{}))
}

func TestIsVisitInquiryKeywordFallback(t *testing.T) {
	c := NewClassifier(nil, "", testLogger())

	assert.True(t, c.IsVisitInquiry(context.Background(), "When can you come by for a test drive?"))
	assert.True(t, c.IsVisitInquiry(context.Background(), "Want to schedule an appointment?"))
	assert.False(t, c.IsVisitInquiry(context.Background(), "The title is clean."))
}

func TestIsVisitInquiryModelAnswer(t *testing.T) {
	chat := &fakeChat{reply: "yes"}
	c := NewClassifier(chat, "", testLogger())
	assert.True(t, c.IsVisitInquiry(context.Background(), "Can you swing by tomorrow?"))

	chat.reply = "NO"
	assert.False(t, c.IsVisitInquiry(context.Background(), "The car is blue."))
}

func TestIsVisitInquiryModelFailureUsesKeywords(t *testing.T) {
	chat := &fakeChat{err: assert.AnError}
	c := NewClassifier(chat, "", testLogger())

	assert.True(t, c.IsVisitInquiry(context.Background(), "come in anytime this week"))
	assert.False(t, c.IsVisitInquiry(context.Background(), "the doc fee is firm"))
}
