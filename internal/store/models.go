package store

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Thread states. A thread only ever moves forward through these; the sole
// exception is an explicit reset via purge.
const (
	StateCollectingInfo = "collecting_info"
	StateNegotiating    = "negotiating"
	StateScheduling     = "scheduling"
	StateCompleted      = "completed"
)

var stateRank = map[string]int{
	StateCollectingInfo: 0,
	StateNegotiating:    1,
	StateScheduling:     2,
	StateCompleted:      3,
}

// ErrStateRegression is returned when a transition would move a thread
// backwards through its lifecycle.
var ErrStateRegression = fmt.Errorf("store: thread state cannot regress")

// AdvanceState validates a forward-only transition and returns the state the
// thread should hold afterwards. Equal states are a no-op.
func AdvanceState(current, next string) (string, error) {
	curRank, ok := stateRank[current]
	if !ok {
		curRank = 0
		current = StateCollectingInfo
	}
	nextRank, ok := stateRank[next]
	if !ok {
		return current, fmt.Errorf("store: unknown thread state %q", next)
	}
	if nextRank < curRank {
		return current, ErrStateRegression
	}
	return next, nil
}

// MaxState returns whichever of the two states is further along.
func MaxState(a, b string) string {
	if stateRank[b] > stateRank[a] {
		return b
	}
	return a
}

// Thread is one conversation session tied to a single dealer phone number.
type Thread struct {
	ID                       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	PhoneNumber              string             `bson:"phoneNumber" json:"phoneNumber"`
	State                    string             `bson:"state" json:"state"`
	LastMessage              string             `bson:"lastMessage" json:"lastMessage"`
	LastMessageTime          time.Time          `bson:"lastMessageTime" json:"lastMessageTime"`
	UnreadCount              int                `bson:"unreadCount" json:"unreadCount"`
	ConversationComplete     bool               `bson:"conversationComplete" json:"conversationComplete"`
	WaitingForDealerResponse bool               `bson:"waitingForDealerResponse" json:"waitingForDealerResponse"`
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is a single SMS log entry belonging to a thread.
type Message struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ThreadID          primitive.ObjectID `bson:"threadId" json:"threadId"`
	From              string             `bson:"from" json:"from"`
	To                string             `bson:"to" json:"to"`
	Body              string             `bson:"body" json:"body"`
	Direction         string             `bson:"direction" json:"direction"`
	Timestamp         time.Time          `bson:"timestamp" json:"timestamp"`
	ExternalMessageID string             `bson:"externalMessageId,omitempty" json:"externalMessageId,omitempty"`
}

// Title status values for a car listing.
const (
	TitleClean       = "clean"
	TitleRebuilt     = "rebuilt"
	TitleCheckCarfax = "check_carfax"
)

// Carfax damage incident answers.
const (
	CarfaxYes         = "yes"
	CarfaxNo          = "no"
	CarfaxUnsure      = "unsure"
	CarfaxCheckCarfax = "check_carfax"
)

// ListingFields is the structured data the agent extracts from conversations
// and listing pages. Nil means the dealer has not provided the field yet.
type ListingFields struct {
	Make                  *string  `bson:"make,omitempty" json:"make"`
	Model                 *string  `bson:"model,omitempty" json:"model"`
	Year                  *int     `bson:"year,omitempty" json:"year"`
	Miles                 *int     `bson:"miles,omitempty" json:"miles"`
	ListingPrice          *float64 `bson:"listingPrice,omitempty" json:"listingPrice"`
	TireLifeLeft          *bool    `bson:"tireLifeLeft,omitempty" json:"tireLifeLeft"`
	TitleStatus           *string  `bson:"titleStatus,omitempty" json:"titleStatus"`
	CarfaxDamageIncidents *string  `bson:"carfaxDamageIncidents,omitempty" json:"carfaxDamageIncidents"`
	DocFeeQuoted          *float64 `bson:"docFeeQuoted,omitempty" json:"docFeeQuoted"`
	DocFeeNegotiable      *bool    `bson:"docFeeNegotiable,omitempty" json:"docFeeNegotiable"`
	DocFeeAgreed          *float64 `bson:"docFeeAgreed,omitempty" json:"docFeeAgreed"`
	LowestPrice           *float64 `bson:"lowestPrice,omitempty" json:"lowestPrice"`
}

// Merge copies non-nil fields from other into f, never clearing a field that
// is already known.
func (f *ListingFields) Merge(other ListingFields) {
	if other.Make != nil {
		f.Make = other.Make
	}
	if other.Model != nil {
		f.Model = other.Model
	}
	if other.Year != nil {
		f.Year = other.Year
	}
	if other.Miles != nil {
		f.Miles = other.Miles
	}
	if other.ListingPrice != nil {
		f.ListingPrice = other.ListingPrice
	}
	if other.TireLifeLeft != nil {
		f.TireLifeLeft = other.TireLifeLeft
	}
	if other.TitleStatus != nil {
		f.TitleStatus = other.TitleStatus
	}
	if other.CarfaxDamageIncidents != nil {
		f.CarfaxDamageIncidents = other.CarfaxDamageIncidents
	}
	if other.DocFeeQuoted != nil {
		f.DocFeeQuoted = other.DocFeeQuoted
	}
	if other.DocFeeNegotiable != nil {
		f.DocFeeNegotiable = other.DocFeeNegotiable
	}
	if other.DocFeeAgreed != nil {
		f.DocFeeAgreed = other.DocFeeAgreed
	}
	if other.LowestPrice != nil {
		f.LowestPrice = other.LowestPrice
	}
}

// CoreComplete reports whether the fact-gathering fields (make through doc
// fee quoted) are all known. Once true, the conversation moves from
// collecting info to negotiation.
func (f ListingFields) CoreComplete() bool {
	return f.Make != nil && f.Model != nil && f.Year != nil && f.Miles != nil &&
		f.ListingPrice != nil && f.TireLifeLeft != nil && f.TitleStatus != nil &&
		f.CarfaxDamageIncidents != nil && f.DocFeeQuoted != nil
}

// Complete reports whether every required field is known. The agreed doc fee
// is only required when the quoted fee was negotiable.
func (f ListingFields) Complete() bool {
	if !f.CoreComplete() {
		return false
	}
	if f.DocFeeNegotiable == nil || f.LowestPrice == nil {
		return false
	}
	if *f.DocFeeNegotiable && f.DocFeeAgreed == nil {
		return false
	}
	return true
}

// CarListing is the vehicle record associated 1:1 with a thread.
type CarListing struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ThreadID             primitive.ObjectID `bson:"threadId" json:"threadId"`
	PhoneNumber          string             `bson:"phoneNumber" json:"phoneNumber"`
	ListingFields        `bson:",inline"`
	SourceURL            string    `bson:"sourceURL,omitempty" json:"sourceURL,omitempty"`
	ConversationComplete bool      `bson:"conversationComplete" json:"conversationComplete"`
	ExtractedAt          time.Time `bson:"extractedAt" json:"extractedAt"`
}

// Visit statuses.
const (
	VisitScheduled = "scheduled"
	VisitCancelled = "cancelled"
	VisitCompleted = "completed"
)

// Visit is a scheduled in-person viewing appointment.
type Visit struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	ThreadID          primitive.ObjectID  `bson:"threadId" json:"threadId"`
	CarListingID      *primitive.ObjectID `bson:"carListingId,omitempty" json:"carListingId,omitempty"`
	ScheduledTime     time.Time           `bson:"scheduledTime" json:"scheduledTime"`
	DealerPhoneNumber string              `bson:"dealerPhoneNumber" json:"dealerPhoneNumber"`
	Status            string              `bson:"status" json:"status"`
	Notes             string              `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt         time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time           `bson:"updatedAt" json:"updatedAt"`
}
