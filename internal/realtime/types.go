// Package realtime implements Gauss's "subscribe" read mode over the
// wire: WebSocket clients subscribe to one or more topics, named by exact
// name or glob pattern, and receive every record a matching topic saves as
// a push delta rather than polling Read(ReadOffset, ...) themselves.
//
// The package splits into Broker (fan-out), Client (one connection), and
// SubscriptionIndex (matching), with gobwas/glob topic-name patterns
// deciding which subscriptions a save reaches.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/gobwas/glob"
)

// MessageType names the kind of payload a WebSocket frame carries.
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"

	MessageTypeConnected MessageType = "connected"
	MessageTypeSnapshot  MessageType = "snapshot"
	MessageTypeDelta     MessageType = "delta"
	MessageTypeError     MessageType = "error"
	MessageTypePong      MessageType = "pong"
)

// Message is the base WebSocket frame shape.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload requests a live feed of every record saved to a topic
// matching Pattern (an exact name or a glob such as "trades.*").
type SubscribePayload struct {
	Pattern string `json:"pattern"`
	FromMs  int64  `json:"from_ms,omitempty"`
}

// UnsubscribePayload cancels a prior subscription by ID.
type UnsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

// ConnectedPayload is sent once, immediately after the WebSocket upgrade.
type ConnectedPayload struct {
	ClientID string `json:"client_id"`
}

// RecordPayload is the wire shape of one topicrecord.Record delivered over
// a subscription.
type RecordPayload struct {
	TopicName string `json:"topic"`
	TsMs      int64  `json:"ts_ms"`
	Data      []byte `json:"data"`
}

// SnapshotPayload answers a subscribe request: every record currently
// matched, sent once before any delta.
type SnapshotPayload struct {
	SubscriptionID string          `json:"subscription_id"`
	Records        []RecordPayload `json:"records"`
}

// DeltaPayload carries one newly saved record to every subscription whose
// pattern matches its topic.
type DeltaPayload struct {
	SubscriptionID string        `json:"subscription_id"`
	Record         RecordPayload `json:"record"`
}

// ErrorPayload reports a protocol-level failure back to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode enumerates the protocol-level failures a Client can report.
type ErrorCode string

const (
	ErrorCodeInvalidMessage    ErrorCode = "INVALID_MESSAGE"
	ErrorCodeInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrorCodeInvalidPattern    ErrorCode = "INVALID_PATTERN"
	ErrorCodeSubscriptionLimit ErrorCode = "SUBSCRIPTION_LIMIT_REACHED"
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// SubscriptionState tracks a subscription's lifecycle; subscriptions
// have no pause state today.
type SubscriptionState string

const (
	SubscriptionStateActive   SubscriptionState = "active"
	SubscriptionStateCanceled SubscriptionState = "canceled"
)

// Subscription is one client's live feed over every topic whose name
// matches Pattern.
type Subscription struct {
	ID        string
	ClientID  string
	Pattern   string
	matcher   glob.Glob
	State     SubscriptionState
	CreatedAt time.Time
}

// NewSubscription compiles pattern as a glob and binds it to clientID.
// Plain topic names (no glob metacharacters) compile to an exact matcher.
func NewSubscription(clientID, id, pattern string) (*Subscription, error) {
	m, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, err
	}
	return &Subscription{
		ID:        id,
		ClientID:  clientID,
		Pattern:   pattern,
		matcher:   m,
		State:     SubscriptionStateActive,
		CreatedAt: time.Now(),
	}, nil
}

// Matches reports whether topicName satisfies this subscription's pattern.
func (s *Subscription) Matches(topicName string) bool {
	return s.matcher.Match(topicName)
}
