package call

import (
	"encoding/json"
	"time"
)

// Outbound call event payloads. Field names match what the frontend
// already consumes.

type Incoming struct {
	CallID       string    `json:"callId"`
	CallerID     string    `json:"callerId"`
	ReceiverID   string    `json:"receiverId"`
	CallerName   string    `json:"callerName"`
	CallerAvatar string    `json:"callerAvatar,omitempty"`
	CallType     string    `json:"callType"`
	Timestamp    time.Time `json:"timestamp"`
}

type Initiated struct {
	CallID     string `json:"callId"`
	Status     string `json:"status"`
	ReceiverID string `json:"receiverId"`
}

type Accepted struct {
	CallID         string    `json:"callId"`
	ReceiverName   string    `json:"receiverName"`
	ReceiverAvatar string    `json:"receiverAvatar,omitempty"`
	Status         string    `json:"status"`
	AcceptedAt     time.Time `json:"acceptedAt"`
}

type Rejected struct {
	CallID    string    `json:"callId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type Ended struct {
	CallID  string    `json:"callId"`
	Reason  string    `json:"reason"`
	EndedAt time.Time `json:"endedAt"`
}

type Cancelled struct {
	CallID    string    `json:"callId"`
	Timestamp time.Time `json:"timestamp"`
}

type TimedOut struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type Failed struct {
	Reason     string `json:"reason"`
	ReceiverID string `json:"receiverId,omitempty"`
}

// Confirmed acknowledges a lifecycle action back to the connection that
// performed it.
type Confirmed struct {
	CallID string `json:"callId"`
	Status string `json:"status,omitempty"`
}

// StatusReport answers a get_call_status query.
type StatusReport struct {
	Success     bool       `json:"success"`
	CallID      string     `json:"callId"`
	Status      string     `json:"status,omitempty"`
	CallType    string     `json:"callType,omitempty"`
	InitiatedAt time.Time  `json:"initiatedAt,omitzero"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type ErrorNotice struct {
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error"`
}

// Signal carries a relayed negotiation payload. Exactly one of
// Offer/Answer/Candidate is set; the server forwards it verbatim.
type Signal struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	SenderID  string          `json:"senderId"`
	CallID    string          `json:"callId"`
	Timestamp time.Time       `json:"timestamp"`
}
