package types

import "encoding/json"

// Inbound payloads, one struct per client event. Each carries its own
// Validate so malformed frames are rejected at the boundary before any
// coordinator state changes.

// TypingPayload covers typing_start and typing_stop for 1:1 chats.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

func (p *TypingPayload) Validate() error {
	if p.ConversationID == "" || p.ReceiverID == "" {
		return ErrMissingField
	}
	return nil
}

// SendMessagePayload relays a freshly persisted 1:1 message. Raw holds
// the full client message so it is forwarded byte-compatible; the typed
// fields are the ones the relay inspects.
type SendMessagePayload struct {
	ID       string  `json:"_id"`
	Sender   UserRef `json:"sender"`
	Receiver UserRef `json:"receiver"`

	Raw json.RawMessage `json:"-"`
}

func (p *SendMessagePayload) Validate() error {
	if p.Receiver.ID == "" {
		return ErrMissingField
	}
	return nil
}

// MessageReadPayload marks a batch of 1:1 messages read.
type MessageReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

func (p *MessageReadPayload) Validate() error {
	if len(p.MessageIDs) == 0 || p.SenderID == "" {
		return ErrMissingField
	}
	return nil
}

// ReactionPayload toggles a reaction on a 1:1 message.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (p *ReactionPayload) Validate() error {
	if p.MessageID == "" || p.Emoji == "" {
		return ErrMissingField
	}
	return nil
}

// ChannelPayload covers channel_join and channel_leave.
type ChannelPayload struct {
	ChannelID string `json:"channelId"`
}

func (p *ChannelPayload) Validate() error {
	if p.ChannelID == "" {
		return ErrMissingField
	}
	return nil
}

// ChannelSendPayload posts a message into a channel.
type ChannelSendPayload struct {
	ChannelID   string `json:"channelId"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

func (p *ChannelSendPayload) Validate() error {
	if p.ChannelID == "" || p.Content == "" {
		return ErrMissingField
	}
	if len(p.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// ChannelReadPayload marks channel messages read.
type ChannelReadPayload struct {
	ChannelID  string   `json:"channelId"`
	MessageIDs []string `json:"messageIds"`
}

func (p *ChannelReadPayload) Validate() error {
	if p.ChannelID == "" || len(p.MessageIDs) == 0 {
		return ErrMissingField
	}
	return nil
}

// ChannelReactionPayload toggles a reaction on a channel message.
type ChannelReactionPayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (p *ChannelReactionPayload) Validate() error {
	if p.ChannelID == "" || p.MessageID == "" || p.Emoji == "" {
		return ErrMissingField
	}
	return nil
}

// InitiateCallPayload starts a call toward receiverId.
type InitiateCallPayload struct {
	CallerID   string   `json:"callerId"`
	ReceiverID string   `json:"receiverId"`
	CallType   string   `json:"callType"`
	CallerInfo UserInfo `json:"callerInfo"`
}

func (p *InitiateCallPayload) Validate() error {
	if p.CallerID == "" || p.ReceiverID == "" {
		return ErrMissingField
	}
	if p.CallerID == p.ReceiverID {
		return ErrSelfCall
	}
	if !IsValidCallType(p.CallType) {
		return ErrInvalidCallType
	}
	if !p.CallerInfo.Valid() {
		return ErrInvalidUserInfo
	}
	return nil
}

// AcceptCallPayload answers a ringing call.
type AcceptCallPayload struct {
	CallerID     string   `json:"callerId"`
	CallID       string   `json:"callId"`
	ReceiverInfo UserInfo `json:"receiverInfo"`
}

func (p *AcceptCallPayload) Validate() error {
	if p.CallerID == "" || p.CallID == "" {
		return ErrMissingField
	}
	if !p.ReceiverInfo.Valid() {
		return ErrInvalidUserInfo
	}
	return nil
}

// RejectCallPayload declines a ringing call.
type RejectCallPayload struct {
	CallerID string `json:"callerId"`
	CallID   string `json:"callId"`
	Reason   string `json:"reason"`
}

func (p *RejectCallPayload) Validate() error {
	if p.CallerID == "" || p.CallID == "" {
		return ErrMissingField
	}
	return nil
}

// EndCallPayload hangs up an established call.
type EndCallPayload struct {
	ParticipantID string `json:"participantId"`
	CallID        string `json:"callId"`
	Reason        string `json:"reason"`
}

func (p *EndCallPayload) Validate() error {
	if p.ParticipantID == "" || p.CallID == "" {
		return ErrMissingField
	}
	return nil
}

// CancelCallPayload withdraws a call before it is answered.
type CancelCallPayload struct {
	ReceiverID string `json:"receiverId"`
	CallID     string `json:"callId"`
}

func (p *CancelCallPayload) Validate() error {
	if p.ReceiverID == "" || p.CallID == "" {
		return ErrMissingField
	}
	return nil
}

// SignalPayload carries an opaque webrtc offer, answer, or ICE
// candidate. Exactly one of Offer/Answer/Candidate is set depending on
// the event name; the server never inspects the contents.
type SignalPayload struct {
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	ReceiverID string          `json:"receiverId"`
	CallID     string          `json:"callId"`
}

func (p *SignalPayload) Validate() error {
	if p.ReceiverID == "" || p.CallID == "" {
		return ErrMissingField
	}
	if len(p.Offer) == 0 && len(p.Answer) == 0 && len(p.Candidate) == 0 {
		return ErrMissingField
	}
	return nil
}

// GetUserStatusPayload asks for a user's live presence.
type GetUserStatusPayload struct {
	UserID string `json:"userId"`
}

func (p *GetUserStatusPayload) Validate() error {
	if p.UserID == "" {
		return ErrMissingField
	}
	return nil
}

// GetCallStatusPayload asks for the state of an in-flight call.
type GetCallStatusPayload struct {
	CallID string `json:"callId"`
}

func (p *GetCallStatusPayload) Validate() error {
	if p.CallID == "" {
		return ErrMissingField
	}
	return nil
}

// Body returns whichever signaling blob the payload carries.
func (p *SignalPayload) Body() json.RawMessage {
	switch {
	case len(p.Offer) > 0:
		return p.Offer
	case len(p.Answer) > 0:
		return p.Answer
	default:
		return p.Candidate
	}
}
