package types

import (
	"encoding/json"
	"time"
)

// Client -> server event names. These are the wire names the frontend
// emits; the router decodes the matching payload struct for each.
const (
	EventTypingStart        = "typing_start"
	EventTypingStop         = "typing_stop"
	EventSendMessage        = "send_message"
	EventMessageRead        = "message_read"
	EventAddReaction        = "add_reaction"
	EventChannelJoin        = "channel_join"
	EventChannelLeave       = "channel_leave"
	EventChannelSend        = "channel_send_message"
	EventChannelTypingStart = "channel_typing_start"
	EventChannelTypingStop  = "channel_typing_stop"
	EventChannelRead        = "channel_message_read"
	EventChannelReaction    = "channel_add_reaction"
	EventInitiateCall       = "initiate_call"
	EventAcceptCall         = "accept_call"
	EventRejectCall         = "reject_call"
	EventEndCall            = "end_call"
	EventCancelCall         = "cancel_call"
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
	EventGetUserStatus      = "get_user_status"
	EventGetCallStatus      = "get_call_status"
)

// Server -> client event names.
const (
	EventConnectionAck         = "connection_ack"
	EventUserStatus            = "user_status"
	EventUserTyping            = "user_typing"
	EventReceiveMessage        = "receive_message"
	EventMessageSent           = "message_sent"
	EventMessageDeleted        = "message_deleted"
	EventReactionUpdate        = "reaction_update"
	EventChannelJoined         = "channel_joined"
	EventChannelLeft           = "channel_left"
	EventChannelReceiveMessage = "channel_receive_message"
	EventChannelMessageSent    = "channel_message_sent"
	EventChannelUserTyping     = "channel_user_typing"
	EventChannelReactionUpdate = "channel_reaction_update"
	EventIncomingCall          = "incoming_call"
	EventCallInitiated         = "call_initiated"
	EventCallAccepted          = "call_accepted"
	EventCallRejected          = "call_rejected"
	EventCallEnded             = "call_ended"
	EventCallCancelled         = "call_cancelled"
	EventCallTimeout           = "call_timeout"
	EventCallFailed            = "call_failed"
	EventCallStatus            = "call_status"

	// Per-action confirmations, sent only to the acting connection so
	// its UI can settle without waiting for the counterpart's events.
	EventCallAcceptConfirmed = "call_accept_confirmed"
	EventCallRejectConfirmed = "call_reject_confirmed"
	EventCallEndConfirmed    = "call_end_confirmed"
	EventCallCancelConfirmed = "call_cancel_confirmed"

	// Scoped errors, sent only to the originating connection.
	EventMessageError         = "message_error"
	EventReactionError        = "reaction_error"
	EventChannelError         = "channel_error"
	EventChannelMessageError  = "channel_message_error"
	EventChannelReactionError = "channel_reaction_error"
	EventCallError            = "call_error"
	EventWebRTCError          = "webrtc_error"
)

// Envelope is the frame exchanged over the websocket in both
// directions. Inbound Data stays raw until the router knows the kind.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Call types and lifecycle states.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"

	CallStatusRinging = "ringing"
	CallStatusActive  = "active"
	CallStatusEnded   = "ended"
)

// Message delivery states, mirroring the messageStatus field in the store.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// MaxContentBytes caps the content field of a channel message.
const MaxContentBytes = 64 << 10

// UserInfo is the display identity attached to call events.
type UserInfo struct {
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// UserRef is the embedded sender/receiver shape carried inside a relayed
// 1:1 message. Only the id matters to the relay; the rest is forwarded
// verbatim for the receiving client.
type UserRef struct {
	ID             string `json:"_id"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Reaction is a single per-user emoji reaction on a message.
type Reaction struct {
	UserID    string    `json:"userId" bson:"user"`
	Emoji     string    `json:"emoji" bson:"emoji"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Message is a persisted 1:1 chat message, reduced to the fields the
// realtime layer reads and writes.
type Message struct {
	ID         string     `json:"_id" bson:"_id"`
	SenderID   string     `json:"senderId" bson:"sender"`
	ReceiverID string     `json:"receiverId" bson:"receiver"`
	Content    string     `json:"content,omitempty" bson:"content,omitempty"`
	Status     string     `json:"messageStatus" bson:"messageStatus"`
	Reactions  []Reaction `json:"reactions" bson:"reactions"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
	ReadAt     *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`
}

// Channel is the persisted channel document.
type Channel struct {
	ID        string    `json:"_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Members   []string  `json:"members" bson:"members"`
	CreatedBy string    `json:"createdBy" bson:"createdBy"`
	IsPrivate bool      `json:"isPrivate" bson:"isPrivate"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// HasMember reports whether userID is a persisted member of the channel.
func (c *Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ChannelMessage is a persisted channel message.
type ChannelMessage struct {
	ID          string     `json:"_id" bson:"_id"`
	ChannelID   string     `json:"channelId" bson:"channel"`
	SenderID    string     `json:"senderId" bson:"sender"`
	Content     string     `json:"content" bson:"content"`
	ContentType string     `json:"contentType" bson:"contentType"`
	Status      string     `json:"messageStatus" bson:"messageStatus"`
	Reactions   []Reaction `json:"reactions" bson:"reactions"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
}
