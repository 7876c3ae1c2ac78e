// Package router decodes inbound frames and dispatches them to the
// coordinator that owns each event. It is the single trust boundary:
// payloads are validated here, and a panicking handler is contained
// here so one bad frame cannot take down the connection's read loop.
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"chatline/internal/call"
	"chatline/internal/presence"
	"chatline/internal/relay"
	"chatline/internal/room"
	"chatline/internal/typing"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Router dispatches decoded client events.
type Router struct {
	typing   *typing.Coordinator
	calls    *call.Coordinator
	relay    *relay.Relay
	rooms    *room.Manager
	presence *presence.Publisher
}

func New(t *typing.Coordinator, c *call.Coordinator, r *relay.Relay, rooms *room.Manager, p *presence.Publisher) *Router {
	return &Router{typing: t, calls: c, relay: r, rooms: rooms, presence: p}
}

// Dispatch routes one raw frame. Malformed frames and payloads produce
// a scoped error event on the sending connection where the protocol
// defines one, and are otherwise dropped with a log line. State is
// never mutated before validation passes.
func (r *Router) Dispatch(conn interfaces.Conn, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "connId", conn.ID(), "userId", conn.UserID(), "panic", rec)
		}
	}()

	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		slog.Debug("undecodable frame dropped", "connId", conn.ID())
		return
	}

	if err := r.route(conn, &env); err != nil {
		r.reject(conn, &env, err)
	}
}

// detach runs a handler that must wait on the store off the dispatching
// goroutine, so a slow database cannot stall typing, presence, and call
// frames queued behind it. Payloads are validated before detaching;
// the recover mirrors Dispatch's.
func (r *Router) detach(conn interfaces.Conn, event string, fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "event", event, "connId", conn.ID(), "userId", conn.UserID(), "panic", rec)
			}
		}()
		fn()
	}()
}

func (r *Router) route(conn interfaces.Conn, env *types.Envelope) error {
	switch env.Event {

	case types.EventTypingStart:
		p := &types.TypingPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.typing.StartDirect(p.ConversationID, conn.UserID(), p.ReceiverID)

	case types.EventTypingStop:
		p := &types.TypingPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.typing.StopDirect(p.ConversationID, conn.UserID())

	case types.EventSendMessage:
		p := &types.SendMessagePayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		p.Raw = env.Data
		r.relay.Deliver(conn, p)

	case types.EventMessageRead:
		p := &types.MessageReadPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.relay.MarkRead(conn, p)

	case types.EventAddReaction:
		p := &types.ReactionPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		// The reaction broadcast needs the store's toggle result first.
		r.detach(conn, env.Event, func() { r.relay.React(conn, p) })

	case types.EventChannelJoin:
		p := &types.ChannelPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		// Join validates against the channel document; cold cache means a
		// store read.
		r.detach(conn, env.Event, func() { r.rooms.Join(conn, p.ChannelID) })

	case types.EventChannelLeave:
		p := &types.ChannelPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		// Leaving also retracts any live typing indicator in that room.
		r.typing.StopChannel(p.ChannelID, conn.UserID())
		r.rooms.Leave(conn, p.ChannelID)

	case types.EventChannelSend:
		p := &types.ChannelSendPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.typing.StopChannel(p.ChannelID, conn.UserID())
		r.rooms.SendMessage(conn, p)

	case types.EventChannelTypingStart:
		p := &types.ChannelPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		if !r.rooms.InRoom(conn, p.ChannelID) {
			return nil
		}
		r.typing.StartChannel(p.ChannelID, conn.UserID())

	case types.EventChannelTypingStop:
		p := &types.ChannelPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.typing.StopChannel(p.ChannelID, conn.UserID())

	case types.EventChannelRead:
		p := &types.ChannelReadPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.rooms.MarkRead(conn, p)

	case types.EventChannelReaction:
		p := &types.ChannelReactionPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.detach(conn, env.Event, func() { r.rooms.React(conn, p) })

	case types.EventInitiateCall:
		p := &types.InitiateCallPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Initiate(conn, p)

	case types.EventAcceptCall:
		p := &types.AcceptCallPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Accept(conn, p)

	case types.EventRejectCall:
		p := &types.RejectCallPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Reject(conn, p)

	case types.EventEndCall:
		p := &types.EndCallPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.End(conn, p)

	case types.EventCancelCall:
		p := &types.CancelCallPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Cancel(conn, p)

	case types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCICECandidate:
		p := &types.SignalPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Relay(conn, env.Event, p)

	case types.EventGetUserStatus:
		p := &types.GetUserStatusPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.presence.Query(conn, p.UserID)

	case types.EventGetCallStatus:
		p := &types.GetCallStatusPayload{}
		if err := decode(env.Data, p); err != nil {
			return err
		}
		r.calls.Status(conn, p)

	default:
		return ErrUnknownEvent
	}
	return nil
}

// reject maps a routing failure to the scoped error event its domain
// defines. Typing and read-receipt frames have no error channel on the
// wire; those just get logged.
func (r *Router) reject(conn interfaces.Conn, env *types.Envelope, err error) {
	slog.Debug("frame rejected", "event", env.Event, "connId", conn.ID(), "error", err)

	var errorEvent string
	switch env.Event {
	case types.EventSendMessage:
		errorEvent = types.EventMessageError
	case types.EventAddReaction:
		errorEvent = types.EventReactionError
	case types.EventChannelJoin, types.EventChannelLeave:
		errorEvent = types.EventChannelError
	case types.EventChannelSend:
		errorEvent = types.EventChannelMessageError
	case types.EventChannelReaction:
		errorEvent = types.EventChannelReactionError
	case types.EventInitiateCall:
		// A call that never starts fails, it does not error: the client's
		// call UI resets on call_failed.
		if sendErr := conn.Send(types.EventCallFailed, map[string]any{"reason": err.Error()}); sendErr != nil {
			slog.Warn("error event send failed", "event", types.EventCallFailed, "connId", conn.ID(), "error", sendErr)
		}
		return
	case types.EventAcceptCall, types.EventRejectCall,
		types.EventEndCall, types.EventCancelCall:
		errorEvent = types.EventCallError
	case types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCICECandidate:
		errorEvent = types.EventWebRTCError
	default:
		return
	}

	if sendErr := conn.Send(errorEvent, map[string]any{"error": err.Error()}); sendErr != nil {
		slog.Warn("error event send failed", "event", errorEvent, "connId", conn.ID(), "error", sendErr)
	}
}

func decode(data json.RawMessage, p interface{ Validate() error }) error {
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
