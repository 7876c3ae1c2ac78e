// Package call owns the call lifecycle state machine and relays opaque
// webrtc negotiation payloads between exactly two parties.
package call

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// ActiveCall is the in-memory record of one in-flight call. The two
// timers are mutually exclusive by construction: the ring timer is
// stopped and cleared before the duration timer is armed.
type ActiveCall struct {
	ID          string
	CallerID    string
	ReceiverID  string
	Type        string
	Status      string
	InitiatedAt time.Time
	AcceptedAt  time.Time

	ringTimer     *time.Timer
	durationTimer *time.Timer
}

// other returns the counterpart of a participant, and ok=false when the
// user is not part of the call.
func (c *ActiveCall) other(userID string) (string, bool) {
	switch userID {
	case c.CallerID:
		return c.ReceiverID, true
	case c.ReceiverID:
		return c.CallerID, true
	default:
		return "", false
	}
}

// Coordinator brokers calls between users. It owns the ActiveCall
// table; every transition locks the table and re-checks entry existence
// so timer callbacks cannot act on calls that were already torn down.
type Coordinator struct {
	mu    sync.Mutex
	calls map[string]*ActiveCall

	dir         interfaces.Directory
	ringTimeout time.Duration
	maxDuration time.Duration
}

// NewCoordinator creates a call coordinator.
func NewCoordinator(dir interfaces.Directory, ringTimeout, maxDuration time.Duration) *Coordinator {
	return &Coordinator{
		calls:       make(map[string]*ActiveCall),
		dir:         dir,
		ringTimeout: ringTimeout,
		maxDuration: maxDuration,
	}
}

// newCallID builds a collision-resistant id from both parties, the
// current time, and random entropy.
func newCallID(callerID, receiverID string) string {
	return fmt.Sprintf("call_%s_%s_%d_%s", callerID, receiverID, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Initiate starts a call from the connection's user toward the
// receiver. Validation failures and an offline receiver produce
// call_failed on the initiating connection; no ActiveCall is created.
func (c *Coordinator) Initiate(conn interfaces.Conn, p *types.InitiateCallPayload) {
	callerID := conn.UserID()

	if callerID == p.ReceiverID {
		c.sendTo(conn, types.EventCallFailed, Failed{Reason: "Cannot call yourself"})
		return
	}
	if !c.dir.IsOnline(p.ReceiverID) {
		c.sendTo(conn, types.EventCallFailed, Failed{Reason: "User is offline", ReceiverID: p.ReceiverID})
		return
	}

	c.mu.Lock()
	call := &ActiveCall{
		ID:          newCallID(callerID, p.ReceiverID),
		CallerID:    callerID,
		ReceiverID:  p.ReceiverID,
		Type:        p.CallType,
		Status:      types.CallStatusRinging,
		InitiatedAt: time.Now(),
	}
	call.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(call.ID) })
	c.calls[call.ID] = call
	c.mu.Unlock()

	// Every open device of the receiver gets the ring so any tab can answer.
	c.dir.EmitToUser(p.ReceiverID, types.EventIncomingCall, Incoming{
		CallID:       call.ID,
		CallerID:     callerID,
		ReceiverID:   p.ReceiverID,
		CallerName:   p.CallerInfo.Username,
		CallerAvatar: p.CallerInfo.ProfilePicture,
		CallType:     p.CallType,
		Timestamp:    call.InitiatedAt,
	})
	c.sendTo(conn, types.EventCallInitiated, Initiated{
		CallID:     call.ID,
		Status:     types.CallStatusRinging,
		ReceiverID: p.ReceiverID,
	})

	slog.Info("call initiated", "callId", call.ID, "callType", p.CallType)
}

// ringExpired fires when a call was not answered within the ring
// window. Only still-ringing calls are affected.
func (c *Coordinator) ringExpired(callID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok || call.Status != types.CallStatusRinging {
		c.mu.Unlock()
		return
	}
	c.remove(call)
	c.mu.Unlock()

	c.dir.EmitToUser(call.CallerID, types.EventCallTimeout, TimedOut{CallID: callID, Reason: "No answer"})
	c.dir.EmitToUser(call.ReceiverID, types.EventCallCancelled, Cancelled{CallID: callID, Timestamp: time.Now()})
	slog.Info("call timed out", "callId", callID)
}

// Accept answers a ringing call. The accepting connection must belong
// to the call's receiver. Cancels the ring timer, transitions to
// active, and arms the max-duration timer.
func (c *Coordinator) Accept(conn interfaces.Conn, p *types.AcceptCallPayload) {
	c.mu.Lock()
	call, ok := c.calls[p.CallID]
	if !ok {
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Call not found or already ended"})
		return
	}
	if conn.UserID() != call.ReceiverID {
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Not a participant of this call"})
		return
	}
	if call.Status != types.CallStatusRinging {
		// Another tab answered first; re-arming the duration timer here
		// would orphan the one already running.
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Call already answered"})
		return
	}

	if call.ringTimer != nil {
		call.ringTimer.Stop()
		call.ringTimer = nil
	}
	call.Status = types.CallStatusActive
	call.AcceptedAt = time.Now()
	call.durationTimer = time.AfterFunc(c.maxDuration, func() { c.durationExpired(call.ID) })
	c.mu.Unlock()

	delivered := c.dir.EmitToUser(call.CallerID, types.EventCallAccepted, Accepted{
		CallID:         p.CallID,
		ReceiverName:   p.ReceiverInfo.Username,
		ReceiverAvatar: p.ReceiverInfo.ProfilePicture,
		Status:         types.CallStatusActive,
		AcceptedAt:     call.AcceptedAt,
	})
	if !delivered {
		// Caller went fully offline between ring and accept.
		c.mu.Lock()
		if call, ok := c.calls[p.CallID]; ok {
			c.remove(call)
		}
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Caller is no longer available"})
		return
	}

	c.sendTo(conn, types.EventCallAcceptConfirmed, Confirmed{CallID: p.CallID, Status: types.CallStatusActive})
	slog.Info("call accepted", "callId", p.CallID)
}

// durationExpired force-ends a call that reached the maximum duration.
func (c *Coordinator) durationExpired(callID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.remove(call)
	c.mu.Unlock()

	ended := Ended{CallID: callID, Reason: "Max duration reached", EndedAt: time.Now()}
	c.dir.EmitToUser(call.CallerID, types.EventCallEnded, ended)
	c.dir.EmitToUser(call.ReceiverID, types.EventCallEnded, ended)
	slog.Info("call reached max duration", "callId", callID)
}

// Reject declines a ringing call and notifies the caller. Deleting the
// ActiveCall is unconditional: rejecting an already-gone call still
// notifies the claimed caller, best-effort. When the call does exist,
// only its receiver may reject it.
func (c *Coordinator) Reject(conn interfaces.Conn, p *types.RejectCallPayload) {
	callerID := p.CallerID

	c.mu.Lock()
	if call, ok := c.calls[p.CallID]; ok {
		if conn.UserID() != call.ReceiverID {
			c.mu.Unlock()
			c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Not a participant of this call"})
			return
		}
		callerID = call.CallerID
		c.remove(call)
	}
	c.mu.Unlock()

	reason := p.Reason
	if reason == "" {
		reason = "Call rejected"
	}
	c.dir.EmitToUser(callerID, types.EventCallRejected, Rejected{
		CallID:    p.CallID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	c.sendTo(conn, types.EventCallRejectConfirmed, Confirmed{CallID: p.CallID})
	slog.Info("call rejected", "callId", p.CallID)
}

// Cancel withdraws a not-yet-answered call and notifies the receiver.
// When the call exists, only its caller may cancel it.
func (c *Coordinator) Cancel(conn interfaces.Conn, p *types.CancelCallPayload) {
	receiverID := p.ReceiverID

	c.mu.Lock()
	if call, ok := c.calls[p.CallID]; ok {
		if conn.UserID() != call.CallerID {
			c.mu.Unlock()
			c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Not a participant of this call"})
			return
		}
		receiverID = call.ReceiverID
		c.remove(call)
	}
	c.mu.Unlock()

	c.dir.EmitToUser(receiverID, types.EventCallCancelled, Cancelled{
		CallID:    p.CallID,
		Timestamp: time.Now(),
	})
	c.sendTo(conn, types.EventCallCancelConfirmed, Confirmed{CallID: p.CallID})
	slog.Info("call cancelled", "callId", p.CallID)
}

// End hangs up a known call. The ending connection must belong to a
// participant; the counterpart is notified on all devices, and so are
// the ender's other devices to keep multi-tab state consistent.
func (c *Coordinator) End(conn interfaces.Conn, p *types.EndCallPayload) {
	c.mu.Lock()
	call, ok := c.calls[p.CallID]
	if !ok {
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Call not found or already ended"})
		return
	}
	otherID, participant := call.other(conn.UserID())
	if !participant {
		c.mu.Unlock()
		c.sendTo(conn, types.EventCallError, ErrorNotice{CallID: p.CallID, Error: "Not a participant of this call"})
		return
	}
	c.remove(call)
	c.mu.Unlock()

	reason := p.Reason
	if reason == "" {
		reason = "Call ended"
	}
	ended := Ended{CallID: p.CallID, Reason: reason, EndedAt: time.Now()}
	c.dir.EmitToUser(otherID, types.EventCallEnded, ended)
	c.dir.EmitToUser(conn.UserID(), types.EventCallEnded, ended)
	c.sendTo(conn, types.EventCallEndConfirmed, Confirmed{CallID: p.CallID})
	slog.Info("call ended", "callId", p.CallID, "reason", reason)
}

// Status answers a get_call_status query on the asking connection.
func (c *Coordinator) Status(conn interfaces.Conn, p *types.GetCallStatusPayload) {
	c.mu.Lock()
	call, ok := c.calls[p.CallID]
	var report StatusReport
	if ok {
		report = StatusReport{
			Success:     true,
			CallID:      call.ID,
			Status:      call.Status,
			CallType:    call.Type,
			InitiatedAt: call.InitiatedAt,
		}
		if !call.AcceptedAt.IsZero() {
			t := call.AcceptedAt
			report.AcceptedAt = &t
		}
	} else {
		report = StatusReport{CallID: p.CallID, Error: "Call not found"}
	}
	c.mu.Unlock()

	c.sendTo(conn, types.EventCallStatus, report)
}

// Relay forwards an opaque signaling payload to the receiver's devices.
// Offers and answers require the call to exist and report delivery
// failures back to the sender; ICE candidates may race the call
// bookkeeping, so they skip the existence check and drop silently when
// the receiver is unreachable.
func (c *Coordinator) Relay(conn interfaces.Conn, event string, p *types.SignalPayload) {
	ice := event == types.EventWebRTCICECandidate

	if !ice {
		c.mu.Lock()
		_, ok := c.calls[p.CallID]
		c.mu.Unlock()
		if !ok {
			c.sendTo(conn, types.EventWebRTCError, ErrorNotice{CallID: p.CallID, Error: "Call is not active"})
			return
		}
	}

	delivered := c.dir.EmitToUser(p.ReceiverID, event, Signal{
		Offer:     p.Offer,
		Answer:    p.Answer,
		Candidate: p.Candidate,
		SenderID:  conn.UserID(),
		CallID:    p.CallID,
		Timestamp: time.Now(),
	})
	if !delivered {
		if ice {
			slog.Debug("ice candidate dropped, receiver offline", "callId", p.CallID)
			return
		}
		c.sendTo(conn, types.EventWebRTCError, ErrorNotice{CallID: p.CallID, Error: "Receiver is offline"})
	}
}

// CleanupUser ends every call the departing user participates in and
// notifies the other party. Called on full disconnect; unrelated calls
// are untouched.
func (c *Coordinator) CleanupUser(userID string) {
	c.mu.Lock()
	var dropped []*ActiveCall
	for _, call := range c.calls {
		if _, ok := call.other(userID); ok {
			c.remove(call)
			dropped = append(dropped, call)
		}
	}
	c.mu.Unlock()

	for _, call := range dropped {
		otherID, _ := call.other(userID)
		c.dir.EmitToUser(otherID, types.EventCallEnded, Ended{
			CallID:  call.ID,
			Reason:  "Participant disconnected",
			EndedAt: time.Now(),
		})
		slog.Info("call ended by disconnect", "callId", call.ID, "userId", userID)
	}
}

// Snapshot reports a call's observable state for tests and the stats
// endpoint. ok=false when the call does not exist.
func (c *Coordinator) Snapshot(callID string) (status string, ringArmed, durationArmed, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, exists := c.calls[callID]
	if !exists {
		return "", false, false, false
	}
	return call.Status, call.ringTimer != nil, call.durationTimer != nil, true
}

// Len returns the number of in-flight calls.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// remove clears both timer handles and deletes the entry. Every path
// that deletes an ActiveCall goes through here, so no orphaned timer
// can outlive its call. Caller holds the lock.
func (c *Coordinator) remove(call *ActiveCall) {
	if call.ringTimer != nil {
		call.ringTimer.Stop()
		call.ringTimer = nil
	}
	if call.durationTimer != nil {
		call.durationTimer.Stop()
		call.durationTimer = nil
	}
	call.Status = types.CallStatusEnded
	delete(c.calls, call.ID)
}

func (c *Coordinator) sendTo(conn interfaces.Conn, event string, data any) {
	if err := conn.Send(event, data); err != nil {
		slog.Warn("scoped call event send failed", "event", event, "connId", conn.ID(), "error", err)
	}
}
