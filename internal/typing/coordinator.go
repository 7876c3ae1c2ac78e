// Package typing tracks who is typing where, with auto-expiry.
package typing

import (
	"sync"
	"time"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// RoomBroadcaster delivers an event to every member of a channel room
// except one user. The room manager implements it.
type RoomBroadcaster interface {
	BroadcastExcept(channelID, exceptUserID, event string, data any)
}

// Update is the user_typing / channel_user_typing payload.
type Update struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	ChannelID      string `json:"channelId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// entry is one (conversationKey, userID) typing state. The timer is the
// cancellable expiry handle; whichever path removes the entry first
// owns the single stop emission.
type entry struct {
	timer      *time.Timer
	gen        uint64 // invalidates expiry callbacks from a superseded arm
	receiverID string // audience for direct conversations
	channel    bool
}

// Coordinator owns the typing state machine for both 1:1 conversations
// and channels. All transitions take the coordinator lock and re-check
// entry existence, so the expiry callback and an explicit stop can
// never both emit.
type Coordinator struct {
	mu      sync.Mutex
	state   map[string]map[string]*entry // conversationKey -> userID -> entry
	gen     uint64
	dir     interfaces.Directory
	rooms   RoomBroadcaster
	timeout time.Duration
}

// NewCoordinator creates a typing coordinator with the given expiry
// window.
func NewCoordinator(dir interfaces.Directory, rooms RoomBroadcaster, timeout time.Duration) *Coordinator {
	return &Coordinator{
		state:   make(map[string]map[string]*entry),
		dir:     dir,
		rooms:   rooms,
		timeout: timeout,
	}
}

// StartDirect transitions (conversationID, userID) to typing and
// notifies the other participant's devices. A repeat start while
// already typing re-arms the timer without re-emitting.
func (c *Coordinator) StartDirect(conversationID, userID, receiverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	restarted := c.arm(conversationID, userID, &entry{receiverID: receiverID})
	if restarted {
		return
	}
	c.dir.EmitToUser(receiverID, types.EventUserTyping, Update{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       true,
	})
}

// StopDirect transitions (conversationID, userID) to idle on an
// explicit stop request.
func (c *Coordinator) StopDirect(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(conversationID, userID)
}

// StartChannel transitions (channelID, userID) to typing and notifies
// the other members of the channel room.
func (c *Coordinator) StartChannel(channelID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	restarted := c.arm(channelID, userID, &entry{channel: true})
	if restarted {
		return
	}
	c.rooms.BroadcastExcept(channelID, userID, types.EventChannelUserTyping, Update{
		UserID:    userID,
		ChannelID: channelID,
		IsTyping:  true,
	})
}

// StopChannel transitions (channelID, userID) to idle. Also called by
// the router when a user leaves a channel room.
func (c *Coordinator) StopChannel(channelID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(channelID, userID)
}

// CleanupUser removes every typing entry for a departing user, emitting
// the stop event for each. Called on full disconnect.
func (c *Coordinator) CleanupUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, users := range c.state {
		if _, ok := users[userID]; ok {
			c.expire(key, userID)
		}
	}
}

// Typing reports whether (conversationKey, userID) currently has a
// typing entry. Used by tests and the stats endpoint.
func (c *Coordinator) Typing(conversationKey, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.state[conversationKey]
	if !ok {
		return false
	}
	_, ok = users[userID]
	return ok
}

// arm inserts or re-arms the entry for (key, userID) and returns true
// when the user was already typing (debounce: cancel and re-arm,
// measured from the last start). Caller holds the lock.
func (c *Coordinator) arm(key, userID string, e *entry) (restarted bool) {
	users, ok := c.state[key]
	if !ok {
		users = make(map[string]*entry)
		c.state[key] = users
	}

	c.gen++
	if existing, ok := users[userID]; ok {
		existing.timer.Stop()
		existing.gen = c.gen
		existing.timer = c.expiryTimer(key, userID, c.gen)
		return true
	}

	e.gen = c.gen
	e.timer = c.expiryTimer(key, userID, c.gen)
	users[userID] = e
	return false
}

// expiryTimer arms the auto-stop for one arm generation. A callback
// from a superseded generation finds a newer gen on the entry and does
// nothing, so a stop never fires against a re-armed state.
func (c *Coordinator) expiryTimer(key, userID string, gen uint64) *time.Timer {
	return time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if users, ok := c.state[key]; ok {
			if e, ok := users[userID]; ok && e.gen == gen {
				c.expire(key, userID)
			}
		}
	})
}

// expire cancels the timer, removes the entry, and emits the stop event
// exactly once. A second call for the same pair is a no-op because the
// entry is already gone. Caller holds the lock.
func (c *Coordinator) expire(key, userID string) {
	users, ok := c.state[key]
	if !ok {
		return
	}
	e, ok := users[userID]
	if !ok {
		return
	}

	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(c.state, key)
	}

	if e.channel {
		c.rooms.BroadcastExcept(key, userID, types.EventChannelUserTyping, Update{
			UserID:    userID,
			ChannelID: key,
			IsTyping:  false,
		})
		return
	}
	c.dir.EmitToUser(e.receiverID, types.EventUserTyping, Update{
		UserID:         userID,
		ConversationID: key,
		IsTyping:       false,
	})
}
