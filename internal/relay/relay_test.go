package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

type emitted struct {
	UserID string
	Event  string
	Data   any
}

type fakeDirectory struct {
	mu     sync.Mutex
	emits  []emitted
	online map[string]bool
}

func newFakeDirectory(online ...string) *fakeDirectory {
	f := &fakeDirectory{online: make(map[string]bool)}
	for _, u := range online {
		f.online[u] = true
	}
	return f
}

func (f *fakeDirectory) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeDirectory) ConnectionCount(userID string) int {
	if f.IsOnline(userID) {
		return 1
	}
	return 0
}

func (f *fakeDirectory) EmitToUser(userID, event string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.emits = append(f.emits, emitted{UserID: userID, Event: event, Data: data})
	return true
}

func (f *fakeDirectory) Broadcast(event string, data any) {}

func (f *fakeDirectory) events() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.emits))
	copy(out, f.emits)
	return out
}

type fakeConn struct {
	mu     sync.Mutex
	id     string
	userID string
	sent   []emitted
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }
func (c *fakeConn) Closed() bool   { return false }

func (c *fakeConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, emitted{Event: event, Data: data})
	return nil
}

func (c *fakeConn) last(t *testing.T) emitted {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no event sent on connection")
	}
	return c.sent[len(c.sent)-1]
}

type statusWrite struct {
	IDs    []string
	Status string
}

type fakeStore struct {
	mu           sync.Mutex
	statusWrites []statusWrite
	statusErr    error
	statusGate   chan struct{}
	toggleResult *types.Message
	toggleErr    error
}

func (f *fakeStore) UpdatePresence(context.Context, string, bool, time.Time) error { return nil }

func (f *fakeStore) UpdateMessageStatus(_ context.Context, ids []string, status string, _ time.Time) error {
	if f.statusGate != nil {
		<-f.statusGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, statusWrite{IDs: ids, Status: status})
	return f.statusErr
}

func (f *fakeStore) ToggleReaction(context.Context, string, string, string) (*types.Message, error) {
	return f.toggleResult, f.toggleErr
}

func (f *fakeStore) DeleteMessage(context.Context, string, string) (*types.Message, error) {
	return nil, interfaces.ErrNotFound
}

func (f *fakeStore) GetChannel(context.Context, string) (*types.Channel, error) { return nil, nil }
func (f *fakeStore) CreateChannel(context.Context, *types.Channel) error        { return nil }
func (f *fakeStore) ListChannels(context.Context, string) ([]*types.Channel, error) {
	return nil, nil
}
func (f *fakeStore) SaveChannelMessage(context.Context, *types.ChannelMessage) error { return nil }
func (f *fakeStore) UpdateChannelMessageStatus(context.Context, string, []string, string, time.Time) error {
	return nil
}
func (f *fakeStore) ToggleChannelReaction(context.Context, string, string, string) (*types.ChannelMessage, error) {
	return nil, nil
}
func (f *fakeStore) HealthCheck(context.Context) error { return nil }
func (f *fakeStore) Close(context.Context) error       { return nil }

func (f *fakeStore) writes() []statusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusWrite, len(f.statusWrites))
	copy(out, f.statusWrites)
	return out
}

var _ interfaces.Store = &fakeStore{}

func sendPayload(raw string) *types.SendMessagePayload {
	p := &types.SendMessagePayload{}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		panic(err)
	}
	p.Raw = json.RawMessage(raw)
	return p
}

func TestDeliver_OnlineReceiverGetsVerbatimMessage(t *testing.T) {
	dir := newFakeDirectory("bob")
	store := &fakeStore{}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c1", userID: "alice"}

	raw := `{"_id":"m1","sender":{"_id":"alice","username":"Alice"},"receiver":{"_id":"bob"},"content":"hey"}`
	r.Deliver(conn, sendPayload(raw))

	events := dir.events()
	if len(events) != 1 || events[0].Event != types.EventReceiveMessage {
		t.Fatalf("expected one receive_message, got %+v", events)
	}
	forwarded, ok := events[0].Data.(json.RawMessage)
	if !ok || string(forwarded) != raw {
		t.Errorf("message must be forwarded verbatim, got %v", events[0].Data)
	}

	ack := conn.last(t)
	if ack.Event != types.EventMessageSent {
		t.Fatalf("expected message_sent ack, got %+v", ack)
	}
	if status := ack.Data.(map[string]any)["status"]; status != types.MessageStatusDelivered {
		t.Errorf("expected delivered status, got %v", status)
	}

	waitFor(t, func() bool { return len(store.writes()) == 1 })
	if w := store.writes()[0]; w.Status != types.MessageStatusDelivered || w.IDs[0] != "m1" {
		t.Errorf("unexpected status write: %+v", w)
	}
}

func TestDeliver_OfflineReceiverAcksSent(t *testing.T) {
	dir := newFakeDirectory() // nobody online
	store := &fakeStore{}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c1", userID: "alice"}

	r.Deliver(conn, sendPayload(`{"_id":"m1","receiver":{"_id":"bob"}}`))

	ack := conn.last(t)
	if status := ack.Data.(map[string]any)["status"]; status != types.MessageStatusSent {
		t.Errorf("expected sent status for offline receiver, got %v", status)
	}

	time.Sleep(20 * time.Millisecond)
	if len(store.writes()) != 0 {
		t.Error("no delivered write should happen for an offline receiver")
	}
}

func TestMarkRead_NotifiesSenderPerMessage(t *testing.T) {
	dir := newFakeDirectory("alice")
	store := &fakeStore{}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c2", userID: "bob"}

	r.MarkRead(conn, &types.MessageReadPayload{
		MessageIDs: []string{"m1", "m2"},
		SenderID:   "alice",
	})

	// The read persist runs in the background.
	waitFor(t, func() bool {
		w := store.writes()
		return len(w) == 1 && w[0].Status == types.MessageStatusRead
	})

	events := dir.events()
	if len(events) != 2 {
		t.Fatalf("expected one message_read per id, got %d", len(events))
	}
	for _, e := range events {
		if e.UserID != "alice" || e.Event != types.EventMessageRead {
			t.Errorf("unexpected emit: %+v", e)
		}
		data := e.Data.(map[string]any)
		if data["readBy"] != "bob" {
			t.Errorf("readBy must come from the connection identity, got %v", data["readBy"])
		}
	}
}

func TestMarkRead_ReceiptDoesNotWaitOnStore(t *testing.T) {
	dir := newFakeDirectory("alice")
	gate := make(chan struct{})
	store := &fakeStore{statusGate: gate}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c2", userID: "bob"}

	r.MarkRead(conn, &types.MessageReadPayload{MessageIDs: []string{"m1"}, SenderID: "alice"})

	// The store has not answered yet; the sender already has the receipt.
	if len(dir.events()) != 1 {
		t.Error("receipt must be emitted before the persist completes")
	}

	close(gate)
	waitFor(t, func() bool { return len(store.writes()) == 1 })
}

func TestMarkRead_StoreFailureStillNotifies(t *testing.T) {
	dir := newFakeDirectory("alice")
	store := &fakeStore{statusErr: errors.New("db down")}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c2", userID: "bob"}

	r.MarkRead(conn, &types.MessageReadPayload{MessageIDs: []string{"m1"}, SenderID: "alice"})

	if len(dir.events()) != 1 {
		t.Error("receipt must be emitted even when the persist fails")
	}
}

func TestReact_UpdatesBothParticipants(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	store := &fakeStore{toggleResult: &types.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Reactions:  []types.Reaction{{UserID: "bob", Emoji: "👍"}},
	}}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c2", userID: "bob"}

	r.React(conn, &types.ReactionPayload{MessageID: "m1", Emoji: "👍"})

	events := dir.events()
	if len(events) != 2 {
		t.Fatalf("expected updates to both participants, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, e := range events {
		if e.Event != types.EventReactionUpdate {
			t.Errorf("expected reaction_update, got %s", e.Event)
		}
		seen[e.UserID] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("both participants should be notified, got %v", seen)
	}
}

func TestReact_FailureSendsScopedError(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	store := &fakeStore{toggleErr: errors.New("not found")}
	r := New(dir, store, time.Second)
	conn := &fakeConn{id: "c2", userID: "bob"}

	r.React(conn, &types.ReactionPayload{MessageID: "m1", Emoji: "👍"})

	if len(dir.events()) != 0 {
		t.Error("no update may go out when the toggle fails")
	}
	if e := conn.last(t); e.Event != types.EventReactionError {
		t.Errorf("expected reaction_error, got %+v", e)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
