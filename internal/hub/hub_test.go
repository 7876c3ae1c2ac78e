package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatline/internal/call"
	"chatline/internal/presence"
	"chatline/internal/relay"
	"chatline/internal/room"
	"chatline/internal/router"
	"chatline/internal/typing"
	"chatline/internal/ws"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

type noopStore struct{}

func (noopStore) UpdatePresence(context.Context, string, bool, time.Time) error { return nil }
func (noopStore) UpdateMessageStatus(context.Context, []string, string, time.Time) error {
	return nil
}
func (noopStore) ToggleReaction(context.Context, string, string, string) (*types.Message, error) {
	return &types.Message{ID: "m1"}, nil
}
func (noopStore) DeleteMessage(context.Context, string, string) (*types.Message, error) {
	return &types.Message{ID: "m1"}, nil
}
func (noopStore) GetChannel(context.Context, string) (*types.Channel, error) {
	return &types.Channel{ID: "ch1", Name: "general", Members: []string{"alice", "bob"}}, nil
}
func (noopStore) CreateChannel(context.Context, *types.Channel) error { return nil }
func (noopStore) ListChannels(context.Context, string) ([]*types.Channel, error) {
	return nil, nil
}
func (noopStore) SaveChannelMessage(context.Context, *types.ChannelMessage) error { return nil }
func (noopStore) UpdateChannelMessageStatus(context.Context, string, []string, string, time.Time) error {
	return nil
}
func (noopStore) ToggleChannelReaction(context.Context, string, string, string) (*types.ChannelMessage, error) {
	return &types.ChannelMessage{ID: "m1", ChannelID: "ch1"}, nil
}
func (noopStore) HealthCheck(context.Context) error { return nil }
func (noopStore) Close(context.Context) error       { return nil }

// startTestServer wires the full realtime stack over a no-op store and
// returns the websocket endpoint URL.
func startTestServer(t *testing.T) string {
	return startTestServerWith(t, noopStore{})
}

func startTestServerWith(t *testing.T, store interfaces.Store) string {
	t.Helper()

	registry := ws.NewRegistry()
	rooms := room.NewManager(store, time.Second)
	pres := presence.NewPublisher(registry, store, time.Second)
	typ := typing.NewCoordinator(registry, rooms, 3*time.Second)
	calls := call.NewCoordinator(registry, time.Minute, time.Hour)
	rel := relay.New(registry, store, time.Second)
	rt := router.New(typ, calls, rel, rooms, pres)
	h := New(registry, pres, typ, calls, rooms, rt)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	handler := ws.NewHandler(h, ws.Options{
		PingInterval: 20 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Second,
		SendBuffer:   32,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// testClient is one connected tab: a dialed socket plus a background
// reader feeding received envelopes into a channel.
type testClient struct {
	conn   *websocket.Conn
	frames chan envelope
}

func connect(t *testing.T, baseURL, userID string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(baseURL+"?user_id="+userID, nil)
	if err != nil {
		t.Fatalf("dial failed for %s: %v", userID, err)
	}

	c := &testClient{conn: conn, frames: make(chan envelope, 64)}
	go func() {
		defer close(c.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if json.Unmarshal(data, &env) == nil {
				c.frames <- env
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *testClient) send(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// waitEvent discards frames until one with the wanted event name
// arrives. Presence and ack noise is expected on a busy connection.
func (c *testClient) waitEvent(t *testing.T, event string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", event)
			}
			if env.Event != event {
				continue
			}
			var data map[string]any
			if len(env.Data) > 0 {
				if err := json.Unmarshal(env.Data, &data); err != nil {
					t.Fatalf("bad %s payload: %v", event, err)
				}
			}
			return data
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func (c *testClient) expectNoEvent(t *testing.T, event string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				return
			}
			if env.Event == event {
				t.Fatalf("unexpected %s received", event)
			}
		case <-deadline:
			return
		}
	}
}

func TestConnect_AckAndPresenceBroadcast(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	ack := alice.waitEvent(t, types.EventConnectionAck)
	if ack["userId"] != "alice" || ack["connectionId"] == "" {
		t.Errorf("unexpected ack: %+v", ack)
	}

	bob := connect(t, url, "bob")
	bob.waitEvent(t, types.EventConnectionAck)

	// Alice observes bob coming online.
	status := alice.waitEvent(t, types.EventUserStatus)
	if status["userId"] != "bob" || status["isOnline"] != true {
		t.Errorf("unexpected status broadcast: %+v", status)
	}
}

func TestConnect_RejectsInvalidUserID(t *testing.T) {
	url := startTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?user_id=bad%20id", nil)
	if err == nil {
		t.Fatal("dial with invalid user_id should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 response, got %+v", resp)
	}
}

func TestSecondTab_NoPresenceFlap(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	observer := connect(t, url, "bob")
	observer.waitEvent(t, types.EventConnectionAck)
	alice.waitEvent(t, types.EventUserStatus) // bob online

	tab2 := connect(t, url, "alice")
	tab2.waitEvent(t, types.EventConnectionAck)

	// A second tab must not rebroadcast alice's presence.
	observer.expectNoEvent(t, types.EventUserStatus, 300*time.Millisecond)

	// Closing one tab keeps alice online; closing the last flips her.
	tab2.conn.Close()
	observer.expectNoEvent(t, types.EventUserStatus, 300*time.Millisecond)

	alice.conn.Close()
	status := observer.waitEvent(t, types.EventUserStatus)
	if status["userId"] != "alice" || status["isOnline"] != false {
		t.Errorf("expected alice offline broadcast, got %+v", status)
	}
}

func TestVideoCall_FullLifecycleWithTwoReceiverTabs(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	tab1 := connect(t, url, "bob")
	tab1.waitEvent(t, types.EventConnectionAck)
	tab2 := connect(t, url, "bob")
	tab2.waitEvent(t, types.EventConnectionAck)

	alice.send(t, types.EventInitiateCall, map[string]any{
		"callerId":   "alice",
		"receiverId": "bob",
		"callType":   "video",
		"callerInfo": map[string]any{"username": "Alice", "profilePicture": "a.png"},
	})

	// Both of bob's tabs ring.
	ring1 := tab1.waitEvent(t, types.EventIncomingCall)
	ring2 := tab2.waitEvent(t, types.EventIncomingCall)
	if ring1["callId"] != ring2["callId"] {
		t.Error("both tabs must ring with the same call id")
	}
	if ring1["callerName"] != "Alice" || ring1["callType"] != "video" {
		t.Errorf("unexpected ring payload: %+v", ring1)
	}

	initiated := alice.waitEvent(t, types.EventCallInitiated)
	callID := initiated["callId"].(string)
	if callID != ring1["callId"] {
		t.Error("ack and ring must agree on the call id")
	}

	// Tab 2 answers.
	tab2.send(t, types.EventAcceptCall, map[string]any{
		"callerId":     "alice",
		"callId":       callID,
		"receiverInfo": map[string]any{"username": "Bob"},
	})
	accepted := alice.waitEvent(t, types.EventCallAccepted)
	if accepted["receiverName"] != "Bob" || accepted["status"] != "active" {
		t.Errorf("unexpected accept payload: %+v", accepted)
	}
	// Only the caller learns of the answer; the tab that lost the race
	// stays quiet until it acts or the call ends.
	tab1.expectNoEvent(t, types.EventCallAccepted, 300*time.Millisecond)

	// Offer relays verbatim to bob's devices.
	alice.send(t, types.EventWebRTCOffer, map[string]any{
		"offer":      map[string]any{"type": "offer", "sdp": "v=0 test-sdp"},
		"receiverId": "bob",
		"callId":     callID,
	})
	offer := tab2.waitEvent(t, types.EventWebRTCOffer)
	sdp := offer["offer"].(map[string]any)["sdp"]
	if sdp != "v=0 test-sdp" {
		t.Errorf("offer must arrive verbatim, got %v", sdp)
	}
	if offer["senderId"] != "alice" {
		t.Errorf("signal must carry the authenticated sender, got %v", offer["senderId"])
	}

	// Answer flows back.
	tab2.send(t, types.EventWebRTCAnswer, map[string]any{
		"answer":     map[string]any{"type": "answer", "sdp": "v=0 answer-sdp"},
		"receiverId": "alice",
		"callId":     callID,
	})
	answer := alice.waitEvent(t, types.EventWebRTCAnswer)
	if answer["answer"].(map[string]any)["sdp"] != "v=0 answer-sdp" {
		t.Errorf("unexpected answer payload: %+v", answer)
	}

	// Hang up: both sides see call_ended.
	tab2.send(t, types.EventEndCall, map[string]any{
		"participantId": "alice",
		"callId":        callID,
	})
	alice.waitEvent(t, types.EventCallEnded)
	tab2.waitEvent(t, types.EventCallEnded)

	// A second end for the same call fails cleanly.
	alice.send(t, types.EventEndCall, map[string]any{
		"participantId": "bob",
		"callId":        callID,
	})
	errEvent := alice.waitEvent(t, types.EventCallError)
	if errEvent["error"] == "" {
		t.Error("call_error should carry a message")
	}
}

func TestDisconnect_EndsActiveCall(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	bob := connect(t, url, "bob")
	bob.waitEvent(t, types.EventConnectionAck)

	alice.send(t, types.EventInitiateCall, map[string]any{
		"callerId":   "alice",
		"receiverId": "bob",
		"callType":   "audio",
		"callerInfo": map[string]any{"username": "Alice"},
	})
	ring := bob.waitEvent(t, types.EventIncomingCall)
	callID := ring["callId"].(string)

	bob.send(t, types.EventAcceptCall, map[string]any{
		"callerId":     "alice",
		"callId":       callID,
		"receiverInfo": map[string]any{"username": "Bob"},
	})
	alice.waitEvent(t, types.EventCallAccepted)

	// Alice's socket drops mid-call.
	alice.conn.Close()

	ended := bob.waitEvent(t, types.EventCallEnded)
	if ended["reason"] != "Participant disconnected" {
		t.Errorf("unexpected end reason: %v", ended["reason"])
	}
}

func TestDirectMessage_RelayAndAck(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	bob := connect(t, url, "bob")
	bob.waitEvent(t, types.EventConnectionAck)

	alice.send(t, types.EventSendMessage, map[string]any{
		"_id":      "m1",
		"sender":   map[string]any{"_id": "alice", "username": "Alice"},
		"receiver": map[string]any{"_id": "bob"},
		"content":  "hello bob",
	})

	msg := bob.waitEvent(t, types.EventReceiveMessage)
	if msg["content"] != "hello bob" {
		t.Errorf("unexpected relayed message: %+v", msg)
	}
	ack := alice.waitEvent(t, types.EventMessageSent)
	if ack["status"] != "delivered" {
		t.Errorf("expected delivered ack, got %+v", ack)
	}
}

// stuckStore stands in for a database that stopped answering writes.
type stuckStore struct {
	noopStore
	gate chan struct{}
}

func (s *stuckStore) SaveChannelMessage(context.Context, *types.ChannelMessage) error {
	<-s.gate
	return nil
}

func TestTyping_NotStalledByHungStoreWrite(t *testing.T) {
	store := &stuckStore{gate: make(chan struct{})}
	defer close(store.gate)
	url := startTestServerWith(t, store)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	bob := connect(t, url, "bob")
	bob.waitEvent(t, types.EventConnectionAck)

	alice.send(t, types.EventChannelJoin, map[string]any{"channelId": "ch1"})
	alice.waitEvent(t, types.EventChannelJoined)

	// This save never returns. The frames behind it must still be
	// processed without waiting for the store.
	alice.send(t, types.EventChannelSend, map[string]any{"channelId": "ch1", "content": "hi"})
	alice.send(t, types.EventTypingStart, map[string]any{
		"conversationId": "conv1",
		"receiverId":     "bob",
	})

	start := time.Now()
	bob.waitEvent(t, types.EventUserTyping)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("typing indicator delayed %v behind a hung store write", elapsed)
	}
}

func TestChannelFlow_JoinTypingMessage(t *testing.T) {
	url := startTestServer(t)

	alice := connect(t, url, "alice")
	alice.waitEvent(t, types.EventConnectionAck)
	bob := connect(t, url, "bob")
	bob.waitEvent(t, types.EventConnectionAck)

	alice.send(t, types.EventChannelJoin, map[string]any{"channelId": "ch1"})
	alice.waitEvent(t, types.EventChannelJoined)
	bob.send(t, types.EventChannelJoin, map[string]any{"channelId": "ch1"})
	bob.waitEvent(t, types.EventChannelJoined)

	alice.send(t, types.EventChannelTypingStart, map[string]any{"channelId": "ch1"})
	indicator := bob.waitEvent(t, types.EventChannelUserTyping)
	if indicator["userId"] != "alice" || indicator["isTyping"] != true {
		t.Errorf("unexpected typing indicator: %+v", indicator)
	}

	alice.send(t, types.EventChannelSend, map[string]any{"channelId": "ch1", "content": "hi room"})
	// Sending implies the typing indicator retracts first.
	stopped := bob.waitEvent(t, types.EventChannelUserTyping)
	if stopped["isTyping"] != false {
		t.Errorf("expected typing retraction before the message, got %+v", stopped)
	}
	received := bob.waitEvent(t, types.EventChannelReceiveMessage)
	if received["content"] != "hi room" || received["senderId"] != "alice" {
		t.Errorf("unexpected channel message: %+v", received)
	}
	alice.waitEvent(t, types.EventChannelMessageSent)
}
