package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalhq/tidal/internal/listener"
)

func TestMessageWireFormat(t *testing.T) {
	msg := Message{JoinRef: "1", Ref: "2", Topic: "table:orders", Event: EventJoin, Payload: json.RawMessage(`{"a":1}`)}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `["1","2","table:orders","phx_join",{"a":1}]`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.JoinRef, decoded.JoinRef)
	assert.Equal(t, msg.Topic, decoded.Topic)
}

func TestMessageNullRefs(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`[null,null,"table:orders","insert",{"id":1}]`), &msg))
	assert.Empty(t, msg.JoinRef)
	assert.Empty(t, msg.Ref)
	assert.Equal(t, "insert", msg.Event)

	// Server pushes marshal empty refs back to null.
	data, err := json.Marshal(Message{Topic: "t", Event: "e"})
	require.NoError(t, err)
	assert.JSONEq(t, `[null,null,"t","e",{}]`, string(data))
}

func TestMessageRejectsNonArrayFrame(t *testing.T) {
	var msg Message
	assert.Error(t, json.Unmarshal([]byte(`{"topic":"t"}`), &msg))
	assert.Error(t, json.Unmarshal([]byte(`["1","2","t","e"]`), &msg))
}

func newHubClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := NewClient(nil, hub, time.Minute)
	require.NoError(t, hub.register(c))
	return c
}

func drainFrame(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data := <-c.sendCh:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func TestBroadcastReachesOnlyJoinedTopic(t *testing.T) {
	hub := NewHub(10, 10)

	orders := newHubClient(t, hub)
	users := newHubClient(t, hub)
	require.NoError(t, hub.join(orders, "table:orders", "1"))
	require.NoError(t, hub.join(users, "table:users", "1"))

	n := hub.Broadcast("table:orders", "insert", map[string]any{"id": 1})
	assert.Equal(t, 1, n)

	frame := drainFrame(t, orders)
	assert.Equal(t, "table:orders", frame.Topic)
	assert.Equal(t, "insert", frame.Event)

	select {
	case <-users.sendCh:
		t.Fatal("subscriber of another topic received the broadcast")
	default:
	}
}

func TestDoubleJoinDeliversOnce(t *testing.T) {
	hub := NewHub(10, 10)
	c := newHubClient(t, hub)

	require.NoError(t, hub.join(c, "table:orders", "1"))
	require.NoError(t, hub.join(c, "table:orders", "2"))

	assert.Equal(t, 1, hub.Broadcast("table:orders", "insert", map[string]any{"id": 1}))
	drainFrame(t, c)
	select {
	case <-c.sendCh:
		t.Fatal("double join produced a duplicate delivery")
	default:
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(10, 10)
	c := newHubClient(t, hub)

	require.NoError(t, hub.join(c, "table:orders", "1"))
	hub.leave(c, "table:orders")

	assert.Equal(t, 0, hub.Broadcast("table:orders", "insert", nil))
}

func TestSubscriptionLimit(t *testing.T) {
	hub := NewHub(10, 2)
	c := newHubClient(t, hub)

	require.NoError(t, hub.join(c, "a", "1"))
	require.NoError(t, hub.join(c, "b", "1"))

	assert.ErrorIs(t, hub.join(c, "c", "1"), ErrSubscriptionLimit)
}

func TestConnectionLimit(t *testing.T) {
	hub := NewHub(1, 10)
	newHubClient(t, hub)

	c2 := NewClient(nil, hub, time.Minute)
	assert.ErrorIs(t, hub.register(c2), ErrConnectionLimit)
}

func TestUnregisterDiscardsSubscriptions(t *testing.T) {
	hub := NewHub(10, 10)
	c := newHubClient(t, hub)
	require.NoError(t, hub.join(c, "table:orders", "1"))

	hub.unregister(c)

	conns, subs := hub.Stats()
	assert.Equal(t, 0, conns)
	assert.Equal(t, 0, subs)
}

func TestJoinHookFiresOncePerTopicJoin(t *testing.T) {
	hub := NewHub(10, 10)

	var mu sync.Mutex
	var joined []string
	hub.OnJoin(func(topic string) {
		mu.Lock()
		joined = append(joined, topic)
		mu.Unlock()
	})

	c := newHubClient(t, hub)
	require.NoError(t, hub.join(c, "table:orders", "1"))
	require.NoError(t, hub.join(c, "table:orders", "2"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"table:orders"}, joined)
}

func TestHandleNotification(t *testing.T) {
	hub := NewHub(10, 10)
	c := newHubClient(t, hub)
	require.NoError(t, hub.join(c, "table:orders", "1"))

	hub.HandleNotification(listener.Decode("table:orders", `{"event":"UPDATE","table":"orders","new":{"id":3},"old":{"id":3}}`))

	frame := drainFrame(t, c)
	assert.Equal(t, "update", frame.Event)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "orders", payload["table"])
}

func TestWebSocketJoinBroadcastLeave(t *testing.T) {
	hub := NewHub(10, 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			t.Errorf("Failed to accept WebSocket: %v", err)
			return
		}
		client := NewClient(conn, hub, 70*time.Second)
		_ = client.Run()
	}))
	defer server.Close()
	defer hub.Shutdown()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	send := func(msg Message) {
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
	}
	read := func() *Message {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	}

	// Join.
	send(Message{JoinRef: "1", Ref: "1", Topic: "table:orders", Event: EventJoin, Payload: json.RawMessage(`{}`)})
	replyMsg := read()
	assert.Equal(t, EventReply, replyMsg.Event)
	var rp ReplyPayload
	require.NoError(t, json.Unmarshal(replyMsg.Payload, &rp))
	assert.Equal(t, "ok", rp.Status)

	// Heartbeat.
	send(Message{Ref: "2", Topic: HeartbeatTopic, Event: EventHeartbeat, Payload: json.RawMessage(`{}`)})
	hb := read()
	assert.Equal(t, EventReply, hb.Event)

	// Wait for the join to land in the hub, then broadcast.
	require.Eventually(t, func() bool {
		_, subs := hub.Stats()
		return subs == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast("table:orders", "insert", map[string]any{"new": map[string]any{"id": float64(1)}})

	push := read()
	assert.Equal(t, "insert", push.Event)
	assert.Equal(t, "table:orders", push.Topic)
	assert.Equal(t, "1", push.JoinRef)

	// Leave.
	send(Message{JoinRef: "1", Ref: "3", Topic: "table:orders", Event: EventLeave, Payload: json.RawMessage(`{}`)})
	leaveReply := read()
	assert.Equal(t, EventReply, leaveReply.Event)

	assert.Equal(t, 0, hub.Broadcast("table:orders", "insert", nil))
}
