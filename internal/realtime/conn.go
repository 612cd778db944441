package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Client is one WebSocket connection and its joined topics.
type Client struct {
	ID  string
	hub *Hub

	conn           *websocket.Conn
	sessionTimeout time.Duration
	watchdog       *time.Timer

	mu            sync.RWMutex
	subscriptions map[string]string

	sendCh chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient wraps an accepted WebSocket connection. The session timeout
// bounds the gap between inbound frames; a client that stops sending
// heartbeats is disconnected and all its subscriptions discarded.
func NewClient(conn *websocket.Conn, hub *Hub, sessionTimeout time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:             uuid.NewString(),
		hub:            hub,
		conn:           conn,
		sessionTimeout: sessionTimeout,
		subscriptions:  make(map[string]string),
		sendCh:         make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run registers the client and drives its pumps. Blocks until the
// connection closes.
func (c *Client) Run() error {
	if err := c.hub.register(c); err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, err.Error())
		return err
	}

	c.watchdog = time.AfterFunc(c.sessionTimeout, func() {
		log.Debug().Str("client_id", c.ID).Msg("Session timed out, closing connection")
		c.Close()
	})

	go c.writePump()
	c.readPump()
	return nil
}

// Close terminates the connection and removes all hub state.
func (c *Client) Close() {
	if !c.markDone() {
		return
	}
	c.cancel()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.hub.unregister(c)
	c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// closeWithoutUnregister terminates the connection during hub shutdown,
// when the hub has already dropped its references.
func (c *Client) closeWithoutUnregister() {
	if !c.markDone() {
		return
	}
	c.cancel()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.conn.Close(websocket.StatusGoingAway, "server shutting down")
}

func (c *Client) markDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
		close(c.done)
		return true
	}
}

func (c *Client) subscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

func (c *Client) joinRef(topic string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[topic]
}

func (c *Client) setJoinRef(topic, joinRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = joinRef
}

func (c *Client) clearJoinRef(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, topic)
}

// push queues an outbound frame, dropping it if the client cannot keep up.
func (c *Client) push(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.ID).Msg("Failed to encode frame")
		return
	}

	select {
	case c.sendCh <- data:
	case <-c.done:
	default:
		log.Warn().Str("client_id", c.ID).Msg("Client send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket read error")
			}
			return
		}

		c.watchdog.Reset(c.sessionTimeout)

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("client_id", c.ID).Msg("Dropping malformed frame")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case data := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Event {
	case EventJoin:
		c.handleJoin(msg)
	case EventLeave:
		c.handleLeave(msg)
	case EventHeartbeat:
		// The watchdog was already reset; just acknowledge.
		c.push(okReply(msg))
	default:
		c.push(errorReply(msg, "unknown event"))
	}
}

func (c *Client) handleJoin(msg *Message) {
	if msg.Topic == "" || msg.Topic == HeartbeatTopic {
		c.push(errorReply(msg, "invalid topic"))
		return
	}

	if err := c.hub.join(c, msg.Topic, msg.JoinRef); err != nil {
		c.push(errorReply(msg, err.Error()))
		return
	}

	c.push(okReply(msg))
}

func (c *Client) handleLeave(msg *Message) {
	c.hub.leave(c, msg.Topic)
	c.push(okReply(msg))
}
