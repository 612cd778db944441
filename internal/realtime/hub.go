package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/listener"
	"github.com/tidalhq/tidal/internal/metrics"
)

// JoinHook is called the first time any connection joins a topic. The
// server uses it to ensure the listener channel and database trigger for
// that topic exist. It must be idempotent.
type JoinHook func(topic string)

// Hub routes notifications to every joined subscription on the matching
// topic. Each subscriber push goes through the client's buffered send
// queue, so a slow consumer never blocks the others.
type Hub struct {
	maxConnections   int
	maxSubscriptions int

	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client

	onJoin JoinHook
}

// NewHub creates a hub with the given limits.
func NewHub(maxConnections, maxSubscriptions int) *Hub {
	return &Hub{
		maxConnections:   maxConnections,
		maxSubscriptions: maxSubscriptions,
		clients:          make(map[string]*Client),
		topics:           make(map[string]map[string]*Client),
	}
}

// OnJoin installs the topic-join hook. Set before serving connections.
func (h *Hub) OnJoin(hook JoinHook) {
	h.onJoin = hook
}

// register adds a connected client, enforcing the connection limit.
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxConnections > 0 && len(h.clients) >= h.maxConnections {
		return ErrConnectionLimit
	}
	h.clients[c.ID] = c
	h.updateStatsLocked()
	return nil
}

// unregister removes a client and all its subscriptions.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.ID)
	for topic, subs := range h.topics {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.updateStatsLocked()
}

// join subscribes a client to a topic. Joining a topic the client already
// holds is a no-op, so one notification never produces two deliveries to
// the same connection.
func (h *Hub) join(c *Client, topic, joinRef string) error {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Client)
		h.topics[topic] = subs
	}
	if _, already := subs[c.ID]; already {
		h.mu.Unlock()
		return nil
	}

	if h.maxSubscriptions > 0 && c.subscriptionCount() >= h.maxSubscriptions {
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
		h.mu.Unlock()
		return ErrSubscriptionLimit
	}

	subs[c.ID] = c
	h.updateStatsLocked()
	h.mu.Unlock()

	c.setJoinRef(topic, joinRef)

	if h.onJoin != nil {
		h.onJoin(topic)
	}

	log.Debug().Str("client_id", c.ID).Str("topic", topic).Msg("Client joined topic")
	return nil
}

// leave unsubscribes a client from a topic.
func (h *Hub) leave(c *Client, topic string) {
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.updateStatsLocked()
	h.mu.Unlock()

	c.clearJoinRef(topic)

	log.Debug().Str("client_id", c.ID).Str("topic", topic).Msg("Client left topic")
}

// Broadcast pushes an event to every subscriber of the topic. Frames are
// tagged with each subscription's own join_ref.
func (h *Hub) Broadcast(topic, event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode broadcast payload")
		return 0
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		c.push(&Message{
			JoinRef: c.joinRef(topic),
			Topic:   topic,
			Event:   event,
			Payload: data,
		})
	}

	if len(subscribers) > 0 {
		metrics.RecordBroadcast(topic)
		log.Debug().Str("topic", topic).Str("event", event).Int("subscribers", len(subscribers)).Msg("Broadcast delivered")
	}
	return len(subscribers)
}

// HandleNotification adapts a decoded change notification into a topic
// broadcast. Decoded changes push their operation name as the event;
// undecodable payloads go out as a generic broadcast.
func (h *Hub) HandleNotification(n *listener.Notification) {
	event := n.Event
	if event == "" {
		event = "broadcast"
	}
	h.Broadcast(n.Channel, event, n.Payload())
}

// Stats returns current connection and subscription counts.
func (h *Hub) Stats() (connections, subscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.topics {
		subscriptions += len(subs)
	}
	return len(h.clients), subscriptions
}

// Topics returns the topics that currently have subscribers.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		out = append(out, topic)
	}
	return out
}

// Shutdown closes every client connection. Clients are closed without
// per-client unregistration to avoid lock churn during teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.topics = make(map[string]map[string]*Client)
	h.updateStatsLocked()
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWithoutUnregister()
	}
}

func (h *Hub) updateStatsLocked() {
	subscriptions := 0
	for _, subs := range h.topics {
		subscriptions += len(subs)
	}
	metrics.UpdateRealtimeStats(len(h.clients), subscriptions)
}
