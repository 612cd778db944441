package listener

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/metrics"
)

// Handler receives every decoded notification. Handlers run on their own
// goroutines so one consumer never blocks another or the listen loop.
type Handler func(n *Notification)

// notifyConn is the slice of pgx.Conn the listen loop needs. Tests
// substitute a scripted connection to exercise the reconnect path.
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context) (notifyConn, error)

// Listener owns the single LISTEN connection. The state machine is
// disconnected, connecting, connected; a lost connection falls back to
// disconnected and a fixed backoff drives reconnection. After a reconnect
// every previously subscribed channel is re-LISTENed before the listener
// reports itself connected, so subscribers never silently lose a channel.
// Delivery is at-least-once across reconnects.
type Listener struct {
	url     string
	backoff time.Duration
	dial    dialFunc

	mu       sync.Mutex
	channels map[string]struct{}
	pending  []string
	wake     context.CancelFunc

	connected atomic.Bool

	handlerMu sync.RWMutex
	handlers  []Handler
}

// New creates a listener for the database URL with the given reconnect
// backoff.
func New(url string, backoff time.Duration) *Listener {
	l := &Listener{
		url:      url,
		backoff:  backoff,
		channels: make(map[string]struct{}),
	}
	l.dial = func(ctx context.Context) (notifyConn, error) {
		return pgx.Connect(ctx, l.url)
	}
	return l
}

// OnNotification registers a notification consumer. Register all
// consumers before Run.
func (l *Listener) OnNotification(h Handler) {
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Subscribe adds a channel to the LISTEN set. Idempotent; subscribing to
// an already-watched channel is a no-op. Takes effect immediately when
// connected, otherwise on the next (re)connect.
func (l *Listener) Subscribe(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.channels[channel]; ok {
		return
	}
	l.channels[channel] = struct{}{}
	l.pending = append(l.pending, channel)

	// Interrupt the wait so the loop picks up the new channel.
	if l.wake != nil {
		l.wake()
	}
}

// Connected reports whether the LISTEN connection is up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Channels returns the subscribed channel names, sorted.
func (l *Listener) Channels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.channels))
	for ch := range l.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Run drives the connection until ctx is cancelled. Blocking; run on its
// own goroutine.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.connected.Store(false)
			metrics.RecordListenerReconnect()
			log.Warn().Err(err).Dur("backoff", l.backoff).Msg("Listener connection lost, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(l.backoff):
			}
		}
	}
}

func (l *Listener) runConnection(ctx context.Context) error {
	log.Debug().Msg("Listener connecting")
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	// Re-establish every subscribed channel before reporting ready.
	l.mu.Lock()
	all := make([]string, 0, len(l.channels))
	for ch := range l.channels {
		all = append(all, ch)
	}
	l.pending = nil
	l.mu.Unlock()

	for _, ch := range all {
		if err := listenOn(ctx, conn, ch); err != nil {
			return err
		}
	}

	l.connected.Store(true)
	log.Info().Int("channels", len(all)).Msg("Listener connected")

	for {
		// Pick up channels subscribed while we were waiting.
		l.mu.Lock()
		pending := l.pending
		l.pending = nil
		waitCtx, cancel := context.WithCancel(ctx)
		l.wake = cancel
		l.mu.Unlock()

		for _, ch := range pending {
			if err := listenOn(ctx, conn, ch); err != nil {
				cancel()
				return err
			}
		}

		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				// Woken by Subscribe; loop to LISTEN the new channel.
				continue
			}
			return err
		}

		metrics.RecordNotification(notification.Channel)
		l.dispatch(Decode(notification.Channel, notification.Payload))
	}
}

func listenOn(ctx context.Context, conn notifyConn, channel string) error {
	_, err := conn.Exec(ctx, "listen "+pgx.Identifier{channel}.Sanitize())
	if err == nil {
		log.Debug().Str("channel", channel).Msg("Listening on channel")
	}
	return err
}

func (l *Listener) dispatch(n *Notification) {
	if !n.Decoded() {
		log.Warn().Str("channel", n.Channel).Msg("Forwarding undecodable notification payload")
	}

	l.handlerMu.RLock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.handlerMu.RUnlock()

	for _, h := range handlers {
		go h(n)
	}
}
