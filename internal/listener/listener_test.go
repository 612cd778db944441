package listener

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn scripts one connection's lifetime: it records every LISTEN,
// delivers notifications pushed on deliveries, and dies when an error is
// pushed on fail.
type fakeConn struct {
	mu          sync.Mutex
	listens     []string
	firstWait   bool
	waitsBefore int

	deliveries chan *pgconn.Notification
	fail       chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		deliveries: make(chan *pgconn.Notification, 4),
		fail:       make(chan error, 1),
	}
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := strings.Trim(strings.TrimPrefix(sql, "listen "), `"`)
	c.listens = append(c.listens, channel)
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if !c.firstWait {
		c.firstWait = true
		c.waitsBefore = len(c.listens)
	}
	c.mu.Unlock()

	select {
	case n := <-c.deliveries:
		return n, nil
	case err := <-c.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(ctx context.Context) error { return nil }

func (c *fakeConn) waiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstWait
}

func (c *fakeConn) listensBeforeFirstWait() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.listens[:c.waitsBefore]...)
}

func newFakeListener(backoff time.Duration, conns ...*fakeConn) *Listener {
	queue := make(chan *fakeConn, len(conns))
	for _, c := range conns {
		queue <- c
	}

	l := New("postgres://unused", backoff)
	l.dial = func(ctx context.Context) (notifyConn, error) {
		select {
		case c := <-queue:
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l
}

func TestReconnectRelistensAllChannelsBeforeReady(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	l := newFakeListener(10*time.Millisecond, first, second)

	got := make(chan *Notification, 4)
	l.OnNotification(func(n *Notification) { got <- n })

	l.Subscribe("table:orders")
	l.Subscribe("users_changes")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"table:orders", "users_changes"}, first.listensBeforeFirstWait())

	// Kill the first connection and wait for the replacement to settle.
	first.fail <- errors.New("server closed the connection unexpectedly")
	require.Eventually(t, second.waiting, time.Second, 5*time.Millisecond)

	// Every previously subscribed channel was re-LISTENed on the new
	// connection before it started waiting for notifications.
	assert.ElementsMatch(t, []string{"table:orders", "users_changes"}, second.listensBeforeFirstWait())

	// Notifications flow again after the reconnect.
	second.deliveries <- &pgconn.Notification{
		Channel: "table:orders",
		Payload: `{"event":"insert","table":"orders","new":{"id":1}}`,
	}
	select {
	case n := <-got:
		assert.Equal(t, "insert", n.Event)
		assert.Equal(t, "orders", n.Table)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered after reconnect")
	}
}

func TestSubscribeWhileConnectedListensImmediately(t *testing.T) {
	conn := newFakeConn()
	l := newFakeListener(10*time.Millisecond, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	l.Subscribe("table:users")
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		for _, ch := range conn.listens {
			if ch == "table:users" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
