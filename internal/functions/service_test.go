package functions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalhq/tidal/internal/events"
)

func newTestService(t *testing.T, dir string, rt Invoker) (*Service, *CompletedSet) {
	t.Helper()
	registry := NewRegistry()
	completed := NewCompletedSet()
	scanner := NewScanner(dir, registry, completed)
	exec := NewExecutor(rt, registry, completed, &captureSink{}, 5*time.Second)
	return NewService(registry, scanner, exec, completed, events.NewBus()), completed
}

func TestRescanRunsBootstrapUntilSuccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "seed.js", "// handler")
	writeFile(t, dir, "seed.yaml", "run_once: true\n")

	attempt := 0
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		attempt++
		ok := attempt >= 2
		return &Response{Success: true, Result: map[string]any{"success": ok}}, nil
	}}
	svc, completed := newTestService(t, dir, rt)

	// First rescan: bootstrap runs, does not signal success.
	require.NoError(t, svc.Rescan(context.Background()))
	assert.Equal(t, 1, attempt)
	assert.False(t, completed.Has("seed"))

	// Second rescan retries; this time the handler signals success.
	require.NoError(t, svc.Rescan(context.Background()))
	assert.Equal(t, 2, attempt)
	assert.True(t, completed.Has("seed"))

	// Further rescans leave it alone.
	require.NoError(t, svc.Rescan(context.Background()))
	assert.Equal(t, 2, attempt)
}

func TestDeployInvokeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		return &Response{Success: true, Result: inv.Payload}, nil
	}}
	svc, _ := newTestService(t, dir, rt)

	def, err := svc.Deploy(context.Background(), "echo", "// code", map[string]string{"KEY": "v"})
	require.NoError(t, err)
	assert.Equal(t, "echo", def.Name)
	assert.Equal(t, "v", def.Env["KEY"])

	result, err := svc.Invoke(context.Background(), "echo", map[string]any{"x": float64(1)}, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(1), result.Result.(map[string]any)["x"])

	removed, err := svc.Undeploy(context.Background(), "echo")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = svc.Invoke(context.Background(), "echo", nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndeployMissingFunction(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir(), &fakeRuntime{})
	removed, err := svc.Undeploy(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeployRejectsBadNames(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir(), &fakeRuntime{})
	for _, name := range []string{"", "../evil", "a/b", ".hidden", "_shared"} {
		_, err := svc.Deploy(context.Background(), name, "// code", nil)
		assert.ErrorIs(t, err, ErrInvalidName, "name=%q", name)
	}
}

func TestDispatchChangeMatchesChannelAndOperation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "on-order.js", "// handler")
	writeFile(t, dir, "on-order.yaml", `
triggers:
  - type: database
    table: orders
    operations: [INSERT]
`)

	ran := make(chan string, 1)
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		ran <- def.Name
		return &Response{Success: true}, nil
	}}
	svc, _ := newTestService(t, dir, rt)
	require.NoError(t, svc.Rescan(context.Background()))

	n := svc.DispatchChange("orders_changes", OpInsert, map[string]any{"table": "orders"})
	assert.Equal(t, 1, n)
	select {
	case name := <-ran:
		assert.Equal(t, "on-order", name)
	case <-time.After(time.Second):
		t.Fatal("database dispatch did not run")
	}

	assert.Equal(t, 0, svc.DispatchChange("orders_changes", OpDelete, nil))
	assert.Equal(t, 0, svc.DispatchChange("users_changes", OpInsert, nil))
}

func TestEventTriggerDispatchesThroughBus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notify.js", "// handler")
	writeFile(t, dir, "notify.yaml", `
triggers:
  - type: event
    event: user.created
`)

	ran := make(chan *Invocation, 1)
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		ran <- inv
		return &Response{Success: true}, nil
	}}
	svc, _ := newTestService(t, dir, rt)
	require.NoError(t, svc.Rescan(context.Background()))

	bus := svcBus(svc)
	assert.True(t, bus.HasListeners("user.created"))
	bus.Emit(context.Background(), "user.created", map[string]any{"id": "7"})

	select {
	case inv := <-ran:
		assert.Equal(t, "user.created", inv.Payload["event"])
	case <-time.After(time.Second):
		t.Fatal("event dispatch did not run")
	}
}

func svcBus(s *Service) *events.Bus { return s.bus }

func TestEventDispatchOutlivesEmitterContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "onuser.js", "// handler")
	writeFile(t, dir, "onuser.yaml", `
triggers:
  - type: event
    event: user.created
`)

	started := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		close(started)
		<-release
		return &Response{Success: true}, nil
	}}

	registry := NewRegistry()
	completed := NewCompletedSet()
	scanner := NewScanner(dir, registry, completed)
	sink := &captureSink{}
	exec := NewExecutor(rt, registry, completed, sink, 5*time.Second)
	svc := NewService(registry, scanner, exec, completed, events.NewBus())
	require.NoError(t, svc.Rescan(context.Background()))

	// The emitter's context dies mid-execution, the way an HTTP request
	// context is cancelled once the emit endpoint has responded.
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, svcBus(svc).Emit(ctx, "user.created", map[string]any{"id": "7"}))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("event dispatch did not start")
	}
	cancel()
	close(release)

	require.Eventually(t, func() bool {
		return len(sink.reported()) == 1
	}, time.Second, 10*time.Millisecond)

	// The result report must not ride the dead emitter context.
	assert.NoError(t, sink.reportContexts()[0])
	assert.True(t, sink.reported()[0].Success)
}

func TestRescanRunsAfterRescanHook(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir(), &fakeRuntime{})

	calls := 0
	svc.SetAfterRescan(func(context.Context) { calls++ })

	require.NoError(t, svc.Rescan(context.Background()))
	assert.Equal(t, 1, calls)

	// Deploy and undeploy rescan internally, so the hook fires for them
	// too.
	_, err := svc.Deploy(context.Background(), "echo", "// code", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	removed, err := svc.Undeploy(context.Background(), "echo")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 3, calls)
}

func TestTriggerChannelsAndTables(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.js", "// handler")
	writeFile(t, dir, "a.yaml", `
triggers:
  - type: database
    table: orders
`)
	writeFile(t, dir, "b.js", "// handler")
	writeFile(t, dir, "b.yaml", `
triggers:
  - type: database
    table: orders
  - type: database
    table: users
    channel: "table:users"
`)

	svc, _ := newTestService(t, dir, &fakeRuntime{})
	require.NoError(t, svc.Rescan(context.Background()))

	assert.ElementsMatch(t, []string{"orders_changes", "table:users"}, svc.TriggerChannels())
	assert.ElementsMatch(t, []string{"orders", "users"}, svc.TriggerTables())
}

func TestRouteHTTP(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.js", "// handler")
	writeFile(t, dir, "echo.yaml", `
triggers:
  - type: http
    methods: [POST]
`)

	svc, _ := newTestService(t, dir, &fakeRuntime{})
	require.NoError(t, svc.Rescan(context.Background()))

	def, ht, ok := svc.RouteHTTP("/echo")
	require.True(t, ok)
	assert.Equal(t, "echo", def.Name)
	assert.True(t, ht.AllowsMethod("POST"))
	assert.False(t, ht.AllowsMethod("GET"))

	_, _, ok = svc.RouteHTTP("/missing")
	assert.False(t, ok)
}
