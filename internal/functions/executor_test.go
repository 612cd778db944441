package functions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu    sync.Mutex
	calls int
	fn    func(def *Definition, inv *Invocation) (*Response, error)
}

func (f *fakeRuntime) Execute(def *Definition, inv *Invocation) (*Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(def, inv)
}

func (f *fakeRuntime) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureSink struct {
	mu      sync.Mutex
	results []*Result
	ctxErrs []error
}

func (c *captureSink) Report(ctx context.Context, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
}

func (c *captureSink) reported() []*Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Result, len(c.results))
	copy(out, c.results)
	return out
}

func (c *captureSink) reportContexts() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.ctxErrs...)
}

func newTestExecutor(rt Invoker, sink ResultSink) (*Executor, *Registry, *CompletedSet) {
	registry := NewRegistry()
	completed := NewCompletedSet()
	return NewExecutor(rt, registry, completed, sink, 5*time.Second), registry, completed
}

func TestExecuteSuccess(t *testing.T) {
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		return &Response{Success: true, Result: map[string]any{"x": float64(1)}}, nil
	}}
	sink := &captureSink{}
	exec, registry, _ := newTestExecutor(rt, sink)

	def := &Definition{Name: "echo", Runtime: RuntimeNode}
	registry.Register(def)

	result, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindHTTP})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 200, result.StatusCode)
	assert.NotEmpty(t, result.ExecutionID)
	require.Len(t, sink.reported(), 1)

	status, ok := registry.GetStatus("echo")
	require.True(t, ok)
	assert.Equal(t, int64(1), status.RunCount)
	assert.Empty(t, status.LastError)
}

func TestExecuteHandlerError(t *testing.T) {
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		return &Response{Success: false, Error: &HandlerError{Message: "boom"}}, nil
	}}
	sink := &captureSink{}
	exec, registry, _ := newTestExecutor(rt, sink)

	def := &Definition{Name: "fail", Runtime: RuntimeNode}
	registry.Register(def)

	result, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindHTTP})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 500, result.StatusCode)
	assert.Equal(t, "boom", result.Error)

	status, _ := registry.GetStatus("fail")
	assert.Equal(t, "boom", status.LastError)
}

func TestExecuteTimeoutReturnsWithinDeadline(t *testing.T) {
	release := make(chan struct{})
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		<-release
		return &Response{Success: true}, nil
	}}
	sink := &captureSink{}
	exec, registry, _ := newTestExecutor(rt, sink)

	def := &Definition{Name: "slow", Runtime: RuntimeNode, Timeout: 50 * time.Millisecond}
	registry.Register(def)

	start := time.Now()
	result, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindHTTP})
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.True(t, result.TimedOut())
	assert.Equal(t, 504, result.StatusCode)
	assert.False(t, result.Success)
	assert.Less(t, elapsed, time.Second, "timeout result must arrive near the deadline")

	close(release)
}

func TestExecuteTimeoutReportsLateResult(t *testing.T) {
	release := make(chan struct{})
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		<-release
		return &Response{Success: true, Result: map[string]any{"success": true}}, nil
	}}
	sink := &captureSink{}
	exec, registry, completed := newTestExecutor(rt, sink)

	def := &Definition{Name: "slow-once", Runtime: RuntimeNode, RunOnce: true, Timeout: 50 * time.Millisecond}
	registry.Register(def)

	result, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindSchedule})
	require.NoError(t, err)
	require.True(t, result.TimedOut())
	assert.False(t, completed.Has("slow-once"))

	close(release)

	// The abandoned handler finishes on its own and its real outcome is
	// still reported, and a late success still completes a run-once
	// function.
	assert.Eventually(t, func() bool {
		return len(sink.reported()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, completed.Has("slow-once"))

	reports := sink.reported()
	assert.Equal(t, reports[0].ExecutionID, reports[1].ExecutionID)
	assert.True(t, reports[1].Success)
}

func TestRunOnceRequiresExplicitSuccessFlag(t *testing.T) {
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		// Succeeds as an execution but never signals completion.
		return &Response{Success: true, Result: map[string]any{"success": false}}, nil
	}}
	exec, registry, completed := newTestExecutor(rt, &captureSink{})

	def := &Definition{Name: "setup", Runtime: RuntimeNode, RunOnce: true}
	registry.Register(def)

	_, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindBootstrap})
	require.NoError(t, err)
	assert.False(t, completed.Has("setup"))

	// Eligible to run again.
	_, err = exec.Execute(context.Background(), def, Request{Trigger: TriggerKindBootstrap})
	require.NoError(t, err)
	assert.Equal(t, 2, rt.callCount())
}

func TestRunOnceCompletedBlocksDispatch(t *testing.T) {
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		return &Response{Success: true, Result: map[string]any{"success": true}}, nil
	}}
	exec, registry, completed := newTestExecutor(rt, &captureSink{})

	def := &Definition{Name: "setup", Runtime: RuntimeNode, RunOnce: true}
	registry.Register(def)

	_, err := exec.Execute(context.Background(), def, Request{Trigger: TriggerKindBootstrap})
	require.NoError(t, err)
	require.True(t, completed.Has("setup"))

	_, err = exec.Execute(context.Background(), def, Request{Trigger: TriggerKindHTTP})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, 1, rt.callCount())
}

func TestExecutePreservesSuppliedIdentifiers(t *testing.T) {
	var got *Invocation
	rt := &fakeRuntime{fn: func(def *Definition, inv *Invocation) (*Response, error) {
		got = inv
		return &Response{Success: true}, nil
	}}
	sink := &captureSink{}
	exec, registry, _ := newTestExecutor(rt, sink)

	def := &Definition{Name: "hook", Runtime: RuntimeNode}
	registry.Register(def)

	result, err := exec.Execute(context.Background(), def, Request{
		Trigger:     TriggerKindWebhook,
		ExecutionID: "exec-123",
		DeliveryID:  "dlv-456",
	})
	require.NoError(t, err)

	assert.Equal(t, "exec-123", result.ExecutionID)
	assert.Equal(t, "dlv-456", result.DeliveryID)
	assert.Equal(t, "exec-123", got.ExecutionID)
	assert.Equal(t, "dlv-456", got.DeliveryID)
}
