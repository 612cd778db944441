package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/metrics"
)

// ErrAlreadyCompleted is returned when a dispatch targets a run-once
// function that has already succeeded.
var ErrAlreadyCompleted = errors.New("run-once function already completed")

// Invoker runs one invocation to completion.
type Invoker interface {
	Execute(def *Definition, inv *Invocation) (*Response, error)
}

// ResultSink receives the final result of every execution attempt.
type ResultSink interface {
	Report(ctx context.Context, result *Result)
}

// Executor runs function handlers under a hard deadline and reports every
// outcome exactly once. The deadline bounds the caller's wait, not the
// handler: a handler that outruns it is abandoned, keeps running, and its
// eventual result is reported late. There is no cancellation on timeout.
type Executor struct {
	runtime        Invoker
	registry       *Registry
	completed      *CompletedSet
	sink           ResultSink
	defaultTimeout time.Duration
}

// NewExecutor creates an executor.
func NewExecutor(runtime Invoker, registry *Registry, completed *CompletedSet, sink ResultSink, defaultTimeout time.Duration) *Executor {
	return &Executor{
		runtime:        runtime,
		registry:       registry,
		completed:      completed,
		sink:           sink,
		defaultTimeout: defaultTimeout,
	}
}

type outcome struct {
	resp *Response
	err  error
}

// Execute runs one dispatch and returns its result within the function's
// timeout. The result has already been reported to the control plane when
// Execute returns.
func (e *Executor) Execute(ctx context.Context, def *Definition, req Request) (*Result, error) {
	if def.RunOnce && e.completed.Has(def.Name) {
		return nil, ErrAlreadyCompleted
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	inv := &Invocation{
		ExecutionID: executionID,
		Function:    def.Name,
		Payload:     req.Payload,
		Env:         req.Env,
		DeliveryID:  req.DeliveryID,
		Trigger:     string(req.Trigger),
	}

	e.registry.UpdateStatus(def.Name, func(st *Status) {
		st.LastRunAt = time.Now().UTC()
		st.RunCount++
	})

	log.Debug().
		Str("function", def.Name).
		Str("execution_id", executionID).
		Str("trigger", string(req.Trigger)).
		Msg("Executing function")

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		resp, err := e.runtime.Execute(def, inv)
		done <- outcome{resp: resp, err: err}
	}()

	var result *Result
	select {
	case out := <-done:
		result = e.buildResult(def, executionID, req.DeliveryID, start, out)
	case <-time.After(timeout):
		result = e.timeoutResult(def, executionID, req.DeliveryID, start, timeout)
		go e.reportLate(def, executionID, req.DeliveryID, start, done)
	}

	e.finish(ctx, def, req.Trigger, result)
	return result, nil
}

func (e *Executor) buildResult(def *Definition, executionID, deliveryID string, start time.Time, out outcome) *Result {
	result := &Result{
		ExecutionID:     executionID,
		FunctionName:    def.Name,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
		DeliveryID:      deliveryID,
	}

	switch {
	case out.err != nil:
		result.Error = out.err.Error()
		result.StatusCode = 500
	case out.resp.Error != nil:
		result.Logs = out.resp.Logs
		result.Result = out.resp.Result
		result.Error = out.resp.Error.Message
		result.StatusCode = 500
	default:
		result.Logs = out.resp.Logs
		result.Result = out.resp.Result
		result.Success = out.resp.Success
		result.StatusCode = 200
		if !out.resp.Success {
			result.StatusCode = 500
			result.Error = "handler reported failure"
		}
	}

	return result
}

func (e *Executor) timeoutResult(def *Definition, executionID, deliveryID string, start time.Time, timeout time.Duration) *Result {
	return &Result{
		ExecutionID:     executionID,
		FunctionName:    def.Name,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
		DeliveryID:      deliveryID,
		Error:           fmt.Sprintf("execution timed out after %s", timeout),
		StatusCode:      504,
	}
}

// reportLate waits for an abandoned handler to finish and reports its real
// outcome as a second result under the same execution id. A late success
// still counts toward run-once completion.
func (e *Executor) reportLate(def *Definition, executionID, deliveryID string, start time.Time, done <-chan outcome) {
	out := <-done
	result := e.buildResult(def, executionID, deliveryID, start, out)

	log.Warn().
		Str("function", def.Name).
		Str("execution_id", executionID).
		Int64("execution_time_ms", result.ExecutionTimeMS).
		Msg("Timed-out execution finished late")

	e.finish(context.Background(), def, "", result)
}

// finish records status, run-once completion, metrics, and the control
// plane report for one result.
func (e *Executor) finish(ctx context.Context, def *Definition, trigger TriggerKind, result *Result) {
	e.registry.UpdateStatus(def.Name, func(st *Status) {
		st.LastError = result.Error
		if raw, err := marshalResult(result.Result); err == nil {
			st.LastResult = raw
		}
	})

	if def.RunOnce && result.Success && resultSignalsSuccess(result.Result) {
		e.completed.Mark(def.Name)
		e.registry.UpdateStatus(def.Name, func(st *Status) {
			st.HasCompleted = true
		})
		log.Info().Str("function", def.Name).Msg("Run-once function completed")
	}

	status := "success"
	if result.StatusCode != 200 {
		status = "error"
		if result.TimedOut() {
			status = "timeout"
		}
	}
	metrics.RecordExecution(def.Name, string(trigger), status, time.Duration(result.ExecutionTimeMS)*time.Millisecond)

	if e.sink != nil {
		e.sink.Report(ctx, result)
	}
}

// resultSignalsSuccess reports whether the handler's result payload carries
// the explicit completion flag. Returning without error is not enough to
// mark a bootstrap function done; the handler has to say so.
func resultSignalsSuccess(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m["success"].(bool)
	return ok && v
}

func marshalResult(result any) ([]byte, error) {
	if result == nil {
		return nil, errors.New("no result")
	}
	return json.Marshal(result)
}
