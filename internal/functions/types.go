// Package functions provides the function registry, loader, and
// timeout-bounded executor behind every trigger kind.
package functions

import (
	"encoding/json"
	"time"
)

// Runtime represents a function runtime language.
type Runtime string

const (
	// RuntimeNode is the Node.js runtime.
	RuntimeNode Runtime = "node"
	// RuntimePython is the Python runtime.
	RuntimePython Runtime = "python"
)

// Definition is a loaded function unit. Definitions are immutable once
// registered; a redeploy builds a fresh Definition and swaps the registry
// entry, so in-flight executions keep the snapshot they started with.
type Definition struct {
	// Name is the function name (unique, derived from filename).
	Name string `json:"name"`
	// Runtime is the function runtime (node, python).
	Runtime Runtime `json:"runtime"`
	// Path is the absolute path to the function file.
	Path string `json:"path"`
	// Triggers bind external stimuli to this function.
	Triggers []Trigger `json:"triggers"`
	// Env contains environment variables for this function.
	Env map[string]string `json:"env,omitempty"`
	// RunOnce marks a bootstrap function that must succeed exactly once.
	RunOnce bool `json:"run_once,omitempty"`
	// Timeout overrides the default execution timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Status tracks per-function execution state. It is mutated by the Executor
// only and reset on every rescan, except HasCompleted which is rebuilt from
// the durable completed set.
type Status struct {
	LastRunAt    time.Time       `json:"last_run_at"`
	RunCount     int64           `json:"run_count"`
	HasCompleted bool            `json:"has_completed"`
	LastResult   json.RawMessage `json:"last_result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// LogLine is one leveled log line captured during an execution.
type LogLine struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Invocation is the JSON document handed to a function handler on stdin.
type Invocation struct {
	ExecutionID string            `json:"execution_id"`
	Function    string            `json:"function"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	DeliveryID  string            `json:"delivery_id,omitempty"`
	Trigger     string            `json:"trigger,omitempty"`
}

// HandlerError carries structured error details from a handler.
type HandlerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Response is the JSON document a function handler writes to stdout.
type Response struct {
	Success bool          `json:"success"`
	Result  any           `json:"result,omitempty"`
	Error   *HandlerError `json:"error,omitempty"`
	Logs    []LogLine     `json:"logs,omitempty"`
}

// Request describes one dispatch of a function by a trigger.
type Request struct {
	// Trigger is the kind of trigger that fired.
	Trigger TriggerKind
	// Payload is the trigger-supplied input.
	Payload map[string]any
	// Env holds extra environment variables for this dispatch (webhooks).
	Env map[string]string
	// ExecutionID, when set, is used instead of a fresh one (webhook
	// deliveries arrive with control-plane-assigned identifiers).
	ExecutionID string
	// DeliveryID correlates the dispatch to its originating delivery.
	DeliveryID string
}

// Result is the outcome of one execution attempt. It is built once at the
// end of the attempt, reported to the control plane, and never mutated.
type Result struct {
	ExecutionID     string    `json:"execution_id"`
	FunctionName    string    `json:"function_name"`
	Success         bool      `json:"success"`
	Result          any       `json:"result,omitempty"`
	Logs            []LogLine `json:"logs,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
	DeliveryID      string    `json:"delivery_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	// StatusCode is the HTTP-analog status of the attempt: 200 on
	// success, 500 on handler error, 504 on timeout.
	StatusCode int `json:"status_code"`
}

// TimedOut reports whether this result is a synthetic timeout failure.
func (r *Result) TimedOut() bool {
	return r.StatusCode == 504
}
