package functions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SubprocessRuntime executes function handlers as local child processes,
// passing the invocation as JSON on stdin and reading a JSON response from
// stdout. The process is started without a cancelling context: the caller
// races the result against its deadline and a run that outlives the
// deadline finishes on its own and is reported late.
type SubprocessRuntime struct {
	// NodeBinary and PythonBinary override the interpreter commands.
	NodeBinary   string
	PythonBinary string
}

// NewSubprocessRuntime creates a runtime with default interpreters.
func NewSubprocessRuntime() *SubprocessRuntime {
	return &SubprocessRuntime{
		NodeBinary:   "node",
		PythonBinary: "python3",
	}
}

// Execute runs one invocation to completion and parses the handler's
// response. Handler stderr is captured and folded into the logs.
func (r *SubprocessRuntime) Execute(def *Definition, inv *Invocation) (*Response, error) {
	bin, args, err := r.command(def)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("encoding invocation: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Env = append(os.Environ(), buildEnv(def, inv)...)

	runErr := cmd.Run()

	resp, parseErr := parseResponse(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("handler exited: %w (stderr: %s)", runErr, truncate(stderr.String(), 512))
		}
		return nil, fmt.Errorf("decoding handler response: %w", parseErr)
	}

	// A parseable response wins even when the process exited nonzero;
	// the handler already told us what went wrong.
	appendStderrLogs(resp, stderr.String())
	return resp, nil
}

func (r *SubprocessRuntime) command(def *Definition) (string, []string, error) {
	switch def.Runtime {
	case RuntimeNode:
		return r.NodeBinary, []string{def.Path}, nil
	case RuntimePython:
		return r.PythonBinary, []string{def.Path}, nil
	default:
		return "", nil, fmt.Errorf("unsupported runtime %q", def.Runtime)
	}
}

// buildEnv assembles the child environment: manifest env first, then
// per-dispatch env, then the execution identifiers.
func buildEnv(def *Definition, inv *Invocation) []string {
	env := make([]string, 0, len(def.Env)+len(inv.Env)+3)
	for k, v := range def.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range inv.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "EXECUTION_ID="+inv.ExecutionID)
	env = append(env, "FUNCTION_NAME="+inv.Function)
	if inv.DeliveryID != "" {
		env = append(env, "DELIVERY_ID="+inv.DeliveryID)
	}
	return env
}

// parseResponse decodes the last JSON object on stdout. Handlers may print
// plain lines before the response document; only the final line needs to
// be the JSON envelope.
func parseResponse(out []byte) (*Response, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err == nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("no response document on stdout")
}

func appendStderrLogs(resp *Response, stderr string) {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		resp.Logs = append(resp.Logs, LogLine{
			Level:     "error",
			Message:   line,
			Timestamp: time.Now().UTC(),
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
