package functions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterSendsResult(t *testing.T) {
	type capture struct {
		path       string
		execID     string
		apiKey     string
		deliveryID string
		body       Result
	}
	got := make(chan capture, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var result Result
		require.NoError(t, json.Unmarshal(body, &result))
		got <- capture{
			path:       r.URL.Path,
			execID:     r.Header.Get("x-execution-id"),
			apiKey:     r.Header.Get("x-api-key"),
			deliveryID: r.Header.Get("x-delivery-id"),
			body:       result,
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewReporter(srv.URL, "secret", 5*time.Second)
	reporter.Report(context.Background(), &Result{
		ExecutionID:  "exec-1",
		FunctionName: "echo",
		Success:      true,
		DeliveryID:   "dlv-1",
		StatusCode:   200,
	})

	select {
	case c := <-got:
		assert.Equal(t, "/functions/echo/execution-result", c.path)
		assert.Equal(t, "exec-1", c.execID)
		assert.Equal(t, "secret", c.apiKey)
		assert.Equal(t, "dlv-1", c.deliveryID)
		assert.True(t, c.body.Success)
	case <-time.After(time.Second):
		t.Fatal("report never arrived")
	}
}

func TestReporterFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reporter := NewReporter(srv.URL, "", time.Second)
	// Log-and-continue: no panic, no error surfaced to the execution.
	reporter.Report(context.Background(), &Result{ExecutionID: "x", FunctionName: "f"})
}

func TestReporterDisabledWithoutBaseURL(t *testing.T) {
	reporter := NewReporter("", "", time.Second)
	reporter.Report(context.Background(), &Result{ExecutionID: "x", FunctionName: "f"})
}
