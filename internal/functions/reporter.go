package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/metrics"
)

// Reporter delivers execution results to the control plane. Delivery is
// fire-and-forget: a failed report is logged and counted, never retried,
// and never fails the execution it belongs to.
type Reporter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewReporter creates a reporter against the control plane base URL. An
// empty base URL disables reporting; results are logged locally instead.
func NewReporter(baseURL, apiKey string, timeout time.Duration) *Reporter {
	return &Reporter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Report sends one execution result.
func (r *Reporter) Report(ctx context.Context, result *Result) {
	if r.baseURL == "" {
		log.Debug().
			Str("function", result.FunctionName).
			Str("execution_id", result.ExecutionID).
			Bool("success", result.Success).
			Msg("No control plane configured, result not reported")
		return
	}

	if err := r.send(ctx, result); err != nil {
		metrics.RecordResultReport(false)
		log.Error().Err(err).
			Str("function", result.FunctionName).
			Str("execution_id", result.ExecutionID).
			Msg("Failed to report execution result")
		return
	}

	metrics.RecordResultReport(true)
	log.Debug().
		Str("function", result.FunctionName).
		Str("execution_id", result.ExecutionID).
		Msg("Execution result reported")
}

func (r *Reporter) send(ctx context.Context, result *Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	url := fmt.Sprintf("%s/functions/%s/execution-result", r.baseURL, result.FunctionName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-execution-id", result.ExecutionID)
	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}
	if result.DeliveryID != "" {
		req.Header.Set("x-delivery-id", result.DeliveryID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned %d", resp.StatusCode)
	}
	return nil
}
