package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"accord/internal/pdp/metrics"
	"accord/pkg/platform/circuit"
	"accord/pkg/platform/sentinel"
)

var tracer = otel.Tracer("accord/pdp")

// HTTPClient calls an OPA-style decision endpoint. Every request carries an
// explicit timeout independent of the caller's deadline; on timeout the
// request is not retried synchronously, a deny goes back inside the caller's
// latency budget. A circuit breaker sheds calls during a sustained outage so
// requests fail closed fast instead of each burning the full timeout.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHTTPClient(url string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *HTTPClient {
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.New("pdp", circuit.WithCooldown(5*time.Second)),
		logger:  logger,
		metrics: m,
	}
}

// requestBody wraps the input the way OPA expects it.
type requestBody struct {
	Input Input `json:"input"`
}

// responseBody is the service's envelope. A missing result is malformed and
// therefore a deny.
type responseBody struct {
	Result *Result `json:"result"`
}

// Evaluate sends the decision request. All failure modes collapse into a
// sentinel.ErrUnavailable-wrapped error so enforcement can fail closed while
// tagging the audit trail as a service-availability problem.
func (c *HTTPClient) Evaluate(ctx context.Context, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pdp.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("pdp.action", in.Action),
		attribute.String("pdp.resource_id", in.Resource.ResourceID),
	)

	if !c.breaker.AllowProbe() {
		c.metrics.IncrementFailure("circuit_open")
		err := fmt.Errorf("%w: decision service circuit open", sentinel.ErrUnavailable)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	result, err := c.evaluate(ctx, in)
	c.metrics.ObserveEvaluateLatency(time.Since(start))

	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.ErrorContext(ctx, "decision service circuit opened", "breaker", c.breaker.Name())
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "decision service circuit closed", "breaker", c.breaker.Name())
	}

	if result.Allow {
		c.metrics.IncrementOutcome("allow", in.Action)
	} else {
		c.metrics.IncrementOutcome("deny", in.Action)
	}
	return result, nil
}

func (c *HTTPClient) evaluate(ctx context.Context, in Input) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(requestBody{Input: in})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal decision request: %w", sentinel.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build decision request: %w", sentinel.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		kind := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		c.metrics.IncrementFailure(kind)
		c.logger.ErrorContext(ctx, "policy decision service unreachable",
			"kind", kind,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("%w: decision service call: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.IncrementFailure("status")
		c.logger.ErrorContext(ctx, "policy decision service returned error status",
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: decision service returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.IncrementFailure("transport")
		return nil, fmt.Errorf("%w: read decision response: %w", sentinel.ErrUnavailable, err)
	}

	var envelope responseBody
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Result == nil {
		c.metrics.IncrementFailure("malformed")
		c.logger.ErrorContext(ctx, "policy decision service returned malformed response")
		return nil, fmt.Errorf("%w: malformed decision response", sentinel.ErrUnavailable)
	}

	return envelope.Result, nil
}
