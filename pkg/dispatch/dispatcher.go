// Package dispatch tries upstream endpoints in registry order until one
// succeeds or all are exhausted. Every request starts its scan at the first
// endpoint; no health state is carried between requests.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rampart-ai/rampart/pkg/faults"
	"github.com/rampart-ai/rampart/pkg/metrics"
	"github.com/rampart-ai/rampart/pkg/models"
	"github.com/rampart-ai/rampart/pkg/registry"
)

// Dispatcher issues chat-completion calls against the endpoint registry.
// It holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	registry       *registry.Registry
	client         *http.Client
	streamClient   *http.Client
	attemptTimeout time.Duration
	path           string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Result is a successful blocking dispatch.
type Result struct {
	Endpoint registry.Endpoint
	Payload  []byte // raw upstream response body, suitable for caching
}

// New creates a Dispatcher. attemptTimeout bounds each endpoint attempt:
// the whole call in blocking mode, connection and response headers in
// streaming mode (an accepted stream may outlive it).
func New(reg *registry.Registry, attemptTimeout time.Duration, path string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:       reg,
		client:         &http.Client{},
		streamClient: &http.Client{Transport: &http.Transport{
			// Dial and handshake bounds matter here: without them a
			// black-holed endpoint stalls the fallback scan for the OS
			// connect timeout.
			DialContext:           (&net.Dialer{Timeout: attemptTimeout}).DialContext,
			TLSHandshakeTimeout:   attemptTimeout,
			ResponseHeaderTimeout: attemptTimeout,
		}},
		attemptTimeout: attemptTimeout,
		path:           path,
		logger:         slog.Default().With("component", "dispatch"),
		metrics:        m,
	}
}

// Dispatch sends a blocking chat request, falling through the endpoint
// order until one returns success. On exhaustion it returns an
// upstream-unavailable error carrying the last observed cause; the
// per-endpoint causes are logged, not surfaced.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.ChatRequest) (*Result, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "encode upstream request", err)
	}

	var lastErr error
	for _, ep := range d.registry.List() {
		payload, err := d.attempt(ctx, ep, body)
		if err != nil {
			lastErr = err
			d.recordFailure(ep, err)
			continue
		}
		d.recordSuccess(ep)
		return &Result{Endpoint: ep, Payload: payload}, nil
	}

	return nil, faults.Wrap(faults.KindUpstreamDown, "all upstream endpoints failed", lastErr)
}

// attempt performs one bounded call against a single endpoint.
func (d *Dispatcher) attempt(ctx context.Context, ep registry.Endpoint, body []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	resp, err := d.send(attemptCtx, d.client, ep, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return payload, nil
}

// DispatchStream opens a streaming call, falling through endpoints until
// one accepts and begins producing. A failure after the stream has started
// is not retried against later endpoints; it surfaces through Stream.Next.
func (d *Dispatcher) DispatchStream(ctx context.Context, req models.ChatRequest) (*Stream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindInternal, "encode upstream request", err)
	}

	var lastErr error
	for _, ep := range d.registry.List() {
		resp, err := d.send(ctx, d.streamClient, ep, body)
		if err != nil {
			lastErr = err
			d.recordFailure(ep, err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			d.recordFailure(ep, lastErr)
			continue
		}
		d.recordSuccess(ep)
		return newStream(ep, resp.Body), nil
	}

	return nil, faults.Wrap(faults.KindUpstreamDown, "all upstream endpoints failed", lastErr)
}

func (d *Dispatcher) send(ctx context.Context, client *http.Client, ep registry.Endpoint, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL+d.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return client.Do(httpReq)
}

func (d *Dispatcher) recordSuccess(ep registry.Endpoint) {
	if d.metrics != nil {
		d.metrics.EndpointAttempts.WithLabelValues(ep.Name, "success").Inc()
	}
}

func (d *Dispatcher) recordFailure(ep registry.Endpoint, err error) {
	d.logger.Warn("endpoint attempt failed", "endpoint", ep.Name, "error", err)
	if d.metrics != nil {
		d.metrics.EndpointAttempts.WithLabelValues(ep.Name, "failure").Inc()
	}
}
