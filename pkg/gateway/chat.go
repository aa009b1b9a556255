package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rampart-ai/rampart/pkg/audit"
	"github.com/rampart-ai/rampart/pkg/auth"
	cachepkg "github.com/rampart-ai/rampart/pkg/cache"
	"github.com/rampart-ai/rampart/pkg/faults"
	"github.com/rampart-ai/rampart/pkg/models"
)

// handleChatCompletions serves the blocking call/response path, plus SSE
// passthrough when the request asks for streaming over plain HTTP.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":{"kind":"protocol_violation","message":"method not allowed","code":405}}`)
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	identity, err := s.resolver.Resolve(extractAPIKey(r))
	if err != nil {
		faults.Write(w, r, faults.Wrap(faults.KindAuthentication, "API key missing or does not resolve to a tier", err))
		return
	}

	decision := s.limiter.Admit(identity)
	if !decision.Allowed {
		s.metrics.RateLimitRejections.WithLabelValues(identity.Tier.Name).Inc()
		faults.Write(w, r, faults.RateLimited(decision.RetryAfter))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		faults.Write(w, r, faults.Wrap(faults.KindInternal, "failed to read request body", err))
		return
	}
	r.Body.Close()

	var req models.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		faults.Write(w, r, faults.Wrap(faults.KindProtocolViolation, "invalid request body", err))
		return
	}

	start := time.Now()

	if req.Stream {
		s.serveSSE(w, r, identity, req, requestID, start)
		return
	}

	cacheResult := ""
	cacheable := s.cache != nil && cachepkg.Cacheable(req)
	var fingerprint string
	if cacheable {
		fingerprint = cachepkg.Fingerprint(req)
		if payload, ok := s.cache.Lookup(fingerprint); ok {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Rampart-Cache", "hit")
			w.Write(payload)
			s.observe(identity, req.Model, "", "ok", "hit", requestID, start)
			return
		}
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		cacheResult = "miss"
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.logger.Error("dispatch failed", "request_id", requestID, "error", err)
		faults.Write(w, r, err)
		s.observe(identity, req.Model, "", string(faults.Classify(err)), cacheResult, requestID, start)
		return
	}

	if cacheable {
		s.cache.Store(fingerprint, result.Payload)
	}

	w.Header().Set("Content-Type", "application/json")
	if cacheResult != "" {
		w.Header().Set("X-Rampart-Cache", cacheResult)
	}
	w.Write(result.Payload)
	s.observe(identity, req.Model, result.Endpoint.Name, "ok", cacheResult, requestID, start)
	s.metrics.RequestDuration.WithLabelValues("blocking").Observe(time.Since(start).Seconds())
}

// serveSSE relays an upstream stream to an HTTP client as server-sent
// events. Once chunks have started flowing, a failure is surfaced in-band
// and the already-sent prefix is not retracted.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, identity auth.Identity, req models.ChatRequest, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		faults.Write(w, r, faults.New(faults.KindInternal, "streaming unsupported by connection"))
		return
	}

	stream, err := s.dispatcher.DispatchStream(r.Context(), req)
	if err != nil {
		s.logger.Error("stream dispatch failed", "request_id", requestID, "error", err)
		faults.Write(w, r, err)
		s.observe(identity, req.Model, "", string(faults.Classify(err)), "", requestID, start)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	outcome := "ok"
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			break
		}
		if err != nil {
			s.metrics.StreamInterruptions.Inc()
			outcome = string(faults.Classify(err))
			payload, _ := json.Marshal(map[string]any{"error": faults.Frame(err)})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			break
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			outcome = string(faults.KindInternal)
			break
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	s.observe(identity, req.Model, stream.Endpoint().Name, outcome, "", requestID, start)
	s.metrics.RequestDuration.WithLabelValues("sse").Observe(time.Since(start).Seconds())
}

// observe queues the audit entry for a finished request; the auditor's
// background writer takes it from there.
func (s *Server) observe(identity auth.Identity, model, endpoint, outcome, cacheResult, requestID string, start time.Time) {
	if s.auditor == nil {
		return
	}
	hash, prefix := audit.HashAPIKey(identity.Key)
	s.auditor.Submit(audit.Entry{
		RequestID:    requestID,
		APIKeyHash:   hash,
		APIKeyPrefix: prefix,
		Tier:         identity.Tier.Name,
		Model:        model,
		Endpoint:     endpoint,
		Outcome:      outcome,
		CacheResult:  cacheResult,
		LatencyMs:    time.Since(start).Milliseconds(),
	})
}
