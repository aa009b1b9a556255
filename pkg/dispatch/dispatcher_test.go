package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rampart-ai/rampart/pkg/config"
	"github.com/rampart-ai/rampart/pkg/faults"
	"github.com/rampart-ai/rampart/pkg/models"
	"github.com/rampart-ai/rampart/pkg/registry"
)

const upstreamPath = "/v1/chat/completions"

func newDispatcher(t *testing.T, urls ...string) *Dispatcher {
	t.Helper()
	eps := make([]config.EndpointConfig, len(urls))
	for i, u := range urls {
		eps[i] = config.EndpointConfig{Name: fmt.Sprintf("ep-%d", i), URL: u}
	}
	reg, err := registry.New(eps)
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, 2*time.Second, upstreamPath, nil)
}

func okResponse(content string) models.ChatResponse {
	raw, _ := json.Marshal(content)
	return models.ChatResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion",
		Model:  "gpt-4o-mini",
		Choices: []models.Choice{
			{Index: 0, Message: models.ChatMessage{Role: "assistant", Content: raw}, FinishReason: "stop"},
		},
	}
}

func testRequest() models.ChatRequest {
	raw, _ := json.Marshal("hi")
	return models.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []models.ChatMessage{{Role: "user", Content: raw}},
	}
}

func TestDispatchFallsBackInOrder(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	// Closed server: connection refused.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	var healthyCalls atomic.Int64
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		json.NewEncoder(w).Encode(okResponse("Hello!"))
	}))
	defer healthy.Close()

	d := newDispatcher(t, failing.URL, down.URL, healthy.URL)

	result, err := d.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if result.Endpoint.Name != "ep-2" {
		t.Errorf("expected the third endpoint to serve, got %s", result.Endpoint.Name)
	}
	if healthyCalls.Load() != 1 {
		t.Errorf("healthy endpoint called %d times, want 1", healthyCalls.Load())
	}
}

func TestDispatchShortCircuitsOnSuccess(t *testing.T) {
	var firstCalls, secondCalls atomic.Int64
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		json.NewEncoder(w).Encode(okResponse("from first"))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalls.Add(1)
	}))
	defer second.Close()

	d := newDispatcher(t, first.URL, second.URL)

	if _, err := d.Dispatch(context.Background(), testRequest()); err != nil {
		t.Fatal(err)
	}
	if firstCalls.Load() != 1 || secondCalls.Load() != 0 {
		t.Errorf("calls = %d/%d, want 1/0", firstCalls.Load(), secondCalls.Load())
	}
}

func TestDispatchAllEndpointsFail(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer b.Close()

	d := newDispatcher(t, a.URL, b.URL)

	_, err := d.Dispatch(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected failure when every endpoint fails")
	}
	if faults.Classify(err) != faults.KindUpstreamDown {
		t.Errorf("expected upstream_unavailable, got %v", faults.Classify(err))
	}
}

func TestDispatchAttemptTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels the request context; otherwise Close() hangs on this handler.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(okResponse("quick"))
	}))
	defer fast.Close()

	eps := []config.EndpointConfig{
		{Name: "slow", URL: slow.URL},
		{Name: "fast", URL: fast.URL},
	}
	reg, err := registry.New(eps)
	if err != nil {
		t.Fatal(err)
	}
	d := New(reg, 100*time.Millisecond, upstreamPath, nil)

	start := time.Now()
	result, err := d.Dispatch(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if result.Endpoint.Name != "fast" {
		t.Errorf("expected fallback to fast endpoint, got %s", result.Endpoint.Name)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("per-attempt timeout did not bound the slow endpoint: %v", elapsed)
	}
}

func sseServer(t *testing.T, chunks []string, terminal bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			t.Error("streaming dispatch must set stream=true upstream")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, content := range chunks {
			chunk := models.StreamChunk{
				ID:      "chatcmpl-1",
				Choices: []models.ChunkChoice{{Index: i, Delta: models.Delta{Content: content}}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		if terminal {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}))
}

func TestDispatchStreamOrderedChunks(t *testing.T) {
	upstream := sseServer(t, []string{"Hel", "lo", "!"}, true)
	defer upstream.Close()

	d := newDispatcher(t, upstream.URL)

	stream, err := d.DispatchStream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var got []string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk.Choices[0].Delta.Content)
	}

	want := []string{"Hel", "lo", "!"}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatchStreamFallsBack(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	upstream := sseServer(t, []string{"ok"}, true)
	defer upstream.Close()

	d := newDispatcher(t, failing.URL, upstream.URL)

	stream, err := d.DispatchStream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if stream.Endpoint().Name != "ep-1" {
		t.Errorf("expected the second endpoint to serve, got %s", stream.Endpoint().Name)
	}
}

func TestDispatchStreamAttemptTimeout(t *testing.T) {
	// Accepts the connection but never sends response headers.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer slow.Close()
	fast := sseServer(t, []string{"quick"}, true)
	defer fast.Close()

	reg, err := registry.New([]config.EndpointConfig{
		{Name: "slow", URL: slow.URL},
		{Name: "fast", URL: fast.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(reg, 100*time.Millisecond, upstreamPath, nil)

	start := time.Now()
	stream, err := d.DispatchStream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if stream.Endpoint().Name != "fast" {
		t.Errorf("expected fallback to fast endpoint, got %s", stream.Endpoint().Name)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("per-attempt timeout did not bound the slow endpoint: %v", elapsed)
	}
}

func TestStreamInterruptedMidway(t *testing.T) {
	// Chunks but no terminal marker: the connection ends mid-stream.
	upstream := sseServer(t, []string{"partial"}, false)
	defer upstream.Close()

	d := newDispatcher(t, upstream.URL)

	stream, err := d.DispatchStream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err != nil {
		t.Fatalf("first chunk should arrive: %v", err)
	}

	_, err = stream.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatal("expected a mid-stream interruption, not a clean end")
	}
	if faults.Classify(err) != faults.KindStreamInterrupted {
		t.Errorf("expected upstream_stream_interrupted, got %v", faults.Classify(err))
	}
}

func TestDispatchStreamAllFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	d := newDispatcher(t, down.URL)

	_, err := d.DispatchStream(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected failure")
	}
	if faults.Classify(err) != faults.KindUpstreamDown {
		t.Errorf("expected upstream_unavailable, got %v", faults.Classify(err))
	}
}
