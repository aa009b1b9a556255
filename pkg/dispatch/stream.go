package dispatch

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/rampart-ai/rampart/pkg/faults"
	"github.com/rampart-ai/rampart/pkg/models"
	"github.com/rampart-ai/rampart/pkg/registry"
)

// Stream is an accepted upstream streaming call. Chunks are returned in
// the exact order the upstream produced them. The caller owns the stream
// and must Close it; cancelling the request context also tears it down.
type Stream struct {
	endpoint registry.Endpoint
	body     io.ReadCloser
	scanner  *bufio.Scanner
	closed   bool
}

func newStream(ep registry.Endpoint, body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{endpoint: ep, body: body, scanner: scanner}
}

// Endpoint identifies the upstream serving this stream.
func (s *Stream) Endpoint() registry.Endpoint { return s.endpoint }

// Next returns the next chunk. It returns io.EOF after the upstream's
// terminal marker. A transport failure or an end of input without the
// marker is a mid-stream interruption: partial output cannot be replayed
// against another endpoint.
func (s *Stream) Next() (*models.StreamChunk, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue // SSE comments, event names, blank separators
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, io.EOF
		}

		var chunk models.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, faults.Wrap(faults.KindStreamInterrupted, "malformed upstream chunk", err)
		}
		return &chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, faults.Wrap(faults.KindStreamInterrupted, "upstream stream failed", err)
	}
	// Input ended without the terminal marker.
	return nil, faults.New(faults.KindStreamInterrupted, "upstream stream ended unexpectedly")
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
