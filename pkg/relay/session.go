// Package relay manages persistent duplex streaming sessions. A session
// authenticates once, then serves chat requests one at a time, piping
// upstream chunks to the client in the order they were produced.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rampart-ai/rampart/pkg/auth"
	"github.com/rampart-ai/rampart/pkg/dispatch"
	"github.com/rampart-ai/rampart/pkg/faults"
	"github.com/rampart-ai/rampart/pkg/metrics"
	"github.com/rampart-ai/rampart/pkg/models"
	"github.com/rampart-ai/rampart/pkg/ratelimit"
)

// State is a session lifecycle phase.
type State string

const (
	StateAwaitingAuth  State = "awaiting-auth"
	StateAuthenticated State = "authenticated"
	StateServing       State = "serving"
	StateClosed        State = "closed"
)

const writeWait = 10 * time.Second

// errMalformedFrame marks a frame that arrived intact but failed to decode,
// as opposed to a transport-level read failure.
var errMalformedFrame = errors.New("relay: malformed frame")

// Session is one accepted duplex connection. Frames are processed
// sequentially: a chat frame that arrives while the session is serving
// waits in the connection buffer until the current stream finishes, so at
// most one upstream call is in flight per session.
type Session struct {
	id          string
	conn        *websocket.Conn
	resolver    *auth.Resolver
	limiter     *ratelimit.Limiter
	dispatcher  *dispatch.Dispatcher
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	state    State
	identity auth.Identity
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, resolver *auth.Resolver, limiter *ratelimit.Limiter, dispatcher *dispatch.Dispatcher, idleTimeout time.Duration, m *metrics.Metrics) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		conn:        conn,
		resolver:    resolver,
		limiter:     limiter,
		dispatcher:  dispatcher,
		idleTimeout: idleTimeout,
		metrics:     m,
		logger:      slog.Default().With("component", "relay", "session", id),
		state:       StateAwaitingAuth,
	}
}

// Run drives the session state machine until the connection closes. Any
// upstream call bound to the session is cancelled when Run returns.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
		defer s.metrics.SessionsActive.Dec()
	}
	defer s.transition(StateClosed)

	for {
		frame, err := s.readFrame()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				s.sendError(faults.New(faults.KindProtocolViolation, "malformed frame"))
			} else if !isExpectedClose(err) {
				s.logger.Debug("session read failed", "error", err)
			}
			return
		}

		switch {
		case s.state == StateAwaitingAuth && frame.Type == models.FrameAuth:
			if !s.handleAuth(frame) {
				return
			}
		case s.state == StateAwaitingAuth:
			// Anything before authentication is fatal.
			s.sendError(faults.New(faults.KindProtocolViolation, "authentication required before any other frame"))
			return
		case frame.Type == models.FrameAuth:
			s.sendError(faults.New(faults.KindProtocolViolation, "session is already authenticated"))
			return
		case frame.Type == models.FrameChat:
			s.handleChat(ctx, frame)
		default:
			s.sendError(faults.New(faults.KindProtocolViolation, "unknown frame type"))
			return
		}
	}
}

// handleAuth resolves the presented key. A bad key ends the session.
func (s *Session) handleAuth(frame models.ClientFrame) bool {
	id, err := s.resolver.Resolve(frame.APIKey)
	if err != nil {
		s.sendError(faults.New(faults.KindAuthentication, "API key does not resolve to a tier"))
		return false
	}
	s.identity = id
	s.transition(StateAuthenticated)
	s.logger.Info("session authenticated", "tier", id.Tier.Name)
	return true
}

// handleChat serves one logical request. Failures here are surfaced as
// error frames; only protocol violations and transport errors end the
// session.
func (s *Session) handleChat(ctx context.Context, frame models.ClientFrame) {
	var req models.ChatRequest
	if err := json.Unmarshal(frame.Request, &req); err != nil {
		s.sendError(faults.Wrap(faults.KindInternal, "malformed chat request", err))
		return
	}

	decision := s.limiter.Admit(s.identity)
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimitRejections.WithLabelValues(s.identity.Tier.Name).Inc()
		}
		// The session survives a rate-limit rejection.
		s.sendError(faults.RateLimited(decision.RetryAfter))
		return
	}

	stream, err := s.dispatcher.DispatchStream(ctx, req)
	if err != nil {
		s.sendError(err)
		return
	}
	defer stream.Close()

	s.transition(StateServing)
	defer s.transition(StateAuthenticated)

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			s.send(models.ServerFrame{Type: models.FrameDone})
			return
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.StreamInterruptions.Inc()
			}
			// Partial output already sent is not retracted.
			s.sendError(err)
			return
		}
		if !s.send(models.ServerFrame{Type: models.FrameChunk, Data: chunk}) {
			return // client went away; stream.Close cancels the upstream read
		}
		if s.metrics != nil {
			s.metrics.StreamChunksRelayed.Inc()
		}
	}
}

func (s *Session) readFrame() (models.ClientFrame, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return models.ClientFrame{}, err
	}
	var frame models.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return models.ClientFrame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return frame, nil
}

func (s *Session) send(frame models.ServerFrame) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.logger.Debug("session write failed", "error", err)
		return false
	}
	return true
}

func (s *Session) sendError(err error) {
	s.send(models.ServerFrame{Type: models.FrameError, Error: faults.Frame(err)})
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.metrics != nil {
		s.metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	}
	s.logger.Debug("session state", "state", next)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}
