// Package realtime is the live transport: a websocket hub that pushes
// envelopes to connected recipients and takes their acknowledgments, plus a
// Redis pub/sub bridge for running several hubs behind one ledger.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"postbox/internal/constants"
	"postbox/internal/delivery"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
	"postbox/pkg/metrics"
)

const (
	FrameAck       = "ack"
	FrameAckResult = "ack_result"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameError     = "error"
)

// Frame is a control message. Deliveries are sent as bare envelopes.
type Frame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Status        delivery.Status `json:"status,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// Backfiller is told when a recipient connects so its staged envelopes are
// retried at once.
type Backfiller interface {
	Backfill(ctx context.Context, recipient string) (int, error)
}

// BackfillerFunc adapts a function to Backfiller.
type BackfillerFunc func(ctx context.Context, recipient string) (int, error)

func (f BackfillerFunc) Backfill(ctx context.Context, recipient string) (int, error) {
	return f(ctx, recipient)
}

// Presence is told when a recipient gains its first or loses its last
// connection on this hub.
type Presence interface {
	Join(ctx context.Context, recipient string) error
	Leave(ctx context.Context, recipient string) error
}

type peer struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (p *peer) send(v interface{}, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return websocket.JSON.Send(p.conn, v)
}

type Hub struct {
	mu    sync.RWMutex
	peers map[string]map[*peer]struct{}

	mediator     *mediator.Mediator
	backfill     Backfiller
	presence     Presence
	writeTimeout time.Duration
	log          logger.Logger
}

type HubOption func(*Hub)

func WithBackfiller(b Backfiller) HubOption {
	return func(h *Hub) { h.backfill = b }
}

func WithPresence(p Presence) HubOption {
	return func(h *Hub) { h.presence = p }
}

// NewHub routes ack frames through m so they pass the same validation as
// the HTTP acknowledgment.
func NewHub(m *mediator.Mediator, writeTimeout time.Duration, log logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		peers:        make(map[string]map[*peer]struct{}),
		mediator:     m,
		writeTimeout: writeTimeout,
		log:          log.With("component", "realtime_hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push writes env to every connection of its recipient. It reports
// delivered when at least one write succeeded.
func (h *Hub) Push(ctx context.Context, env delivery.Envelope) (bool, error) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers[env.To]))
	for p := range h.peers[env.To] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return false, nil
	}

	timeout := h.writeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	var (
		delivered bool
		lastErr   error
	)
	for _, p := range targets {
		if err := p.send(env, timeout); err != nil {
			lastErr = err
			h.log.DebugwCtx(ctx, "Push to connection failed", "recipient", env.To, "error", err)
			continue
		}
		delivered = true
	}

	if delivered {
		return true, nil
	}
	return false, lastErr
}

func (h *Hub) add(p *peer) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.peers[p.userID]
	if !ok {
		set = make(map[*peer]struct{})
		h.peers[p.userID] = set
	}
	set[p] = struct{}{}
	metrics.RealtimeConnections.Inc()
	return len(set) == 1
}

func (h *Hub) remove(p *peer) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.peers[p.userID]
	if _, ok := set[p]; !ok {
		return false
	}
	delete(set, p)
	metrics.RealtimeConnections.Dec()
	if len(set) == 0 {
		delete(h.peers, p.userID)
		return true
	}
	return false
}

// Handler upgrades authenticated requests. The caller id comes from the
// X-User-ID header set by the gateway, or the user_id query parameter for
// browser clients that cannot set headers.
func (h *Hub) Handler() http.Handler {
	ws := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerFromRequest(r)
		if !ok {
			h.log.WarnwCtx(r.Context(), "Websocket unauthorized", "remote", r.RemoteAddr)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		ws.ServeHTTP(w, r.WithContext(ctx))
	})
}

type userIDKey struct{}

func callerFromRequest(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get(constants.UserIDHeader))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer conn.Close()
	// Deadlines set by the HTTP server survive the upgrade.
	_ = conn.SetDeadline(time.Time{})

	userID, _ := conn.Request().Context().Value(userIDKey{}).(string)
	ctx, cancel := context.WithCancel(context.WithoutCancel(conn.Request().Context()))
	defer cancel()

	p := &peer{conn: conn, userID: userID}
	if h.add(p) && h.presence != nil {
		if err := h.presence.Join(ctx, userID); err != nil {
			h.log.WarnwCtx(ctx, "Failed to announce presence", "user_id", userID, "error", err)
		}
	}
	defer func() {
		if h.remove(p) && h.presence != nil {
			if err := h.presence.Leave(ctx, userID); err != nil {
				h.log.WarnwCtx(ctx, "Failed to withdraw presence", "user_id", userID, "error", err)
			}
		}
		h.log.DebugwCtx(ctx, "Connection closed", "user_id", userID)
	}()

	h.log.DebugwCtx(ctx, "Connection opened", "user_id", userID)

	if h.backfill != nil {
		if _, err := h.backfill.Backfill(ctx, userID); err != nil {
			h.log.WarnwCtx(ctx, "Backfill failed", "user_id", userID, "error", err)
		}
	}

	for {
		var frame Frame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if malformed(err) {
				_ = p.send(Frame{Type: FrameError, Code: pkgerrors.ErrValidation.Code, Message: "invalid frame"}, h.writeTimeout)
				continue
			}
			return
		}

		switch frame.Type {
		case FrameAck:
			_ = p.send(h.acknowledge(ctx, userID, frame.CorrelationID), h.writeTimeout)
		case FramePing:
			_ = p.send(Frame{Type: FramePong}, h.writeTimeout)
		default:
			_ = p.send(Frame{Type: FrameError, Code: pkgerrors.ErrValidation.Code, Message: "unsupported frame type"}, h.writeTimeout)
		}
	}
}

func (h *Hub) acknowledge(ctx context.Context, userID, correlationID string) Frame {
	ctx = logging.WithCorrelationID(ctx, correlationID)

	result, err := mediator.Send[delivery.AcknowledgeDelivery, delivery.AckResult](ctx, h.mediator, delivery.AcknowledgeDelivery{
		CorrelationID: correlationID,
		Recipient:     userID,
	})
	if err != nil {
		resp := pkgerrors.ToErrorResponse(err)
		msg, _ := resp["error"].(string)
		code, _ := resp["error_code"].(string)
		return Frame{Type: FrameError, CorrelationID: correlationID, Code: code, Message: msg}
	}

	return Frame{Type: FrameAckResult, CorrelationID: correlationID, Status: result.Status}
}

// malformed separates undecodable frames from connection failures.
func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
