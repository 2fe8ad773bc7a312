// Package ws implements the realtime WebSocket channel.
//
// Clients present their bearer token in the Sec-WebSocket-Protocol header
// during the handshake. After a welcome frame the channel accepts query
// messages; ping frames are answered inline from the read loop so they
// bypass the queue and the handler pipeline entirely.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/dispatcher"
)

// routeTimeout bounds one synchronous query answered over the socket.
const routeTimeout = 30 * time.Second

// Router dispatches one message to its handler.
type Router interface {
	Route(ctx context.Context, user collector.User, msg collector.Message) (collector.Result, error)
}

// Submitter queues a message as a durable task.
type Submitter interface {
	Submit(ctx context.Context, user collector.User, msg collector.Message) (collector.Task, error)
}

// Server upgrades HTTP requests and serves the message loop.
type Server struct {
	upgrader  websocket.Upgrader
	auth      collector.Authenticator
	router    Router
	submitter Submitter
	clock     collector.Clock
	logger    *zap.Logger
}

// New builds a Server.
func New(auth collector.Authenticator, router Router, submitter Submitter, clock collector.Clock, logger *zap.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The service sits behind its own API gateway; origin policy
			// is enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		auth:      auth,
		router:    router,
		submitter: submitter,
		clock:     clock,
		logger:    logger.Named("ws"),
	}
}

// conn wraps one client socket with serialized writes.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// ServeHTTP implements the upgrade endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, proto := bearerFromSubprotocol(r.Header.Get("Sec-WebSocket-Protocol"))

	var respHeader http.Header
	if proto != "" {
		respHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
	}
	socket, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: socket}
	defer socket.Close()

	user, err := s.auth.Verify(r.Context(), token)
	if err != nil {
		_ = c.sendJSON(map[string]any{"success": false, "error": "auth_failed"})
		return
	}

	log := s.logger.With(zap.String("user_id", user.ID))
	log.Info("client connected")
	defer log.Info("client disconnected")

	_ = c.sendJSON(map[string]any{
		"type":      "welcome",
		"userId":    user.ID,
		"timestamp": s.clock.Now().Format(time.RFC3339),
	})

	s.readLoop(r.Context(), c, user, log)
}

func (s *Server) readLoop(ctx context.Context, c *conn, user collector.User, log *zap.Logger) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg collector.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.sendJSON(map[string]any{"success": false, "error": "invalid_message"})
			continue
		}

		// Pings never touch the pipeline, so clients can always probe
		// liveness even when every worker is busy.
		if msg.Type == "ping" {
			_ = c.sendJSON(map[string]any{
				"type":      "pong",
				"requestId": msg.RequestID,
				"timestamp": s.clock.Now().UnixMilli(),
			})
			continue
		}

		if msg.Queue {
			s.enqueue(ctx, c, user, msg, log)
			continue
		}

		// Sync queries run off the read loop so a slow upstream does not
		// block pings from this client.
		go s.answer(ctx, c, user, msg, log)
	}
}

func (s *Server) enqueue(ctx context.Context, c *conn, user collector.User, msg collector.Message, log *zap.Logger) {
	task, err := s.submitter.Submit(ctx, user, msg)
	if err != nil {
		_ = c.sendJSON(map[string]any{"success": false, "error": clientError(err)})
		return
	}
	log.Info("task queued over socket", zap.String("task_id", task.ID))
	_ = c.sendJSON(map[string]any{
		"success": true,
		"queued":  true,
		"job":     map[string]any{"id": task.ID},
	})
}

func (s *Server) answer(ctx context.Context, c *conn, user collector.User, msg collector.Message, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(ctx, routeTimeout)
	defer cancel()

	res, err := s.router.Route(rctx, user, msg)
	if err != nil {
		_ = c.sendJSON(map[string]any{"success": false, "error": clientError(err)})
		return
	}
	if err := c.sendJSON(map[string]any{
		"success":   true,
		"requestId": res.RequestID,
		"type":      res.Type,
		"data":      res.Data,
	}); err != nil {
		log.Warn("result write failed", zap.Error(err))
	}
}

// bearerFromSubprotocol extracts the token from the handshake header and
// returns the subprotocol entry to echo back. Both "Bearer <token>" and
// "Bearer, <token>" forms are accepted.
func bearerFromSubprotocol(header string) (token string, proto string) {
	if header == "" {
		return "", ""
	}
	fields := strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || r == ' '
	})
	for i, f := range fields {
		if strings.EqualFold(f, "Bearer") && i+1 < len(fields) {
			return fields[i+1], "Bearer"
		}
	}
	return "", ""
}

// clientError maps an error onto the wire-visible reason string.
func clientError(err error) string {
	var ve *collector.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var ue *collector.UpstreamError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	if errors.Is(err, dispatcher.ErrQueueFull) {
		return "queue_full"
	}
	return "internal_error"
}
