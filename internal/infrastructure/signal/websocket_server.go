package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	"heartlink/internal/infrastructure/monitoring"
	"heartlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerConfig carries the relay's read-side and rate-limit tunables. The
// write side lives in RegistryConfig.
type ServerConfig struct {
	PongTimeout    time.Duration
	MaxMessageSize int64
	MessagesPerSec float64
	MessageBurst   int
}

// Server is the signaling relay: it upgrades websocket connections,
// registers them, and forwards envelopes between users. It never interprets
// SDP or ICE payloads; negotiation messages pass through as opaque bytes.
type Server struct {
	cfg       ServerConfig
	registry  *Registry
	directory ports.UserDirectory
	metrics   *monitoring.PrometheusCollector
	logger    *zap.SugaredLogger

	upgrader websocket.Upgrader
}

func NewServer(
	cfg ServerConfig,
	registry *Registry,
	directory ports.UserDirectory,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *Server {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.MessagesPerSec <= 0 {
		cfg.MessagesPerSec = 50
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 100
	}
	return &Server{
		cfg:       cfg,
		registry:  registry,
		directory: directory,
		metrics:   metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket is the gin handler for GET /ws. Identity comes from the
// user_id query parameter; a client that omits it must send a register
// envelope as its first message.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	userID := domain.UserID(c.Query("user_id"))
	if userID == "" {
		userID, err = s.awaitRegister(conn)
		if err != nil {
			s.logger.Infow("connection closed before identifying itself", "error", err)
			conn.Close()
			return
		}
	}

	client := s.registry.Register(userID, conn)
	s.metrics.ConnectionOpened()
	s.logger.Infow("user connected", "user_id", userID)

	defer func() {
		s.registry.Unregister(client)
		s.metrics.ConnectionClosed()
		s.logger.Infow("user disconnected", "user_id", userID)
	}()

	s.readPump(c.Request.Context(), client)
}

// awaitRegister reads the first envelope from an anonymous connection and
// expects a register message carrying the user's ID in the From field.
func (s *Server) awaitRegister(conn *websocket.Conn) (domain.UserID, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

	var env domain.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", err
	}
	if env.Type != domain.TypeRegister || env.From == "" {
		return "", errors.New("first message must be a register envelope")
	}
	return env.From, nil
}

// readPump is the per-connection reader. Each inbound envelope is stamped
// with the authenticated sender before routing, so a client cannot spoof
// its From field.
func (s *Server) readPump(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSec), s.cfg.MessageBurst)

	for {
		if client.Closed() {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "user_id", client.UserID, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			s.logger.Warnw("message rate limit exceeded", "user_id", client.UserID)
			s.metrics.MessageDropped()
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warnw("dropping malformed envelope", "user_id", client.UserID, "error", err)
			s.metrics.MessageDropped()
			continue
		}
		env.From = client.UserID

		s.route(ctx, client, env)
	}
}

// route dispatches one inbound envelope. Negotiation and call-control types
// are forwarded to env.To; anything else is dropped.
func (s *Server) route(ctx context.Context, sender *Client, env domain.Envelope) {
	ctx, span := tracing.TraceSignal(ctx, string(env.Type), string(sender.UserID))
	defer span.End()

	switch env.Type {
	case domain.TypeRegister:
		// Already registered; a duplicate register is harmless noise.
		return

	case domain.TypeCallRequest:
		s.routeCallRequest(ctx, sender, env)

	case domain.TypeCallResponse, domain.TypeHangUp,
		domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		s.forward(sender, env)

	default:
		s.logger.Warnw("dropping envelope with unknown type",
			"user_id", sender.UserID, "type", env.Type)
		s.metrics.MessageDropped()
	}
}

// routeCallRequest validates the pair against the directory's block list and
// enriches the payload with the caller's display record before forwarding.
func (s *Server) routeCallRequest(ctx context.Context, sender *Client, env domain.Envelope) {
	if env.To == "" {
		s.replyError(sender, "call-request needs a target", "")
		return
	}

	blocked, err := s.directory.IsBlocked(ctx, sender.UserID, env.To)
	if err != nil {
		s.logger.Errorw("block check failed", "from", sender.UserID, "to", env.To, "error", err)
		s.replyError(sender, "could not reach user", env.To)
		return
	}
	if blocked {
		// Indistinguishable from an offline target, so a block is not
		// observable by the blocked party.
		s.replyError(sender, "user is not available", env.To)
		return
	}

	caller, err := s.directory.GetByID(ctx, sender.UserID)
	if err == nil {
		if enriched, merr := domain.NewEnvelope(domain.TypeCallRequest, sender.UserID, env.To,
			domain.CallRequestPayload{FromUser: caller}); merr == nil {
			env = enriched
		}
	}

	s.forward(sender, env)
}

// forward delivers the envelope to env.To. An unreachable target produces
// exactly one synthetic error envelope back to the sender.
func (s *Server) forward(sender *Client, env domain.Envelope) {
	if env.To == "" {
		s.replyError(sender, "envelope needs a target", "")
		return
	}

	if err := s.registry.Send(env.To, env); err != nil {
		s.logger.Infow("target unreachable",
			"from", sender.UserID, "to", env.To, "type", env.Type)
		s.metrics.RoutingError()
		s.replyError(sender, "user is not available", env.To)
		return
	}

	s.metrics.MessageRouted(string(env.Type))
}

func (s *Server) replyError(sender *Client, message string, target domain.UserID) {
	env, err := domain.NewEnvelope(domain.TypeError, "", sender.UserID,
		domain.ErrorPayload{Message: message, Target: target})
	if err != nil {
		return
	}
	if err := s.registry.Send(sender.UserID, env); err != nil {
		s.logger.Debugw("could not deliver error envelope", "user_id", sender.UserID)
	}
}
