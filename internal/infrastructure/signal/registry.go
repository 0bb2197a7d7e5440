package signal

import (
	"context"
	"sync"
	"time"

	"heartlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one registered signaling connection. All writes to the socket
// go through the send channel and a single writer goroutine, so envelopes
// to one user are delivered in the order they were enqueued.
type Client struct {
	UserID domain.UserID

	conn *websocket.Conn
	send chan domain.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed reports whether the client's writer has been shut down.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// RegistryConfig carries the per-connection write-side tunables.
type RegistryConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Registry owns the userID → connection table. It is the only shared
// mutable state in the relay; every access goes through its mutex, and the
// underlying map is never handed out.
type Registry struct {
	cfg    RegistryConfig
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[domain.UserID]*Client
}

func NewRegistry(cfg RegistryConfig, logger *zap.SugaredLogger) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[domain.UserID]*Client),
	}
}

// Register stores the mapping and starts the client's writer. If the user
// already had a connection the stale one is closed; routing to this user
// from now on reaches only the new handle.
func (r *Registry) Register(userID domain.UserID, conn *websocket.Conn) *Client {
	client := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan domain.Envelope, r.cfg.SendBuffer),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	old, replaced := r.clients[userID]
	r.clients[userID] = client
	r.mu.Unlock()

	if replaced {
		old.close()
		r.logger.Infow("replaced stale connection for reconnecting user", "user_id", userID)
	}

	go r.writePump(client)
	return client
}

// Unregister removes the client's mapping. Idempotent, and a no-op when the
// user has already reconnected with a newer handle.
func (r *Registry) Unregister(client *Client) {
	r.mu.Lock()
	if current, ok := r.clients[client.UserID]; ok && current == client {
		delete(r.clients, client.UserID)
	}
	r.mu.Unlock()

	client.close()
}

// Send enqueues an envelope for delivery to the user's live connection.
// Returns domain.ErrNotConnected when the user has no open handle. A client
// whose send buffer is full is dropped rather than allowed to stall routing
// for everyone else.
func (r *Registry) Send(to domain.UserID, env domain.Envelope) error {
	r.mu.RLock()
	client, ok := r.clients[to]
	r.mu.RUnlock()

	if !ok || client.Closed() {
		return domain.ErrNotConnected
	}

	select {
	case client.send <- env:
		return nil
	case <-client.done:
		return domain.ErrNotConnected
	default:
		r.logger.Warnw("send buffer full, dropping slow client", "user_id", to)
		r.Unregister(client)
		return domain.ErrNotConnected
	}
}

// Push implements ports.Notifier for the coordinator.
func (r *Registry) Push(ctx context.Context, to domain.UserID, env domain.Envelope) error {
	return r.Send(to, env)
}

// IsOnline implements ports.Presence.
func (r *Registry) IsOnline(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[user]
	return ok && !client.Closed()
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// writePump is the client's single writer: it drains the send channel and
// keeps the connection alive with pings until the client is closed.
func (r *Registry) writePump(client *Client) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case env := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := client.conn.WriteJSON(env); err != nil {
				r.logger.Infow("write failed, closing connection",
					"user_id", client.UserID, "error", err)
				client.close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}

		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
