package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"heartlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const connWriteTimeout = 10 * time.Second

// Conn is the websocket signaling connection to the relay. Writes are
// serialized under a mutex; inbound envelopes are delivered on the Receive
// channel, which closes when the connection dies.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex
	recv    chan domain.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay's /ws endpoint and identifies as userID.
func Dial(ctx context.Context, rawURL string, userID domain.UserID, logger *zap.SugaredLogger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", string(userID))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Conn{
		ws:     ws,
		logger: logger,
		recv:   make(chan domain.Envelope, 32),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes one envelope to the relay.
func (c *Conn) Send(env domain.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return domain.ErrNotConnected
	default:
	}

	c.ws.SetWriteDeadline(time.Now().Add(connWriteTimeout))
	return c.ws.WriteJSON(env)
}

// Receive returns the inbound envelope channel. It closes when the
// connection is gone.
func (c *Conn) Receive() <-chan domain.Envelope {
	return c.recv
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(connWriteTimeout))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.recv)

	for {
		var env domain.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Infow("signaling connection lost", "error", err)
				c.Close()
			}
			return
		}

		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}
