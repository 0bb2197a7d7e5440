package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"heartlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsPair upgrades one connection through an httptest server and returns the
// server-side handle.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientSide, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientSide.Close() })

	return <-serverSide, clientSide
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(RegistryConfig{
		PingInterval: time.Minute,
		WriteTimeout: time.Second,
		SendBuffer:   8,
	}, zap.NewNop().Sugar())
}

func TestSendReachesRegisteredUser(t *testing.T) {
	r := testRegistry(t)
	server, client := wsPair(t)

	handle := r.Register("alice", server)
	defer r.Unregister(handle)

	env, err := domain.NewEnvelope(domain.TypeOffer, "bob", "alice", map[string]string{"sdp": "v=0"})
	require.NoError(t, err)
	require.NoError(t, r.Send("alice", env))

	var got domain.Envelope
	client.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, domain.TypeOffer, got.Type)
	assert.Equal(t, domain.UserID("bob"), got.From)
}

func TestSendToUnknownUser(t *testing.T) {
	r := testRegistry(t)

	err := r.Send("nobody", domain.Envelope{Type: domain.TypeOffer})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.False(t, r.IsOnline("nobody"))
}

func TestReconnectReplacesOldHandle(t *testing.T) {
	r := testRegistry(t)
	firstServer, firstClient := wsPair(t)
	secondServer, secondClient := wsPair(t)

	first := r.Register("alice", firstServer)
	second := r.Register("alice", secondServer)
	defer r.Unregister(second)

	// The stale handle is closed and only the new socket receives traffic.
	assert.Eventually(t, first.Closed, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, r.Count())

	env, err := domain.NewEnvelope(domain.TypeAnswer, "bob", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, r.Send("alice", env))

	var got domain.Envelope
	secondClient.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, secondClient.ReadJSON(&got))
	assert.Equal(t, domain.TypeAnswer, got.Type)

	firstClient.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := firstClient.ReadMessage(); err != nil {
			break
		}
	}
}

func TestUnregisterIgnoresStaleHandle(t *testing.T) {
	r := testRegistry(t)
	firstServer, _ := wsPair(t)
	secondServer, _ := wsPair(t)

	first := r.Register("alice", firstServer)
	second := r.Register("alice", secondServer)
	defer r.Unregister(second)

	// The replaced handle's deferred cleanup must not evict the newer one.
	r.Unregister(first)
	assert.True(t, r.IsOnline("alice"))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := testRegistry(t)
	server, _ := wsPair(t)

	handle := r.Register("alice", server)
	r.Unregister(handle)
	r.Unregister(handle)

	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, 0, r.Count())
}
