package signal

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type relayHarness struct {
	t   *testing.T
	url string
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	directory := memory.NewMemoryUserDirectory()
	directory.Seed(&domain.User{ID: "alice", Username: "Alice"})
	directory.Seed(&domain.User{ID: "bob", Username: "Bob"})
	directory.Seed(&domain.User{ID: "mallory", Username: "Mallory"})
	directory.Block("mallory", "alice")

	logger := zap.NewNop().Sugar()
	registry := NewRegistry(RegistryConfig{
		PingInterval: time.Minute,
		WriteTimeout: time.Second,
		SendBuffer:   16,
	}, logger)
	server := NewServer(ServerConfig{PongTimeout: 5 * time.Second}, registry, directory, nil, logger)

	router := gin.New()
	router.GET("/ws", server.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &relayHarness{t: t, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (h *relayHarness) connect(userID string) *websocket.Conn {
	h.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?user_id="+userID, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestOfferForwardedVerbatim(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	payload := json.RawMessage(`{"sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1","type":"offer"}`)
	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type:    domain.TypeOffer,
		To:      "bob",
		Payload: payload,
	}))

	got := readEnvelope(t, bob)
	assert.Equal(t, domain.TypeOffer, got.Type)
	assert.Equal(t, domain.UserID("alice"), got.From)
	assert.JSONEq(t, string(payload), string(got.Payload))
}

func TestFromFieldCannotBeSpoofed(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: domain.TypeICECandidate,
		From: "mallory",
		To:   "bob",
	}))

	got := readEnvelope(t, bob)
	assert.Equal(t, domain.UserID("alice"), got.From)
}

func TestCallRequestCarriesCallerRecord(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: domain.TypeCallRequest,
		To:   "bob",
	}))

	got := readEnvelope(t, bob)
	require.Equal(t, domain.TypeCallRequest, got.Type)

	var payload domain.CallRequestPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	require.NotNil(t, payload.FromUser)
	assert.Equal(t, "Alice", payload.FromUser.Username)
}

func TestCallRequestToBlockedPairLooksOffline(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	mallory := h.connect("mallory")

	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: domain.TypeCallRequest,
		To:   "mallory",
	}))

	got := readEnvelope(t, alice)
	require.Equal(t, domain.TypeError, got.Type)

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "user is not available", payload.Message)
	assert.Equal(t, domain.UserID("mallory"), payload.Target)

	// The blocked party never learns the request happened.
	mallory.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leaked domain.Envelope
	assert.Error(t, mallory.ReadJSON(&leaked))
}

func TestUnreachableTargetGetsExactlyOneError(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")

	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: domain.TypeAnswer,
		To:   "bob",
	}))

	got := readEnvelope(t, alice)
	require.Equal(t, domain.TypeError, got.Type)

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, domain.UserID("bob"), payload.Target)

	alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra domain.Envelope
	assert.Error(t, alice.ReadJSON(&extra))
}

func TestMalformedMessageDroppedConnectionSurvives(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// The connection is still usable after the bad frame.
	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: domain.TypeHangUp,
		To:   "bob",
	}))
	got := readEnvelope(t, bob)
	assert.Equal(t, domain.TypeHangUp, got.Type)
}

func TestRegisterEnvelopeIdentifiesAnonymousConnection(t *testing.T) {
	h := newRelayHarness(t)

	anon, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { anon.Close() })

	require.NoError(t, anon.WriteJSON(domain.Envelope{
		Type: domain.TypeRegister,
		From: "alice",
	}))
	// Give the handler a beat to consume the register envelope.
	time.Sleep(100 * time.Millisecond)
	bob := h.connect("bob")

	require.NoError(t, bob.WriteJSON(domain.Envelope{
		Type: domain.TypeHangUp,
		To:   "alice",
	}))
	got := readEnvelope(t, anon)
	assert.Equal(t, domain.TypeHangUp, got.Type)
	assert.Equal(t, domain.UserID("bob"), got.From)
}

func TestUnknownTypeDropped(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	require.NoError(t, alice.WriteJSON(domain.Envelope{
		Type: "teleport",
		To:   "bob",
	}))

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leaked domain.Envelope
	assert.Error(t, bob.ReadJSON(&leaked))
}
