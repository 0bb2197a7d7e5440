package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// localTrackCarrier is implemented by tracks that carry a pion local track.
// The pion transport only accepts these.
type localTrackCarrier interface {
	Local() webrtc.TrackLocal
}

// TransportConfig carries the ICE servers for the peer connection.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
}

// NewPionTransportFactory builds transports backed by pion peer connections.
func NewPionTransportFactory(cfg TransportConfig, logger *zap.SugaredLogger) TransportFactory {
	return func() (Transport, error) {
		return newPionTransport(cfg, logger)
	}
}

type pionTransport struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu          sync.Mutex
	onCandidate func(json.RawMessage)
	onState     func(TransportState)
	closed      bool
}

func newPionTransport(cfg TransportConfig, logger *zap.SugaredLogger) (*pionTransport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &pionTransport{pc: pc, logger: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(raw)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(mapTransportState(state))
		}
	})

	pc.OnTrack(t.handleRemoteTrack)

	return t, nil
}

func (t *pionTransport) AddTrack(track Track) error {
	carrier, ok := track.(localTrackCarrier)
	if !ok {
		return fmt.Errorf("track %s does not carry a webrtc local track", track.Kind())
	}

	sender, err := t.pc.AddTrack(carrier.Local())
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}

	// Drain sender reports so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *pionTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (t *pionTransport) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (t *pionTransport) AcceptAnswer(ctx context.Context, sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("malformed ice candidate: %w", err)
	}
	return t.pc.AddICECandidate(init)
}

func (t *pionTransport) OnICECandidate(fn func(candidate json.RawMessage)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *pionTransport) OnStateChange(fn func(state TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}

// handleRemoteTrack drains inbound RTP and keeps video keyframes coming with
// a periodic PLI. Rendering is the UI collaborator's job; dropping the
// packets here keeps the receive path healthy without owning playback.
func (t *pionTransport) handleRemoteTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.logger.Infow("remote track started", "kind", remote.Kind().String(), "ssrc", remote.SSRC())

	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		go func() {
			ticker := time.NewTicker(pliInterval)
			defer ticker.Stop()
			for range ticker.C {
				err := t.pc.WriteRTCP([]rtcp.Packet{
					&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
				})
				if err != nil {
					return
				}
			}
		}()
	}

	go func() {
		buf := make([]byte, 1500)
		var pkt rtp.Packet
		var packets uint64
		for {
			n, _, err := remote.Read(buf)
			if err != nil {
				if err != io.EOF {
					t.logger.Debugw("remote track read ended", "error", err, "packets", packets)
				}
				return
			}
			if err := pkt.Unmarshal(buf[:n]); err != nil {
				continue
			}
			packets++
		}
	}()
}

func mapTransportState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportClosed
	default:
		return TransportConnecting
	}
}
