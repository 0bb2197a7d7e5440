package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// LocalMedia holds the acquired tracks and the mute flags. Toggling flips
// the track-enabled state in place; no renegotiation happens.
type LocalMedia struct {
	mu      sync.Mutex
	tracks  []Track
	audioOn bool
	videoOn bool
	closed  bool
}

func NewLocalMedia(tracks []Track) *LocalMedia {
	return &LocalMedia{
		tracks:  tracks,
		audioOn: true,
		videoOn: true,
	}
}

func (m *LocalMedia) Tracks() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// ToggleAudio flips the microphone and returns whether audio is now on.
func (m *LocalMedia) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioOn = !m.audioOn
	for _, t := range m.tracks {
		if t.Kind() == "audio" {
			t.SetEnabled(m.audioOn)
		}
	}
	return m.audioOn
}

// ToggleVideo flips the camera and returns whether video is now on.
func (m *LocalMedia) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOn = !m.videoOn
	for _, t := range m.tracks {
		if t.Kind() == "video" {
			t.SetEnabled(m.videoOn)
		}
	}
	return m.videoOn
}

func (m *LocalMedia) AudioOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioOn
}

func (m *LocalMedia) VideoOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOn
}

// Close disables every track. Actual device release is the capture layer's
// job when its tracks are garbage collected or explicitly stopped.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, t := range m.tracks {
		t.SetEnabled(false)
	}
}

// staticTrack wraps a pion sample track. The capture layer writes samples
// only while the track is enabled.
type staticTrack struct {
	kind  string
	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
}

func (t *staticTrack) Kind() string { return t.kind }

func (t *staticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *staticTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *staticTrack) Local() webrtc.TrackLocal { return t.local }

// StaticMediaDevices produces synthetic opus/VP8 sample tracks with no
// capture hardware behind them. It stands in for a real platform capture
// layer on headless clients and in tests; consent is implicitly granted.
type StaticMediaDevices struct{}

func (StaticMediaDevices) Check(ctx context.Context) PermissionState {
	return PermissionGranted
}

func (StaticMediaDevices) Acquire(ctx context.Context) ([]Track, error) {
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		return nil, err
	}

	return []Track{
		&staticTrack{kind: "audio", local: audio, enabled: true},
		&staticTrack{kind: "video", local: video, enabled: true},
	}, nil
}
