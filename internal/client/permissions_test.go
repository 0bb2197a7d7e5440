package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReportsPromptWhenPlatformCannot(t *testing.T) {
	p := NewPermissionManager(&fakeDevices{reported: PermissionUnknown})
	assert.Equal(t, PermissionPrompt, p.Check(context.Background()))
}

func TestRequestGrants(t *testing.T) {
	p := NewPermissionManager(&fakeDevices{reported: PermissionPrompt})

	media, err := p.Request(context.Background())
	require.NoError(t, err)
	require.NotNil(t, media)
	assert.Equal(t, PermissionGranted, p.State())
	assert.Len(t, media.Tracks(), 2)
}

func TestDenialMovesToDenied(t *testing.T) {
	p := NewPermissionManager(&fakeDevices{acquireErr: ErrPermissionDenied})

	_, err := p.Request(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, PermissionDenied, p.State())

	// Denied blocks the gate without another prompt.
	_, err = p.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDeviceErrorsLeaveStateUntouched(t *testing.T) {
	devices := &fakeDevices{reported: PermissionPrompt, acquireErr: ErrDeviceNotFound}
	p := NewPermissionManager(devices)

	_, err := p.Request(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NotEqual(t, PermissionDenied, p.State())

	devices.acquireErr = ErrDeviceBusy
	_, err = p.Request(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.NotEqual(t, PermissionDenied, p.State())
}

func TestGrantedNeverRegressesFromCheck(t *testing.T) {
	devices := &fakeDevices{reported: PermissionGranted}
	p := NewPermissionManager(devices)

	media, err := p.Request(context.Background())
	require.NoError(t, err)
	media.Close()

	// The platform later claims prompt; the settled grant wins.
	devices.reported = PermissionPrompt
	assert.Equal(t, PermissionGranted, p.Check(context.Background()))
}

func TestStaticMediaDevices(t *testing.T) {
	devices := StaticMediaDevices{}
	assert.Equal(t, PermissionGranted, devices.Check(context.Background()))

	tracks, err := devices.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	kinds := map[string]bool{}
	for _, track := range tracks {
		kinds[track.Kind()] = true
	}
	assert.True(t, kinds["audio"])
	assert.True(t, kinds["video"])
}

func TestLocalMediaToggles(t *testing.T) {
	audio := &fakeTrack{kind: "audio", enabled: true}
	video := &fakeTrack{kind: "video", enabled: true}
	media := NewLocalMedia([]Track{audio, video})

	assert.False(t, media.ToggleAudio())
	assert.False(t, audio.enabled)
	assert.True(t, video.enabled)

	assert.False(t, media.ToggleVideo())
	assert.False(t, video.enabled)

	assert.True(t, media.ToggleAudio())
	assert.True(t, audio.enabled)
}
