package client

import (
	"context"
	"errors"
	"sync"
)

// PermissionManager owns this process's PermissionState. It is the only
// place that talks to MediaDevices, so every state transition is an explicit
// check or an explicit grant attempt.
type PermissionManager struct {
	devices MediaDevices

	mu    sync.Mutex
	state PermissionState
}

func NewPermissionManager(devices MediaDevices) *PermissionManager {
	return &PermissionManager{
		devices: devices,
		state:   PermissionUnknown,
	}
}

// State returns the current cached state without touching the platform.
func (p *PermissionManager) State() PermissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Check queries the platform without prompting and returns the best-known
// state. Settled states (granted, denied) are cached and never downgraded
// here; a platform that cannot report non-invasively yields prompt.
func (p *PermissionManager) Check(ctx context.Context) PermissionState {
	p.mu.Lock()
	if p.state == PermissionGranted || p.state == PermissionDenied {
		state := p.state
		p.mu.Unlock()
		return state
	}
	p.mu.Unlock()

	reported := p.devices.Check(ctx)
	if reported == "" || reported == PermissionUnknown {
		reported = PermissionPrompt
	}

	p.mu.Lock()
	if p.state != PermissionGranted && p.state != PermissionDenied {
		p.state = reported
	}
	state := p.state
	p.mu.Unlock()
	return state
}

// Request performs an actual capability acquisition. Success moves the state
// to granted and returns the live media. A denial-class failure moves it to
// denied; device-absent or device-busy failures leave the state untouched so
// the user is not asked to re-grant for a hardware problem.
func (p *PermissionManager) Request(ctx context.Context) (*LocalMedia, error) {
	tracks, err := p.devices.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			p.mu.Lock()
			p.state = PermissionDenied
			p.mu.Unlock()
		}
		return nil, err
	}

	p.mu.Lock()
	p.state = PermissionGranted
	p.mu.Unlock()
	return NewLocalMedia(tracks), nil
}

// Ensure is the call-path gate: a denied state blocks outright without
// prompting again; anything else routes through Request.
func (p *PermissionManager) Ensure(ctx context.Context) (*LocalMedia, error) {
	if p.Check(ctx) == PermissionDenied {
		return nil, ErrPermissionDenied
	}
	return p.Request(ctx)
}
