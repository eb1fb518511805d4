package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func newTestBroker(p Provider, req Requirements, sleeps *[]time.Duration) *Broker {
	return NewBroker(p, req, BrokerOptions{
		Sleep: func(_ context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
		Logger: zerolog.Nop(),
	})
}

func TestRequiredPermissionGate(t *testing.T) {
	settings := model.ExamSettings{WebcamRequired: true, EnforceScreensharing: true}
	p := &fakeProvider{denyScreen: true}
	b := newTestBroker(p, RequirementsFor(settings, false), nil)

	assert.False(t, b.CanProceed())

	b.RequestAll(context.Background())
	assert.Equal(t, StatusGranted, b.Status(CapabilityWebcam))
	assert.Equal(t, StatusDenied, b.Status(CapabilityScreenShare))
	assert.Equal(t, StatusPending, b.Status(CapabilityMicrophone))
	assert.False(t, b.CanProceed())

	p.mu.Lock()
	p.denyScreen = false
	p.mu.Unlock()
	b.RequestScreenShare(context.Background())

	assert.Equal(t, StatusPending, b.Status(CapabilityMicrophone))
	assert.True(t, b.CanProceed(), "optional microphone never blocks")
}

func TestCombinedMediaFailureDeniesBoth(t *testing.T) {
	p := &fakeProvider{denyMedia: true}
	b := newTestBroker(p, Requirements{Webcam: true, Microphone: true}, nil)

	status := b.RequestMedia(context.Background(), true, true)

	assert.Equal(t, StatusDenied, status)
	assert.Equal(t, StatusDenied, b.Status(CapabilityWebcam))
	assert.Equal(t, StatusDenied, b.Status(CapabilityMicrophone))
	assert.Nil(t, b.Streams().Media)
	for _, perm := range b.State() {
		if perm.Capability == CapabilityWebcam {
			assert.NotEmpty(t, perm.Error)
		}
	}
}

func TestScreenShareReentersFullscreen(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBroker(p, Requirements{ScreenShare: true}, nil)

	assert.Equal(t, StatusGranted, b.RequestScreenShare(context.Background()))
	assert.Equal(t, []string{"screen", "fullscreen"}, p.Calls())
	assert.NotNil(t, b.Streams().Screen)
}

func TestScreenShareSwallowsFullscreenFailure(t *testing.T) {
	p := &fakeProvider{denyFullscreen: true}
	b := newTestBroker(p, Requirements{ScreenShare: true}, nil)

	assert.Equal(t, StatusGranted, b.RequestScreenShare(context.Background()))
	assert.True(t, b.CanProceed())
}

func TestRequestAllIsSequentialWithSettleDelay(t *testing.T) {
	var sleeps []time.Duration
	p := &fakeProvider{}
	b := newTestBroker(p, RequirementsFor(proctoredSettings(), false), &sleeps)

	perms := b.RequestAll(context.Background())

	assert.Equal(t, []string{
		"fullscreen",
		"media(video=true,audio=true)",
		"screen",
		"fullscreen",
	}, p.Calls())
	assert.Equal(t, []time.Duration{DefaultSettleDelay, DefaultSettleDelay, DefaultSettleDelay}, sleeps)
	require.Len(t, perms, 4)
	for _, perm := range perms {
		assert.Equal(t, StatusGranted, perm.Status, perm.Capability)
		assert.True(t, perm.Required)
	}
	assert.True(t, b.CanProceed())
}

func TestRequestAllStopsOnCancelledContext(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBroker(p, RequirementsFor(proctoredSettings(), false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.RequestAll(ctx)

	assert.Empty(t, p.Calls())
	assert.False(t, b.CanProceed())
}

func TestBrokerHandsOverStreamsWithoutStopping(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBroker(p, Requirements{Webcam: true, Microphone: true}, nil)

	b.RequestMedia(context.Background(), true, true)
	streams := b.Streams()

	require.NotNil(t, streams.Media)
	assert.Len(t, streams.Media.Tracks(), 2)
	for _, tr := range streams.Media.Tracks() {
		assert.False(t, tr.Stopped())
	}

	streams.StopAll()
	for _, tr := range streams.Media.Tracks() {
		assert.True(t, tr.Stopped())
	}
}

func TestBrokerReportsChanges(t *testing.T) {
	var changes []Permission
	b := NewBroker(&fakeProvider{}, Requirements{Fullscreen: true}, BrokerOptions{
		Sleep:    func(context.Context, time.Duration) error { return nil },
		OnChange: func(p Permission) { changes = append(changes, p) },
	})

	b.RequestFullscreen(context.Background())

	require.Len(t, changes, 1)
	assert.Equal(t, CapabilityFullscreen, changes[0].Capability)
	assert.Equal(t, StatusGranted, changes[0].Status)
}
