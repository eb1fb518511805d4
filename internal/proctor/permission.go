package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultSettleDelay separates consecutive permission prompts.
const DefaultSettleDelay = 500 * time.Millisecond

// Capability is a browser capability an attempt may need.
type Capability string

const (
	CapabilityFullscreen  Capability = "fullscreen"
	CapabilityWebcam      Capability = "webcam"
	CapabilityMicrophone  Capability = "microphone"
	CapabilityScreenShare Capability = "screen_share"
)

var capabilityOrder = []Capability{
	CapabilityFullscreen,
	CapabilityWebcam,
	CapabilityMicrophone,
	CapabilityScreenShare,
}

// PermissionStatus is the outcome of a capability request.
type PermissionStatus string

const (
	StatusPending PermissionStatus = "pending"
	StatusGranted PermissionStatus = "granted"
	StatusDenied  PermissionStatus = "denied"
)

// Permission is the consent state of one capability.
type Permission struct {
	Capability Capability       `json:"capability"`
	Status     PermissionStatus `json:"status"`
	Required   bool             `json:"required"`
	Error      string           `json:"error,omitempty"`
}

// Requirements says which capabilities block the attempt.
type Requirements struct {
	Fullscreen  bool
	Webcam      bool
	Microphone  bool
	ScreenShare bool
}

// RequirementsFor derives the required capabilities from exam settings.
func RequirementsFor(settings model.ExamSettings, isPractice bool) Requirements {
	s := settings.Effective(isPractice)
	return Requirements{
		Fullscreen:  s.FullscreenRequired,
		Webcam:      s.WebcamRequired,
		Microphone:  s.MicrophoneRequired,
		ScreenShare: s.EnforceScreensharing,
	}
}

func (r Requirements) of(c Capability) bool {
	switch c {
	case CapabilityFullscreen:
		return r.Fullscreen
	case CapabilityWebcam:
		return r.Webcam
	case CapabilityMicrophone:
		return r.Microphone
	case CapabilityScreenShare:
		return r.ScreenShare
	}
	return false
}

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is a single media track held by the client.
type Track interface {
	Kind() TrackKind
	Stop()
	Stopped() bool
}

// Stream is a granted media stream.
type Stream interface {
	ID() string
	Tracks() []Track
}

// Streams are the media handles acquired during consent. They are shared by
// the preview, the monitor and screenshot capture; only the attempt's
// cleanup stops them.
type Streams struct {
	Media  Stream
	Screen Stream
}

// StopAll stops every track of every held stream.
func (s Streams) StopAll() {
	for _, st := range []Stream{s.Media, s.Screen} {
		if st == nil {
			continue
		}
		for _, t := range st.Tracks() {
			if !t.Stopped() {
				t.Stop()
			}
		}
	}
}

// Provider performs the actual capability requests on the client device.
type Provider interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	RequestMedia(ctx context.Context, video, audio bool) (Stream, error)
	RequestScreenShare(ctx context.Context) (Stream, error)
}

// BrokerOptions tunes a Broker. Zero values use defaults.
type BrokerOptions struct {
	SettleDelay time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	OnChange    func(Permission)
	Logger      zerolog.Logger
}

// Broker acquires and holds capabilities before an attempt starts.
// Denial is a status, never an error.
type Broker struct {
	provider Provider
	settle   time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	onChange func(Permission)
	log      zerolog.Logger

	mu      sync.Mutex
	perms   map[Capability]*Permission
	streams Streams
}

// NewBroker creates a broker with every capability pending.
func NewBroker(provider Provider, req Requirements, opts BrokerOptions) *Broker {
	b := &Broker{
		provider: provider,
		settle:   opts.SettleDelay,
		sleep:    opts.Sleep,
		onChange: opts.OnChange,
		log:      opts.Logger.With().Str("component", "permission_broker").Logger(),
		perms:    make(map[Capability]*Permission, len(capabilityOrder)),
	}
	if b.settle <= 0 {
		b.settle = DefaultSettleDelay
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	for _, c := range capabilityOrder {
		b.perms[c] = &Permission{Capability: c, Status: StatusPending, Required: req.of(c)}
	}
	return b
}

// RequestFullscreen asks the client to enter fullscreen.
func (b *Broker) RequestFullscreen(ctx context.Context) PermissionStatus {
	if err := b.provider.RequestFullscreen(ctx); err != nil {
		b.log.Debug().Err(err).Msg("Fullscreen denied")
		return b.set(CapabilityFullscreen, StatusDenied, err)
	}
	return b.set(CapabilityFullscreen, StatusGranted, nil)
}

// RequestMedia asks for camera and microphone as one combined grant. On
// failure both are marked denied.
func (b *Broker) RequestMedia(ctx context.Context, video, audio bool) PermissionStatus {
	if !video && !audio {
		return StatusPending
	}

	stream, err := b.provider.RequestMedia(ctx, video, audio)
	if err != nil {
		b.log.Debug().Err(err).Bool("video", video).Bool("audio", audio).Msg("Media denied")
		b.set(CapabilityWebcam, StatusDenied, err)
		return b.set(CapabilityMicrophone, StatusDenied, err)
	}

	b.mu.Lock()
	old := b.streams.Media
	b.streams.Media = stream
	b.mu.Unlock()
	if old != nil && old != stream {
		Streams{Media: old}.StopAll()
	}

	if video {
		b.set(CapabilityWebcam, StatusGranted, nil)
	}
	if audio {
		b.set(CapabilityMicrophone, StatusGranted, nil)
	}
	return StatusGranted
}

// RequestScreenShare asks for display capture. Starting a share can drop
// the page out of fullscreen, so fullscreen is re-requested afterwards.
func (b *Broker) RequestScreenShare(ctx context.Context) PermissionStatus {
	stream, err := b.provider.RequestScreenShare(ctx)
	if err != nil {
		b.log.Debug().Err(err).Msg("Screen share denied")
		return b.set(CapabilityScreenShare, StatusDenied, err)
	}

	b.mu.Lock()
	old := b.streams.Screen
	b.streams.Screen = stream
	b.mu.Unlock()
	if old != nil && old != stream {
		Streams{Screen: old}.StopAll()
	}
	status := b.set(CapabilityScreenShare, StatusGranted, nil)

	if err := b.provider.RequestFullscreen(ctx); err != nil {
		b.log.Debug().Err(err).Msg("Fullscreen re-entry after screen share failed")
	}
	return status
}

// Request asks for a single capability. Webcam and microphone are requested
// together when both are required.
func (b *Broker) Request(ctx context.Context, c Capability) PermissionStatus {
	req := b.requirements()
	switch c {
	case CapabilityFullscreen:
		return b.RequestFullscreen(ctx)
	case CapabilityWebcam:
		return b.RequestMedia(ctx, true, req.Microphone)
	case CapabilityMicrophone:
		return b.RequestMedia(ctx, req.Webcam, true)
	case CapabilityScreenShare:
		return b.RequestScreenShare(ctx)
	}
	return StatusPending
}

// RequestAll asks for every required capability one at a time, waiting the
// settle delay after each prompt.
func (b *Broker) RequestAll(ctx context.Context) []Permission {
	req := b.requirements()

	var steps []func()
	if req.Fullscreen {
		steps = append(steps, func() { b.RequestFullscreen(ctx) })
	}
	if req.Webcam || req.Microphone {
		steps = append(steps, func() { b.RequestMedia(ctx, req.Webcam, req.Microphone) })
	}
	if req.ScreenShare {
		steps = append(steps, func() { b.RequestScreenShare(ctx) })
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		step()
		if err := b.sleep(ctx, b.settle); err != nil {
			break
		}
	}
	return b.State()
}

// State returns the consent state in a fixed capability order.
func (b *Broker) State() []Permission {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Permission, 0, len(capabilityOrder))
	for _, c := range capabilityOrder {
		out = append(out, *b.perms[c])
	}
	return out
}

// Status returns the status of one capability.
func (b *Broker) Status(c Capability) PermissionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.perms[c]; ok {
		return p.Status
	}
	return StatusPending
}

// CanProceed reports whether every required capability is granted.
// Optional capabilities never block.
func (b *Broker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.perms {
		if p.Required && p.Status != StatusGranted {
			return false
		}
	}
	return true
}

// Streams hands the acquired streams to the caller, which then owns them.
func (b *Broker) Streams() Streams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams
}

func (b *Broker) requirements() Requirements {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Requirements{
		Fullscreen:  b.perms[CapabilityFullscreen].Required,
		Webcam:      b.perms[CapabilityWebcam].Required,
		Microphone:  b.perms[CapabilityMicrophone].Required,
		ScreenShare: b.perms[CapabilityScreenShare].Required,
	}
}

func (b *Broker) set(c Capability, status PermissionStatus, err error) PermissionStatus {
	b.mu.Lock()
	p := b.perms[c]
	p.Status = status
	p.Error = ""
	if err != nil {
		p.Error = err.Error()
	}
	snapshot := *p
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(snapshot)
	}
	return status
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
