package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var errEmptyFrame = errors.New("client returned an empty frame")

// RemoteDevice drives the student's browser over a Peer. It implements
// proctor.Provider and proctor.Capturer.
type RemoteDevice struct {
	peer *Peer
}

// NewRemoteDevice creates a device bound to peer.
func NewRemoteDevice(peer *Peer) *RemoteDevice {
	return &RemoteDevice{peer: peer}
}

// RequestFullscreen implements proctor.Provider.
func (d *RemoteDevice) RequestFullscreen(ctx context.Context) error {
	_, err := d.peer.Call(ctx, Command{Name: CommandEnterFullscreen})
	return err
}

// ExitFullscreen implements proctor.Provider.
func (d *RemoteDevice) ExitFullscreen(ctx context.Context) error {
	_, err := d.peer.Call(ctx, Command{Name: CommandExitFullscreen})
	return err
}

// RequestMedia implements proctor.Provider.
func (d *RemoteDevice) RequestMedia(ctx context.Context, video, audio bool) (proctor.Stream, error) {
	return d.stream(ctx, Command{Name: CommandRequestMedia, Video: video, Audio: audio})
}

// RequestScreenShare implements proctor.Provider.
func (d *RemoteDevice) RequestScreenShare(ctx context.Context) (proctor.Stream, error) {
	return d.stream(ctx, Command{Name: CommandRequestScreen})
}

// CaptureFrame implements proctor.Capturer.
func (d *RemoteDevice) CaptureFrame(ctx context.Context, kind model.ScreenshotKind) (string, error) {
	res, err := d.peer.Call(ctx, Command{Name: CommandCaptureFrame, Kind: string(kind)})
	if err != nil {
		return "", err
	}
	var frame FrameInfo
	if err := json.Unmarshal(res.Result, &frame); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if frame.Image == "" {
		return "", errEmptyFrame
	}
	return frame.Image, nil
}

func (d *RemoteDevice) stream(ctx context.Context, cmd Command) (proctor.Stream, error) {
	res, err := d.peer.Call(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var info StreamInfo
	if err := json.Unmarshal(res.Result, &info); err != nil {
		return nil, fmt.Errorf("decode stream: %w", err)
	}
	s := &remoteStream{id: info.ID}
	for _, t := range info.Tracks {
		s.tracks = append(s.tracks, &remoteTrack{peer: d.peer, id: t.ID, kind: t.Kind})
	}
	return s, nil
}

type remoteStream struct {
	id     string
	tracks []proctor.Track
}

func (s *remoteStream) ID() string              { return s.id }
func (s *remoteStream) Tracks() []proctor.Track { return s.tracks }

// remoteTrack is a handle on a client-side track. Stop is fire-and-forget.
type remoteTrack struct {
	peer    *Peer
	id      string
	kind    proctor.TrackKind
	stopped atomic.Bool
}

func (t *remoteTrack) Kind() proctor.TrackKind { return t.kind }
func (t *remoteTrack) Stopped() bool           { return t.stopped.Load() }

func (t *remoteTrack) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	_ = t.peer.Send(Message{Event: EventCommand, Data: Command{Name: CommandStopTrack, TrackID: t.id}})
}
