package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

type commandMessage struct {
	Event Event   `json:"event"`
	Data  Command `json:"data"`
}

// newPair returns the server-side peer and the raw client connection.
func newPair(t *testing.T) (*Peer, *websocket.Conn) {
	t.Helper()
	peers := make(chan *Peer, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		p := NewPeer(conn, zerolog.Nop())
		go p.Run()
		peers <- p
		for {
			var req RequestPayload
			if err := p.Read(&req); err != nil {
				p.Close()
				return
			}
			if req.Action == ActionCommandResult {
				p.Resolve(CommandResult{ID: req.CommandID, Result: req.Result, Error: req.Error})
			}
		}
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case p := <-peers:
		return p, client
	case <-time.After(5 * time.Second):
		t.Fatal("server peer not ready")
		return nil, nil
	}
}

func readCommand(t *testing.T, client *websocket.Conn) Command {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg commandMessage
	require.NoError(t, client.ReadJSON(&msg))
	require.Equal(t, EventCommand, msg.Event)
	return msg.Data
}

func reply(t *testing.T, client *websocket.Conn, id string, result any, errMsg string) {
	t.Helper()
	payload := RequestPayload{Action: ActionCommandResult, CommandID: id, Error: errMsg}
	if result != nil {
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		payload.Result = raw
	}
	require.NoError(t, client.WriteJSON(payload))
}

func TestRemoteDevice_RequestMediaAndStopTrack(t *testing.T) {
	peer, client := newPair(t)
	device := NewRemoteDevice(peer)

	go func() {
		cmd := readCommand(t, client)
		if cmd.Name != CommandRequestMedia || !cmd.Video || !cmd.Audio {
			return
		}
		reply(t, client, cmd.ID, StreamInfo{
			ID: "cam-1",
			Tracks: []TrackInfo{
				{ID: "v1", Kind: proctor.TrackVideo},
				{ID: "a1", Kind: proctor.TrackAudio},
			},
		}, "")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := device.RequestMedia(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", stream.ID())
	require.Len(t, stream.Tracks(), 2)

	video := stream.Tracks()[0]
	assert.Equal(t, proctor.TrackVideo, video.Kind())
	assert.False(t, video.Stopped())

	video.Stop()
	video.Stop()
	assert.True(t, video.Stopped())

	stop := readCommand(t, client)
	assert.Equal(t, CommandStopTrack, stop.Name)
	assert.Equal(t, "v1", stop.TrackID)
}

func TestRemoteDevice_DeniedPrompt(t *testing.T) {
	peer, client := newPair(t)
	device := NewRemoteDevice(peer)

	go func() {
		cmd := readCommand(t, client)
		reply(t, client, cmd.ID, nil, "NotAllowedError")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := device.RequestFullscreen(ctx)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, CommandEnterFullscreen, cmdErr.Name)
	assert.Equal(t, "NotAllowedError", cmdErr.Message)
}

func TestRemoteDevice_CaptureFrame(t *testing.T) {
	peer, client := newPair(t)
	device := NewRemoteDevice(peer)

	go func() {
		cmd := readCommand(t, client)
		reply(t, client, cmd.ID, FrameInfo{Image: "data:image/jpeg;base64,AAAA"}, "")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	img, err := device.CaptureFrame(ctx, model.ScreenshotWebcam)
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", img)
}

func TestPeer_CloseFailsPendingCalls(t *testing.T) {
	peer, _ := newPair(t)

	errs := make(chan error, 1)
	go func() {
		_, err := peer.Call(context.Background(), Command{Name: CommandExitFullscreen})
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	peer.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPeerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return after close")
	}
	assert.ErrorIs(t, peer.Send(PongResponse{Event: EventPong}), ErrPeerClosed)
}

func TestPeer_ResolveUnknownID(t *testing.T) {
	peer, _ := newPair(t)
	assert.False(t, peer.Resolve(CommandResult{ID: "nope"}))
}
