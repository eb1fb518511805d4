package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// sendBuffer is the number of outbound messages queued per connection.
const sendBuffer = 64

var (
	ErrPeerClosed = errors.New("connection closed")
	ErrSendQueue  = errors.New("send queue full")
)

// CommandError is a command the client reported as failed, typically a
// denied permission prompt.
type CommandError struct {
	Name    CommandName
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Peer owns one WebSocket connection. All writes go through a single write
// pump; reads stay with the caller's read loop.
type Peer struct {
	conn *websocket.Conn
	log  zerolog.Logger
	send chan any

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan CommandResult
}

// NewPeer wraps conn. Run must be started for anything to be written.
func NewPeer(conn *websocket.Conn, log zerolog.Logger) *Peer {
	prepareConn(conn)
	return &Peer{
		conn:    conn,
		log:     log,
		send:    make(chan any, sendBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan CommandResult),
	}
}

// Run is the write pump. It returns when the peer is closed or a write fails.
func (p *Peer) Run() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v := <-p.send:
			if err := writeMessage(p.conn, v); err != nil {
				p.log.Debug().Err(err).Msg("Write failed")
				p.Close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send queues v without blocking. Messages are dropped once the peer is
// closed or its queue is full.
func (p *Peer) Send(v any) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- v:
		return nil
	default:
		p.log.Warn().Msg("Send queue full, dropping message")
		return ErrSendQueue
	}
}

// SendError queues an error event.
func (p *Peer) SendError(msg string) {
	_ = p.Send(ErrorResponse{Event: EventError, Error: msg})
}

// Read reads the next client message.
func (p *Peer) Read(v *RequestPayload) error {
	return readMessage(p.conn, v)
}

// Call sends a command to the client and waits for its result.
func (p *Peer) Call(ctx context.Context, cmd Command) (CommandResult, error) {
	cmd.ID = uuid.NewString()
	ch := make(chan CommandResult, 1)

	p.mu.Lock()
	p.pending[cmd.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, cmd.ID)
		p.mu.Unlock()
	}()

	if err := p.Send(Message{Event: EventCommand, Data: cmd}); err != nil {
		return CommandResult{}, err
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return res, &CommandError{Name: cmd.Name, Message: res.Error}
		}
		return res, nil
	case <-p.done:
		return CommandResult{}, ErrPeerClosed
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Resolve delivers a command result to its waiting Call. Unknown or late
// results are ignored.
func (p *Peer) Resolve(res CommandResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[res.ID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

// Close stops the write pump and fails every pending Call. It does not
// close the underlying connection.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Closed reports whether Close was called.
func (p *Peer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
