package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// wsPeer is a websocket-backed Conn. Frames are queued and written by a
// single goroutine, which gives per-connection ordering.
type wsPeer struct {
	id     string
	userID string

	conn         *websocket.Conn
	encoder      *json.Encoder
	out          chan Frame
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	heartbeat    time.Duration
	logger       *slog.Logger
}

func newWSPeer(conn *websocket.Conn, userID string, opts Options, logger *slog.Logger) *wsPeer {
	return &wsPeer{
		id:           uuid.NewString(),
		userID:       userID,
		conn:         conn,
		encoder:      json.NewEncoder(conn),
		out:          make(chan Frame, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		heartbeat:    opts.PingInterval,
		logger:       logger,
	}
}

func (p *wsPeer) ID() string     { return p.id }
func (p *wsPeer) UserID() string { return p.userID }

func (p *wsPeer) Send(f Frame) error {
	select {
	case <-p.done:
		return poll.ErrConnectionLost
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return poll.ErrConnectionLost
	default:
		return fmt.Errorf("send queue full: %w", poll.ErrConnectionLost)
	}
}

func (p *wsPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}

// Done is closed once the peer has been closed.
func (p *wsPeer) Done() <-chan struct{} {
	return p.done
}

// writeLoop drains the queue until the peer closes or a write fails.
func (p *wsPeer) writeLoop() {
	var tick <-chan time.Time
	if p.heartbeat > 0 {
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			if err := p.write(f); err != nil {
				p.logger.Debug("websocket write failed", "conn_id", p.id, "error", err)
				_ = p.Close()
				return
			}
		case <-tick:
			if err := p.write(Frame{Type: FrameHeartbeat}); err != nil {
				p.logger.Debug("websocket heartbeat failed", "conn_id", p.id, "error", err)
				_ = p.Close()
				return
			}
		}
	}
}

func (p *wsPeer) write(f Frame) error {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	return p.encoder.Encode(f)
}
