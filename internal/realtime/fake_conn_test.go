package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rpggio/pollit/internal/domain/poll"
)

type fakeConn struct {
	id   string
	user string

	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return poll.ErrConnectionLost
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) framesOf(typ string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) updates() []*poll.Poll {
	var out []*poll.Poll
	for _, f := range c.framesOf(FrameUpdate) {
		var p poll.Poll
		if err := json.Unmarshal(f.Payload, &p); err == nil {
			out = append(out, &p)
		}
	}
	return out
}
