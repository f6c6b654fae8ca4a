package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coreman2200/ledgrid/internal/wire"
)

type client struct {
	session  string
	clientID string
	pos      wire.Position
	conn     net.Conn
	remote   string

	wmu sync.Mutex

	reqMu   sync.Mutex
	pending sync.Mutex
	waiting bool
	reply   chan wire.Message
	done    chan struct{}
	once    sync.Once
}

func newClient(pos wire.Position, conn net.Conn, clientID string) *client {
	remote := ""
	if a := conn.RemoteAddr(); a != nil {
		remote = a.String()
	}
	return &client{
		session:  uuid.NewString(),
		clientID: clientID,
		pos:      pos,
		conn:     conn,
		remote:   remote,
		reply:    make(chan wire.Message, 1),
		done:     make(chan struct{}),
	}
}

func (c *client) send(m wire.Message, timeout time.Duration) error {
	b, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err = c.conn.Write(b)
	return err
}

func (c *client) arm() {
	c.pending.Lock()
	defer c.pending.Unlock()
	select {
	case <-c.reply:
	default:
	}
	c.waiting = true
}

func (c *client) disarm() {
	c.pending.Lock()
	defer c.pending.Unlock()
	c.waiting = false
}

// deliver hands m to a waiting Request; false means nobody asked for it.
func (c *client) deliver(m wire.Message) bool {
	c.pending.Lock()
	defer c.pending.Unlock()
	if !c.waiting {
		return false
	}
	c.waiting = false
	select {
	case c.reply <- m:
	default:
	}
	return true
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}
