package statusapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the last packet the emulator sent, keyed by channel name.
type Status struct {
	Timestamp int64          `json:"timestamp"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
	Channels  map[string]any `json:"channels"`
}

func (s *Status) ToJsonBytes() []byte {
	b, _ := json.Marshal(s)
	return b
}

// clientQueue is how many status documents a websocket client may fall
// behind before new ones are dropped for it.
const clientQueue = 16

const defaultWriteTimeout = 5 * time.Second

// client owns one websocket connection. writeLoop is its only writer.
type client struct {
	conn      *websocket.Conn
	timeout   time.Duration
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, timeout time.Duration) *client {
	return &client{
		conn:    conn,
		timeout: timeout,
		send:    make(chan []byte, clientQueue),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks; it reports false when msg was dropped.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop sends queued messages until the client is closed or a write
// fails, which closes it.
func (c *client) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
