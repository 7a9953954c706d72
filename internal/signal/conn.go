package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

type role string

const (
	roleUnset  role = ""
	roleHost   role = "host"
	roleClient role = "client"
)

// conn is one live signaling connection. The relay owns the id→conn mapping;
// sessions only ever hold connection ids, so teardown always flows from the
// transport into the directory, never the reverse.
//
// role and sessionCode are written and read only by the connection's reader
// goroutine; cross-goroutine access is limited to send/close.
type conn struct {
	id string
	ws *websocket.Conn

	role        role
	sessionCode string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		done: make(chan struct{}),
	}
}

func (c *conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) sendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
