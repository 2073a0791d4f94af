package websocket

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is generous: students think between answers.
	readWait = 5 * time.Minute
)

// Conn wraps a gorilla connection with a write mutex. The upgraded socket
// is shared between the read-loop handlers and background forwarders, and
// gorilla/websocket supports only one writer at a time; every write must
// go through this wrapper.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed response payload.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse.
func (c *Conn) WriteError(errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes the next message into v, refreshing the read
// deadline first. Reading is single-goroutine and needs no lock.
func (c *Conn) ReadJSON(v interface{}) error {
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	return c.ws.ReadJSON(v)
}

// NextReader exposes the raw frame reader for drain loops.
func (c *Conn) NextReader() (int, io.Reader, error) {
	return c.ws.NextReader()
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
