// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds the close frame written by Close.
const closeGrace = 100 * time.Millisecond

// Conn presents the binary messages of a WebSocket as one byte stream so a
// stream engine can treat it like any other net.Conn. Text messages are
// discarded.
type Conn struct {
	*websocket.Conn
	msg io.Reader
	rmu sync.Mutex
	wmu sync.Mutex
}

var _ net.Conn = (*Conn)(nil)

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{Conn: ws}
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// Write sends p as a single binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read continues the current binary message and moves on to the next one at
// its end. A close frame from the peer reads as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.msg == nil {
			if err := c.next(); err != nil {
				return 0, err
			}
		}
		n, err := c.msg.Read(p)
		if err != io.EOF {
			return n, err
		}
		c.msg = nil
		if n > 0 {
			return n, nil
		}
	}
}

func (c *Conn) next() error {
	for {
		typ, r, err := c.NextReader()
		switch {
		case websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived):
			return io.EOF
		case err != nil:
			return err
		case typ == websocket.BinaryMessage:
			c.msg = r
			return nil
		}
	}
}

// Close sends a best effort close frame and closes the socket.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.Conn.Close()
}
