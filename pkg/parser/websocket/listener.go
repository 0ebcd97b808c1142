// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocols offered during the upgrade. MQTT clients insist on one of these.
var Subprotocols = []string{"mqtt", "mqttv3.1"}

// Listener is a net.Listener whose connections are WebSocket upgrades served
// on Path. It lets a stream engine run unchanged behind WebSocket.
type Listener struct {
	upgrader websocket.Upgrader
	inner    net.Listener
	server   *http.Server
	logger   *slog.Logger

	conns     chan net.Conn
	done      chan struct{}
	served    chan struct{}
	closeOnce sync.Once
}

var (
	_ net.Listener = (*Listener)(nil)
	_ http.Handler = (*Listener)(nil)
)

// NewListener starts serving HTTP on inner and upgrades requests to path.
// Other paths get 404. Close stops the HTTP server and closes inner.
func NewListener(inner net.Listener, path string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/mqtt"
	}

	l := &Listener{
		upgrader: websocket.Upgrader{
			Subprotocols:    Subprotocols,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		inner:  inner,
		logger: logger,
		conns:  make(chan net.Conn),
		done:   make(chan struct{}),
		served: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle(path, l)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	go func() {
		defer close(l.served)
		if err := l.server.Serve(inner); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket server stopped", slog.String("error", err.Error()))
		}
	}()

	return l
}

// ServeHTTP upgrades the request and hands the connection to Accept.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	select {
	case l.conns <- NewConn(ws):
	case <-l.done:
		ws.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting and waits for the HTTP server to exit.
// Upgraded connections are not closed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.server.Close()
		<-l.served
	})
	return err
}

// Addr returns the address of the underlying listener.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}
