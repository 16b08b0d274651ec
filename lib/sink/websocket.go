// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientSendBuffer is the per-client outgoing queue depth. A client
// that falls this far behind the feed is disconnected rather than
// allowed to stall the broadcast.
const clientSendBuffer = 64

// writeTimeout bounds a single websocket write.
const writeTimeout = 10 * time.Second

// WebSocketSink broadcasts the event feed to connected websocket
// clients. It doubles as the http.Handler that accepts connections.
// Slow clients are dropped, never waited on.
type WebSocketSink struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mutex   sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	connection *websocket.Conn
	send       chan []byte
	done       chan struct{}
}

// NewWebSocketSink creates a broadcast sink. A nil logger selects
// slog.Default.
func NewWebSocketSink(logger *slog.Logger) *WebSocketSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSink{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The wrapper binds to loopback; same-host frontends
			// connect with arbitrary Origin headers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client for the
// broadcast feed. The connection stays open until the client leaves,
// falls behind, or the sink closes.
func (sink *WebSocketSink) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	connection, err := sink.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		sink.logger.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}

	entry := &client{
		connection: connection,
		send:       make(chan []byte, clientSendBuffer),
		done:       make(chan struct{}),
	}

	sink.mutex.Lock()
	if sink.closed {
		sink.mutex.Unlock()
		connection.Close()
		return
	}
	sink.clients[entry] = struct{}{}
	sink.mutex.Unlock()
	sink.logger.Info("websocket client connected", "remote", request.RemoteAddr)

	go sink.writePump(entry)
	sink.readPump(entry)
}

// readPump discards inbound frames until the client disconnects. The
// feed is one-directional; reading is only for close detection.
func (sink *WebSocketSink) readPump(entry *client) {
	defer sink.dropClient(entry)
	for {
		if _, _, err := entry.connection.ReadMessage(); err != nil {
			return
		}
	}
}

func (sink *WebSocketSink) writePump(entry *client) {
	defer sink.dropClient(entry)
	for {
		select {
		case payload, ok := <-entry.send:
			if !ok {
				entry.connection.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			entry.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := entry.connection.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-entry.done:
			return
		}
	}
}

func (sink *WebSocketSink) dropClient(entry *client) {
	sink.mutex.Lock()
	_, present := sink.clients[entry]
	delete(sink.clients, entry)
	sink.mutex.Unlock()
	if present {
		close(entry.done)
		entry.connection.Close()
	}
}

// Emit implements Sink. The event is serialized once and queued to
// every connected client; a client with a full queue is dropped.
func (sink *WebSocketSink) Emit(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding broadcast event: %w", err)
	}

	sink.mutex.Lock()
	var overflowing []*client
	for entry := range sink.clients {
		select {
		case entry.send <- payload:
		default:
			overflowing = append(overflowing, entry)
		}
	}
	sink.mutex.Unlock()

	for _, entry := range overflowing {
		sink.logger.Warn("dropping slow websocket client")
		sink.dropClient(entry)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (sink *WebSocketSink) ClientCount() int {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	return len(sink.clients)
}

// Close implements Sink: disconnects every client and rejects future
// connections.
func (sink *WebSocketSink) Close() error {
	sink.mutex.Lock()
	sink.closed = true
	clients := make([]*client, 0, len(sink.clients))
	for entry := range sink.clients {
		clients = append(clients, entry)
	}
	sink.mutex.Unlock()

	for _, entry := range clients {
		sink.dropClient(entry)
	}
	return nil
}
