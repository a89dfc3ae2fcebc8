// Package ws is the connection lifecycle layer (C7, plus the C2 transport
// boundary): it upgrades an HTTP request to a WebSocket, registers the
// connection with the store, runs the read/write pumps, and drives each
// inbound frame through the Service→Notify→Dispatch pipeline. Grounded on
// the teacher's internal/websocket.Client/Hub pump pair, adapted from a
// broadcast-only hub to one connection per store.ConnectionID, since here
// the store itself — not a Hub map — owns the client registry (spec.md §3).
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lavamoat/tss-relay/internal/broadcast"
	"github.com/lavamoat/tss-relay/internal/handlers"
	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/rpc"
	"github.com/lavamoat/tss-relay/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MiB: generous for MPC round payloads, bounded per spec.md §4 supplemented read limit
	sendBuffer     = 256
)

// Conn wraps one upgraded WebSocket and implements store.Sender so the
// store can hand it frames without knowing anything about the transport.
type Conn struct {
	id         store.ConnectionID
	socket     *websocket.Conn
	send       chan []byte
	store      *store.Store
	dispatcher *handlers.Dispatcher
	broadcast  *broadcast.Dispatcher
}

// Serve registers socket with s, starts its pumps, and blocks until the
// connection closes. Call this from the goroutine handling the upgraded
// request; it returns once teardown (store.Disconnect + PruneGroups) is
// complete.
func Serve(socket *websocket.Conn, s *store.Store, dispatcher *handlers.Dispatcher, bc *broadcast.Dispatcher) {
	c := &Conn{
		socket:     socket,
		send:       make(chan []byte, sendBuffer),
		store:      s,
		dispatcher: dispatcher,
		broadcast:  bc,
	}
	c.id = s.NewConnection(c)

	log := logger.WebSocket()
	log.Info().Uint64("connId", uint64(c.id)).Msg("connection registered")

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	close(c.send)
	<-done

	empty := s.Disconnect(c.id)
	s.PruneGroups(empty)
	log.Info().Uint64("connId", uint64(c.id)).Int("prunedGroups", len(empty)).Msg("connection closed")
}

// Send implements store.Sender. A full outbound buffer means this
// connection is too slow to keep up; the frame is dropped rather than
// blocking whichever goroutine (possibly another connection's read pump,
// via the broadcast dispatcher) is trying to deliver it.
func (c *Conn) Send(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logger.WebSocket().Warn().Uint64("connId", uint64(c.id)).Msg("outbound buffer full, dropping frame")
	}
}

func (c *Conn) readPump() {
	defer c.socket.Close()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := logger.WebSocket()
	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Uint64("connId", uint64(c.id)).Msg("read error")
			}
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame runs one inbound frame through the two-phase pipeline: parse
// (C1), dispatch (C4), reply, then — for methods that need it — notify (C5)
// and broadcast (C6). A frame that fails to parse is logged and dropped
// per spec.md §4.1; it never tears down the connection.
func (c *Conn) handleFrame(raw []byte) {
	log := logger.RPC()
	req, err := rpc.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Uint64("connId", uint64(c.id)).Msg("dropping unparseable frame")
		return
	}

	reply := c.dispatcher.Service(c.id, req)
	if frame, err := rpc.Encode(reply); err != nil {
		log.Error().Err(err).Str("method", req.Method).Msg("encode reply")
	} else {
		c.Send(frame)
	}

	// GroupFull's reply carries Data: "close-connection" (spec.md §7); the
	// client is expected to drop the socket itself on seeing it, so nothing
	// further happens here beyond delivering that reply.
	if reply.Error != nil {
		return
	}

	if !handlers.NeedsNotify(req.Method) {
		return
	}
	n := c.dispatcher.Notify(c.id, req, reply)
	c.broadcast.Dispatch(n)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
