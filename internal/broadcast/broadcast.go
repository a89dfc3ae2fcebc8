// Package broadcast implements the C6 fan-out dispatcher: given the
// store.Notification produced by a handler's notify phase, resolve the set
// of connections that should hear about it and hand each one an encoded
// frame via Store.Send. It never decides policy — internal/handlers already
// did that — it only resolves and delivers.
package broadcast

import (
	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/rpc"
	"github.com/lavamoat/tss-relay/internal/store"
)

// Sender is the subset of *store.Store the dispatcher needs: resolving
// fan-out membership and handing off encoded frames.
type Sender interface {
	Send(conn store.ConnectionID, frame []byte)
	GroupClients(groupID string) []store.ConnectionID
	SessionClients(groupID, sessionID string) []store.ConnectionID
}

// Dispatcher delivers a store.Notification. It optionally forwards every
// notification to a Relayer for cross-instance fan-out (SPEC_FULL.md §3.4).
// Relayer may be nil; cmd/main.go passes a *cluster.Relay whose Publish is a
// no-op when clustering is disabled.
type Dispatcher struct {
	store   Sender
	relayer Relayer
}

// Relayer publishes a notification to other server instances. Implemented
// by internal/cluster when Redis fan-out is enabled.
type Relayer interface {
	Publish(n store.Notification)
}

// New builds a Dispatcher over store. relayer may be nil.
func New(s Sender, relayer Relayer) *Dispatcher {
	return &Dispatcher{store: s, relayer: relayer}
}

// Dispatch resolves n's target connections on this instance, sends each one
// the encoded frame, and — when clustering is enabled — republishes n for
// other instances to deliver to their own connections. Call this for every
// notification a local handler produces.
func (d *Dispatcher) Dispatch(n store.Notification) {
	d.DispatchLocal(n)
	if d.relayer != nil {
		d.relayer.Publish(n)
	}
}

// DispatchLocal delivers n to this instance's own connections only, without
// republishing it. internal/cluster calls this for notifications it
// receives from other instances — republishing here would echo the
// notification back onto the bus forever.
func (d *Dispatcher) DispatchLocal(n store.Notification) {
	log := logger.Broadcast()

	switch n.Kind {
	case store.NotifyNoop:
		return

	case store.NotifyGroup:
		frame, err := encodeNotification(n.Event, n.Payload)
		if err != nil {
			log.Error().Err(err).Str("groupId", n.GroupID).Msg("encode group notification")
			return
		}
		d.fanOut(d.store.GroupClients(n.GroupID), n.Filter, frame)

	case store.NotifySession:
		frame, err := encodeNotification(n.Event, n.Payload)
		if err != nil {
			log.Error().Err(err).Str("sessionId", n.SessionID).Msg("encode session notification")
			return
		}
		d.fanOut(d.store.SessionClients(n.GroupID, n.SessionID), n.Filter, frame)

	case store.NotifyRelay:
		for _, m := range n.Relay {
			frame, err := encodeNotification(m.Event, m.Payload)
			if err != nil {
				log.Error().Err(err).Msg("encode relay message")
				continue
			}
			d.store.Send(m.Conn, frame)
		}
	}
}

func (d *Dispatcher) fanOut(conns []store.ConnectionID, filter map[store.ConnectionID]struct{}, frame []byte) {
	for _, c := range conns {
		if _, excluded := filter[c]; excluded {
			continue
		}
		d.store.Send(c, frame)
	}
}

func encodeNotification(event string, payload interface{}) ([]byte, error) {
	return rpc.Encode(rpc.NewNotification(event, payload))
}
