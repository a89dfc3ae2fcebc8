package store

// Notification is the fan-out intent produced by the notify phase (C5) and
// consumed by the broadcast dispatcher (C6). Exactly one of the concrete
// kinds below is meaningful at a time; Kind discriminates which.
type Notification struct {
	Kind NotifyKind

	// Group / Session fan-out: Event/Payload are encoded once and sent
	// identically to every resolved connection except those in Filter.
	GroupID   string
	SessionID string
	Filter    map[ConnectionID]struct{}
	Event     string
	Payload   interface{}

	// Relay fan-out: a distinct payload addressed to each connection.
	Relay []RelayMessage
}

type NotifyKind int

const (
	NotifyNoop NotifyKind = iota
	NotifyGroup
	NotifySession
	NotifyRelay
)

// RelayMessage pairs a destination connection with the opaque notification
// payload to deliver to it (peer-to-peer relay, spec.md §4.4.1 Session.message).
type RelayMessage struct {
	Conn ConnectionID
	// Event and Payload mirror the [eventName, payload] notification tuple;
	// internal/handlers fills these in, internal/broadcast encodes them.
	Event   string
	Payload interface{}
}

// Noop returns the do-nothing notification.
func Noop() Notification { return Notification{Kind: NotifyNoop} }

// GroupNotify fans out event/payload to every client in groupID except
// those in exclude.
func GroupNotify(groupID, event string, payload interface{}, exclude ...ConnectionID) Notification {
	return Notification{Kind: NotifyGroup, GroupID: groupID, Event: event, Payload: payload, Filter: toSet(exclude)}
}

// SessionNotify fans out event/payload to every connection signed up in
// sessionID (within groupID) except those in exclude.
func SessionNotify(groupID, sessionID, event string, payload interface{}, exclude ...ConnectionID) Notification {
	return Notification{Kind: NotifySession, GroupID: groupID, SessionID: sessionID, Event: event, Payload: payload, Filter: toSet(exclude)}
}

// RelayNotify delivers specific frames to specific connections.
func RelayNotify(messages ...RelayMessage) Notification {
	return Notification{Kind: NotifyRelay, Relay: messages}
}

func toSet(ids []ConnectionID) map[ConnectionID]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[ConnectionID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
