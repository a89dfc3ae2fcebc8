package handlers

import (
	"github.com/lavamoat/tss-relay/internal/rpc"
	"github.com/lavamoat/tss-relay/internal/store"
)

// Notify runs the C5 read-only phase for req, after Service has already
// mutated state and produced reply for the caller. It never mutates Store;
// it only decides who else should hear about what Service just did, using
// reply to recover anything Service generated (a new session id, an
// assigned party number) that isn't present in req's own params. Only call
// this when NeedsNotify(req.Method) is true — every other method is a Noop
// and callers should skip the call entirely rather than rely on this
// default.
func (d *Dispatcher) Notify(conn store.ConnectionID, req *rpc.Request, reply *rpc.Response) store.Notification {
	if reply.Error != nil {
		// A failed mutation has nothing to announce.
		return store.Noop()
	}
	switch req.Method {
	case MethodSessionCreate:
		return d.notifySessionCreate(conn, req, reply)
	case MethodSessionSignup:
		return d.notifySessionSignup(conn, req, reply)
	case MethodSessionLoad:
		return d.notifySessionLoad(conn, req, reply)
	case MethodSessionMessage:
		return d.notifySessionMessage(conn, req)
	case MethodSessionFinish:
		return d.notifySessionFinish(conn, req, reply)
	case MethodNotifyProposal:
		return d.notifyNotifyProposal(conn, req)
	case MethodNotifySigned:
		return d.notifyNotifySigned(conn, req)
	default:
		return store.Noop()
	}
}

func (d *Dispatcher) notifySessionCreate(conn store.ConnectionID, req *rpc.Request, reply *rpc.Response) store.Notification {
	elems, err := req.Positional()
	if err != nil {
		return store.Noop()
	}
	var groupID string
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return store.Noop()
	}
	sess, ok := reply.Result.(sessionPayload)
	if !ok {
		return store.Noop()
	}
	// spec.md §4.4 / services.rs:338 — only keygen session creation is
	// announced to the group; sign sessions are set up silently.
	if sess.Kind != store.KindKeygen {
		return store.Noop()
	}
	return store.GroupNotify(groupID, EventSessionCreate, sess, conn)
}

// notifySessionSignup fires sessionSignup exactly once per session, on the
// call that brings partySignups to the threshold count (spec.md P5); every
// other call is a Noop. The event carries the sessionId, not the caller's
// party number (services.rs:392), and reaches the whole session with no
// exclusion (spec.md §4.4: "filter: none").
func (d *Dispatcher) notifySessionSignup(conn store.ConnectionID, req *rpc.Request, reply *rpc.Response) store.Notification {
	groupID, sessionID, appErr := decodeGroupSession(req)
	if appErr != nil {
		return store.Noop()
	}
	p, ok := reply.Result.(signupPayload)
	if !ok || !p.ThresholdReached {
		return store.Noop()
	}
	return store.SessionNotify(groupID, sessionID, EventSessionSignup, p.SessionID)
}

// notifySessionLoad mirrors notifySessionSignup's threshold gate for
// Session.load (services.rs:420+).
func (d *Dispatcher) notifySessionLoad(conn store.ConnectionID, req *rpc.Request, reply *rpc.Response) store.Notification {
	groupID, sessionID, appErr := decodeGroupSession(req)
	if appErr != nil {
		return store.Noop()
	}
	p, ok := reply.Result.(loadPayload)
	if !ok || !p.ThresholdReached {
		return store.Noop()
	}
	return store.SessionNotify(groupID, sessionID, EventSessionLoad, p.SessionID)
}

// notifySessionMessage resolves Session.message's fan-out: a single
// addressed receiver gets a direct relay, an omitted receiver broadcasts to
// the whole session. Re-decodes the frame — cheap, and keeps Service and
// Notify independent of each other's internal state.
func (d *Dispatcher) notifySessionMessage(conn store.ConnectionID, req *rpc.Request) store.Notification {
	p, appErr := decodeSessionMessage(req)
	if appErr != nil {
		return store.Noop()
	}
	if p.Message.Receiver == nil {
		return store.SessionNotify(p.GroupID, p.SessionID, EventSessionMessage, p.Message, conn)
	}
	target, err := d.store.ResolveReceiver(p.GroupID, p.SessionID, conn, *p.Message.Receiver)
	if err != nil {
		return store.Noop()
	}
	return store.RelayNotify(store.RelayMessage{Conn: target, Event: EventSessionMessage, Payload: p.Message})
}

func (d *Dispatcher) notifySessionFinish(conn store.ConnectionID, req *rpc.Request, reply *rpc.Response) store.Notification {
	groupID, sessionID, appErr := decodeGroupSession(req)
	if appErr != nil {
		return store.Noop()
	}
	fin, ok := reply.Result.(finishPayload)
	if !ok || !fin.Closed {
		return store.Noop()
	}
	payload := struct {
		Finished []uint16 `json:"finished"`
	}{Finished: fin.Finished}
	return store.SessionNotify(groupID, sessionID, EventSessionClosed, payload)
}

func (d *Dispatcher) notifyNotifyProposal(conn store.ConnectionID, req *rpc.Request) store.Notification {
	elems, err := req.Positional()
	if err != nil {
		return store.Noop()
	}
	var p notifyProposalPayload
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return store.Noop()
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return store.Noop()
	}
	if err := rpc.At(elems, 2, &p.ProposalID); err != nil {
		return store.Noop()
	}
	if err := rpc.At(elems, 3, &p.Message); err != nil {
		return store.Noop()
	}
	// services.rs:620 — Notify.proposal fans out to the whole group, not
	// just the session's partySignups, excluding only the caller.
	return store.GroupNotify(p.GroupID, EventNotifyProposal, p, conn)
}

// notifyNotifySigned delivers to group members who did *not* participate in
// the session (services.rs:657) — the inverse audience of a session
// broadcast. The payload is the bare signed value, not a wrapper struct.
func (d *Dispatcher) notifyNotifySigned(conn store.ConnectionID, req *rpc.Request) store.Notification {
	elems, err := req.Positional()
	if err != nil {
		return store.Noop()
	}
	var p notifySignedPayload
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return store.Noop()
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return store.Noop()
	}
	if err := rpc.At(elems, 2, &p.Value); err != nil {
		return store.Noop()
	}
	participants := d.store.SessionClients(p.GroupID, p.SessionID)
	return store.GroupNotify(p.GroupID, EventNotifySigned, p.Value, participants...)
}

type notifyProposalPayload struct {
	GroupID    string      `json:"-"`
	SessionID  string      `json:"-"`
	ProposalID string      `json:"proposalId"`
	Message    interface{} `json:"message"`
}

type notifySignedPayload struct {
	GroupID   string      `json:"-"`
	SessionID string      `json:"-"`
	Value     interface{} `json:"value"`
}
