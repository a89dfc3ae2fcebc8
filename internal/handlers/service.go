package handlers

import (
	"encoding/json"

	"github.com/microcosm-cc/bluemonday"

	apperrors "github.com/lavamoat/tss-relay/internal/errors"
	"github.com/lavamoat/tss-relay/internal/rpc"
	"github.com/lavamoat/tss-relay/internal/store"
)

// Dispatcher is the single entry point for both halves of the two-phase RPC
// pipeline: Service (C4) mutates state and answers the caller; Notify (C5)
// re-reads the post-mutation state and decides what, if anything, to fan
// out. One Dispatcher is shared by every connection — all state it touches
// lives in Store, which is already safe for concurrent use.
type Dispatcher struct {
	store  *store.Store
	labels *bluemonday.Policy
}

// NewDispatcher builds a Dispatcher backed by s. Group labels are run
// through a strict HTML-stripping policy before being stored — spec.md §3
// treats a group's label as an opaque display string, but it is still
// client-supplied text relayed to every other participant, so it gets the
// same sanitization the teacher applies to any free-text field echoed back
// to other users.
func NewDispatcher(s *store.Store) *Dispatcher {
	return &Dispatcher{store: s, labels: bluemonday.StrictPolicy()}
}

// asRPCError recovers the *errors.RPCError every Store method returns on
// failure. Store never returns any other error type, so a failed assertion
// here means a new Store method forgot to use the shared taxonomy.
func asRPCError(err error) *apperrors.RPCError {
	if err == nil {
		return nil
	}
	rerr, ok := err.(*apperrors.RPCError)
	if !ok {
		rerr = apperrors.BadConnection()
	}
	return rerr
}

// Service runs the C4 mutating phase for req and produces the frame to
// send back to the caller. It never inspects state beyond what its own
// mutation just touched — deciding what to fan out to other connections is
// Notify's job.
func (d *Dispatcher) Service(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	switch req.Method {
	case MethodGroupCreate:
		return d.groupCreate(conn, req)
	case MethodGroupJoin:
		return d.groupJoin(conn, req)
	case MethodSessionCreate:
		return d.sessionCreate(conn, req)
	case MethodSessionJoin:
		return d.sessionJoin(conn, req)
	case MethodSessionSignup:
		return d.sessionSignup(conn, req)
	case MethodSessionLoad:
		return d.sessionLoad(conn, req)
	case MethodSessionParticipant:
		return d.sessionParticipant(conn, req)
	case MethodSessionMessage:
		return d.sessionMessage(conn, req)
	case MethodSessionFinish:
		return d.sessionFinish(conn, req)
	case MethodNotifyProposal:
		return d.notifyProposal(conn, req)
	case MethodNotifySigned:
		return d.notifySigned(conn, req)
	default:
		return rpc.MethodNotFound(req)
	}
}

type groupPayload struct {
	UUID    string             `json:"uuid"`
	Label   string             `json:"label"`
	Params  store.Parameters   `json:"params"`
}

func (d *Dispatcher) groupCreate(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var label string
	var params store.Parameters
	if err := rpc.At(elems, 0, &label); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &params); err != nil {
		return rpc.ParseError(err.Error())
	}

	g, appErr := d.store.CreateGroup(conn, d.labels.Sanitize(label), params)
	if appErr != nil {
		return rpc.ReplyError(req, asRPCError(appErr))
	}
	return rpc.Reply(req, groupPayload{UUID: g.ID, Label: g.Label, Params: g.Params})
}

func (d *Dispatcher) groupJoin(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var groupID string
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return rpc.ParseError(err.Error())
	}

	g, appErr := d.store.JoinGroup(groupID, conn)
	if appErr != nil {
		return rpc.ReplyError(req, asRPCError(appErr))
	}
	return rpc.Reply(req, groupPayload{UUID: g.ID, Label: g.Label, Params: g.Params})
}

type sessionPayload struct {
	UUID  string            `json:"uuid"`
	Kind  store.SessionKind `json:"kind"`
	Value interface{}       `json:"value,omitempty"`
}

func (d *Dispatcher) sessionCreate(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var groupID string
	var kind store.SessionKind
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &kind); err != nil {
		return rpc.ParseError(err.Error())
	}
	var value interface{}
	if len(elems) > 2 {
		if err := rpc.At(elems, 2, &value); err != nil {
			return rpc.ParseError(err.Error())
		}
	}

	_, sess, appErr := d.store.CreateSession(groupID, conn, kind, value)
	if appErr != nil {
		return rpc.ReplyError(req, asRPCError(appErr))
	}
	return rpc.Reply(req, sessionPayload{UUID: sess.ID, Kind: sess.Kind, Value: sess.Value})
}

func (d *Dispatcher) sessionJoin(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	groupID, sessionID, appErr := decodeGroupSession(req)
	if appErr != nil {
		return rpc.ReplyError(req, appErr)
	}
	_, sess, err := d.store.GetSession(groupID, sessionID, conn)
	if err != nil {
		return rpc.ReplyError(req, asRPCError(err))
	}
	return rpc.Reply(req, sessionPayload{UUID: sess.ID, Kind: sess.Kind, Value: sess.Value})
}

func (d *Dispatcher) sessionSignup(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	groupID, sessionID, appErr := decodeGroupSession(req)
	if appErr != nil {
		return rpc.ReplyError(req, appErr)
	}
	number, thresholdReached, err := d.store.Signup(groupID, sessionID, conn)
	if err != nil {
		return rpc.ReplyError(req, asRPCError(err))
	}
	return rpc.Reply(req, signupPayload{PartyNumber: number, ThresholdReached: thresholdReached, SessionID: sessionID})
}

// signupPayload is Session.signup's reply. spec.md §4.4 says the result is
// the bare assigned partyNumber, so MarshalJSON flattens to just that; the
// ThresholdReached and SessionID fields are for Notify's eyes only, carried
// through the same way finishPayload carries Closed/Finished.
type signupPayload struct {
	PartyNumber      uint16
	ThresholdReached bool
	SessionID        string
}

func (p signupPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.PartyNumber)
}

func (d *Dispatcher) sessionLoad(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var p sessionLoadParams
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 3, &p.PartyNumber); err != nil {
		return rpc.ParseError(err.Error())
	}

	thresholdReached, appErr2 := d.store.Load(p.GroupID, p.SessionID, conn, p.PartyNumber)
	if appErr2 != nil {
		return rpc.ReplyError(req, asRPCError(appErr2))
	}
	return rpc.Reply(req, loadPayload{PartyNumber: p.PartyNumber, ThresholdReached: thresholdReached, SessionID: p.SessionID})
}

// loadPayload mirrors signupPayload for Session.load.
type loadPayload struct {
	PartyNumber      uint16
	ThresholdReached bool
	SessionID        string
}

func (p loadPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.PartyNumber)
}

func (d *Dispatcher) sessionParticipant(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var p sessionParticipantParams
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 3, &p.PartyIndex); err != nil {
		return rpc.ParseError(err.Error())
	}

	number, appErr := d.store.RegisterParticipant(p.GroupID, p.SessionID, conn, p.PartyIndex)
	if appErr != nil {
		return rpc.ReplyError(req, asRPCError(appErr))
	}
	return rpc.Reply(req, number)
}

func (d *Dispatcher) sessionMessage(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	// Session.message never replies meaningfully to the caller — the body
	// is relayed to the recipient(s) by Notify, and the caller just needs
	// to know the frame was accepted (spec.md §4.4.1).
	if _, err := decodeSessionMessage(req); err != nil {
		return rpc.ReplyError(req, err)
	}
	return rpc.ReplyNull(req)
}

func (d *Dispatcher) sessionFinish(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var p sessionFinishParams
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 2, &p.PartyNumber); err != nil {
		return rpc.ParseError(err.Error())
	}

	closed, finished, appErr := d.store.Finish(p.GroupID, p.SessionID, conn, p.PartyNumber)
	if appErr != nil {
		return rpc.ReplyError(req, asRPCError(appErr))
	}
	return rpc.Reply(req, finishPayload{Closed: closed, Finished: finished})
}

// finishPayload is Session.finish's reply — carried through to Notify so it
// can decide whether to announce closure without re-touching Store.
type finishPayload struct {
	Closed   bool     `json:"closed"`
	Finished []uint16 `json:"finished"`
}

func (d *Dispatcher) notifyProposal(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var groupID, sessionID string
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &sessionID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if _, _, err := d.store.GetSession(groupID, sessionID, conn); err != nil {
		return rpc.ReplyError(req, asRPCError(err))
	}
	return rpc.ReplyNull(req)
}

func (d *Dispatcher) notifySigned(conn store.ConnectionID, req *rpc.Request) *rpc.Response {
	elems, err := req.Positional()
	if err != nil {
		return rpc.ParseError(err.Error())
	}
	var groupID, sessionID string
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if err := rpc.At(elems, 1, &sessionID); err != nil {
		return rpc.ParseError(err.Error())
	}
	if _, _, err := d.store.GetSession(groupID, sessionID, conn); err != nil {
		return rpc.ReplyError(req, asRPCError(err))
	}
	return rpc.ReplyNull(req)
}

// decodeGroupSession decodes the common [groupId, sessionId, kind] positional
// shape shared by Session.join and Session.signup.
func decodeGroupSession(req *rpc.Request) (groupID, sessionID string, appErr *apperrors.RPCError) {
	elems, err := req.Positional()
	if err != nil {
		return "", "", apperrors.BadConnection()
	}
	if err := rpc.At(elems, 0, &groupID); err != nil {
		return "", "", apperrors.BadConnection()
	}
	if err := rpc.At(elems, 1, &sessionID); err != nil {
		return "", "", apperrors.BadConnection()
	}
	return groupID, sessionID, nil
}

// decodeSessionMessage decodes Session.message's full positional payload;
// shared by the service (C4) and notify (C5) phases, each of which decodes
// the frame independently, so both read the relay body the same way.
func decodeSessionMessage(req *rpc.Request) (sessionMessageParams, *apperrors.RPCError) {
	elems, err := req.Positional()
	if err != nil {
		return sessionMessageParams{}, apperrors.BadConnection()
	}
	var p sessionMessageParams
	if err := rpc.At(elems, 0, &p.GroupID); err != nil {
		return sessionMessageParams{}, apperrors.BadConnection()
	}
	if err := rpc.At(elems, 1, &p.SessionID); err != nil {
		return sessionMessageParams{}, apperrors.BadConnection()
	}
	if err := rpc.At(elems, 2, &p.Kind); err != nil {
		return sessionMessageParams{}, apperrors.BadConnection()
	}
	if err := rpc.At(elems, 3, &p.Message); err != nil {
		return sessionMessageParams{}, apperrors.BadConnection()
	}
	return p, nil
}
