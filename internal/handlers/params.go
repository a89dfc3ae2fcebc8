package handlers

import (
	"encoding/json"

	"github.com/lavamoat/tss-relay/internal/store"
)

// sessionLoadParams decodes Session.load's [groupId, sessionId, kind, partyNumber].
type sessionLoadParams struct {
	GroupID     string
	SessionID   string
	PartyNumber uint16
}

// sessionParticipantParams decodes Session.participant's
// [groupId, sessionId, kind, partyIndex] — this server's own resolution of
// the method's undocumented contract (see DESIGN.md).
type sessionParticipantParams struct {
	GroupID    string
	SessionID  string
	PartyIndex uint16
}

// relayMessage is the body of a Session.message call: one MPC protocol
// round message, optionally addressed to a specific receiver (omitted means
// broadcast to the whole session).
type relayMessage struct {
	Round    uint16          `json:"round"`
	Sender   uint16          `json:"sender"`
	Receiver *uint16         `json:"receiver,omitempty"`
	UUID     string          `json:"uuid"`
	Body     json.RawMessage `json:"body"`
}

// sessionMessageParams decodes Session.message's
// [groupId, sessionId, kind, message].
type sessionMessageParams struct {
	GroupID   string
	SessionID string
	Kind      store.SessionKind
	Message   relayMessage
}

// sessionFinishParams decodes Session.finish's [groupId, sessionId, partyNumber].
type sessionFinishParams struct {
	GroupID     string
	SessionID   string
	PartyNumber uint16
}
