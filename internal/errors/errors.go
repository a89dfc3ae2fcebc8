// Package errors provides the JSON-RPC error taxonomy for the coordination
// engine.
//
// Every application-level failure (bad parameters, unknown group, wrong
// party, full group, ...) is surfaced to the calling client as a JSON-RPC
// error reply rather than an HTTP status code — there is no REST surface
// here, only the RPC pipeline in internal/handlers. All of them share the
// JSON-RPC application error code -32000; they differ by Kind (a
// machine-readable string a client can switch on) and, for GroupFull alone,
// a Data field carrying "close-connection".
package errors

import "fmt"

// Standard JSON-RPC 2.0 codes, used for wire-level failures that precede
// method dispatch (internal/rpc owns these).
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeApplication    = -32000
)

// Kind enumerates the application error categories from spec.md §7.
type Kind string

const (
	KindPartiesTooSmall      Kind = "PartiesTooSmall"
	KindThresholdTooSmall    Kind = "ThresholdTooSmall"
	KindThresholdRange       Kind = "ThresholdRange"
	KindGroupDoesNotExist    Kind = "GroupDoesNotExist"
	KindSessionDoesNotExist  Kind = "SessionDoesNotExist"
	KindBadConnection        Kind = "BadConnection"
	KindBadParty             Kind = "BadParty"
	KindGroupFull            Kind = "GroupFull"
	KindBadPeerReceiver      Kind = "BadPeerReceiver"
	KindPartyDoesNotExist    Kind = "PartyDoesNotExist"
	KindKeygenSessionExpected Kind = "KeygenSessionExpected"
)

// RPCError is the application error carried in a JSON-RPC error reply.
type RPCError struct {
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
	// Data is non-empty only for GroupFull: "close-connection" tells the
	// client it must drop the socket (spec.md §6, §7).
	Data string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code is always the JSON-RPC application error code; Kind distinguishes
// cases for clients that want to switch on it, carried alongside in the
// wire envelope by internal/rpc.
func (e *RPCError) Code() int { return CodeApplication }

func newErr(kind Kind, msg string) *RPCError {
	return &RPCError{Kind: kind, Message: msg}
}

func PartiesTooSmall() *RPCError {
	return newErr(KindPartiesTooSmall, "parties must be at least 2")
}

func ThresholdTooSmall() *RPCError {
	return newErr(KindThresholdTooSmall, "threshold must be at least 1")
}

func ThresholdRange() *RPCError {
	return newErr(KindThresholdRange, "threshold must be less than parties")
}

func GroupDoesNotExist(groupID string) *RPCError {
	return newErr(KindGroupDoesNotExist, fmt.Sprintf("group %s does not exist", groupID))
}

func SessionDoesNotExist(sessionID string) *RPCError {
	return newErr(KindSessionDoesNotExist, fmt.Sprintf("session %s does not exist", sessionID))
}

func BadConnection() *RPCError {
	return newErr(KindBadConnection, "caller is not a member of this group")
}

func BadParty(partyNumber uint16) *RPCError {
	return newErr(KindBadParty, fmt.Sprintf("party %d is not owned by this connection", partyNumber))
}

// GroupFull is the one error that instructs the client to disconnect.
func GroupFull(groupID string) *RPCError {
	e := newErr(KindGroupFull, fmt.Sprintf("group %s is at capacity", groupID))
	e.Data = "close-connection"
	return e
}

func BadPeerReceiver(receiver uint16) *RPCError {
	return newErr(KindBadPeerReceiver, fmt.Sprintf("no party signed up for receiver %d", receiver))
}

func PartyDoesNotExist(partyNumber uint16) *RPCError {
	return newErr(KindPartyDoesNotExist, fmt.Sprintf("party %d does not exist in this session", partyNumber))
}

func KeygenSessionExpected() *RPCError {
	return newErr(KindKeygenSessionExpected, "session.load is only valid for keygen sessions")
}
