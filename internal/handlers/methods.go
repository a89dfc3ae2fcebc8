// Package handlers implements the two-phase RPC pipeline at the heart of
// the coordination engine (spec.md §4.4): a Dispatcher.Service call mutates
// state and replies to the caller (C4), and for a fixed subset of methods a
// following Dispatcher.Notify call re-inspects the post-mutation state and
// produces a fan-out intent (C5). The split is a role, not a type
// hierarchy — both are plain methods on one Dispatcher that switches on
// req.Method, per spec.md §9.
package handlers

// Method names, exactly as spec.md §6 enumerates them.
const (
	MethodGroupCreate       = "Group.create"
	MethodGroupJoin         = "Group.join"
	MethodSessionCreate     = "Session.create"
	MethodSessionJoin       = "Session.join"
	MethodSessionSignup     = "Session.signup"
	MethodSessionLoad       = "Session.load"
	MethodSessionParticipant = "Session.participant"
	MethodSessionMessage    = "Session.message"
	MethodSessionFinish     = "Session.finish"
	MethodNotifyProposal    = "Notify.proposal"
	MethodNotifySigned      = "Notify.signed"
)

// Event names pushed in notification frames (spec.md §6).
const (
	EventSessionCreate = "sessionCreate"
	EventSessionSignup = "sessionSignup"
	EventSessionLoad   = "sessionLoad"
	EventSessionMessage = "sessionMessage"
	EventSessionClosed = "sessionClosed"
	EventNotifyProposal = "notifyProposal"
	EventNotifySigned  = "notifySigned"
)

// needsNotify reports whether method requires a C5 notify pass after its
// C4 reply, per the fixed list in spec.md §4.4.
func needsNotify(method string) bool {
	switch method {
	case MethodSessionCreate, MethodSessionSignup, MethodSessionLoad,
		MethodSessionMessage, MethodSessionFinish,
		MethodNotifyProposal, MethodNotifySigned:
		return true
	default:
		return false
	}
}

// NeedsNotify exports needsNotify for the connection lifecycle (C7), which
// decides whether to run the notify pass after the service pass.
func NeedsNotify(method string) bool { return needsNotify(method) }
