// Package store holds the coordination engine's in-memory data model: the
// global table of connected clients and the groups/sessions/party-signups
// nested beneath them. See the package doc on Store for the concurrency
// discipline.
package store

import "github.com/lavamoat/tss-relay/internal/errors"

// ConnectionID uniquely identifies one WebSocket connection for the
// lifetime of the server process. Allocated by Store.NewConnection and
// never reused.
type ConnectionID uint64

// SessionKind distinguishes a distributed key generation ceremony from a
// threshold signing ceremony.
type SessionKind string

const (
	KindKeygen SessionKind = "keygen"
	KindSign   SessionKind = "sign"
)

// Parameters are the (parties, threshold) pair fixed at group creation.
type Parameters struct {
	Parties   uint16 `json:"parties"`
	Threshold uint16 `json:"threshold"`
}

// Validate checks the invariants required of a new group's parameters.
func (p Parameters) Validate() error {
	if p.Parties < 2 {
		return errors.PartiesTooSmall()
	}
	if p.Threshold < 1 {
		return errors.ThresholdTooSmall()
	}
	if p.Threshold >= p.Parties {
		return errors.ThresholdRange()
	}
	return nil
}

// partySignup records the server-issued party number for one signed-up
// connection within a session.
type partySignup struct {
	Number uint16
	Conn   ConnectionID
}

// Group is a coordinated cohort of clients sharing key-gen parameters.
type Group struct {
	ID      string                 `json:"uuid"`
	Label   string                 `json:"label"`
	Params  Parameters             `json:"params"`
	clients []ConnectionID
	sessions map[string]*Session
}

// clientsSnapshot returns a defensive copy of the group's client list.
// clients and sessions carry no json tag: they are internal routing state,
// never serialized to a client directly (Group.join returns this struct,
// but only after the caller copies the public fields — see the Group.join
// handler in internal/handlers).
func (g *Group) clientsSnapshot() []ConnectionID {
	out := make([]ConnectionID, len(g.clients))
	copy(out, g.clients)
	return out
}

// Session is one coordinated round-sequence (keygen or sign) within a group.
type Session struct {
	ID      string      `json:"uuid"`
	Kind    SessionKind `json:"kind"`
	Value   interface{} `json:"value,omitempty"`

	partySignups []partySignup
	// participants maps a client-supplied party index to the server-issued
	// party number; populated by Session.participant (Store.RegisterParticipant)
	// and read by Session.message's receiver resolution for sign sessions
	// (see Store.ResolveReceiver).
	participants map[uint16]uint16
	finished     map[uint16]struct{}
}

func newSession(kind SessionKind, value interface{}) *Session {
	return &Session{
		ID:           newID(),
		Kind:         kind,
		Value:        value,
		finished:     make(map[uint16]struct{}),
		participants: make(map[uint16]uint16),
	}
}

// PartyCount returns the number of signed-up parties.
func (s *Session) PartyCount() int {
	return len(s.partySignups)
}

// PartyNumbers returns the party numbers currently signed up, in signup
// order (not sorted).
func (s *Session) PartyNumbers() []uint16 {
	out := make([]uint16, len(s.partySignups))
	for i, ps := range s.partySignups {
		out[i] = ps.Number
	}
	return out
}

// FinishedNumbers returns the sorted set of party numbers that have
// reported completion.
func (s *Session) FinishedNumbers() []uint16 {
	out := make([]uint16, 0, len(s.finished))
	for n := range s.finished {
		out = append(out, n)
	}
	sortUint16(out)
	return out
}

// ConnectionIDs returns the ConnectionId column of partySignups, in signup
// order, for use by the session fan-out policy.
func (s *Session) ConnectionIDs() []ConnectionID {
	out := make([]ConnectionID, len(s.partySignups))
	for i, ps := range s.partySignups {
		out[i] = ps.Conn
	}
	return out
}

func sortUint16(xs []uint16) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
