package store

import (
	"sync"
	"sync/atomic"

	rpcerrors "github.com/lavamoat/tss-relay/internal/errors"
)

// Sender delivers a pre-encoded wire frame to one connection's outbound
// queue. internal/ws.Conn is the only production implementation; keeping
// the dependency as an interface here (rather than importing internal/ws)
// avoids a package cycle between the state store and the connection layer.
type Sender interface {
	Send(frame []byte)
}

// Store is the single in-memory table of clients and groups described in
// spec.md §3 ("Global State"). All field access goes through Store's
// methods, which take the shared sync.RWMutex for the minimum window that
// keeps invariants G1-G5 consistent: service handlers (C4) call the
// mutating methods under the write lock, notify handlers (C5) call the
// read-only queries under the read lock, and nothing holds the lock across
// an outbound send.
type Store struct {
	mu      sync.RWMutex
	clients map[ConnectionID]Sender
	groups  map[string]*Group

	nextConn atomic.Uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		clients: make(map[ConnectionID]Sender),
		groups:  make(map[string]*Group),
	}
}

// NewConnection allocates a fresh ConnectionID and registers its sender.
// ConnectionIDs start at 1 and are never reused for the life of the process
// (spec.md §3, ConnectionId).
func (s *Store) NewConnection(sender Sender) ConnectionID {
	id := ConnectionID(s.nextConn.Add(1))
	s.mu.Lock()
	s.clients[id] = sender
	s.mu.Unlock()
	return id
}

// Send looks up conn's outbound queue and hands it the frame. A missing or
// already-torn-down connection is a silent no-op — cleanup is C7's job, not
// the sender's (spec.md §4.5, §7 "Silent failures").
func (s *Store) Send(conn ConnectionID, frame []byte) {
	s.mu.RLock()
	sender, ok := s.clients[conn]
	s.mu.RUnlock()
	if ok {
		sender.Send(frame)
	}
}

// Disconnect removes conn from the client table and from every group's
// client list, returning the ids of groups that became empty as a result.
// Per spec.md §4.6 this is two-phase: the removal pass runs under one
// write-lock acquisition, and the caller deletes the empty groups in a
// second pass, so neither critical section holds the lock across user code
// or an unbounded scan.
func (s *Store) Disconnect(conn ConnectionID) (emptyGroups []string) {
	s.mu.Lock()
	delete(s.clients, conn)
	for id, g := range s.groups {
		for i, c := range g.clients {
			if c == conn {
				g.clients = append(g.clients[:i], g.clients[i+1:]...)
				break
			}
		}
		if len(g.clients) == 0 {
			emptyGroups = append(emptyGroups, id)
		}
	}
	s.mu.Unlock()
	return emptyGroups
}

// PruneGroups deletes the named groups (and, transitively, their sessions —
// G5). Safe to call with groups that no longer exist or are no longer
// empty; only genuinely-empty groups are removed.
func (s *Store) PruneGroups(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range ids {
		if g, ok := s.groups[id]; ok && len(g.clients) == 0 {
			delete(s.groups, id)
		}
	}
	s.mu.Unlock()
}

// SweepEmptyGroups deletes every currently-empty group and returns how many
// were removed. The connection layer already prunes a group right after
// Disconnect reports it empty; this exists as the periodic safety net of spec.md §4.6 for
// any group that becomes empty by some path that doesn't — a transport
// drop the connection layer never observes, for instance.
func (s *Store) SweepEmptyGroups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, g := range s.groups {
		if len(g.clients) == 0 {
			delete(s.groups, id)
			n++
		}
	}
	return n
}

// CreateGroup validates params, creates a new Group with the caller as its
// first client, and inserts it. Matches Group.create (spec.md §4.4.1).
func (s *Store) CreateGroup(creator ConnectionID, label string, params Parameters) (*Group, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	g := &Group{
		ID:       newID(),
		Label:    label,
		Params:   params,
		clients:  []ConnectionID{creator},
		sessions: make(map[string]*Session),
	}
	s.mu.Lock()
	s.groups[g.ID] = g
	s.mu.Unlock()
	return g, nil
}

// JoinGroup appends conn to groupID's clients, unless the group is already
// at capacity (GroupFull) or conn is already a member (idempotent, P7).
func (s *Store) JoinGroup(groupID string, conn ConnectionID) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, rpcerrors.GroupDoesNotExist(groupID)
	}
	for _, c := range g.clients {
		if c == conn {
			return g, nil
		}
	}
	if len(g.clients) >= int(g.Params.Parties) {
		return nil, rpcerrors.GroupFull(groupID)
	}
	g.clients = append(g.clients, conn)
	return g, nil
}

// isMember reports whether conn belongs to g.clients. Caller must hold at
// least the read lock.
func isMember(g *Group, conn ConnectionID) bool {
	for _, c := range g.clients {
		if c == conn {
			return true
		}
	}
	return false
}

// getGroup returns groupID's Group, or GroupDoesNotExist. Caller must hold
// the lock.
func (s *Store) getGroup(groupID string) (*Group, error) {
	g, ok := s.groups[groupID]
	if !ok {
		return nil, rpcerrors.GroupDoesNotExist(groupID)
	}
	return g, nil
}

// getGroupAndCheckMembership resolves groupID and verifies conn is a
// member, in the order spec.md §7 names its errors (GroupDoesNotExist
// before BadConnection). Caller must hold the lock.
func (s *Store) getGroupAndCheckMembership(groupID string, conn ConnectionID) (*Group, error) {
	g, err := s.getGroup(groupID)
	if err != nil {
		return nil, err
	}
	if !isMember(g, conn) {
		return nil, rpcerrors.BadConnection()
	}
	return g, nil
}

// getGroupSession resolves (group, session) and verifies conn's membership
// in the group, implementing Open Question (b): every session-level RPC
// re-checks group membership rather than trusting that a session reference
// alone is sufficient. Caller must hold the lock.
func (s *Store) getGroupSession(groupID, sessionID string, conn ConnectionID) (*Group, *Session, error) {
	g, err := s.getGroupAndCheckMembership(groupID, conn)
	if err != nil {
		return nil, nil, err
	}
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil, nil, rpcerrors.SessionDoesNotExist(sessionID)
	}
	return g, sess, nil
}

// CreateSession creates a new session of kind inside groupID. Matches
// Session.create.
func (s *Store) CreateSession(groupID string, caller ConnectionID, kind SessionKind, value interface{}) (*Group, *Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.getGroupAndCheckMembership(groupID, caller)
	if err != nil {
		return nil, nil, err
	}
	sess := newSession(kind, value)
	g.sessions[sess.ID] = sess
	return g, sess, nil
}

// GetSession returns the (group, session) pair, checking membership.
// Matches Session.join (purely informational, no mutation).
func (s *Store) GetSession(groupID, sessionID string, caller ConnectionID) (*Group, *Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGroupSession(groupID, sessionID, caller)
}

// GroupSnapshot returns the public fields of a group plus a defensive copy
// of its client list, or false if the group does not exist.
func (s *Store) GroupSnapshot(groupID string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, false
	}
	return Group{ID: g.ID, Label: g.Label, Params: g.Params, clients: g.clientsSnapshot()}, true
}

// GroupClients returns a snapshot of a group's client list, or nil if the
// group no longer exists (used by the broadcast dispatcher, which must
// tolerate the group having been deleted between the notify decision and
// the fan-out, per the source's "vec![0]" fallback — here we just fan out
// to nobody).
func (s *Store) GroupClients(groupID string) []ConnectionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	return g.clientsSnapshot()
}

// SessionClients returns the ConnectionId column of a session's
// partySignups, or nil if the group/session no longer exists.
func (s *Store) SessionClients(groupID, sessionID string) []ConnectionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.ConnectionIDs()
}

// Signup assigns the caller a party number one greater than the largest
// already in the session (1 for an empty session) and reports whether the
// signup threshold was reached by this call (parties for keygen,
// threshold+1 for sign). Matches Session.signup.
func (s *Store) Signup(groupID, sessionID string, caller ConnectionID) (number uint16, thresholdReached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, sess, err := s.getGroupSession(groupID, sessionID, caller)
	if err != nil {
		return 0, false, err
	}

	var last uint16
	for _, ps := range sess.partySignups {
		if ps.Number > last {
			last = ps.Number
		}
	}
	number = last + 1
	sess.partySignups = append(sess.partySignups, partySignup{Number: number, Conn: caller})

	return number, thresholdReachedExactly(g, sess), nil
}

// Load appends an explicit, caller-chosen party number to a keygen
// session's partySignups. Matches Session.load.
func (s *Store) Load(groupID, sessionID string, caller ConnectionID, partyNumber uint16) (thresholdReached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, sess, err := s.getGroupSession(groupID, sessionID, caller)
	if err != nil {
		return false, err
	}
	if sess.Kind != KindKeygen {
		return false, rpcerrors.KeygenSessionExpected()
	}
	if partyNumber < 1 || partyNumber > g.Params.Parties {
		return false, rpcerrors.PartyDoesNotExist(partyNumber)
	}
	for _, ps := range sess.partySignups {
		if ps.Number == partyNumber {
			return false, rpcerrors.PartyDoesNotExist(partyNumber)
		}
	}
	sess.partySignups = append(sess.partySignups, partySignup{Number: partyNumber, Conn: caller})

	return thresholdReachedExactly(g, sess), nil
}

// thresholdReachedExactly reports whether the session's current party
// count exactly equals the threshold-event trigger count (P5: the event
// fires exactly once, on the call that brings the count to the threshold).
func thresholdReachedExactly(g *Group, sess *Session) bool {
	var target int
	if sess.Kind == KindKeygen {
		target = int(g.Params.Parties)
	} else {
		target = int(g.Params.Threshold) + 1
	}
	return sess.PartyCount() == target
}

// RegisterParticipant resolves Session.participant: the caller must already
// hold a party number in the session (from signup or load); partyIndex is
// the client-local index from the underlying MPC protocol, and the server
// remembers the mapping so that sign sessions can resolve peer receivers by
// that same index later (spec.md §3, "participants").
func (s *Store) RegisterParticipant(groupID, sessionID string, caller ConnectionID, partyIndex uint16) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sess, err := s.getGroupSession(groupID, sessionID, caller)
	if err != nil {
		return 0, err
	}

	var callerNumber uint16
	found := false
	for _, ps := range sess.partySignups {
		if ps.Conn == caller {
			callerNumber = ps.Number
			found = true
			break
		}
	}
	if !found {
		return 0, rpcerrors.BadConnection()
	}
	if sess.participants == nil {
		sess.participants = make(map[uint16]uint16)
	}
	sess.participants[partyIndex] = callerNumber
	return callerNumber, nil
}

// ResolveReceiver maps a Session.message receiver index to the connection
// that should receive the relay. For sign sessions the receiver is first
// translated through the participants table (populated by
// Session.participant); for keygen sessions the receiver is already a
// party number.
func (s *Store) ResolveReceiver(groupID, sessionID string, caller ConnectionID, receiver uint16) (ConnectionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, sess, err := s.getGroupSession(groupID, sessionID, caller)
	if err != nil {
		return 0, err
	}

	partyNumber := receiver
	if sess.Kind == KindSign {
		mapped, ok := sess.participants[receiver]
		if !ok {
			return 0, rpcerrors.BadPeerReceiver(receiver)
		}
		partyNumber = mapped
	}
	for _, ps := range sess.partySignups {
		if ps.Number == partyNumber {
			return ps.Conn, nil
		}
	}
	return 0, rpcerrors.BadPeerReceiver(receiver)
}

// Finish records partyNumber as complete and reports whether the session is
// now fully closed (finished == partySignups). Matches Session.finish.
func (s *Store) Finish(groupID, sessionID string, caller ConnectionID, partyNumber uint16) (closed bool, finished []uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sess, err := s.getGroupSession(groupID, sessionID, caller)
	if err != nil {
		return false, nil, err
	}

	var owner ConnectionID
	exists := false
	for _, ps := range sess.partySignups {
		if ps.Number == partyNumber {
			owner = ps.Conn
			exists = true
			break
		}
	}
	if !exists {
		return false, nil, rpcerrors.PartyDoesNotExist(partyNumber)
	}
	if owner != caller {
		return false, nil, rpcerrors.BadParty(partyNumber)
	}

	if sess.finished == nil {
		sess.finished = make(map[uint16]struct{})
	}
	sess.finished[partyNumber] = struct{}{}

	all := sess.PartyNumbers()
	done := sess.FinishedNumbers()
	closed = sameSorted(all, done)
	return closed, done, nil
}

func sameSorted(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	sortUint16(a)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
