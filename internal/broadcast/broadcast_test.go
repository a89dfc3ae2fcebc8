package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/lavamoat/tss-relay/internal/store"
)

type fakeStore struct {
	sent         map[store.ConnectionID][][]byte
	groupClients map[string][]store.ConnectionID
	sessClients  map[string][]store.ConnectionID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sent:         make(map[store.ConnectionID][][]byte),
		groupClients: make(map[string][]store.ConnectionID),
		sessClients:  make(map[string][]store.ConnectionID),
	}
}

func (f *fakeStore) Send(conn store.ConnectionID, frame []byte) {
	f.sent[conn] = append(f.sent[conn], frame)
}

func (f *fakeStore) GroupClients(groupID string) []store.ConnectionID {
	return f.groupClients[groupID]
}

func (f *fakeStore) SessionClients(groupID, sessionID string) []store.ConnectionID {
	return f.sessClients[groupID+"/"+sessionID]
}

type fakeRelayer struct {
	published []store.Notification
}

func (f *fakeRelayer) Publish(n store.Notification) {
	f.published = append(f.published, n)
}

func TestDispatchGroupExcludesFiltered(t *testing.T) {
	fs := newFakeStore()
	fs.groupClients["g1"] = []store.ConnectionID{1, 2, 3}

	d := New(fs, nil)
	n := store.GroupNotify("g1", "sessionCreate", map[string]string{"uuid": "x"}, 2)
	d.Dispatch(n)

	if len(fs.sent[1]) != 1 {
		t.Fatalf("expected conn 1 to receive a frame")
	}
	if len(fs.sent[3]) != 1 {
		t.Fatalf("expected conn 3 to receive a frame")
	}
	if len(fs.sent[2]) != 0 {
		t.Fatalf("expected excluded conn 2 to receive nothing")
	}
}

func TestDispatchSessionFanOut(t *testing.T) {
	fs := newFakeStore()
	fs.sessClients["g1/s1"] = []store.ConnectionID{5, 6}

	d := New(fs, nil)
	d.Dispatch(store.SessionNotify("g1", "s1", "sessionSignup", map[string]int{"partyNumber": 1}))

	if len(fs.sent[5]) != 1 || len(fs.sent[6]) != 1 {
		t.Fatalf("expected both session clients to receive the frame")
	}
}

func TestDispatchRelayAddressesEachMessageIndividually(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, nil)

	n := store.RelayNotify(
		store.RelayMessage{Conn: 10, Event: "sessionMessage", Payload: "a"},
		store.RelayMessage{Conn: 11, Event: "sessionMessage", Payload: "b"},
	)
	d.Dispatch(n)

	if len(fs.sent[10]) != 1 || len(fs.sent[11]) != 1 {
		t.Fatalf("expected each relay target to receive exactly one frame")
	}

	var decoded struct {
		Result [2]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(fs.sent[10][0], &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var payload string
	if err := json.Unmarshal(decoded.Result[1], &payload); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if payload != "a" {
		t.Fatalf("expected payload 'a' for conn 10, got %q", payload)
	}
}

func TestDispatchNoopSendsNothing(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, nil)
	d.Dispatch(store.Noop())

	if len(fs.sent) != 0 {
		t.Fatalf("expected no frames sent for a noop notification")
	}
}

func TestDispatchRepublishesViaRelayer(t *testing.T) {
	fs := newFakeStore()
	relayer := &fakeRelayer{}
	d := New(fs, relayer)

	n := store.GroupNotify("g1", "sessionCreate", nil)
	d.Dispatch(n)

	if len(relayer.published) != 1 {
		t.Fatalf("expected Dispatch to republish via the relayer")
	}
}

func TestDispatchLocalDoesNotRepublish(t *testing.T) {
	fs := newFakeStore()
	relayer := &fakeRelayer{}
	d := New(fs, relayer)

	d.DispatchLocal(store.GroupNotify("g1", "sessionCreate", nil))

	if len(relayer.published) != 0 {
		t.Fatalf("expected DispatchLocal to skip republishing")
	}
}
