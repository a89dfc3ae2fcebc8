package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavamoat/tss-relay/internal/rpc"
	"github.com/lavamoat/tss-relay/internal/store"
)

type stubSender struct{}

func (stubSender) Send([]byte) {}

func newTestDispatcher() (*Dispatcher, *store.Store, store.ConnectionID) {
	s := store.New()
	conn := s.NewConnection(stubSender{})
	return NewDispatcher(s), s, conn
}

func request(t *testing.T, method string, params ...interface{}) *rpc.Request {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return &rpc.Request{
		JSONRPC: rpc.Version,
		ID:      json.RawMessage("1"),
		Method:  method,
		Params:  raw,
	}
}

func TestGroupCreateSanitizesLabel(t *testing.T) {
	d, _, conn := newTestDispatcher()

	req := request(t, MethodGroupCreate, "<script>alert(1)</script>room", store.Parameters{Parties: 2, Threshold: 1})
	resp := d.Service(conn, req)

	require.Nil(t, resp.Error)
	payload, ok := resp.Result.(groupPayload)
	require.True(t, ok)
	assert.NotContains(t, payload.Label, "<script>")
	assert.NotEmpty(t, payload.UUID)
}

func TestGroupCreateInvalidParamsReturnsApplicationError(t *testing.T) {
	d, _, conn := newTestDispatcher()

	req := request(t, MethodGroupCreate, "room", store.Parameters{Parties: 1, Threshold: 0})
	resp := d.Service(conn, req)

	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)
}

func TestGroupJoinUnknownGroup(t *testing.T) {
	d, _, conn := newTestDispatcher()

	req := request(t, MethodGroupJoin, "does-not-exist")
	resp := d.Service(conn, req)

	require.NotNil(t, resp.Error)
}

func TestSessionLifecycleHappyPath(t *testing.T) {
	d, s, creator := newTestDispatcher()

	groupResp := d.Service(creator, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	require.Nil(t, groupResp.Error)
	groupID := groupResp.Result.(groupPayload).UUID

	joiner := s.NewConnection(stubSender{})
	joinResp := d.Service(joiner, request(t, MethodGroupJoin, groupID))
	require.Nil(t, joinResp.Error)

	sessResp := d.Service(creator, request(t, MethodSessionCreate, groupID, store.KindKeygen))
	require.Nil(t, sessResp.Error)
	sessionID := sessResp.Result.(sessionPayload).UUID

	signupResp := d.Service(creator, request(t, MethodSessionSignup, groupID, sessionID))
	require.Nil(t, signupResp.Error)
	signup, ok := signupResp.Result.(signupPayload)
	require.True(t, ok)
	assert.False(t, signup.ThresholdReached, "threshold is 2 parties, only one has signed up")

	require.Nil(t, d.Service(joiner, request(t, MethodSessionSignup, groupID, sessionID)).Error)

	finishResp := d.Service(creator, request(t, MethodSessionFinish, groupID, sessionID, uint16(1)))
	require.Nil(t, finishResp.Error)
	fin, ok := finishResp.Result.(finishPayload)
	require.True(t, ok)
	assert.False(t, fin.Closed, "should not close until both parties finish")
}

func TestServiceUnknownMethod(t *testing.T) {
	d, _, conn := newTestDispatcher()

	req := request(t, "Bogus.method")
	resp := d.Service(conn, req)

	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestSessionMessageAlwaysRepliesNull(t *testing.T) {
	d, s, creator := newTestDispatcher()

	groupResp := d.Service(creator, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID
	sessResp := d.Service(creator, request(t, MethodSessionCreate, groupID, store.KindSign))
	sessionID := sessResp.Result.(sessionPayload).UUID

	_ = s

	msg := relayMessage{Round: 1, Sender: 1, UUID: "abc", Body: json.RawMessage(`[1,2,3]`)}
	resp := d.Service(creator, request(t, MethodSessionMessage, groupID, sessionID, store.KindSign, msg))

	require.Nil(t, resp.Error)
	assert.Nil(t, resp.Result)
}
