package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavamoat/tss-relay/internal/store"
)

func TestNotifyIsNoopWhenReplyIsError(t *testing.T) {
	d, _, conn := newTestDispatcher()
	req := request(t, MethodSessionCreate, "nope", store.KindKeygen)
	reply := d.Service(conn, req)
	require.NotNil(t, reply.Error)

	n := d.Notify(conn, req, reply)
	assert.Equal(t, store.NotifyNoop, n.Kind)
}

func TestNotifySessionCreateBroadcastsToGroup(t *testing.T) {
	d, _, creator := newTestDispatcher()
	groupResp := d.Service(creator, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	req := request(t, MethodSessionCreate, groupID, store.KindKeygen)
	reply := d.Service(creator, req)
	require.Nil(t, reply.Error)

	n := d.Notify(creator, req, reply)
	assert.Equal(t, store.NotifyGroup, n.Kind)
	assert.Equal(t, groupID, n.GroupID)
	assert.Equal(t, EventSessionCreate, n.Event)
	_, excluded := n.Filter[creator]
	assert.True(t, excluded, "caller should be excluded from its own notification")
}

func TestNotifySessionCreateSignSessionIsSilent(t *testing.T) {
	d, _, creator := newTestDispatcher()
	groupResp := d.Service(creator, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	req := request(t, MethodSessionCreate, groupID, store.KindSign)
	reply := d.Service(creator, req)
	require.Nil(t, reply.Error)

	n := d.Notify(creator, req, reply)
	assert.Equal(t, store.NotifyNoop, n.Kind, "sign session creation is never broadcast")
}

func TestNotifySessionSignupFiresOnlyAtThreshold(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindKeygen))
	sessionID := sessResp.Result.(sessionPayload).UUID

	reqA := request(t, MethodSessionSignup, groupID, sessionID)
	replyA := d.Service(a, reqA)
	require.Nil(t, replyA.Error)
	nA := d.Notify(a, reqA, replyA)
	assert.Equal(t, store.NotifyNoop, nA.Kind, "first signup must not fire before the threshold is met")

	reqB := request(t, MethodSessionSignup, groupID, sessionID)
	replyB := d.Service(b, reqB)
	require.Nil(t, replyB.Error)
	nB := d.Notify(b, reqB, replyB)
	require.Equal(t, store.NotifySession, nB.Kind)
	assert.Equal(t, EventSessionSignup, nB.Event)
	assert.Equal(t, sessionID, nB.Payload)
	assert.Empty(t, nB.Filter, "threshold notification reaches the whole session, no exclusion")
}

func TestNotifySessionLoadFiresOnlyAtThreshold(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindKeygen))
	sessionID := sessResp.Result.(sessionPayload).UUID

	reqA := request(t, MethodSessionLoad, groupID, sessionID, store.KindKeygen, uint16(1))
	replyA := d.Service(a, reqA)
	require.Nil(t, replyA.Error)
	nA := d.Notify(a, reqA, replyA)
	assert.Equal(t, store.NotifyNoop, nA.Kind, "first load must not fire before the threshold is met")

	reqB := request(t, MethodSessionLoad, groupID, sessionID, store.KindKeygen, uint16(2))
	replyB := d.Service(b, reqB)
	require.Nil(t, replyB.Error)
	nB := d.Notify(b, reqB, replyB)
	require.Equal(t, store.NotifySession, nB.Kind)
	assert.Equal(t, EventSessionLoad, nB.Event)
	assert.Equal(t, sessionID, nB.Payload)
}

func TestNotifyNotifyProposalBroadcastsToWholeGroupExcludingCaller(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindSign))
	sessionID := sessResp.Result.(sessionPayload).UUID

	req := request(t, MethodNotifyProposal, groupID, sessionID, "prop-1", "hello")
	reply := d.Service(a, req)
	require.Nil(t, reply.Error)

	n := d.Notify(a, req, reply)
	require.Equal(t, store.NotifyGroup, n.Kind)
	assert.Equal(t, groupID, n.GroupID)
	assert.Equal(t, EventNotifyProposal, n.Event)
	_, excluded := n.Filter[a]
	assert.True(t, excluded, "the caller should not hear its own proposal")
	_, bIncluded := n.Filter[b]
	assert.False(t, bIncluded, "every other group member, whether in the session or not, should hear it")
}

func TestNotifyNotifySignedExcludesSessionParticipantsOnly(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 3, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)
	onlooker := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(onlooker, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindSign))
	sessionID := sessResp.Result.(sessionPayload).UUID

	require.Nil(t, d.Service(a, request(t, MethodSessionSignup, groupID, sessionID)).Error)
	require.Nil(t, d.Service(b, request(t, MethodSessionSignup, groupID, sessionID)).Error)

	req := request(t, MethodNotifySigned, groupID, sessionID, "the-signature")
	reply := d.Service(a, req)
	require.Nil(t, reply.Error)

	n := d.Notify(a, req, reply)
	require.Equal(t, store.NotifyGroup, n.Kind)
	assert.Equal(t, groupID, n.GroupID)
	assert.Equal(t, EventNotifySigned, n.Event)
	assert.Equal(t, "the-signature", n.Payload)
	_, aExcluded := n.Filter[a]
	assert.True(t, aExcluded, "session participants must be excluded")
	_, bExcluded := n.Filter[b]
	assert.True(t, bExcluded, "session participants must be excluded")
	_, onlookerExcluded := n.Filter[onlooker]
	assert.False(t, onlookerExcluded, "non-participant group members should receive the notification")
}

func TestNotifySessionFinishOnlyClosesOnFullCompletion(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindKeygen))
	sessionID := sessResp.Result.(sessionPayload).UUID

	signupA := d.Service(a, request(t, MethodSessionSignup, groupID, sessionID))
	numA := signupA.Result.(signupPayload).PartyNumber
	signupB := d.Service(b, request(t, MethodSessionSignup, groupID, sessionID))
	numB := signupB.Result.(signupPayload).PartyNumber

	finishReqA := request(t, MethodSessionFinish, groupID, sessionID, numA)
	finishReplyA := d.Service(a, finishReqA)
	nA := d.Notify(a, finishReqA, finishReplyA)
	assert.Equal(t, store.NotifyNoop, nA.Kind, "should not announce closure after only one party finishes")

	finishReqB := request(t, MethodSessionFinish, groupID, sessionID, numB)
	finishReplyB := d.Service(b, finishReqB)
	nB := d.Notify(b, finishReqB, finishReplyB)
	require.Equal(t, store.NotifySession, nB.Kind)
	assert.Equal(t, EventSessionClosed, nB.Event)
}

func TestNotifySessionMessageRelaysToAddressedReceiver(t *testing.T) {
	d, s, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID

	b := s.NewConnection(stubSender{})
	require.Nil(t, d.Service(b, request(t, MethodGroupJoin, groupID)).Error)

	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindSign))
	sessionID := sessResp.Result.(sessionPayload).UUID

	require.Nil(t, d.Service(a, request(t, MethodSessionSignup, groupID, sessionID)).Error)
	require.Nil(t, d.Service(b, request(t, MethodSessionSignup, groupID, sessionID)).Error)

	require.Nil(t, d.Service(a, request(t, MethodSessionParticipant, groupID, sessionID, store.KindSign, uint16(0))).Error)
	require.Nil(t, d.Service(b, request(t, MethodSessionParticipant, groupID, sessionID, store.KindSign, uint16(1))).Error)

	receiver := uint16(1)
	msg := relayMessage{Round: 1, Sender: 1, Receiver: &receiver, UUID: "abc", Body: json.RawMessage(`{"x":9}`)}
	req := request(t, MethodSessionMessage, groupID, sessionID, store.KindSign, msg)
	reply := d.Service(a, req)
	require.Nil(t, reply.Error)

	n := d.Notify(a, req, reply)
	require.Equal(t, store.NotifyRelay, n.Kind)
	require.Len(t, n.Relay, 1)
	assert.Equal(t, b, n.Relay[0].Conn)
	assert.Equal(t, EventSessionMessage, n.Relay[0].Event)
}

func TestNotifySessionMessageBroadcastsWhenReceiverOmitted(t *testing.T) {
	d, _, a := newTestDispatcher()
	groupResp := d.Service(a, request(t, MethodGroupCreate, "room", store.Parameters{Parties: 2, Threshold: 1}))
	groupID := groupResp.Result.(groupPayload).UUID
	sessResp := d.Service(a, request(t, MethodSessionCreate, groupID, store.KindSign))
	sessionID := sessResp.Result.(sessionPayload).UUID

	msg := relayMessage{Round: 1, Sender: 1, UUID: "abc", Body: json.RawMessage(`[1]`)}
	req := request(t, MethodSessionMessage, groupID, sessionID, store.KindSign, msg)
	reply := d.Service(a, req)
	require.Nil(t, reply.Error)

	n := d.Notify(a, req, reply)
	require.Equal(t, store.NotifySession, n.Kind)
	assert.Equal(t, EventSessionMessage, n.Event)
}
