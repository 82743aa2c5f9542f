package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookchain/bookchain/ledger"
	"github.com/bookchain/bookchain/libs/log"
	"github.com/bookchain/bookchain/types"
)

// scriptedLedger is an in-memory ledger.Client that records every call,
// fails the functions it is told to fail, and holds the functions it is
// told to block until their channel is released.
type scriptedLedger struct {
	mtx      sync.Mutex
	calls    []ledger.Request
	failFcn  map[string]error
	blockFcn map[string]chan struct{}
	queryFn  func(ledger.Request) (json.RawMessage, error)
}

var _ ledger.Client = (*scriptedLedger)(nil)

func (l *scriptedLedger) record(req ledger.Request) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.calls = append(l.calls, req)
	return l.failFcn[req.Fcn]
}

func (l *scriptedLedger) Query(_ context.Context, req ledger.Request) (json.RawMessage, error) {
	if err := l.record(req); err != nil {
		return nil, err
	}
	if l.queryFn == nil {
		return nil, fmt.Errorf("unscripted query %s", req.Fcn)
	}
	return l.queryFn(req)
}

func (l *scriptedLedger) Invoke(_ context.Context, req ledger.Request) (*ledger.TxResult, error) {
	if err := l.record(req); err != nil {
		return nil, err
	}
	l.mtx.Lock()
	block := l.blockFcn[req.Fcn]
	l.mtx.Unlock()
	if block != nil {
		<-block
	}
	return &ledger.TxResult{TxID: uuid.NewString(), BlockHeight: 42}, nil
}

func (l *scriptedLedger) count(fcn string) int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	n := 0
	for _, call := range l.calls {
		if call.Fcn == fcn {
			n++
		}
	}
	return n
}

// waitCount polls until fcn was called n times. Room closure records to the
// ledger after the sockets are already released, so tests cannot observe it
// synchronously.
func (l *scriptedLedger) waitCount(t *testing.T, fcn string, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for l.count(fcn) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d calls of %s, have %d", n, fcn, l.count(fcn))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fixture struct {
	t        *testing.T
	registry Registry
	ledger   *scriptedLedger
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Cleanup(leaktest.Check(t))

	led := &scriptedLedger{failFcn: map[string]error{}}
	registry := NewRegistry()
	handler := NewHandler(registry, led, log.NewTestingLogger(t), WithWriteWait(time.Second))

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{t: t, registry: registry, ledger: led, server: server}
}

func (f *fixture) createRoom(purpose types.RoomPurpose) (roomID, token string) {
	roomID = uuid.NewString()
	token = uuid.NewString()
	room := types.Room{
		ID:        roomID,
		Host:      "localhost",
		Purpose:   purpose,
		Inviter:   "alice@localhost",
		CreatedAt: time.Now().UTC(),
	}
	f.registry.Insert(roomID, NewState(room, token))
	return roomID, token
}

func (f *fixture) dial(params url.Values) *websocket.Conn {
	f.t.Helper()
	u, err := url.Parse(f.server.URL)
	require.NoError(f.t, err)
	u.Scheme = "ws"
	u.RawQuery = params.Encode()

	ws, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(f.t, err)
	resp.Body.Close()
	f.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (f *fixture) dialInviter(roomID string) *websocket.Conn {
	return f.dial(url.Values{
		"id":      {roomID},
		"locator": {"alice@localhost"},
		"role":    {"inviter"},
	})
}

func (f *fixture) dialGuest(roomID, token string) *websocket.Conn {
	return f.dial(url.Values{
		"id":          {roomID},
		"locator":     {"bobby@localhost"},
		"role":        {"guest"},
		"inviteToken": {token},
	})
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func requireClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.Error(t, ws.ReadJSON(&env), "expected connection to be closed, got %s", env.Action)
}

func send(t *testing.T, ws *websocket.Conn, action Action, data interface{}) {
	t.Helper()
	env := Envelope{Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}
	require.NoError(t, ws.WriteJSON(env))
}

// joinRoom connects both parties and consumes the admission handshake.
func (f *fixture) joinRoom(purpose types.RoomPurpose) (inviter, guest *websocket.Conn) {
	f.t.Helper()
	roomID, token := f.createRoom(purpose)

	inviter = f.dialInviter(roomID)
	guest = f.dialGuest(roomID, token)

	assert.Equal(f.t, ActionEntryPermitted, readEnvelope(f.t, guest).Action)
	assert.Equal(f.t, ActionUserJoined, readEnvelope(f.t, inviter).Action)
	f.ledger.waitCount(f.t, "guestJoinedRoom", 1)
	return inviter, guest
}

func TestRentalRoundTrip(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, ActionRequestProposal, "9784873114675")

	var prop ProposalData
	for _, ws := range []*websocket.Conn{inviter, guest} {
		env := readEnvelope(t, ws)
		require.Equal(t, ActionProposal, env.Action)
		require.NoError(t, json.Unmarshal(env.Data, &prop))
		assert.Equal(t, types.Locator("alice@localhost"), prop.Owner)
		assert.Equal(t, types.Locator("bobby@localhost"), prop.Borrower)
		assert.Equal(t, types.ISBN("9784873114675"), prop.ISBN)
	}

	send(t, guest, ActionApproveProposal, nil)
	send(t, inviter, ActionApproveProposal, nil)

	for _, ws := range []*websocket.Conn{inviter, guest} {
		env := readEnvelope(t, ws)
		require.Equal(t, ActionCommitted, env.Action)

		var trade types.Trade
		require.NoError(t, json.Unmarshal(env.Data, &trade))
		assert.Equal(t, types.ISBN("9784873114675"), trade.ISBN)
		assert.Equal(t, types.Locator("alice@localhost"), trade.Owner)
		assert.Equal(t, types.Locator("bobby@localhost"), trade.Borrower)
		assert.Nil(t, trade.ReturnedAt)
	}

	requireClosed(t, inviter)
	requireClosed(t, guest)

	assert.Equal(t, 1, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestReturnRoundTrip(t *testing.T) {
	f := newFixture(t)

	openLoan := types.Trade{
		ID:       uuid.NewString(),
		Owner:    "alice@localhost",
		Borrower: "bobby@localhost",
		ISBN:     "9784873114675",
		LendAt:   time.Now().UTC().Add(-24 * time.Hour),
	}
	f.ledger.queryFn = func(req ledger.Request) (json.RawMessage, error) {
		assert.Equal(t, "getTradingList", req.Fcn)
		assert.Equal(t, []string{"alice@localhost", "bobby@localhost", "9784873114675", "false"}, req.Args)
		return json.Marshal([]types.Trade{openLoan})
	}

	inviter, guest := f.joinRoom(types.RoomPurposeReturn)

	send(t, guest, ActionRequestProposal, "9784873114675")
	readEnvelope(t, inviter)
	readEnvelope(t, guest)

	send(t, inviter, ActionApproveProposal, nil)
	send(t, guest, ActionApproveProposal, nil)

	env := readEnvelope(t, guest)
	require.Equal(t, ActionCommitted, env.Action)

	var trade types.Trade
	require.NoError(t, json.Unmarshal(env.Data, &trade))
	assert.Equal(t, openLoan.ID, trade.ID)
	require.NotNil(t, trade.ReturnedAt)

	assert.Equal(t, 1, f.ledger.count("markTradingReturned"))
	assert.Equal(t, 0, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestGuestTokenMismatch(t *testing.T) {
	f := newFixture(t)
	roomID, _ := f.createRoom(types.RoomPurposeRental)

	inviter := f.dialInviter(roomID)
	guest := f.dial(url.Values{
		"id":          {roomID},
		"locator":     {"bobby@localhost"},
		"role":        {"guest"},
		"inviteToken": {uuid.NewString()},
	})

	env := readEnvelope(t, guest)
	require.Equal(t, ActionInvalidAction, env.Action)
	requireClosed(t, guest)

	assert.Equal(t, ActionGuestDisconnected, readEnvelope(t, inviter).Action)
	requireClosed(t, inviter)

	state, ok := f.registry.Get(roomID)
	require.True(t, ok)
	assert.Empty(t, state.Snapshot().Guest)
	assert.Equal(t, 0, f.ledger.count("guestJoinedRoom"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestGuestBeforeInviter(t *testing.T) {
	f := newFixture(t)
	roomID, token := f.createRoom(types.RoomPurposeRental)

	guest := f.dialGuest(roomID, token)

	env := readEnvelope(t, guest)
	require.Equal(t, ActionInvalidAction, env.Action)
	requireClosed(t, guest)
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestInvalidConnectionParameters(t *testing.T) {
	f := newFixture(t)

	cases := map[string]url.Values{
		"bad room id":   {"id": {"not-a-uuid"}, "locator": {"alice@localhost"}, "role": {"inviter"}},
		"bad locator":   {"id": {uuid.NewString()}, "locator": {"al@localhost"}, "role": {"inviter"}},
		"bad role":      {"id": {uuid.NewString()}, "locator": {"alice@localhost"}, "role": {"observer"}},
		"missing token": {"id": {uuid.NewString()}, "locator": {"alice@localhost"}, "role": {"guest"}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			ws := f.dial(params)
			env := readEnvelope(t, ws)
			assert.Equal(t, ActionInvalidAction, env.Action)
			requireClosed(t, ws)
		})
	}

	assert.Empty(t, f.ledger.calls)
}

func TestUnknownRoom(t *testing.T) {
	f := newFixture(t)

	ws := f.dial(url.Values{
		"id":      {uuid.NewString()},
		"locator": {"alice@localhost"},
		"role":    {"inviter"},
	})
	env := readEnvelope(t, ws)
	assert.Equal(t, ActionInvalidAction, env.Action)
	requireClosed(t, ws)
}

func TestProposalWithInvalidISBN(t *testing.T) {
	for _, isbn := range []string{"4873114675", "978-4873114675"} {
		t.Run(isbn, func(t *testing.T) {
			f := newFixture(t)
			inviter, guest := f.joinRoom(types.RoomPurposeRental)

			send(t, guest, ActionRequestProposal, isbn)

			env := readEnvelope(t, guest)
			require.Equal(t, ActionInvalidAction, env.Action)
			requireClosed(t, guest)
			requireClosed(t, inviter)

			// the invalid identifier never reaches the ledger
			assert.Equal(t, 0, f.ledger.count("createTrading"))
			assert.Equal(t, 0, f.ledger.count("getTradingList"))
			f.ledger.waitCount(t, "closeRoom", 1)
		})
	}
}

func TestProposalFromInviterRejectedWithoutClosing(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, inviter, ActionRequestProposal, "9784873114675")
	env := readEnvelope(t, inviter)
	require.Equal(t, ActionInvalidAction, env.Action)

	// the room survives and the guest can still drive it
	send(t, guest, ActionRequestProposal, "9784873114675")
	assert.Equal(t, ActionProposal, readEnvelope(t, guest).Action)
	assert.Equal(t, ActionProposal, readEnvelope(t, inviter).Action)
}

func TestApproveBeforeProposalClosesRoom(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, ActionApproveProposal, nil)

	env := readEnvelope(t, guest)
	require.Equal(t, ActionInvalidAction, env.Action)
	requireClosed(t, guest)
	requireClosed(t, inviter)
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, ActionCancelRequest, nil)

	env := readEnvelope(t, inviter)
	require.Equal(t, ActionTransactionCanceled, env.Action)
	requireClosed(t, inviter)
	requireClosed(t, guest)

	assert.Equal(t, 0, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestCancelBeforeGuestJoins(t *testing.T) {
	f := newFixture(t)
	roomID, token := f.createRoom(types.RoomPurposeRental)

	inviter := f.dialInviter(roomID)
	send(t, inviter, ActionCancelRequest, nil)
	requireClosed(t, inviter)
	f.ledger.waitCount(t, "closeRoom", 1)

	// the invite token is now useless
	guest := f.dialGuest(roomID, token)
	env := readEnvelope(t, guest)
	assert.Equal(t, ActionInvalidAction, env.Action)
	requireClosed(t, guest)
}

func TestStaleInviterCloseLeavesRoomOpen(t *testing.T) {
	f := newFixture(t)
	roomID, token := f.createRoom(types.RoomPurposeRental)

	stale := f.dialInviter(roomID)
	inviter := f.dialInviter(roomID) // reconnect replaces the first socket

	guest := f.dialGuest(roomID, token)
	assert.Equal(t, ActionEntryPermitted, readEnvelope(t, guest).Action)
	assert.Equal(t, ActionUserJoined, readEnvelope(t, inviter).Action)
	f.ledger.waitCount(t, "guestJoinedRoom", 1)

	// dropping the replaced socket must not be taken for the inviter leaving
	require.NoError(t, stale.Close())
	time.Sleep(50 * time.Millisecond)

	state, ok := f.registry.Get(roomID)
	require.True(t, ok)
	require.Equal(t, StatusNegotiating, state.Status())

	// the surviving pair still drives the trade end to end
	send(t, guest, ActionRequestProposal, "9784873114675")
	assert.Equal(t, ActionProposal, readEnvelope(t, guest).Action)
	assert.Equal(t, ActionProposal, readEnvelope(t, inviter).Action)

	send(t, guest, ActionApproveProposal, nil)
	send(t, inviter, ActionApproveProposal, nil)
	assert.Equal(t, ActionCommitted, readEnvelope(t, guest).Action)
	assert.Equal(t, ActionCommitted, readEnvelope(t, inviter).Action)

	assert.Equal(t, 1, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestCancelDuringCommitDoesNotSuppressOutcome(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.ledger.blockFcn = map[string]chan struct{}{"createTrading": release}

	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, ActionRequestProposal, "9784873114675")
	readEnvelope(t, inviter)
	readEnvelope(t, guest)

	send(t, guest, ActionApproveProposal, nil)
	send(t, inviter, ActionApproveProposal, nil)
	f.ledger.waitCount(t, "createTrading", 1)

	// the ledger write is in flight; a cancellation now comes too late
	send(t, guest, ActionCancelRequest, nil)
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, ActionCommitted, readEnvelope(t, guest).Action)
	assert.Equal(t, ActionCommitted, readEnvelope(t, inviter).Action)
	requireClosed(t, guest)
	requireClosed(t, inviter)

	assert.Equal(t, 1, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestGuestDisconnectCancelsRoom(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	require.NoError(t, guest.Close())

	assert.Equal(t, ActionGuestDisconnected, readEnvelope(t, inviter).Action)
	requireClosed(t, inviter)
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestInviterDisconnectCancelsRoom(t *testing.T) {
	f := newFixture(t)
	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	require.NoError(t, inviter.Close())

	assert.Equal(t, ActionTransactionCanceled, readEnvelope(t, guest).Action)
	requireClosed(t, guest)
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestCommitLedgerFailureClosesWithoutBroadcast(t *testing.T) {
	f := newFixture(t)
	f.ledger.failFcn["createTrading"] = fmt.Errorf("endorsement rejected")

	inviter, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, ActionRequestProposal, "9784873114675")
	readEnvelope(t, inviter)
	readEnvelope(t, guest)

	send(t, guest, ActionApproveProposal, nil)
	send(t, inviter, ActionApproveProposal, nil)

	// no COMMITED: the next read on either socket is the close
	requireClosed(t, inviter)
	requireClosed(t, guest)

	assert.Equal(t, 1, f.ledger.count("createTrading"))
	f.ledger.waitCount(t, "closeRoom", 1)
}

func TestUnknownActionKeepsRoomOpen(t *testing.T) {
	f := newFixture(t)
	_, guest := f.joinRoom(types.RoomPurposeRental)

	send(t, guest, Action("SHOUT"), nil)
	env := readEnvelope(t, guest)
	require.Equal(t, ActionInvalidAction, env.Action)

	send(t, guest, ActionRequestProposal, "9784873114675")
	assert.Equal(t, ActionProposal, readEnvelope(t, guest).Action)
}
