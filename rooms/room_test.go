package rooms

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookchain/bookchain/types"
)

func testRoom(purpose types.RoomPurpose) types.Room {
	return types.Room{
		ID:        uuid.NewString(),
		Host:      "localhost",
		Purpose:   purpose,
		Inviter:   "alice@localhost",
		CreatedAt: time.Now().UTC(),
	}
}

func TestStateAdmission(t *testing.T) {
	token := uuid.NewString()

	t.Run("TokenMismatchLeavesGuestUnset", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), token)
		require.NoError(t, state.attachInviter(&conn{}))

		_, err := state.admitGuest(&conn{}, "bobby@localhost", uuid.NewString())
		require.ErrorIs(t, err, errTokenMismatch)

		assert.Empty(t, state.Snapshot().Guest)
		assert.Equal(t, StatusAwaitingGuest, state.Status())
	})

	t.Run("NoInviter", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), token)

		_, err := state.admitGuest(&conn{}, "bobby@localhost", token)
		require.ErrorIs(t, err, errNoInviter)
	})

	t.Run("MatchingTokenAdmits", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), token)
		inviter := &conn{}
		require.NoError(t, state.attachInviter(inviter))

		got, err := state.admitGuest(&conn{}, "bobby@localhost", token)
		require.NoError(t, err)

		assert.Same(t, inviter, got)
		assert.Equal(t, types.Locator("bobby@localhost"), state.Snapshot().Guest)
		assert.Equal(t, StatusNegotiating, state.Status())
	})

	t.Run("ClosedRoomRejectsEveryone", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), token)
		state.close(time.Now().UTC())

		require.ErrorIs(t, state.attachInviter(&conn{}), errRoomClosed)
		_, err := state.admitGuest(&conn{}, "bobby@localhost", token)
		require.ErrorIs(t, err, errRoomClosed)
	})
}

func TestStateInviterReconnect(t *testing.T) {
	state := NewState(testRoom(types.RoomPurposeRental), "token")

	stale := &conn{}
	require.NoError(t, state.attachInviter(stale))

	fresh := &conn{}
	require.NoError(t, state.attachInviter(fresh))

	// the stale socket no longer speaks for the inviter
	assert.False(t, state.isAttached(stale, RoleInviter))
	assert.True(t, state.isAttached(fresh, RoleInviter))

	got, err := state.admitGuest(&conn{}, "bobby@localhost", "token")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func negotiatingState(t *testing.T) *State {
	t.Helper()
	state := NewState(testRoom(types.RoomPurposeRental), "token")
	require.NoError(t, state.attachInviter(&conn{}))
	_, err := state.admitGuest(&conn{}, "bobby@localhost", "token")
	require.NoError(t, err)
	return state
}

func TestStateApproval(t *testing.T) {
	t.Run("CommitsExactlyOnce", func(t *testing.T) {
		state := negotiatingState(t)
		require.NoError(t, state.setProposal("9784873114675"))

		commit, err := state.approve(RoleGuest)
		require.NoError(t, err)
		assert.False(t, commit)

		commit, err = state.approve(RoleInviter)
		require.NoError(t, err)
		assert.True(t, commit)
		assert.Equal(t, StatusCommitting, state.Status())

		// late duplicates are benign
		commit, err = state.approve(RoleGuest)
		require.NoError(t, err)
		assert.False(t, commit)
	})

	t.Run("RepeatedApprovalByOnePartyDoesNotCommit", func(t *testing.T) {
		state := negotiatingState(t)
		require.NoError(t, state.setProposal("9784873114675"))

		for i := 0; i < 3; i++ {
			commit, err := state.approve(RoleGuest)
			require.NoError(t, err)
			assert.False(t, commit)
		}
	})

	t.Run("ApproveWithoutProposal", func(t *testing.T) {
		state := negotiatingState(t)

		_, err := state.approve(RoleGuest)
		require.ErrorIs(t, err, errNoProposal)
	})

	t.Run("ApproveBeforeGuest", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), "token")
		require.NoError(t, state.attachInviter(&conn{}))

		_, err := state.approve(RoleInviter)
		require.ErrorIs(t, err, errNotNegotiating)
	})

	t.Run("ProposalBeforeGuest", func(t *testing.T) {
		state := NewState(testRoom(types.RoomPurposeRental), "token")
		require.ErrorIs(t, state.setProposal("9784873114675"), errNotNegotiating)
	})
}

func TestStateClose(t *testing.T) {
	state := negotiatingState(t)
	now := time.Now().UTC()

	inviter, guest, done := state.close(now)
	assert.False(t, done)
	assert.NotNil(t, inviter)
	assert.NotNil(t, guest)
	assert.Equal(t, StatusClosed, state.Status())

	snap := state.Snapshot()
	require.NotNil(t, snap.ClosedAt)
	assert.Equal(t, now, *snap.ClosedAt)

	// idempotent: the second close reports done and detaches nothing
	inviter, guest, done = state.close(now.Add(time.Minute))
	assert.True(t, done)
	assert.Nil(t, inviter)
	assert.Nil(t, guest)
	assert.Equal(t, now, *state.Snapshot().ClosedAt)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.Get("missing")
	assert.False(t, ok)

	state := NewState(testRoom(types.RoomPurposeRental), "token")
	registry.Insert(state.Snapshot().ID, state)

	got, ok := registry.Get(state.Snapshot().ID)
	require.True(t, ok)
	assert.Same(t, state, got)
}
