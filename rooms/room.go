package rooms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bookchain/bookchain/types"
)

var (
	// errRoomClosed rejects protocol input to a terminal room.
	errRoomClosed = errors.New("room is already closed")

	// errTokenMismatch rejects a guest whose invite token is wrong.
	errTokenMismatch = errors.New("invite token does not match")

	// errNoInviter rejects a guest joining a room with no inviter attached.
	errNoInviter = errors.New("no inviter attached")

	// errNoProposal rejects an approval before any proposal was issued.
	errNoProposal = errors.New("no proposal to approve")

	// errNotNegotiating rejects negotiation messages outside
	// StatusNegotiating.
	errNotNegotiating = errors.New("room is not negotiating")
)

// Status is the lifecycle position of a negotiation room.
type Status int

const (
	// StatusAwaitingGuest: the room exists but no guest has been admitted.
	StatusAwaitingGuest Status = iota

	// StatusNegotiating: both parties are attached and may exchange
	// proposals and approvals.
	StatusNegotiating

	// StatusCommitting: mutual approval was reached and the trade is being
	// recorded on the ledger. Entered at most once per room.
	StatusCommitting

	// StatusClosed: terminal. The room rejects all further protocol input.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusAwaitingGuest:
		return "awaiting_guest"
	case StatusNegotiating:
		return "negotiating"
	case StatusCommitting:
		return "committing"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// State is the runtime extension of a room record: the invite token, the
// negotiation progress, and the two attached connections. All fields are
// guarded by mtx; the negotiation handler is the only mutator.
type State struct {
	mtx sync.Mutex

	room        types.Room
	inviteToken string

	status Status

	isbn            types.ISBN
	inviterApproved bool
	guestApproved   bool

	inviterConn *conn
	guestConn   *conn
}

// NewState returns the state for a freshly created, still guest-less room.
func NewState(room types.Room, inviteToken string) *State {
	return &State{
		room:        room,
		inviteToken: inviteToken,
		status:      StatusAwaitingGuest,
	}
}

// Snapshot returns a copy of the room record.
func (s *State) Snapshot() types.Room {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.room
}

// Status returns the current lifecycle position.
func (s *State) Status() Status {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.status
}

// attachInviter attaches (or, on reconnect, replaces) the inviter
// connection. It fails on a closed room.
func (s *State) attachInviter(c *conn) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.status == StatusClosed {
		return errRoomClosed
	}
	s.inviterConn = c
	return nil
}

// admitGuest validates the invite token and attaches the guest connection.
// The guest locator is recorded only after validation succeeds; an inviter
// connection must already be attached. It returns the inviter connection for
// notification.
func (s *State) admitGuest(c *conn, guest types.Locator, token string) (*conn, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.status == StatusClosed {
		return nil, errRoomClosed
	}
	if token != s.inviteToken {
		return nil, errTokenMismatch
	}
	if s.inviterConn == nil {
		return nil, errNoInviter
	}

	s.guestConn = c
	s.room.Guest = guest
	s.status = StatusNegotiating
	return s.inviterConn, nil
}

// setProposal records the proposed isbn. Legal only while negotiating.
func (s *State) setProposal(isbn types.ISBN) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.status != StatusNegotiating {
		return fmt.Errorf("%w (%s)", errNotNegotiating, s.status)
	}
	s.isbn = isbn
	return nil
}

// approve sets the approval flag for role. Approval flags are monotonic.
// When the second flag lands, the room transitions to StatusCommitting and
// commit is returned true; the transition fires at most once per room, so a
// duplicate approval can never re-trigger commitment. Approval before any
// proposal is a protocol violation.
func (s *State) approve(role Role) (commit bool, err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch s.status {
	case StatusNegotiating:
	case StatusCommitting:
		// commitment already triggered; approvals are monotonic
		return false, nil
	case StatusClosed:
		return false, errRoomClosed
	default:
		return false, fmt.Errorf("%w (%s)", errNotNegotiating, s.status)
	}
	if s.isbn == "" {
		return false, errNoProposal
	}

	switch role {
	case RoleInviter:
		s.inviterApproved = true
	case RoleGuest:
		s.guestApproved = true
	}

	if s.inviterApproved && s.guestApproved {
		s.status = StatusCommitting
		return true, nil
	}
	return false, nil
}

// close marks the room terminal and detaches both connections, returning
// them for cleanup. The closed timestamp is set exactly once; subsequent
// calls return done=true and no connections.
func (s *State) close(now time.Time) (inviter, guest *conn, done bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.status == StatusClosed {
		return nil, nil, true
	}

	s.status = StatusClosed
	s.room.ClosedAt = &now
	inviter, guest = s.inviterConn, s.guestConn
	s.inviterConn, s.guestConn = nil, nil
	return inviter, guest, false
}

// commitmentInput snapshots the fields the commitment step needs.
func (s *State) commitmentInput() (purpose types.RoomPurpose, owner, borrower types.Locator, isbn types.ISBN) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.room.Purpose, s.room.Inviter, s.room.Guest, s.isbn
}

// peers returns the currently attached connections.
func (s *State) peers() (inviter, guest *conn) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.inviterConn, s.guestConn
}

// isAttached reports whether c is still the attached connection for role.
// A reconnect replaces the inviter connection; the replaced socket stays
// open on the wire until its owner closes it, and its close must not be
// taken for the inviter leaving.
func (s *State) isAttached(c *conn, role Role) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if role == RoleInviter {
		return s.inviterConn == c
	}
	return s.guestConn == c
}

// other returns the attached connection of the counterparty of role.
func (s *State) other(role Role) *conn {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if role == RoleInviter {
		return s.guestConn
	}
	return s.inviterConn
}
