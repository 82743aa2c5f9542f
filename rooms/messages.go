package rooms

import (
	"encoding/json"
	"fmt"

	"github.com/bookchain/bookchain/types"
)

// Role says which side of the negotiation a connection speaks for.
type Role string

const (
	RoleInviter Role = "inviter"
	RoleGuest   Role = "guest"
)

// ParseRole validates a role string from the connection parameters.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInviter, RoleGuest:
		return Role(s), nil
	default:
		return "", fmt.Errorf("invalid role: %q", s)
	}
}

// Action tags every protocol message.
type Action string

// Inbound actions.
const (
	ActionRequestProposal Action = "REQUEST_PROPOSAL"
	ActionApproveProposal Action = "APPROVE_PROPOSAL"
	ActionCancelRequest   Action = "CANCEL_REQUEST"
)

// Outbound actions. Participants only ever observe this set; no raw
// internal error text crosses the protocol boundary.
const (
	ActionInvalidAction       Action = "INVALID_ACTION"
	ActionEntryPermitted      Action = "ENTRY_PERMITTED"
	ActionUserJoined          Action = "USER_JOINED"
	ActionGuestDisconnected   Action = "GUEST_DISCONNECTED"
	ActionProposal            Action = "PROPOSAL"
	ActionCommitted           Action = "COMMITED" // historical wire spelling
	ActionTransactionCanceled Action = "TRANSACTION_CANCELED"
)

// Envelope is the wire form of every protocol message.
type Envelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// InvalidActionData explains a rejected message or connection attempt.
type InvalidActionData struct {
	YouSend interface{} `json:"youSend,omitempty"`
	Message string      `json:"message"`
}

// ProposalData is broadcast to both parties when the guest proposes a book.
type ProposalData struct {
	Owner    types.Locator `json:"owner"`
	Borrower types.Locator `json:"borrower"`
	ISBN     types.ISBN    `json:"isbn"`
}

func newEnvelope(action Action, data interface{}) Envelope {
	if data == nil {
		return Envelope{Action: action}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		// all payload types marshal; a failure here is a programming error
		panic(fmt.Sprintf("failed to marshal %s payload: %v", action, err))
	}
	return Envelope{Action: action, Data: raw}
}

func invalidAction(message string, youSend interface{}) Envelope {
	return newEnvelope(ActionInvalidAction, InvalidActionData{YouSend: youSend, Message: message})
}

func entryPermitted(room types.Room) Envelope {
	return newEnvelope(ActionEntryPermitted, room)
}

func userJoined(guest types.Locator) Envelope {
	return newEnvelope(ActionUserJoined, guest)
}

func proposal(data ProposalData) Envelope {
	return newEnvelope(ActionProposal, data)
}

func committed(trade types.Trade) Envelope {
	return newEnvelope(ActionCommitted, trade)
}

func transactionCanceled(reason string) Envelope {
	return newEnvelope(ActionTransactionCanceled, reason)
}

func guestDisconnected() Envelope {
	return newEnvelope(ActionGuestDisconnected, nil)
}
