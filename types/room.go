package types

import (
	"fmt"
	"time"
)

// RoomPurpose says which kind of trade a room negotiates.
type RoomPurpose string

const (
	// RoomPurposeRental negotiates lending a book from inviter to guest.
	RoomPurposeRental RoomPurpose = "rental"

	// RoomPurposeReturn negotiates returning a previously lent book.
	RoomPurposeReturn RoomPurpose = "return"
)

// Validate reports whether the purpose is one of the defined kinds.
func (p RoomPurpose) Validate() error {
	switch p {
	case RoomPurposeRental, RoomPurposeReturn:
		return nil
	default:
		return fmt.Errorf("invalid room purpose: %q", string(p))
	}
}

// Room is one negotiation session between exactly one inviter and one guest,
// scoped to a single candidate trade. It mirrors the on-ledger room record.
type Room struct {
	ID        string      `json:"id"`
	Host      string      `json:"host"`
	Purpose   RoomPurpose `json:"purpose"`
	Inviter   Locator     `json:"inviter"`
	Guest     Locator     `json:"guest,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	ClosedAt  *time.Time  `json:"closedAt,omitempty"`
}

// Closed reports whether the room has been closed. A closed room is terminal
// and rejects all further protocol input.
func (r *Room) Closed() bool {
	return r.ClosedAt != nil
}

// Trade is the committed ledger record of one lending transaction.
type Trade struct {
	ID         string     `json:"id"`
	Owner      Locator    `json:"owner"`
	Borrower   Locator    `json:"borrower"`
	ISBN       ISBN       `json:"isbn"`
	LendAt     time.Time  `json:"lendAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
}

// Ownership is the ledger record binding a book to its owner.
type Ownership struct {
	Owner     Locator   `json:"owner"`
	ISBN      ISBN      `json:"isbn"`
	CreatedAt time.Time `json:"createdAt"`
}
