package ledger

import (
	"fmt"
)

// QueryError reports a failed chaincode read: no response, a malformed
// response, or an application error from the chaincode.
type QueryError struct {
	Fcn string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("ledger query %s failed: %v", e.Fcn, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ProposalError reports that endorsement of a transaction proposal failed.
// Proposals are idempotent only per transaction id, so the invoke is aborted
// rather than retried.
type ProposalError struct {
	TxID string
	Err  error
}

func (e *ProposalError) Error() string {
	return fmt.Sprintf("proposal for tx %s not endorsed: %v", e.TxID, e.Err)
}

func (e *ProposalError) Unwrap() error { return e.Err }

// OrderingError reports that the ordering service did not accept an endorsed
// transaction.
type OrderingError struct {
	TxID   string
	Status string
	Err    error
}

func (e *OrderingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ordering of tx %s failed: %v", e.TxID, e.Err)
	}
	return fmt.Sprintf("ordering of tx %s failed with status %q", e.TxID, e.Status)
}

func (e *OrderingError) Unwrap() error { return e.Err }

// SubscriptionError reports that the commit-event subscription for a
// transaction could not be established or was lost before the event arrived.
type SubscriptionError struct {
	TxID string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("commit-event subscription for tx %s failed: %v", e.TxID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// CommitRejectedError reports that the ledger included the block but marked
// this transaction invalid, e.g. on a version conflict with a concurrent
// write.
type CommitRejectedError struct {
	TxID           string
	ValidationCode string
}

func (e *CommitRejectedError) Error() string {
	return fmt.Sprintf("tx %s rejected at commit with validation code %q", e.TxID, e.ValidationCode)
}
