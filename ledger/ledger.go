// Package ledger talks to the permissioned ledger network that records all
// bookchain transactions.
//
// A write does not exist until the network has ordered it into a block and
// validated it there, so Invoke only resolves after both the ordering
// acknowledgement and the asynchronous commit event for the transaction have
// arrived. Reads go to a single endorsing peer and need no ordering.
package ledger

import (
	"context"
	"encoding/json"
)

// Request identifies one chaincode call: the deployed contract, the function
// inside it, and its ordered string arguments.
type Request struct {
	Chaincode string
	Fcn       string
	Args      []string
}

// TxResult reports a successfully committed invoke.
type TxResult struct {
	// TxID is the ledger-assigned transaction identifier.
	TxID string

	// BlockHeight is the height of the block the transaction committed in.
	BlockHeight int64
}

// Client performs distributed-ledger reads and writes.
//
// Neither method retries on failure; each invoke that reaches ordering is an
// irreversible, globally-ordered ledger append, so callers decide how to
// react to errors.
type Client interface {
	// Query sends a chaincode read to one peer and returns the decoded
	// value. Failures are reported as *QueryError.
	Query(ctx context.Context, req Request) (json.RawMessage, error)

	// Invoke submits a chaincode write through the
	// endorsement -> ordering -> commit-event pipeline and resolves only
	// once ledger commitment is confirmed. At most one outcome is delivered
	// per call.
	Invoke(ctx context.Context, req Request) (*TxResult, error)
}
