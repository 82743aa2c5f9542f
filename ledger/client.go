package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bookchain/bookchain/config"
	"github.com/bookchain/bookchain/libs/log"
)

// HTTPClient reaches the ledger network over its JSON endpoints: one
// endorsing peer and one orderer over HTTP, plus the commit-event hub over a
// long-lived websocket. All calls share those connections; individual
// invokes proceed independently and do not block each other.
type HTTPClient struct {
	peer    *rpcClient
	orderer *rpcClient
	events  *EventHub

	channel       string
	identity      string
	commitTimeout time.Duration

	logger  log.Logger
	metrics *Metrics
}

var _ Client = (*HTTPClient)(nil)

// Option sets an optional parameter on the client.
type Option func(*HTTPClient)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *HTTPClient) { c.metrics = metrics }
}

// NewHTTPClient returns an unstarted client for the network described by cfg.
func NewHTTPClient(cfg *config.LedgerConfig, logger log.Logger, options ...Option) *HTTPClient {
	client := &HTTPClient{
		peer:          newRPCClient(cfg.PeerAddress),
		orderer:       newRPCClient(cfg.OrdererAddress),
		events:        NewEventHub(cfg.EventHubAddress, logger),
		channel:       cfg.Channel,
		identity:      cfg.Identity,
		commitTimeout: cfg.CommitTimeout,
		logger:        logger.With("module", "ledger"),
		metrics:       NopMetrics(),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Start verifies that the configured identity is enrolled with the network
// and connects the commit-event stream. An unenrolled identity is fatal; the
// check is not retried.
func (c *HTTPClient) Start(ctx context.Context) error {
	var status identityStatus
	if err := c.peer.Call(ctx, "identity_status", identityParams{Identity: c.identity}, &status); err != nil {
		return fmt.Errorf("failed to check enrollment of %q: %w", c.identity, err)
	}
	if !status.Enrolled {
		return fmt.Errorf("identity %q is not enrolled with the ledger network", c.identity)
	}

	if err := c.events.Start(ctx); err != nil {
		return err
	}

	c.logger.Info("connected to ledger network", "channel", c.channel, "identity", c.identity)
	return nil
}

// Stop closes the commit-event stream.
func (c *HTTPClient) Stop() {
	c.events.Stop()
}

type identityParams struct {
	Identity string `json:"identity"`
}

type identityStatus struct {
	Enrolled bool `json:"enrolled"`
}

type chaincodeParams struct {
	Channel   string   `json:"channel"`
	Chaincode string   `json:"chaincode"`
	Fcn       string   `json:"fcn"`
	Args      []string `json:"args"`
}

type proposeParams struct {
	TxID string `json:"tx_id"`
	chaincodeParams
}

type endorsement struct {
	Status   int             `json:"status"`
	Payload  json.RawMessage `json:"payload"`
	Endorser string          `json:"endorser"`
}

type broadcastParams struct {
	TxID         string        `json:"tx_id"`
	Channel      string        `json:"channel"`
	Endorsements []endorsement `json:"endorsements"`
}

type broadcastResult struct {
	Status string `json:"status"`
}

const broadcastStatusSuccess = "SUCCESS"

// Query implements Client. It sends the chaincode read to the peer and
// expects exactly one well-formed response.
func (c *HTTPClient) Query(ctx context.Context, req Request) (json.RawMessage, error) {
	c.metrics.Queries.Add(1)

	var value json.RawMessage
	err := c.peer.Call(ctx, "chaincode_query", chaincodeParams{
		Channel:   c.channel,
		Chaincode: req.Chaincode,
		Fcn:       req.Fcn,
		Args:      req.Args,
	}, &value)
	if err != nil {
		return nil, &QueryError{Fcn: req.Fcn, Err: err}
	}
	if len(value) == 0 {
		return nil, &QueryError{Fcn: req.Fcn, Err: errors.New("empty response")}
	}

	return value, nil
}

// Invoke implements Client. The fresh transaction id is submitted for
// endorsement; the endorsed proposal then goes to the orderer while this
// call concurrently waits on the commit-event stream. Both the ordering
// acknowledgement and the commit event are required before Invoke resolves.
// The event subscription is released on every exit path.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (*TxResult, error) {
	c.metrics.Invokes.Add(1)
	start := time.Now()

	txID := uuid.NewString()
	logger := c.logger.With("tx", txID, "fcn", req.Fcn)

	endorsements, err := c.propose(ctx, txID, req)
	if err != nil {
		c.metrics.InvokeFailures.With("stage", "proposal").Add(1)
		return nil, &ProposalError{TxID: txID, Err: err}
	}

	sub, err := c.events.Subscribe(txID)
	if err != nil {
		c.metrics.InvokeFailures.With("stage", "subscription").Add(1)
		return nil, &SubscriptionError{TxID: txID, Err: err}
	}
	defer c.events.Unsubscribe(txID)

	ctx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()

	var event CommitEvent
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var res broadcastResult
		err := c.orderer.Call(gctx, "broadcast", broadcastParams{
			TxID:         txID,
			Channel:      c.channel,
			Endorsements: endorsements,
		}, &res)
		if err != nil {
			return &OrderingError{TxID: txID, Err: err}
		}
		if res.Status != broadcastStatusSuccess {
			return &OrderingError{TxID: txID, Status: res.Status}
		}
		return nil
	})

	g.Go(func() error {
		select {
		case event = <-sub.Out():
			return nil
		case <-sub.Canceled():
			return &SubscriptionError{TxID: txID, Err: sub.Err()}
		case <-gctx.Done():
			return &SubscriptionError{TxID: txID, Err: gctx.Err()}
		}
	})

	if err := g.Wait(); err != nil {
		stage := "ordering"
		var subErr *SubscriptionError
		if errors.As(err, &subErr) {
			stage = "commit"
		}
		c.metrics.InvokeFailures.With("stage", stage).Add(1)
		logger.Error("invoke failed", "err", err)
		return nil, err
	}

	if event.ValidationCode != ValidationCodeValid {
		c.metrics.InvokeFailures.With("stage", "commit").Add(1)
		logger.Error("transaction rejected at commit", "validation_code", event.ValidationCode)
		return nil, &CommitRejectedError{TxID: txID, ValidationCode: event.ValidationCode}
	}

	c.metrics.InvokeDurationSeconds.Observe(time.Since(start).Seconds())
	logger.Debug("transaction committed", "height", event.BlockHeight, "took", time.Since(start))

	return &TxResult{TxID: txID, BlockHeight: event.BlockHeight}, nil
}

// propose submits the transaction for endorsement. At least one endorsement
// with a success status is required.
func (c *HTTPClient) propose(ctx context.Context, txID string, req Request) ([]endorsement, error) {
	var endorsements []endorsement
	err := c.peer.Call(ctx, "chaincode_propose", proposeParams{
		TxID: txID,
		chaincodeParams: chaincodeParams{
			Channel:   c.channel,
			Chaincode: req.Chaincode,
			Fcn:       req.Fcn,
			Args:      req.Args,
		},
	}, &endorsements)
	if err != nil {
		return nil, err
	}

	if len(endorsements) == 0 {
		return nil, errors.New("no endorsement responses")
	}
	for _, e := range endorsements {
		if e.Status != 200 {
			return nil, fmt.Errorf("endorser %s returned status %d", e.Endorser, e.Status)
		}
	}

	return endorsements, nil
}
