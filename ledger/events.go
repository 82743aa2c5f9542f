package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bookchain/bookchain/libs/log"
)

// ValidationCodeValid is the validation code of a transaction the ledger
// accepted at commit. Any other code means the block was committed but this
// transaction was rejected.
const ValidationCodeValid = "VALID"

// ErrUnsubscribed is returned by Subscription.Err when the client
// unsubscribed.
var ErrUnsubscribed = errors.New("unsubscribed")

// CommitEvent is the asynchronous notification that a transaction id was
// included in a committed block and validated (or rejected) there.
type CommitEvent struct {
	TxID           string `json:"tx_id"`
	ValidationCode string `json:"validation_code"`
	BlockHeight    int64  `json:"block_height"`
}

// A Subscription delivers the commit event for a single transaction id.
// Exactly one event is delivered on Out; Canceled is closed if the
// subscription terminates before that, with Err saying why.
type Subscription struct {
	txID string
	out  chan CommitEvent

	canceled chan struct{}
	mtx      sync.RWMutex
	err      error
}

func newSubscription(txID string) *Subscription {
	return &Subscription{
		txID:     txID,
		out:      make(chan CommitEvent, 1),
		canceled: make(chan struct{}),
	}
}

// Out returns the channel the commit event is published on.
func (s *Subscription) Out() <-chan CommitEvent { return s.out }

// Canceled returns a channel that is closed when the subscription is
// terminated before an event was delivered.
func (s *Subscription) Canceled() <-chan struct{} { return s.canceled }

// Err returns nil until the channel returned by Canceled is closed, and the
// cancellation reason afterwards.
func (s *Subscription) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

func (s *Subscription) cancel(err error) {
	s.mtx.Lock()
	s.err = err
	s.mtx.Unlock()
	close(s.canceled)
}

// EventHub maintains the long-lived websocket connection to the ledger
// network's commit-event stream and fans events out to per-transaction
// subscriptions. It is safe for use by multiple goroutines.
type EventHub struct {
	address string
	logger  log.Logger

	conn     *websocket.Conn
	writeMtx sync.Mutex // gorilla allows one concurrent writer

	mtx  sync.Mutex
	subs map[string]*Subscription
	err  error // terminal stream error

	done chan struct{}
}

// NewEventHub returns an unstarted hub for the event stream at address.
func NewEventHub(address string, logger log.Logger) *EventHub {
	return &EventHub{
		address: address,
		logger:  logger.With("module", "ledger"),
		subs:    make(map[string]*Subscription),
		done:    make(chan struct{}),
	}
}

// Start dials the event stream and begins dispatching events.
func (h *EventHub) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.url(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial event hub at %s: %w", h.address, err)
	}
	h.conn = conn

	go h.readLoop()
	return nil
}

// Stop closes the connection. All live subscriptions are canceled.
func (h *EventHub) Stop() {
	if h.conn != nil {
		_ = h.conn.Close()
		<-h.done
	}
}

func (h *EventHub) url() string {
	addr := h.address
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	return addr + "/events"
}

type eventHubRequest struct {
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// Subscribe registers interest in the commit event for txID. The caller must
// release the subscription with Unsubscribe on every path.
func (h *EventHub) Subscribe(txID string) (*Subscription, error) {
	h.mtx.Lock()
	if h.err != nil {
		h.mtx.Unlock()
		return nil, h.err
	}
	if _, ok := h.subs[txID]; ok {
		h.mtx.Unlock()
		return nil, fmt.Errorf("already subscribed to tx %s", txID)
	}
	sub := newSubscription(txID)
	h.subs[txID] = sub
	h.mtx.Unlock()

	if err := h.write(eventHubRequest{Subscribe: txID}); err != nil {
		h.remove(txID)
		return nil, err
	}

	return sub, nil
}

// Unsubscribe releases the subscription for txID. It is safe to call after
// the event was delivered, after stream failure, or more than once.
func (h *EventHub) Unsubscribe(txID string) {
	sub := h.remove(txID)
	if sub == nil {
		return
	}
	sub.cancel(ErrUnsubscribed)

	// best effort: the stream may already be gone
	_ = h.write(eventHubRequest{Unsubscribe: txID})
}

func (h *EventHub) remove(txID string) *Subscription {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	sub := h.subs[txID]
	delete(h.subs, txID)
	return sub
}

func (h *EventHub) write(req eventHubRequest) error {
	h.writeMtx.Lock()
	defer h.writeMtx.Unlock()
	if h.conn == nil {
		return errors.New("event hub is not started")
	}
	return h.conn.WriteJSON(req)
}

func (h *EventHub) readLoop() {
	defer close(h.done)

	for {
		var ev CommitEvent
		if err := h.conn.ReadJSON(&ev); err != nil {
			h.terminate(err)
			return
		}

		h.mtx.Lock()
		sub, ok := h.subs[ev.TxID]
		delete(h.subs, ev.TxID)
		h.mtx.Unlock()

		if !ok {
			h.logger.Debug("commit event for unknown tx", "tx", ev.TxID)
			continue
		}

		sub.out <- ev
	}
}

// terminate fails all live subscriptions and marks the hub dead.
func (h *EventHub) terminate(err error) {
	h.mtx.Lock()
	h.err = fmt.Errorf("event stream closed: %w", err)
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mtx.Unlock()

	if len(subs) > 0 {
		h.logger.Error("event stream closed with live subscriptions", "err", err, "subscriptions", len(subs))
	}

	for _, sub := range subs {
		sub.cancel(h.err)
	}
}
