// Package rooms implements the negotiation protocol: a per-room, two-party
// state machine driven over persistent websocket connections that
// coordinates proposal, mutual approval, cancellation, and ledger commitment
// for a single book trade.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bookchain/bookchain/ledger"
	"github.com/bookchain/bookchain/libs/log"
	"github.com/bookchain/bookchain/types"
)

// Chaincodes the negotiation protocol writes to.
const (
	roomChaincode    = "room"
	tradingChaincode = "trading"
)

// conn wraps a websocket connection with serialized writes. Both room
// handlers may address the same socket concurrently when broadcasting.
type conn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	mtx       sync.Mutex
}

func newConn(ws *websocket.Conn, writeWait time.Duration) *conn {
	return &conn{ws: ws, writeWait: writeWait}
}

func (c *conn) send(env Envelope) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.writeWait > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.ws.WriteJSON(env)
}

func (c *conn) close() {
	_ = c.ws.Close()
}

// Handler upgrades inbound connections and drives the negotiation state
// machine for each of them until commitment, cancellation, or error. One
// Handler serves all rooms; per-room state lives in the Registry.
type Handler struct {
	registry Registry
	ledger   ledger.Client

	upgrader  websocket.Upgrader
	readWait  time.Duration
	writeWait time.Duration

	logger  log.Logger
	metrics *Metrics
}

// HandlerOption sets an optional parameter on the Handler.
type HandlerOption func(*Handler)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = metrics }
}

// WithReadWait bounds the wait for the next inbound message; 0 blocks
// indefinitely.
func WithReadWait(d time.Duration) HandlerOption {
	return func(h *Handler) { h.readWait = d }
}

// WithWriteWait bounds each outbound write; 0 blocks indefinitely.
func WithWriteWait(d time.Duration) HandlerOption {
	return func(h *Handler) { h.writeWait = d }
}

// NewHandler returns a negotiation handler using the given room registry and
// ledger client.
func NewHandler(registry Registry, ledgerClient ledger.Client, logger log.Logger, options ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		ledger:   ledgerClient,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeWait: 10 * time.Second,
		logger:    logger.With("module", "rooms"),
		metrics:   NopMetrics(),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// connParams are the validated connection parameters.
type connParams struct {
	roomID      string
	locator     types.Locator
	role        Role
	inviteToken string
}

// parseParams validates the connection query parameters and collects a
// per-field message for everything wrong with them.
func parseParams(query url.Values) (connParams, map[string]string) {
	errs := make(map[string]string)
	params := connParams{
		roomID:      query.Get("id"),
		locator:     types.Locator(query.Get("locator")),
		inviteToken: query.Get("inviteToken"),
	}

	if !types.IsUUID(params.roomID) {
		errs["id"] = "id must be a UUID"
	}
	if err := params.locator.Validate(); err != nil {
		errs["locator"] = "locator must be of the form localid@fqdn"
	}

	role, err := ParseRole(query.Get("role"))
	if err != nil {
		errs["role"] = "role must be inviter or guest"
	}
	params.role = role

	if role == RoleGuest && !types.IsUUID(params.inviteToken) {
		errs["inviteToken"] = "inviteToken must be a UUID"
	}

	return params, errs
}

// ServeHTTP implements http.Handler. It admits the connection against the
// registry and then serves its side of the negotiation until the room ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "err", err)
		return
	}
	c := newConn(ws, h.writeWait)

	params, fieldErrs := parseParams(r.URL.Query())
	if len(fieldErrs) > 0 {
		h.logger.Info("rejecting connection with invalid parameters", "errs", fmt.Sprint(fieldErrs))
		h.reject(c, "invalid parameters", fieldErrs)
		return
	}

	state, ok := h.registry.Get(params.roomID)
	if !ok {
		h.reject(c, "room does not exist", map[string]string{"id": params.roomID})
		return
	}

	logger := h.logger.With("room", params.roomID, "role", string(params.role))

	switch params.role {
	case RoleInviter:
		h.serveInviter(c, state, logger)
	case RoleGuest:
		h.serveGuest(c, state, params, logger)
	}
}

// reject refuses a connection before any room state was touched.
func (h *Handler) reject(c *conn, message string, youSend interface{}) {
	h.metrics.Rejections.Add(1)
	if err := c.send(invalidAction(message, youSend)); err != nil {
		h.logger.Debug("failed to deliver rejection", "err", err)
	}
	c.close()
}

func (h *Handler) serveInviter(c *conn, state *State, logger log.Logger) {
	if err := state.attachInviter(c); err != nil {
		h.reject(c, "room is already closed", nil)
		return
	}

	logger.Info("inviter attached")
	h.readLoop(c, state, RoleInviter, logger)
}

func (h *Handler) serveGuest(c *conn, state *State, params connParams, logger log.Logger) {
	inviterConn, err := state.admitGuest(c, params.locator, params.inviteToken)
	switch {
	case err == nil:

	case errors.Is(err, errRoomClosed):
		h.reject(c, "room is already closed", nil)
		return

	case errors.Is(err, errTokenMismatch):
		logger.Info("guest rejected: invite token mismatch")
		h.metrics.Rejections.Add(1)
		_ = c.send(invalidAction("inviteToken does not match", map[string]string{"inviteToken": params.inviteToken}))
		if inviter, _ := state.peers(); inviter != nil {
			_ = inviter.send(guestDisconnected())
		}
		h.closeRoom(state)
		c.close()
		return

	default: // no inviter attached
		logger.Info("guest rejected: room has no inviter")
		h.metrics.Rejections.Add(1)
		_ = c.send(invalidAction("invalid room", nil))
		h.closeRoom(state)
		c.close()
		return
	}

	if err := c.send(entryPermitted(state.Snapshot())); err != nil {
		logger.Error("failed to confirm guest entry", "err", err)
		h.closeRoom(state)
		return
	}
	if err := inviterConn.send(userJoined(params.locator)); err != nil {
		logger.Error("failed to notify inviter of join", "err", err)
	}

	h.metrics.GuestsJoined.Add(1)
	logger.Info("guest admitted", "guest", string(params.locator))

	// the join itself is a ledger fact; failing to record it ends the room
	_, err = h.ledger.Invoke(context.Background(), ledger.Request{
		Chaincode: roomChaincode,
		Fcn:       "guestJoinedRoom",
		Args:      []string{params.roomID, string(params.locator)},
	})
	if err != nil {
		logger.Error("failed to record guest join", "err", err)
		h.closeRoom(state)
		return
	}

	h.readLoop(c, state, RoleGuest, logger)
}

// readLoop processes one connection's messages strictly sequentially: a
// message completes before the next is read.
func (h *Handler) readLoop(c *conn, state *State, role Role, logger log.Logger) {
	for {
		if h.readWait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(h.readWait))
		}

		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			h.handleDisconnect(c, state, role, err, logger)
			return
		}

		if closed := h.handleMessage(c, state, role, env, logger); closed {
			return
		}
	}
}

// handleMessage dispatches one inbound message. It reports whether the room
// was closed as a result, ending the read loop.
func (h *Handler) handleMessage(c *conn, state *State, role Role, env Envelope, logger log.Logger) bool {
	switch env.Action {
	case ActionRequestProposal:
		return h.handleRequestProposal(c, state, role, env, logger)

	case ActionApproveProposal:
		return h.handleApproveProposal(c, state, role, env, logger)

	case ActionCancelRequest:
		logger.Info("cancel requested")
		h.cancel(state, role, string(role)+" canceled transaction")
		return true

	default:
		h.metrics.Rejections.Add(1)
		_ = c.send(invalidAction("unknown action", env))
		return false
	}
}

func (h *Handler) handleRequestProposal(c *conn, state *State, role Role, env Envelope, logger log.Logger) bool {
	if role != RoleGuest {
		h.metrics.Rejections.Add(1)
		_ = c.send(invalidAction("only the guest may request a proposal", env))
		return false
	}

	var isbn string
	if err := json.Unmarshal(env.Data, &isbn); err != nil || isbn == "" {
		h.violation(c, state, "data is required", env, logger)
		return true
	}
	if err := types.ISBN(isbn).Validate(); err != nil {
		h.violation(c, state, "data must be ISBN", env, logger)
		return true
	}

	if err := state.setProposal(types.ISBN(isbn)); err != nil {
		h.violation(c, state, "room is not negotiating", env, logger)
		return true
	}

	snap := state.Snapshot()
	proposalEnv := proposal(ProposalData{
		Owner:    snap.Inviter,
		Borrower: snap.Guest,
		ISBN:     types.ISBN(isbn),
	})

	logger.Info("proposal issued", "isbn", isbn)
	inviter, guest := state.peers()
	for _, peer := range []*conn{inviter, guest} {
		if peer == nil {
			continue
		}
		if err := peer.send(proposalEnv); err != nil {
			logger.Error("failed to deliver proposal", "err", err)
		}
	}
	return false
}

func (h *Handler) handleApproveProposal(c *conn, state *State, role Role, env Envelope, logger log.Logger) bool {
	commit, err := state.approve(role)
	if err != nil {
		h.violation(c, state, "nothing to approve", env, logger)
		return true
	}
	logger.Info("proposal approved")

	if !commit {
		return false
	}

	h.commit(state, logger)
	return true
}

// violation rejects a fatal protocol violation: INVALID_ACTION to the
// offender, then the room closes.
func (h *Handler) violation(c *conn, state *State, message string, env Envelope, logger log.Logger) {
	logger.Info("protocol violation", "reason", message)
	h.metrics.Rejections.Add(1)
	_ = c.send(invalidAction(message, env))
	h.closeRoom(state)
}

// cancel notifies the counterparty, if connected, and closes the room. No
// trade is recorded; no ledger write precedes commitment, so there is
// nothing to roll back. A room that already reached commitment finishes on
// its own and the cancellation is ignored.
func (h *Handler) cancel(state *State, role Role, reason string) {
	switch state.Status() {
	case StatusClosed, StatusCommitting:
		return
	}

	if other := state.other(role); other != nil {
		if err := other.send(transactionCanceled(reason)); err != nil {
			h.logger.Debug("failed to deliver cancellation", "err", err)
		}
	}
	h.metrics.Cancellations.Add(1)
	h.closeRoom(state)
}

// handleDisconnect treats an unexpected connection drop as implicit
// cancellation. Rooms already committing finish on their own; closed rooms
// need no action; a connection that was replaced by a reconnect no longer
// speaks for its role.
func (h *Handler) handleDisconnect(c *conn, state *State, role Role, err error, logger log.Logger) {
	switch state.Status() {
	case StatusClosed, StatusCommitting:
		return
	}
	if !state.isAttached(c, role) {
		logger.Debug("replaced connection dropped", "err", err)
		return
	}

	logger.Info("peer disconnected, canceling room", "err", err)
	if other := state.other(role); other != nil {
		if role == RoleGuest {
			_ = other.send(guestDisconnected())
		} else {
			_ = other.send(transactionCanceled("inviter disconnected"))
		}
	}
	h.metrics.Cancellations.Add(1)
	h.closeRoom(state)
}

// commit records the trade on the ledger and broadcasts the outcome. On any
// ledger failure the room closes without a COMMITED broadcast; participants
// observe only the closed connection.
func (h *Handler) commit(state *State, logger log.Logger) {
	purpose, owner, borrower, isbn := state.commitmentInput()

	trade, err := h.recordTrade(purpose, owner, borrower, isbn)
	if err != nil {
		logger.Error("commitment failed, closing room", "err", err)
		h.closeRoom(state)
		return
	}

	h.metrics.TradesCommitted.Add(1)
	logger.Info("trade committed", "trade", trade.ID, "isbn", string(trade.ISBN))

	// best effort per attached socket
	committedEnv := committed(*trade)
	inviter, guest := state.peers()
	for _, peer := range []*conn{inviter, guest} {
		if peer == nil {
			continue
		}
		if err := peer.send(committedEnv); err != nil {
			logger.Error("failed to deliver commitment", "err", err)
		}
	}

	h.closeRoom(state)
}

func (h *Handler) recordTrade(purpose types.RoomPurpose, owner, borrower types.Locator, isbn types.ISBN) (*types.Trade, error) {
	ctx := context.Background()
	now := time.Now().UTC()

	if purpose == types.RoomPurposeRental {
		trade := types.Trade{
			ID:       uuid.NewString(),
			Owner:    owner,
			Borrower: borrower,
			ISBN:     isbn,
			LendAt:   now,
		}
		_, err := h.ledger.Invoke(ctx, ledger.Request{
			Chaincode: tradingChaincode,
			Fcn:       "createTrading",
			Args:      []string{trade.ID, string(owner), string(borrower), string(isbn), now.Format(time.RFC3339)},
		})
		if err != nil {
			return nil, err
		}
		return &trade, nil
	}

	// return: find the open loan, then mark it returned
	raw, err := h.ledger.Query(ctx, ledger.Request{
		Chaincode: tradingChaincode,
		Fcn:       "getTradingList",
		Args:      []string{string(owner), string(borrower), string(isbn), "false"},
	})
	if err != nil {
		return nil, err
	}

	var trades []types.Trade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, fmt.Errorf("malformed trading list: %w", err)
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("no open loan of %s from %s to %s", isbn, owner, borrower)
	}

	trade := trades[0]
	trade.ReturnedAt = &now
	_, err = h.ledger.Invoke(ctx, ledger.Request{
		Chaincode: tradingChaincode,
		Fcn:       "markTradingReturned",
		Args:      []string{trade.ID, now.Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// closeRoom marks the room terminal, writes the best-effort close record to
// the ledger, and releases both sockets. It runs on every exit path and is
// idempotent; a failed close record never affects socket cleanup.
func (h *Handler) closeRoom(state *State) {
	now := time.Now().UTC()
	inviter, guest, alreadyClosed := state.close(now)
	if alreadyClosed {
		return
	}

	defer func() {
		if inviter != nil {
			inviter.close()
		}
		if guest != nil {
			guest.close()
		}
	}()

	snap := state.Snapshot()
	h.logger.Info("room closed", "room", snap.ID)

	_, err := h.ledger.Invoke(context.Background(), ledger.Request{
		Chaincode: roomChaincode,
		Fcn:       "closeRoom",
		Args:      []string{snap.ID, now.Format(time.RFC3339)},
	})
	if err != nil {
		h.logger.Error("failed to record room closure", "room", snap.ID, "err", err)
	}
}
