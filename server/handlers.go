package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bookchain/bookchain/ledger"
	"github.com/bookchain/bookchain/libs/log"
	"github.com/bookchain/bookchain/rooms"
	"github.com/bookchain/bookchain/types"
)

// Chaincodes the REST layer reads and writes.
const (
	roomChaincode      = "room"
	tradingChaincode   = "trading"
	ownershipChaincode = "ownership"
)

// Environment holds the collaborators the REST handlers operate on. The
// handlers are thin: parameter validation, one ledger call, one response.
type Environment struct {
	Ledger   ledger.Client
	Registry rooms.Registry

	// Host is this node's FQDN, recorded as the hosting peer of every room
	// it creates.
	Host string

	Logger  log.Logger
	Metrics *Metrics
}

type fieldErrors map[string]string

func (e fieldErrors) add(field, message string) { e[field] = message }

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFieldErrors(w http.ResponseWriter, errs fieldErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": errs})
}

// writeLedgerError answers 500 without leaking ledger internals to clients.
func (env *Environment) writeLedgerError(w http.ResponseWriter, op string, err error) {
	env.Logger.Error("ledger call failed", "op", op, "err", err)
	env.Metrics.LedgerFailures.Add(1)
	writeJSON(w, http.StatusInternalServerError, map[string]bool{"error": true})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]bool{"error": true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFieldErrors(w, fieldErrors{"body": "body must be JSON"})
		return false
	}
	return true
}

type createRoomRequest struct {
	Purpose types.RoomPurpose `json:"purpose"`
	Inviter types.Locator     `json:"inviter"`
}

type createRoomResponse struct {
	types.Room
	InviteToken string `json:"inviteToken"`
}

// handleCreateRoom records the room on the ledger, registers its negotiation
// state, and hands the inviter the token a guest will need to join.
func (env *Environment) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}

	errs := fieldErrors{}
	if err := req.Purpose.Validate(); err != nil {
		errs.add("purpose", "purpose must be rental or return")
	}
	if err := req.Inviter.Validate(); err != nil {
		errs.add("inviter", "inviter must be of the form localid@fqdn")
	}
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	room := types.Room{
		ID:        uuid.NewString(),
		Host:      env.Host,
		Purpose:   req.Purpose,
		Inviter:   req.Inviter,
		CreatedAt: time.Now().UTC(),
	}

	_, err := env.Ledger.Invoke(r.Context(), ledger.Request{
		Chaincode: roomChaincode,
		Fcn:       "createRoom",
		Args: []string{
			room.ID,
			string(room.Purpose),
			string(room.Inviter),
			room.Host,
			room.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		env.writeLedgerError(w, "createRoom", err)
		return
	}

	inviteToken := uuid.NewString()
	env.Registry.Insert(room.ID, rooms.NewState(room, inviteToken))
	env.Metrics.RoomsCreated.Add(1)
	env.Logger.Info("room created", "room", room.ID, "purpose", string(room.Purpose))

	writeJSON(w, http.StatusCreated, createRoomResponse{Room: room, InviteToken: inviteToken})
}

// listParams validates the shared optional filter parameters of the list
// endpoints. Absent parameters pass through as empty strings; the chaincode
// treats them as wildcards.
func listParams(r *http.Request, errs fieldErrors) (limit, offset string) {
	query := r.URL.Query()

	limit = query.Get("limit")
	if limit != "" {
		if n, err := strconv.Atoi(limit); err != nil || n < 0 {
			errs.add("limit", "limit must be a non-negative integer")
		}
	}
	offset = query.Get("offset")
	if offset != "" {
		if n, err := strconv.Atoi(offset); err != nil || n < 0 {
			errs.add("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset
}

func validateOptionalLocator(errs fieldErrors, field, value string) {
	if value != "" && types.Locator(value).Validate() != nil {
		errs.add(field, field+" must be of the form localid@fqdn")
	}
}

func validateOptionalISBN(errs fieldErrors, value string) {
	if value != "" && types.ISBN(value).Validate() != nil {
		errs.add("isbn", "isbn must be a 13 digit ISBN")
	}
}

func (env *Environment) handleTradings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	owner := query.Get("owner")
	borrower := query.Get("borrower")
	isbn := query.Get("isbn")
	isReturned := query.Get("isReturned")

	errs := fieldErrors{}
	validateOptionalLocator(errs, "owner", owner)
	validateOptionalLocator(errs, "borrower", borrower)
	validateOptionalISBN(errs, isbn)
	if isReturned != "" && isReturned != "true" && isReturned != "false" {
		errs.add("isReturned", "isReturned must be true or false")
	}
	limit, offset := listParams(r, errs)
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	env.queryList(r.Context(), w, tradingChaincode, "getTradingList",
		[]string{owner, borrower, isbn, isReturned, limit, offset})
}

func (env *Environment) handleOwnership(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		env.handleListOwnership(w, r)
	case http.MethodPost:
		env.handleCreateOwnership(w, r)
	case http.MethodDelete:
		env.handleDeleteOwnership(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (env *Environment) handleListOwnership(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	owner := query.Get("owner")
	isbn := query.Get("isbn")

	errs := fieldErrors{}
	validateOptionalLocator(errs, "owner", owner)
	validateOptionalISBN(errs, isbn)
	limit, offset := listParams(r, errs)
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	env.queryList(r.Context(), w, ownershipChaincode, "getOwnershipList",
		[]string{owner, isbn, limit, offset})
}

type ownershipRequest struct {
	Owner types.Locator `json:"owner"`
	ISBN  types.ISBN    `json:"isbn"`
}

func (req ownershipRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if err := req.Owner.Validate(); err != nil {
		errs.add("owner", "owner must be of the form localid@fqdn")
	}
	if err := req.ISBN.Validate(); err != nil {
		errs.add("isbn", "isbn must be a 13 digit ISBN")
	}
	return errs
}

func (env *Environment) handleCreateOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	record := types.Ownership{
		Owner:     req.Owner,
		ISBN:      req.ISBN,
		CreatedAt: time.Now().UTC(),
	}
	_, err := env.Ledger.Invoke(r.Context(), ledger.Request{
		Chaincode: ownershipChaincode,
		Fcn:       "createOwnership",
		Args:      []string{string(record.Owner), string(record.ISBN), record.CreatedAt.Format(time.RFC3339)},
	})
	if err != nil {
		env.writeLedgerError(w, "createOwnership", err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (env *Environment) handleDeleteOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	_, err := env.Ledger.Invoke(r.Context(), ledger.Request{
		Chaincode: ownershipChaincode,
		Fcn:       "deleteOwnership",
		Args:      []string{string(req.Owner), string(req.ISBN)},
	})
	if err != nil {
		env.writeLedgerError(w, "deleteOwnership", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// queryList runs a list query and relays the chaincode's JSON verbatim under
// a result key.
func (env *Environment) queryList(ctx context.Context, w http.ResponseWriter, chaincode, fcn string, args []string) {
	raw, err := env.Ledger.Query(ctx, ledger.Request{
		Chaincode: chaincode,
		Fcn:       fcn,
		Args:      args,
	})
	if err != nil {
		env.writeLedgerError(w, fcn, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": raw})
}
