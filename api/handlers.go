package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

const maxBody = 1 << 20

type deployRequest struct {
	Agent string `json:"agent"`
}

type transferRequest struct {
	Candidate string `json:"candidate"`
}

type purchaseRequest struct {
	Amount string `json:"amount"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type batchRequest struct {
	Users  []string `json:"users"`
	Values []string `json:"values"`
}

// ──────────────────────────────────────────────────
// Contracts
// ──────────────────────────────────────────────────

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	agent, err := parseAddress("agent", req.Agent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.ledger.Deploy(r.Context(), caller(r), agent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, c)
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts := contract.ListOpts{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("owner"); v != "" {
		o, err := parseAddress("owner", v)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		opts.Owner = account.Some(o)
	}
	list, err := s.ledger.ListContracts(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.ledger.Contract(r.Context(), cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}

func (s *Server) getOwner(w http.ResponseWriter, r *http.Request) {
	s.readAddress(w, r, "owner", s.ledger.Owner)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	s.readAddress(w, r, "agent", s.ledger.Agent)
}

func (s *Server) getPendingOwner(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.ledger.Contract(r.Context(), cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, struct {
		PendingOwner      account.Optional `json:"pending_owner"`
		PendingOwnerSetAt time.Time        `json:"pending_owner_set_at,omitzero"`
		ReadyAt           time.Time        `json:"ready_at,omitzero"`
	}{
		PendingOwner:      c.Ownership.Pending,
		PendingOwnerSetAt: c.Ownership.PendingSince,
		ReadyAt:           c.Ownership.ReadyAt(),
	})
}

func (s *Server) getBuyLimit(w http.ResponseWriter, r *http.Request) {
	s.readAmount(w, r, "buy_limit", s.ledger.BuyLimit)
}

func (s *Server) getBuyLimitPrice(w http.ResponseWriter, r *http.Request) {
	s.readAmount(w, r, "buy_limit_price", s.ledger.BuyLimitPrice)
}

// ──────────────────────────────────────────────────
// Allowances
// ──────────────────────────────────────────────────

func (s *Server) getUserChatLimit(w http.ResponseWriter, r *http.Request) {
	cid, user, err := contractAndUser(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := s.ledger.UserChatLimit(r.Context(), cid, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user": user, "chat_limit": limit})
}

func (s *Server) checkAllowance(w http.ResponseWriter, r *http.Request) {
	cid, user, err := contractAndUser(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.ledger.CheckAllowance(r.Context(), cid, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

func (s *Server) listChatLimits(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts := allowance.ListOpts{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("non_zero"); v != "" {
		nz, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, agentchat.ValidationError{Field: "non_zero", Message: "must be a boolean"})
			return
		}
		opts.NonZero = nz
	}
	list, err := s.ledger.ListChatLimits(r.Context(), cid, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

func (s *Server) setUserLimit(w http.ResponseWriter, r *http.Request) {
	cid, user, err := contractAndUser(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req valueRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.SetUserLimit(r.Context(), cid, caller(r), user, value); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// batchSetUserLimit validates every entry before calling the engine, so a
// malformed entry anywhere rejects the request without touching state.
// Ownership is checked first: strangers get 403 whatever the entries hold.
func (s *Server) batchSetUserLimit(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req batchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.AuthorizeOwner(r.Context(), agentchat.OpBatchSetUserLimit, cid, caller(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	users := make([]account.Address, len(req.Users))
	for i, u := range req.Users {
		if users[i], err = parseAddress(fmt.Sprintf("users[%d]", i), u); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	values := make([]types.Amount, len(req.Values))
	for i, v := range req.Values {
		if values[i], err = parseAmount(fmt.Sprintf("values[%d]", i), v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if err := s.ledger.BatchSetUserLimit(r.Context(), cid, caller(r), users, values); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Balances
// ──────────────────────────────────────────────────

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"address": addr, "balance": s.balances.Balance(addr)})
}

// ──────────────────────────────────────────────────
// Pricing
// ──────────────────────────────────────────────────

func (s *Server) setBuyLimitPrice(w http.ResponseWriter, r *http.Request) {
	s.writeAmount(w, r, s.ledger.SetBuyLimitPrice)
}

func (s *Server) setBuyLimit(w http.ResponseWriter, r *http.Request) {
	s.writeAmount(w, r, s.ledger.SetBuyLimit)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

func (s *Server) buyChatLimit(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := s.ledger.BuyChatLimit(r.Context(), cid, caller(r), amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, receipt)
}

func (s *Server) listPurchases(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts := purchase.ListOpts{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("buyer"); v != "" {
		b, err := parseAddress("buyer", v)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		opts.Buyer = account.Some(b)
	}
	list, err := s.ledger.ListPurchases(r.Context(), cid, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

func (s *Server) getPurchase(w http.ResponseWriter, r *http.Request) {
	pid, err := id.ParsePurchaseID(chi.URLParam(r, "purchaseID"))
	if err != nil {
		s.fail(w, r, agentchat.ValidationError{Field: "purchaseID", Message: err.Error()})
		return
	}
	receipt, err := s.ledger.Purchase(r.Context(), pid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, receipt)
}

// ──────────────────────────────────────────────────
// Ownership
// ──────────────────────────────────────────────────

func (s *Server) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	candidate, err := parseAddress("candidate", req.Candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.ledger.InitiateTransfer(r.Context(), cid, caller(r), candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, t)
}

func (s *Server) acceptTransfer(w http.ResponseWriter, r *http.Request) {
	s.resolveTransfer(w, r, s.ledger.AcceptTransfer)
}

func (s *Server) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	s.resolveTransfer(w, r, s.ledger.CancelTransfer)
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.ledger.ListTransfers(r.Context(), cid, ownership.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	tid, err := id.ParseTransferID(chi.URLParam(r, "transferID"))
	if err != nil {
		s.fail(w, r, agentchat.ValidationError{Field: "transferID", Message: err.Error()})
		return
	}
	t, err := s.ledger.Transfer(r.Context(), tid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, t)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type (
	addressReader  func(ctx context.Context, cid id.ContractID) (account.Address, error)
	amountReader   func(ctx context.Context, cid id.ContractID) (types.Amount, error)
	amountWriter   func(ctx context.Context, cid id.ContractID, caller account.Address, v types.Amount) error
	transferWriter func(ctx context.Context, cid id.ContractID, caller account.Address) (*ownership.Transfer, error)
)

func (s *Server) readAddress(w http.ResponseWriter, r *http.Request, key string, read addressReader) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := read(r.Context(), cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]account.Address{key: a})
}

func (s *Server) readAmount(w http.ResponseWriter, r *http.Request, key string, read amountReader) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := read(r.Context(), cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]types.Amount{key: v})
}

func (s *Server) writeAmount(w http.ResponseWriter, r *http.Request, write amountWriter) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req valueRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := parseAmount("value", req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := write(r.Context(), cid, caller(r), v); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveTransfer answers 204 when there was no pending transfer to resolve.
func (s *Server) resolveTransfer(w http.ResponseWriter, r *http.Request, resolve transferWriter) {
	cid, err := contractID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := resolve(r.Context(), cid, caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	JSON(w, http.StatusOK, t)
}

func caller(r *http.Request) account.Address {
	c, _ := CallerFrom(r.Context())
	return c
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return agentchat.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func contractID(r *http.Request) (id.ContractID, error) {
	cid, err := id.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		return id.Nil, agentchat.ValidationError{Field: "contractID", Message: err.Error()}
	}
	return cid, nil
}

func contractAndUser(r *http.Request) (id.ContractID, account.Address, error) {
	cid, err := contractID(r)
	if err != nil {
		return id.Nil, account.Zero, err
	}
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		return id.Nil, account.Zero, err
	}
	return cid, user, nil
}

func parseAddress(field, s string) (account.Address, error) {
	a, err := account.Parse(s)
	if err != nil {
		return account.Zero, agentchat.ValidationError{Field: field, Message: "must be a 20-byte hex address"}
	}
	return a, nil
}

func parseAmount(field, s string) (types.Amount, error) {
	a, err := types.ParseAmount(s)
	if err != nil {
		return types.Amount{}, agentchat.ValidationError{Field: field, Message: "must be a decimal uint256"}
	}
	return a, nil
}

func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, agentchat.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, agentchat.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}
