package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/xraph/grove"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

// Times are unix nanoseconds, amounts decimal text and addresses lowercase
// hex, so ordering and equality work on the raw columns.

// ==================== Contract models ====================

type contractModel struct {
	grove.BaseModel `grove:"table:agentchat_contracts"`

	ID            string         `grove:"id,pk"`
	Agent         string         `grove:"agent"`
	Deployer      string         `grove:"deployer"`
	Owner         string         `grove:"owner"`
	PendingOwner  sql.NullString `grove:"pending_owner"`
	PendingSince  int64          `grove:"pending_since"`
	TransferID    sql.NullString `grove:"transfer_id"`
	BuyLimit      string         `grove:"buy_limit"`
	BuyLimitPrice string         `grove:"buy_limit_price"`
	CreatedAt     int64          `grove:"created_at"`
	UpdatedAt     int64          `grove:"updated_at"`
}

func toContractModel(c *contract.Contract) *contractModel {
	m := &contractModel{
		ID:            c.ID.String(),
		Agent:         account.Key(c.Agent),
		Deployer:      account.Key(c.Deployer),
		Owner:         account.Key(c.Ownership.Owner),
		BuyLimit:      c.Pricing.BuyLimit.String(),
		BuyLimitPrice: c.Pricing.BuyLimitPrice.String(),
		CreatedAt:     types.UnixNano(c.CreatedAt),
		UpdatedAt:     types.UnixNano(c.UpdatedAt),
	}
	if pending, ok := c.Ownership.Pending.Get(); ok {
		m.PendingOwner = sql.NullString{String: account.Key(pending), Valid: true}
		m.PendingSince = types.UnixNano(c.Ownership.PendingSince)
		m.TransferID = sql.NullString{String: c.Ownership.TransferID.String(), Valid: !c.Ownership.TransferID.IsNil()}
	}
	return m
}

func fromContractModel(m *contractModel) (*contract.Contract, error) {
	contractID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}
	addrs, err := account.ParseAll([]string{m.Agent, m.Deployer, m.Owner})
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", m.ID, err)
	}
	buyLimit, err := types.ParseAmount(m.BuyLimit)
	if err != nil {
		return nil, err
	}
	buyLimitPrice, err := types.ParseAmount(m.BuyLimitPrice)
	if err != nil {
		return nil, err
	}

	c := &contract.Contract{
		Entity: types.Entity{
			CreatedAt: types.FromUnixNano(m.CreatedAt),
			UpdatedAt: types.FromUnixNano(m.UpdatedAt),
		},
		ID:        contractID,
		Agent:     addrs[0],
		Deployer:  addrs[1],
		Ownership: ownership.NewState(addrs[2]),
		Pricing:   pricing.Config{BuyLimit: buyLimit, BuyLimitPrice: buyLimitPrice},
	}
	if m.PendingOwner.Valid {
		pending, err := account.Parse(m.PendingOwner.String)
		if err != nil {
			return nil, err
		}
		transferID := id.Nil
		if m.TransferID.Valid {
			if transferID, err = id.ParseTransferID(m.TransferID.String); err != nil {
				return nil, err
			}
		}
		c.Ownership.Propose(pending, types.FromUnixNano(m.PendingSince), transferID)
	}
	return c, nil
}

// ==================== Chat limit models ====================

type chatLimitModel struct {
	grove.BaseModel `grove:"table:agentchat_chat_limits"`

	ContractID  string `grove:"contract_id,pk"`
	UserAddress string `grove:"user_address,pk"`
	ChatLimit   string `grove:"chat_limit"`
	UpdatedAt   int64  `grove:"updated_at"`
}

func fromChatLimitModel(m *chatLimitModel) (*allowance.Entry, error) {
	cid, err := id.ParseContractID(m.ContractID)
	if err != nil {
		return nil, err
	}
	user, err := account.Parse(m.UserAddress)
	if err != nil {
		return nil, err
	}
	limit, err := types.ParseAmount(m.ChatLimit)
	if err != nil {
		return nil, err
	}
	return &allowance.Entry{
		ContractID: cid,
		User:       user,
		Limit:      limit,
		UpdatedAt:  types.FromUnixNano(m.UpdatedAt),
	}, nil
}

// ==================== Purchase models ====================

type purchaseModel struct {
	grove.BaseModel `grove:"table:agentchat_purchases"`

	ID         string `grove:"id,pk"`
	ContractID string `grove:"contract_id"`
	Buyer      string `grove:"buyer"`
	Agent      string `grove:"agent"`
	Paid       string `grove:"paid"`
	Granted    string `grove:"granted"`
	LimitAfter string `grove:"limit_after"`
	PaymentID  string `grove:"payment_id"`
	PaymentRef string `grove:"payment_ref"`
	CreatedAt  int64  `grove:"created_at"`
	UpdatedAt  int64  `grove:"updated_at"`
}

func toPurchaseModel(r *purchase.Receipt) *purchaseModel {
	return &purchaseModel{
		ID:         r.ID.String(),
		ContractID: r.ContractID.String(),
		Buyer:      account.Key(r.Buyer),
		Agent:      account.Key(r.Agent),
		Paid:       r.Paid.String(),
		Granted:    r.Granted.String(),
		LimitAfter: r.LimitAfter.String(),
		PaymentID:  r.PaymentID.String(),
		PaymentRef: r.PaymentRef,
		CreatedAt:  types.UnixNano(r.CreatedAt),
		UpdatedAt:  types.UnixNano(r.UpdatedAt),
	}
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Receipt, error) {
	r := &purchase.Receipt{
		Entity: types.Entity{
			CreatedAt: types.FromUnixNano(m.CreatedAt),
			UpdatedAt: types.FromUnixNano(m.UpdatedAt),
		},
		PaymentRef: m.PaymentRef,
	}
	var err error
	if r.ID, err = id.ParsePurchaseID(m.ID); err != nil {
		return nil, err
	}
	if r.ContractID, err = id.ParseContractID(m.ContractID); err != nil {
		return nil, err
	}
	if r.PaymentID, err = id.ParsePaymentID(m.PaymentID); err != nil {
		return nil, err
	}
	if r.Buyer, err = account.Parse(m.Buyer); err != nil {
		return nil, err
	}
	if r.Agent, err = account.Parse(m.Agent); err != nil {
		return nil, err
	}
	if r.Paid, err = types.ParseAmount(m.Paid); err != nil {
		return nil, err
	}
	if r.Granted, err = types.ParseAmount(m.Granted); err != nil {
		return nil, err
	}
	if r.LimitAfter, err = types.ParseAmount(m.LimitAfter); err != nil {
		return nil, err
	}
	return r, nil
}

// ==================== Transfer models ====================

type transferModel struct {
	grove.BaseModel `grove:"table:agentchat_transfers"`

	ID          string `grove:"id,pk"`
	ContractID  string `grove:"contract_id"`
	FromOwner   string `grove:"from_owner"`
	Candidate   string `grove:"candidate"`
	Status      string `grove:"status"`
	InitiatedAt int64  `grove:"initiated_at"`
	ResolvedAt  int64  `grove:"resolved_at"`
	CreatedAt   int64  `grove:"created_at"`
	UpdatedAt   int64  `grove:"updated_at"`
}

func toTransferModel(t *ownership.Transfer) *transferModel {
	return &transferModel{
		ID:          t.ID.String(),
		ContractID:  t.ContractID.String(),
		FromOwner:   account.Key(t.From),
		Candidate:   account.Key(t.Candidate),
		Status:      string(t.Status),
		InitiatedAt: types.UnixNano(t.InitiatedAt),
		ResolvedAt:  types.UnixNano(t.ResolvedAt),
		CreatedAt:   types.UnixNano(t.CreatedAt),
		UpdatedAt:   types.UnixNano(t.UpdatedAt),
	}
}

func fromTransferModel(m *transferModel) (*ownership.Transfer, error) {
	t := &ownership.Transfer{
		Entity: types.Entity{
			CreatedAt: types.FromUnixNano(m.CreatedAt),
			UpdatedAt: types.FromUnixNano(m.UpdatedAt),
		},
		Status:      ownership.Status(m.Status),
		InitiatedAt: types.FromUnixNano(m.InitiatedAt),
		ResolvedAt:  types.FromUnixNano(m.ResolvedAt),
	}
	var err error
	if t.ID, err = id.ParseTransferID(m.ID); err != nil {
		return nil, err
	}
	if t.ContractID, err = id.ParseContractID(m.ContractID); err != nil {
		return nil, err
	}
	if t.From, err = account.Parse(m.FromOwner); err != nil {
		return nil, err
	}
	if t.Candidate, err = account.Parse(m.Candidate); err != nil {
		return nil, err
	}
	return t, nil
}
