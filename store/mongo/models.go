package mongo

import (
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

// ==================== Contract models ====================

type contractModel struct {
	grove.BaseModel `grove:"table:agentchat_contracts"`

	ID            string  `grove:"id,pk"           bson:"_id"`
	Agent         string  `grove:"agent"           bson:"agent"`
	Deployer      string  `grove:"deployer"        bson:"deployer"`
	Owner         string  `grove:"owner"           bson:"owner"`
	PendingOwner  *string `grove:"pending_owner"   bson:"pending_owner,omitempty"`
	PendingSince  int64   `grove:"pending_since"   bson:"pending_since"`
	TransferID    string  `grove:"transfer_id"     bson:"transfer_id,omitempty"`
	BuyLimit      string  `grove:"buy_limit"       bson:"buy_limit"`
	BuyLimitPrice string  `grove:"buy_limit_price" bson:"buy_limit_price"`
	CreatedAt     int64   `grove:"created_at"      bson:"created_at"`
	UpdatedAt     int64   `grove:"updated_at"      bson:"updated_at"`
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
		key := account.Key(pending)
		m.PendingOwner = &key
		m.PendingSince = types.UnixNano(c.Ownership.PendingSince)
		m.TransferID = c.Ownership.TransferID.String()
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
		return nil, err
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
	if m.PendingOwner != nil {
		pending, err := account.Parse(*m.PendingOwner)
		if err != nil {
			return nil, err
		}
		transferID := id.Nil
		if m.TransferID != "" {
			if transferID, err = id.ParseTransferID(m.TransferID); err != nil {
				return nil, err
			}
		}
		c.Ownership.Propose(pending, types.FromUnixNano(m.PendingSince), transferID)
	}
	return c, nil
}

// ==================== Chat limit models ====================

// chatLimitModel is keyed by chatLimitKey so an upsert needs no compound
// unique index.
type chatLimitModel struct {
	grove.BaseModel `grove:"table:agentchat_chat_limits"`

	ID          string `grove:"id,pk"        bson:"_id"`
	ContractID  string `grove:"contract_id"  bson:"contract_id"`
	UserAddress string `grove:"user_address" bson:"user_address"`
	ChatLimit   string `grove:"chat_limit"   bson:"chat_limit"`
	UpdatedAt   int64  `grove:"updated_at"   bson:"updated_at"`
}

func chatLimitKey(contractID id.ContractID, user account.Address) string {
	return contractID.String() + ":" + account.Key(user)
}

func fromChatLimitModel(m *chatLimitModel) (*allowance.Entry, error) {
	contractID, err := id.ParseContractID(m.ContractID)
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
		ContractID: contractID,
		User:       user,
		Limit:      limit,
		UpdatedAt:  types.FromUnixNano(m.UpdatedAt),
	}, nil
}

// ==================== Purchase models ====================

type purchaseModel struct {
	grove.BaseModel `grove:"table:agentchat_purchases"`

	ID         string `grove:"id,pk"       bson:"_id"`
	ContractID string `grove:"contract_id" bson:"contract_id"`
	Buyer      string `grove:"buyer"       bson:"buyer"`
	Agent      string `grove:"agent"       bson:"agent"`
	Paid       string `grove:"paid"        bson:"paid"`
	Granted    string `grove:"granted"     bson:"granted"`
	LimitAfter string `grove:"limit_after" bson:"limit_after"`
	PaymentID  string `grove:"payment_id"  bson:"payment_id"`
	PaymentRef string `grove:"payment_ref" bson:"payment_ref"`
	CreatedAt  int64  `grove:"created_at"  bson:"created_at"`
	UpdatedAt  int64  `grove:"updated_at"  bson:"updated_at"`
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
		Entity:     types.Entity{CreatedAt: types.FromUnixNano(m.CreatedAt), UpdatedAt: types.FromUnixNano(m.UpdatedAt)},
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

	ID          string `grove:"id,pk"        bson:"_id"`
	ContractID  string `grove:"contract_id"  bson:"contract_id"`
	From        string `grove:"from_owner"   bson:"from_owner"`
	Candidate   string `grove:"candidate"    bson:"candidate"`
	Status      string `grove:"status"       bson:"status"`
	InitiatedAt int64  `grove:"initiated_at" bson:"initiated_at"`
	ResolvedAt  int64  `grove:"resolved_at"  bson:"resolved_at"`
	CreatedAt   int64  `grove:"created_at"   bson:"created_at"`
	UpdatedAt   int64  `grove:"updated_at"   bson:"updated_at"`
}

func toTransferModel(t *ownership.Transfer) *transferModel {
	return &transferModel{
		ID:          t.ID.String(),
		ContractID:  t.ContractID.String(),
		From:        account.Key(t.From),
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
		Entity:      types.Entity{CreatedAt: types.FromUnixNano(m.CreatedAt), UpdatedAt: types.FromUnixNano(m.UpdatedAt)},
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
	if t.From, err = account.Parse(m.From); err != nil {
		return nil, err
	}
	if t.Candidate, err = account.Parse(m.Candidate); err != nil {
		return nil, err
	}
	return t, nil
}
