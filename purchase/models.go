// Package purchase records successful chat limit purchases.
package purchase

import (
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/types"
)

// Receipt is written once per successful purchase, in the same transaction
// as the allowance increment it pays for.
type Receipt struct {
	types.Entity
	ID         id.PurchaseID   `json:"id"`
	ContractID id.ContractID   `json:"contract_id"`
	Buyer      account.Address `json:"buyer"`
	Agent      account.Address `json:"agent"`
	Paid       types.Amount    `json:"paid"`
	Granted    types.Amount    `json:"granted"`
	LimitAfter types.Amount    `json:"limit_after"`
	PaymentID  id.PaymentID    `json:"payment_id"`
	PaymentRef string          `json:"payment_ref"`
}
