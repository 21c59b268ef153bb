// Package payment defines how purchase payments reach the agent.
//
// A Forwarder moves native currency from the buyer to the agent. The engine
// calls Forward while the purchase transaction is still open and Reverse
// only when that transaction fails to commit after a successful Forward.
package payment

import (
	"context"
	"errors"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/types"
)

var (
	// ErrRejected means the recipient refused the funds.
	ErrRejected = errors.New("payment: recipient rejected funds")
	// ErrInsufficientFunds means the payer cannot cover the amount.
	ErrInsufficientFunds = errors.New("payment: insufficient funds")
	// ErrUnknownReference is returned by Reverse for a ref it never issued
	// or already reversed.
	ErrUnknownReference = errors.New("payment: unknown reference")
)

// Transfer is one movement of funds.
type Transfer struct {
	ID         id.PaymentID
	ContractID id.ContractID
	From       account.Address
	To         account.Address
	Amount     types.Amount
}

// Forwarder moves funds and can undo a move it made.
type Forwarder interface {
	// Forward moves t.Amount from t.From to t.To and returns a reference
	// that Reverse accepts.
	Forward(ctx context.Context, t Transfer) (ref string, err error)
	// Reverse returns the funds of a previous Forward to the payer.
	Reverse(ctx context.Context, ref string) error
}

// ForwarderFuncs adapts plain functions to Forwarder. A nil ReverseFunc makes
// Reverse a no-op.
type ForwarderFuncs struct {
	ForwardFunc func(ctx context.Context, t Transfer) (string, error)
	ReverseFunc func(ctx context.Context, ref string) error
}

func (f ForwarderFuncs) Forward(ctx context.Context, t Transfer) (string, error) {
	return f.ForwardFunc(ctx, t)
}

func (f ForwarderFuncs) Reverse(ctx context.Context, ref string) error {
	if f.ReverseFunc == nil {
		return nil
	}
	return f.ReverseFunc(ctx, ref)
}

// Discard accepts every transfer without moving anything. The reference is
// the transfer ID.
var Discard Forwarder = ForwarderFuncs{
	ForwardFunc: func(_ context.Context, t Transfer) (string, error) {
		return t.ID.String(), nil
	},
}
