// Package memory provides an in-process native currency ledger that
// implements payment.Forwarder. It backs tests and the development daemon.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/payment"
	"github.com/xraph/agentchat/types"
)

var _ payment.Forwarder = (*Bank)(nil)

// Bank holds balances per address. All methods are safe for concurrent use.
type Bank struct {
	mu        sync.Mutex
	balances  map[account.Address]types.Amount
	rejecting map[account.Address]bool
	forwarded map[string]payment.Transfer
}

func NewBank() *Bank {
	return &Bank{
		balances:  make(map[account.Address]types.Amount),
		rejecting: make(map[account.Address]bool),
		forwarded: make(map[string]payment.Transfer),
	}
}

// Deposit credits addr with amount.
func (b *Bank) Deposit(addr account.Address, amount types.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credit(addr, amount)
}

// Balance returns the balance of addr, zero if never funded.
func (b *Bank) Balance(addr account.Address) types.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr]
}

// Reject makes addr refuse (or accept again) incoming funds.
func (b *Bank) Reject(addr account.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejecting[addr] = true
	} else {
		delete(b.rejecting, addr)
	}
}

// Forward moves t.Amount from t.From to t.To. Nothing moves on error.
func (b *Bank) Forward(_ context.Context, t payment.Transfer) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejecting[t.To] {
		return "", fmt.Errorf("%w: %s", payment.ErrRejected, t.To.Hex())
	}
	if err := b.move(t.From, t.To, t.Amount); err != nil {
		return "", err
	}

	ref := t.ID.String()
	b.forwarded[ref] = t
	return ref, nil
}

// Reverse moves the funds of a previous Forward back to the payer.
func (b *Bank) Reverse(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.forwarded[ref]
	if !ok {
		return fmt.Errorf("%w: %q", payment.ErrUnknownReference, ref)
	}
	if err := b.move(t.To, t.From, t.Amount); err != nil {
		return err
	}
	delete(b.forwarded, ref)
	return nil
}

func (b *Bank) move(from, to account.Address, amount types.Amount) error {
	rest, underflow := b.balances[from].Sub(amount)
	if underflow {
		return fmt.Errorf("%w: %s has %s, needs %s",
			payment.ErrInsufficientFunds, from.Hex(), b.balances[from], amount)
	}
	if from == to {
		return nil
	}
	credited, overflow := b.balances[to].Add(amount)
	if overflow {
		return fmt.Errorf("payment: balance of %s overflows", to.Hex())
	}
	b.balances[from] = rest
	b.balances[to] = credited
	return nil
}

func (b *Bank) credit(addr account.Address, amount types.Amount) error {
	sum, overflow := b.balances[addr].Add(amount)
	if overflow {
		return fmt.Errorf("payment: balance of %s overflows", addr.Hex())
	}
	b.balances[addr] = sum
	return nil
}
