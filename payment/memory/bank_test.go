package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/payment"
	"github.com/xraph/agentchat/types"
)

var (
	buyer = account.MustParse("0x00000000000000000000000000000000000000aa")
	agent = account.MustParse("0x00000000000000000000000000000000000000bb")
)

func transfer(amount uint64) payment.Transfer {
	return payment.Transfer{
		ID:         id.NewPaymentID(),
		ContractID: id.NewContractID(),
		From:       buyer,
		To:         agent,
		Amount:     types.Units(amount),
	}
}

func TestBankForward(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	if err := b.Deposit(buyer, types.Units(10)); err != nil {
		t.Fatal(err)
	}

	ref, err := b.Forward(ctx, transfer(3))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if ref == "" {
		t.Error("expected non-empty reference")
	}
	if got := b.Balance(buyer); !got.Equal(types.Units(7)) {
		t.Errorf("buyer balance = %s, want 7", got)
	}
	if got := b.Balance(agent); !got.Equal(types.Units(3)) {
		t.Errorf("agent balance = %s, want 3", got)
	}
}

func TestBankForwardFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(b *Bank)
		amount  uint64
		wantErr error
	}{
		{"insufficient", func(b *Bank) { _ = b.Deposit(buyer, types.Units(1)) }, 2, payment.ErrInsufficientFunds},
		{"unfunded", func(*Bank) {}, 1, payment.ErrInsufficientFunds},
		{"rejected", func(b *Bank) {
			_ = b.Deposit(buyer, types.Units(5))
			b.Reject(agent, true)
		}, 1, payment.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBank()
			tt.setup(b)
			before := b.Balance(buyer)

			_, err := b.Forward(ctx, transfer(tt.amount))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !b.Balance(buyer).Equal(before) || !b.Balance(agent).IsZero() {
				t.Error("balances changed on failed forward")
			}
		})
	}
}

func TestBankRejectToggle(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	_ = b.Deposit(buyer, types.Units(2))

	b.Reject(agent, true)
	if _, err := b.Forward(ctx, transfer(1)); !errors.Is(err, payment.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	b.Reject(agent, false)
	if _, err := b.Forward(ctx, transfer(1)); err != nil {
		t.Fatalf("expected success after re-enabling, got %v", err)
	}
}

func TestBankReverse(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	_ = b.Deposit(buyer, types.Units(5))

	ref, err := b.Forward(ctx, transfer(5))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Reverse(ctx, ref); err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !b.Balance(buyer).Equal(types.Units(5)) || !b.Balance(agent).IsZero() {
		t.Errorf("balances after reverse: buyer=%s agent=%s", b.Balance(buyer), b.Balance(agent))
	}

	if err := b.Reverse(ctx, ref); !errors.Is(err, payment.ErrUnknownReference) {
		t.Errorf("second Reverse err = %v", err)
	}
}
