package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/store/storetest"
	"github.com/xraph/agentchat/types"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := storetest.NewContract(storetest.Addr(0xa1), storetest.Addr(0x01), now)
	if err := s.CreateContract(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.Pricing.BuyLimit = types.Units(1)
	got, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Pricing.BuyLimitPrice = types.Units(99)

	again, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Pricing.BuyLimit.Equal(types.Units(100)) || !again.Pricing.BuyLimitPrice.Equal(types.Units(1)) {
		t.Errorf("stored contract mutated through caller pointer: %+v", again.Pricing)
	}
}

func TestClosed(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, agentchat.ErrStoreClosed) {
		t.Errorf("Ping after Close = %v", err)
	}
	if _, err := s.GetContract(context.Background(), id.NewContractID()); !errors.Is(err, agentchat.ErrStoreClosed) {
		t.Errorf("GetContract after Close = %v", err)
	}
}

func TestAtomicSerializes(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := storetest.NewContract(storetest.Addr(0xa1), storetest.Addr(0x01), now)
	if err := s.CreateContract(ctx, c); err != nil {
		t.Fatal(err)
	}
	user := storetest.Addr(0x10)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
				cur, err := tx.GetChatLimit(ctx, c.ID, user)
				if err != nil {
					return err
				}
				next, _ := cur.Add(types.Units(1))
				return tx.SetChatLimit(ctx, c.ID, user, next, now)
			})
		}()
	}
	wg.Wait()

	got, err := s.GetChatLimit(ctx, c.ID, user)
	if err != nil || !got.Equal(types.Units(50)) {
		t.Errorf("limit = %s, %v; want 50", got, err)
	}
}

func TestAtomicUndoesEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := storetest.NewContract(storetest.Addr(0xa1), storetest.Addr(0x01), now)
	if err := s.CreateContract(ctx, c); err != nil {
		t.Fatal(err)
	}
	kept, spent := storetest.Addr(0x10), storetest.Addr(0x11)
	if err := s.SetChatLimit(ctx, c.ID, kept, types.Units(7), now); err != nil {
		t.Fatal(err)
	}
	tr := &ownership.Transfer{
		Entity:      types.NewEntity(now),
		ID:          id.NewTransferID(),
		ContractID:  c.ID,
		From:        storetest.Addr(0x01),
		Candidate:   storetest.Addr(0x02),
		Status:      ownership.StatusPending,
		InitiatedAt: now,
	}
	if err := s.CreateTransfer(ctx, tr); err != nil {
		t.Fatal(err)
	}

	fresh := storetest.NewContract(storetest.Addr(0xa2), storetest.Addr(0x01), now)
	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateContract(ctx, fresh); err != nil {
			return err
		}
		if err := tx.SetChatLimit(ctx, fresh.ID, spent, types.Units(3), now); err != nil {
			return err
		}
		if err := tx.SetChatLimit(ctx, c.ID, kept, types.Units(9), now); err != nil {
			return err
		}
		if err := tx.SetChatLimit(ctx, c.ID, spent, types.Units(1), now); err != nil {
			return err
		}
		updated := c.Clone()
		updated.Pricing.BuyLimit = types.Units(5)
		if err := tx.UpdateContract(ctx, updated); err != nil {
			return err
		}
		if err := tx.CreatePurchase(ctx, &purchase.Receipt{
			Entity: types.NewEntity(now), ID: id.NewPurchaseID(), ContractID: c.ID,
			Buyer: spent, Agent: c.Agent, PaymentID: id.NewPaymentID(),
		}); err != nil {
			return err
		}
		resolved := *tr
		resolved.Resolve(ownership.StatusCanceled, now)
		if err := tx.UpdateTransfer(ctx, &resolved); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic = %v, want boom", err)
	}

	if _, err := s.GetContract(ctx, fresh.ID); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("created contract survived: %v", err)
	}
	if _, err := s.GetContractByAgent(ctx, fresh.Agent); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("agent index survived: %v", err)
	}
	got, _ := s.GetContract(ctx, c.ID)
	if !got.Pricing.BuyLimit.Equal(types.Units(100)) {
		t.Errorf("buy limit = %s, want 100", got.Pricing.BuyLimit)
	}
	if limit, _ := s.GetChatLimit(ctx, c.ID, kept); !limit.Equal(types.Units(7)) {
		t.Errorf("kept limit = %s, want 7", limit)
	}
	entries, _ := s.ListChatLimits(ctx, c.ID, allowance.ListOpts{})
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
	if ps, _ := s.ListPurchases(ctx, c.ID, purchase.ListOpts{}); len(ps) != 0 {
		t.Errorf("purchases = %d, want 0", len(ps))
	}
	if gotTr, _ := s.GetTransfer(ctx, tr.ID); gotTr.Status != ownership.StatusPending {
		t.Errorf("transfer status = %s, want pending", gotTr.Status)
	}

	// The store is usable after a rollback and later commits stick.
	if err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.CreateContract(ctx, fresh)
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetContract(ctx, fresh.ID); err != nil {
		t.Errorf("committed contract: %v", err)
	}
}

func TestAtomicUndoesOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := storetest.NewContract(storetest.Addr(0xa1), storetest.Addr(0x01), now)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
			if err := tx.CreateContract(ctx, c); err != nil {
				return err
			}
			panic("fn failed")
		})
	}()

	if _, err := s.GetContract(ctx, c.ID); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("contract survived panic: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("store unusable after panic: %v", err)
	}
}

func TestNestedAtomicJoins(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := storetest.NewContract(storetest.Addr(0xa1), storetest.Addr(0x01), now)
	user := storetest.Addr(0x10)

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateContract(ctx, c); err != nil {
			return err
		}
		if err := tx.Atomic(ctx, func(ctx context.Context, inner store.Store) error {
			return inner.SetChatLimit(ctx, c.ID, user, types.Units(4), now)
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic = %v", err)
	}
	if _, err := s.GetContract(ctx, c.ID); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("outer write survived: %v", err)
	}
	if limit, _ := s.GetChatLimit(ctx, c.ID, user); !limit.IsZero() {
		t.Errorf("inner write survived: %s", limit)
	}
}
