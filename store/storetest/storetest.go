// Package storetest is a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/types"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

var base = time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)

// Addr builds a deterministic address ending in n.
func Addr(n uint16) account.Address {
	return account.MustParse(fmt.Sprintf("0x%040x", n))
}

// NewContract builds an unsaved contract for agent, owned by owner.
func NewContract(agent, owner account.Address, at time.Time) *contract.Contract {
	return &contract.Contract{
		Entity:    types.NewEntity(at),
		ID:        id.NewContractID(),
		Agent:     agent,
		Deployer:  owner,
		Ownership: ownership.NewState(owner),
		Pricing:   pricing.Default(),
	}
}

// Run executes the whole suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Contracts", testContracts},
		{"ContractUpdate", testContractUpdate},
		{"ContractList", testContractList},
		{"ChatLimits", testChatLimits},
		{"Purchases", testPurchases},
		{"Transfers", testTransfers},
		{"AtomicCommit", testAtomicCommit},
		{"AtomicRollback", testAtomicRollback},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func mustCreate(t *testing.T, s store.Store, c *contract.Contract) {
	t.Helper()
	if err := s.CreateContract(context.Background(), c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
}

func testContracts(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)

	got, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got.ID.String() != c.ID.String() || got.Agent != c.Agent || got.Deployer != c.Deployer {
		t.Errorf("GetContract = %+v", got)
	}
	if got.Ownership.Owner != Addr(0x01) || got.Ownership.Pending.IsSet() {
		t.Errorf("ownership = %+v", got.Ownership)
	}
	if !got.Pricing.BuyLimit.Equal(types.Units(100)) || !got.Pricing.BuyLimitPrice.Equal(types.Units(1)) {
		t.Errorf("pricing = %+v", got.Pricing)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, c.CreatedAt)
	}

	byAgent, err := s.GetContractByAgent(ctx, Addr(0xa1))
	if err != nil || byAgent.ID.String() != c.ID.String() {
		t.Fatalf("GetContractByAgent = %v, %v", byAgent, err)
	}

	if _, err := s.GetContract(ctx, id.NewContractID()); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("missing id: err = %v", err)
	}
	if _, err := s.GetContractByAgent(ctx, Addr(0xff)); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("missing agent: err = %v", err)
	}

	dupAgent := NewContract(Addr(0xa1), Addr(0x02), base)
	if err := s.CreateContract(ctx, dupAgent); !errors.Is(err, agentchat.ErrAlreadyExists) {
		t.Errorf("duplicate agent: err = %v", err)
	}
	dupID := NewContract(Addr(0xa2), Addr(0x02), base)
	dupID.ID = c.ID
	if err := s.CreateContract(ctx, dupID); !errors.Is(err, agentchat.ErrAlreadyExists) {
		t.Errorf("duplicate id: err = %v", err)
	}
}

func testContractUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)

	xfer := id.NewTransferID()
	pendingAt := base.Add(time.Hour + 7*time.Nanosecond)
	c.Ownership.Propose(Addr(0x02), pendingAt, xfer)
	c.Pricing.BuyLimitPrice = types.MustParseAmount(maxUint256)
	c.Pricing.BuyLimit = types.ZeroAmount()
	c.Touch(pendingAt)
	if err := s.UpdateContract(ctx, c); err != nil {
		t.Fatalf("UpdateContract: %v", err)
	}

	got, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Ownership.Pending.Is(Addr(0x02)) {
		t.Errorf("pending = %s", got.Ownership.Pending)
	}
	if !got.Ownership.PendingSince.Equal(pendingAt) {
		t.Errorf("PendingSince = %s, want %s", got.Ownership.PendingSince, pendingAt)
	}
	if got.Ownership.TransferID.String() != xfer.String() {
		t.Errorf("TransferID = %s", got.Ownership.TransferID)
	}
	if got.Pricing.BuyLimitPrice.String() != maxUint256 || !got.Pricing.BuyLimit.IsZero() {
		t.Errorf("pricing = %+v", got.Pricing)
	}
	if !got.UpdatedAt.Equal(pendingAt) {
		t.Errorf("UpdatedAt = %s", got.UpdatedAt)
	}

	got.Ownership.Promote()
	if err := s.UpdateContract(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Ownership.Owner != Addr(0x02) || again.Ownership.Pending.IsSet() ||
		!again.Ownership.PendingSince.IsZero() || !again.Ownership.TransferID.IsNil() {
		t.Errorf("after promote: %+v", again.Ownership)
	}
	if again.Agent != Addr(0xa1) {
		t.Errorf("agent changed to %s", again.Agent.Hex())
	}

	missing := NewContract(Addr(0xa9), Addr(0x01), base)
	if err := s.UpdateContract(ctx, missing); !errors.Is(err, agentchat.ErrContractNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
}

func testContractList(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := range 5 {
		owner := Addr(0x01)
		if i%2 == 1 {
			owner = Addr(0x02)
		}
		c := NewContract(Addr(uint16(0xa0+i)), owner, base.Add(time.Duration(i)*time.Second))
		mustCreate(t, s, c)
		ids = append(ids, c.ID.String())
	}

	all, err := s.ListContracts(ctx, contract.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	for i, c := range all {
		if c.ID.String() != ids[i] {
			t.Errorf("position %d = %s, want %s", i, c.ID, ids[i])
		}
	}

	owned, err := s.ListContracts(ctx, contract.ListOpts{Owner: account.Some(Addr(0x02))})
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Errorf("owner filter len = %d, want 2", len(owned))
	}

	page, err := s.ListContracts(ctx, contract.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID.String() != ids[1] || page[1].ID.String() != ids[2] {
		t.Errorf("page = %v", page)
	}
}

func testChatLimits(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)
	other := NewContract(Addr(0xa2), Addr(0x01), base)
	mustCreate(t, s, other)

	limit, err := s.GetChatLimit(ctx, c.ID, Addr(0x10))
	if err != nil || !limit.IsZero() {
		t.Fatalf("unknown user = %s, %v", limit, err)
	}

	sets := []struct {
		user  account.Address
		limit types.Amount
	}{
		{Addr(0x12), types.Units(7)},
		{Addr(0x10), types.Units(100)},
		{Addr(0x11), types.ZeroAmount()},
		{Addr(0x10), types.Units(200)},
		{Addr(0x13), types.MustParseAmount(maxUint256)},
	}
	for _, st := range sets {
		if err := s.SetChatLimit(ctx, c.ID, st.user, st.limit, base); err != nil {
			t.Fatalf("SetChatLimit: %v", err)
		}
	}
	if err := s.SetChatLimit(ctx, other.ID, Addr(0x10), types.Units(1), base); err != nil {
		t.Fatal(err)
	}

	limit, err = s.GetChatLimit(ctx, c.ID, Addr(0x10))
	if err != nil || !limit.Equal(types.Units(200)) {
		t.Errorf("overwritten limit = %s, %v", limit, err)
	}
	limit, err = s.GetChatLimit(ctx, c.ID, Addr(0x13))
	if err != nil || limit.String() != maxUint256 {
		t.Errorf("max limit = %s, %v", limit, err)
	}
	limit, err = s.GetChatLimit(ctx, other.ID, Addr(0x10))
	if err != nil || !limit.Equal(types.Units(1)) {
		t.Errorf("other contract limit = %s, %v", limit, err)
	}

	entries, err := s.ListChatLimits(ctx, c.ID, allowance.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	want := []account.Address{Addr(0x10), Addr(0x11), Addr(0x12), Addr(0x13)}
	if len(entries) != len(want) {
		t.Fatalf("len = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.User != want[i] {
			t.Errorf("entry %d user = %s, want %s", i, e.User.Hex(), want[i].Hex())
		}
		if e.ContractID.String() != c.ID.String() {
			t.Errorf("entry %d contract = %s", i, e.ContractID)
		}
	}

	nonZero, err := s.ListChatLimits(ctx, c.ID, allowance.ListOpts{NonZero: true, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(nonZero) != 2 || nonZero[0].User != Addr(0x10) || nonZero[1].User != Addr(0x12) {
		t.Errorf("non-zero page = %+v", nonZero)
	}
}

func testPurchases(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)

	var receipts []*purchase.Receipt
	for i := range 3 {
		buyer := Addr(0x10)
		if i == 1 {
			buyer = Addr(0x11)
		}
		r := &purchase.Receipt{
			Entity:     types.NewEntity(base.Add(time.Duration(i) * time.Minute)),
			ID:         id.NewPurchaseID(),
			ContractID: c.ID,
			Buyer:      buyer,
			Agent:      c.Agent,
			Paid:       types.Units(1),
			Granted:    types.Units(100),
			LimitAfter: types.Units(uint64(100 * (i + 1))),
			PaymentID:  id.NewPaymentID(),
			PaymentRef: fmt.Sprintf("ref-%d", i),
		}
		if err := s.CreatePurchase(ctx, r); err != nil {
			t.Fatalf("CreatePurchase: %v", err)
		}
		receipts = append(receipts, r)
	}

	got, err := s.GetPurchase(ctx, receipts[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Buyer != Addr(0x11) || got.PaymentRef != "ref-1" || !got.LimitAfter.Equal(types.Units(200)) ||
		got.PaymentID.String() != receipts[1].PaymentID.String() || got.Agent != c.Agent {
		t.Errorf("GetPurchase = %+v", got)
	}
	if _, err := s.GetPurchase(ctx, id.NewPurchaseID()); !errors.Is(err, agentchat.ErrPurchaseNotFound) {
		t.Errorf("missing purchase: err = %v", err)
	}

	all, err := s.ListPurchases(ctx, c.ID, purchase.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID.String() != receipts[0].ID.String() || all[2].ID.String() != receipts[2].ID.String() {
		t.Errorf("ListPurchases order wrong: %v", all)
	}

	mine, err := s.ListPurchases(ctx, c.ID, purchase.ListOpts{Buyer: account.Some(Addr(0x10))})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Errorf("buyer filter len = %d, want 2", len(mine))
	}

	none, err := s.ListPurchases(ctx, id.NewContractID(), purchase.ListOpts{})
	if err != nil || len(none) != 0 {
		t.Errorf("other contract = %v, %v", none, err)
	}
}

func testTransfers(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)

	first := &ownership.Transfer{
		Entity:      types.NewEntity(base),
		ID:          id.NewTransferID(),
		ContractID:  c.ID,
		From:        Addr(0x01),
		Candidate:   Addr(0x02),
		Status:      ownership.StatusPending,
		InitiatedAt: base,
	}
	second := &ownership.Transfer{
		Entity:      types.NewEntity(base.Add(time.Minute)),
		ID:          id.NewTransferID(),
		ContractID:  c.ID,
		From:        Addr(0x01),
		Candidate:   Addr(0x03),
		Status:      ownership.StatusPending,
		InitiatedAt: base.Add(time.Minute),
	}
	for _, tr := range []*ownership.Transfer{first, second} {
		if err := s.CreateTransfer(ctx, tr); err != nil {
			t.Fatalf("CreateTransfer: %v", err)
		}
	}

	first.Resolve(ownership.StatusSuperseded, base.Add(time.Minute))
	if err := s.UpdateTransfer(ctx, first); err != nil {
		t.Fatalf("UpdateTransfer: %v", err)
	}

	got, err := s.GetTransfer(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ownership.StatusSuperseded || !got.ResolvedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("GetTransfer = %+v", got)
	}
	if got.Candidate != Addr(0x02) || got.From != Addr(0x01) || !got.InitiatedAt.Equal(base) {
		t.Errorf("GetTransfer fields = %+v", got)
	}

	pending, err := s.ListTransfers(ctx, c.ID, ownership.ListOpts{Status: ownership.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID.String() != second.ID.String() || !pending[0].ResolvedAt.IsZero() {
		t.Errorf("pending = %v", pending)
	}

	all, err := s.ListTransfers(ctx, c.ID, ownership.ListOpts{})
	if err != nil || len(all) != 2 || all[0].ID.String() != first.ID.String() {
		t.Errorf("all = %v, %v", all, err)
	}

	if _, err := s.GetTransfer(ctx, id.NewTransferID()); !errors.Is(err, agentchat.ErrTransferNotFound) {
		t.Errorf("missing transfer: err = %v", err)
	}
	ghost := *second
	ghost.ID = id.NewTransferID()
	if err := s.UpdateTransfer(ctx, &ghost); !errors.Is(err, agentchat.ErrTransferNotFound) {
		t.Errorf("update missing transfer: err = %v", err)
	}
}

func testAtomicCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateContract(ctx, c); err != nil {
			return err
		}
		if err := tx.SetChatLimit(ctx, c.ID, Addr(0x10), types.Units(5), base); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		limit, err := tx.GetChatLimit(ctx, c.ID, Addr(0x10))
		if err != nil {
			return err
		}
		if !limit.Equal(types.Units(5)) {
			return fmt.Errorf("read-your-writes: got %s", limit)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}

	limit, err := s.GetChatLimit(ctx, c.ID, Addr(0x10))
	if err != nil || !limit.Equal(types.Units(5)) {
		t.Errorf("after commit = %s, %v", limit, err)
	}
}

func testAtomicRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(Addr(0xa1), Addr(0x01), base)
	mustCreate(t, s, c)
	if err := s.SetChatLimit(ctx, c.ID, Addr(0x10), types.Units(1), base); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	receipt := &purchase.Receipt{
		Entity:     types.NewEntity(base),
		ID:         id.NewPurchaseID(),
		ContractID: c.ID,
		Buyer:      Addr(0x10),
		Agent:      c.Agent,
		Paid:       types.Units(1),
		Granted:    types.Units(100),
		LimitAfter: types.Units(101),
		PaymentID:  id.NewPaymentID(),
	}

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.SetChatLimit(ctx, c.ID, Addr(0x10), types.Units(101), base); err != nil {
			return err
		}
		if err := tx.SetChatLimit(ctx, c.ID, Addr(0x11), types.Units(9), base); err != nil {
			return err
		}
		if err := tx.CreatePurchase(ctx, receipt); err != nil {
			return err
		}
		updated := c.Clone()
		updated.Pricing.BuyLimitPrice = types.Units(50)
		if err := tx.UpdateContract(ctx, updated); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic err = %v, want boom", err)
	}

	limit, err := s.GetChatLimit(ctx, c.ID, Addr(0x10))
	if err != nil || !limit.Equal(types.Units(1)) {
		t.Errorf("limit after rollback = %s, %v", limit, err)
	}
	limit, err = s.GetChatLimit(ctx, c.ID, Addr(0x11))
	if err != nil || !limit.IsZero() {
		t.Errorf("new user after rollback = %s, %v", limit, err)
	}
	if _, err := s.GetPurchase(ctx, receipt.ID); !errors.Is(err, agentchat.ErrPurchaseNotFound) {
		t.Errorf("purchase survived rollback: %v", err)
	}
	got, err := s.GetContract(ctx, c.ID)
	if err != nil || !got.Pricing.BuyLimitPrice.Equal(types.Units(1)) {
		t.Errorf("pricing after rollback = %v, %v", got, err)
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
