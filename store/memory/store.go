// Package memory implements store.Store in process memory. It is meant for
// tests and the development daemon; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/types"
)

var _ store.Store = (*Store)(nil)

// Store guards one dataset with a RWMutex. Atomic holds the write lock for
// the whole callback and journals an undo step for every write, replaying
// the journal backwards when the callback fails.
type Store struct {
	mu     sync.RWMutex
	d      *data
	closed bool
}

func New() *Store {
	return &Store{d: newData()}
}

// data holds every record. Its methods do no locking.
type data struct {
	contracts map[string]*contract.Contract
	agents    map[account.Address]string

	// contract id -> user -> entry
	limits map[string]map[account.Address]*allowance.Entry

	purchases     map[string]*purchase.Receipt
	purchaseOrder []string

	transfers     map[string]*ownership.Transfer
	transferOrder []string

	// Undo steps of the running Atomic callback, nil outside one. Stored
	// records are replaced, never mutated, so a step can keep the old pointer.
	journal []func()
}

func newData() *data {
	return &data{
		contracts: make(map[string]*contract.Contract),
		agents:    make(map[account.Address]string),
		limits:    make(map[string]map[account.Address]*allowance.Entry),
		purchases: make(map[string]*purchase.Receipt),
		transfers: make(map[string]*ownership.Transfer),
	}
}

func (d *data) record(undo func()) {
	if d.journal != nil {
		d.journal = append(d.journal, undo)
	}
}

func (d *data) rollback() {
	for i := len(d.journal) - 1; i >= 0; i-- {
		d.journal[i]()
	}
}

// ──────────────────────────────────────────────────
// Contracts
// ──────────────────────────────────────────────────

func (d *data) createContract(c *contract.Contract) error {
	key := c.ID.String()
	if _, exists := d.contracts[key]; exists {
		return fmt.Errorf("%w: contract %s", agentchat.ErrAlreadyExists, key)
	}
	if _, taken := d.agents[c.Agent]; taken {
		return fmt.Errorf("%w: agent %s already has a contract", agentchat.ErrAlreadyExists, c.Agent.Hex())
	}
	d.contracts[key] = c.Clone()
	d.agents[c.Agent] = key
	d.record(func() {
		delete(d.contracts, key)
		delete(d.agents, c.Agent)
	})
	return nil
}

func (d *data) getContract(contractID id.ContractID) (*contract.Contract, error) {
	if c, ok := d.contracts[contractID.String()]; ok {
		return c.Clone(), nil
	}
	return nil, agentchat.ErrContractNotFound
}

func (d *data) getContractByAgent(agent account.Address) (*contract.Contract, error) {
	key, ok := d.agents[agent]
	if !ok {
		return nil, agentchat.ErrContractNotFound
	}
	return d.contracts[key].Clone(), nil
}

func (d *data) listContracts(opts contract.ListOpts) []*contract.Contract {
	result := make([]*contract.Contract, 0, len(d.contracts))
	for _, c := range d.contracts {
		if owner, ok := opts.Owner.Get(); ok && c.Ownership.Owner != owner {
			continue
		}
		result = append(result, c.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	start, end := store.Page(len(result), opts.Offset, opts.Limit)
	return result[start:end]
}

func (d *data) updateContract(c *contract.Contract) error {
	key := c.ID.String()
	current, ok := d.contracts[key]
	if !ok {
		return agentchat.ErrContractNotFound
	}
	next := current.Clone()
	next.Ownership = c.Ownership
	next.Pricing = c.Pricing
	next.UpdatedAt = c.UpdatedAt
	d.contracts[key] = next
	d.record(func() { d.contracts[key] = current })
	return nil
}

// ──────────────────────────────────────────────────
// Allowances
// ──────────────────────────────────────────────────

func (d *data) getChatLimit(contractID id.ContractID, user account.Address) types.Amount {
	if e, ok := d.limits[contractID.String()][user]; ok {
		return e.Limit
	}
	return types.ZeroAmount()
}

func (d *data) setChatLimit(contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error {
	key := contractID.String()
	if _, ok := d.contracts[key]; !ok {
		return agentchat.ErrContractNotFound
	}
	users, ok := d.limits[key]
	if !ok {
		users = make(map[account.Address]*allowance.Entry)
		d.limits[key] = users
		d.record(func() { delete(d.limits, key) })
	}
	if prev, had := users[user]; had {
		d.record(func() { users[user] = prev })
	} else {
		d.record(func() { delete(users, user) })
	}
	users[user] = &allowance.Entry{
		ContractID: contractID,
		User:       user,
		Limit:      limit,
		UpdatedAt:  types.Stamp(at),
	}
	return nil
}

func (d *data) listChatLimits(contractID id.ContractID, opts allowance.ListOpts) []*allowance.Entry {
	users := d.limits[contractID.String()]
	result := make([]*allowance.Entry, 0, len(users))
	for _, e := range users {
		if opts.NonZero && e.Limit.IsZero() {
			continue
		}
		e2 := *e
		result = append(result, &e2)
	}
	sort.Slice(result, func(i, j int) bool {
		return account.Key(result[i].User) < account.Key(result[j].User)
	})
	start, end := store.Page(len(result), opts.Offset, opts.Limit)
	return result[start:end]
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

func (d *data) createPurchase(r *purchase.Receipt) error {
	key := r.ID.String()
	if _, exists := d.purchases[key]; exists {
		return fmt.Errorf("%w: purchase %s", agentchat.ErrAlreadyExists, key)
	}
	r2 := *r
	d.purchases[key] = &r2
	n := len(d.purchaseOrder)
	d.purchaseOrder = append(d.purchaseOrder, key)
	d.record(func() {
		delete(d.purchases, key)
		d.purchaseOrder = d.purchaseOrder[:n]
	})
	return nil
}

func (d *data) getPurchase(purchaseID id.PurchaseID) (*purchase.Receipt, error) {
	if r, ok := d.purchases[purchaseID.String()]; ok {
		r2 := *r
		return &r2, nil
	}
	return nil, agentchat.ErrPurchaseNotFound
}

func (d *data) listPurchases(contractID id.ContractID, opts purchase.ListOpts) []*purchase.Receipt {
	result := make([]*purchase.Receipt, 0)
	for _, key := range d.purchaseOrder {
		r := d.purchases[key]
		if r.ContractID.String() != contractID.String() {
			continue
		}
		if buyer, ok := opts.Buyer.Get(); ok && r.Buyer != buyer {
			continue
		}
		r2 := *r
		result = append(result, &r2)
	}
	start, end := store.Page(len(result), opts.Offset, opts.Limit)
	return result[start:end]
}

// ──────────────────────────────────────────────────
// Ownership transfers
// ──────────────────────────────────────────────────

func (d *data) createTransfer(t *ownership.Transfer) error {
	key := t.ID.String()
	if _, exists := d.transfers[key]; exists {
		return fmt.Errorf("%w: transfer %s", agentchat.ErrAlreadyExists, key)
	}
	t2 := *t
	d.transfers[key] = &t2
	n := len(d.transferOrder)
	d.transferOrder = append(d.transferOrder, key)
	d.record(func() {
		delete(d.transfers, key)
		d.transferOrder = d.transferOrder[:n]
	})
	return nil
}

func (d *data) getTransfer(transferID id.TransferID) (*ownership.Transfer, error) {
	if t, ok := d.transfers[transferID.String()]; ok {
		t2 := *t
		return &t2, nil
	}
	return nil, agentchat.ErrTransferNotFound
}

func (d *data) updateTransfer(t *ownership.Transfer) error {
	key := t.ID.String()
	prev, ok := d.transfers[key]
	if !ok {
		return agentchat.ErrTransferNotFound
	}
	t2 := *t
	d.transfers[key] = &t2
	d.record(func() { d.transfers[key] = prev })
	return nil
}

func (d *data) listTransfers(contractID id.ContractID, opts ownership.ListOpts) []*ownership.Transfer {
	result := make([]*ownership.Transfer, 0)
	for _, key := range d.transferOrder {
		t := d.transfers[key]
		if t.ContractID.String() != contractID.String() {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		t2 := *t
		result = append(result, &t2)
	}
	start, end := store.Page(len(result), opts.Offset, opts.Limit)
	return result[start:end]
}

// ──────────────────────────────────────────────────
// store.Store
// ──────────────────────────────────────────────────

func (s *Store) read(fn func(d *data) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return agentchat.ErrStoreClosed
	}
	return fn(s.d)
}

func (s *Store) write(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return agentchat.ErrStoreClosed
	}
	return fn(s.d)
}

func (s *Store) CreateContract(_ context.Context, c *contract.Contract) error {
	return s.write(func(d *data) error { return d.createContract(c) })
}

func (s *Store) GetContract(_ context.Context, contractID id.ContractID) (c *contract.Contract, err error) {
	err = s.read(func(d *data) error {
		c, err = d.getContract(contractID)
		return err
	})
	return c, err
}

func (s *Store) GetContractByAgent(_ context.Context, agent account.Address) (c *contract.Contract, err error) {
	err = s.read(func(d *data) error {
		c, err = d.getContractByAgent(agent)
		return err
	})
	return c, err
}

func (s *Store) ListContracts(_ context.Context, opts contract.ListOpts) (out []*contract.Contract, err error) {
	err = s.read(func(d *data) error {
		out = d.listContracts(opts)
		return nil
	})
	return out, err
}

func (s *Store) UpdateContract(_ context.Context, c *contract.Contract) error {
	return s.write(func(d *data) error { return d.updateContract(c) })
}

func (s *Store) GetChatLimit(_ context.Context, contractID id.ContractID, user account.Address) (limit types.Amount, err error) {
	err = s.read(func(d *data) error {
		limit = d.getChatLimit(contractID, user)
		return nil
	})
	return limit, err
}

func (s *Store) SetChatLimit(_ context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error {
	return s.write(func(d *data) error { return d.setChatLimit(contractID, user, limit, at) })
}

func (s *Store) ListChatLimits(_ context.Context, contractID id.ContractID, opts allowance.ListOpts) (out []*allowance.Entry, err error) {
	err = s.read(func(d *data) error {
		out = d.listChatLimits(contractID, opts)
		return nil
	})
	return out, err
}

func (s *Store) CreatePurchase(_ context.Context, r *purchase.Receipt) error {
	return s.write(func(d *data) error { return d.createPurchase(r) })
}

func (s *Store) GetPurchase(_ context.Context, purchaseID id.PurchaseID) (r *purchase.Receipt, err error) {
	err = s.read(func(d *data) error {
		r, err = d.getPurchase(purchaseID)
		return err
	})
	return r, err
}

func (s *Store) ListPurchases(_ context.Context, contractID id.ContractID, opts purchase.ListOpts) (out []*purchase.Receipt, err error) {
	err = s.read(func(d *data) error {
		out = d.listPurchases(contractID, opts)
		return nil
	})
	return out, err
}

func (s *Store) CreateTransfer(_ context.Context, t *ownership.Transfer) error {
	return s.write(func(d *data) error { return d.createTransfer(t) })
}

func (s *Store) GetTransfer(_ context.Context, transferID id.TransferID) (t *ownership.Transfer, err error) {
	err = s.read(func(d *data) error {
		t, err = d.getTransfer(transferID)
		return err
	})
	return t, err
}

func (s *Store) UpdateTransfer(_ context.Context, t *ownership.Transfer) error {
	return s.write(func(d *data) error { return d.updateTransfer(t) })
}

func (s *Store) ListTransfers(_ context.Context, contractID id.ContractID, opts ownership.ListOpts) (out []*ownership.Transfer, err error) {
	err = s.read(func(d *data) error {
		out = d.listTransfers(contractID, opts)
		return nil
	})
	return out, err
}

// Atomic runs fn with the write lock held and undoes every write fn made
// when it returns an error or panics. Other callers block until fn returns.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return s.write(func(d *data) error {
		d.journal = []func(){}
		committed := false
		defer func() {
			if !committed {
				d.rollback()
			}
			d.journal = nil
		}()

		if err := fn(ctx, &tx{d: d}); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	return s.read(func(*data) error { return nil })
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
