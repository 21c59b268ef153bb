// Package sqlite implements store.Store on SQLite through the Grove ORM and
// its pure-Go sqlitedriver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

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

// compile-time interface check
var _ store.Store = (*Store)(nil)

// queries is satisfied by *sqlitedriver.SqliteDB and *sqlitedriver.SqliteTx.
type queries interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
}

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
	q   queries
	tx  bool
}

// New creates a new SQLite store backed by Grove ORM. Use Open unless the
// caller manages the connection itself; SQLite needs a single writer
// connection.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{db: db, sdb: sdb, q: sdb}
}

// Open opens (creating if needed) the database file at path with foreign
// keys on, a busy timeout and immediate write transactions.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("agentchat/sqlite: create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	drv := sqlitedriver.New()
	if err := drv.Open(ctx, dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("agentchat/sqlite: open database: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("agentchat/sqlite: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.Ping(ctx))
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.tx {
		return errors.New("agentchat/sqlite: cannot close a store from inside a transaction")
	}
	return s.db.Close()
}

// Atomic runs fn inside a database transaction. Nested calls join the
// outer transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.tx {
		return fn(ctx, s)
	}

	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	if err := fn(ctx, &Store{db: s.db, sdb: s.sdb, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: agentchat/sqlite: commit: %w", agentchat.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Contract Store ====================

func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	_, err := s.q.NewInsert(toContractModel(c)).Exec(ctx)
	return classify("create contract", err)
}

func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error) {
	m := new(contractModel)
	err := s.q.NewSelect(m).
		Where("id = ?", contractID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, agentchat.ErrContractNotFound
		}
		return nil, classify("get contract", err)
	}
	return fromContractModel(m)
}

func (s *Store) GetContractByAgent(ctx context.Context, agent account.Address) (*contract.Contract, error) {
	m := new(contractModel)
	err := s.q.NewSelect(m).
		Where("agent = ?", account.Key(agent)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, agentchat.ErrContractNotFound
		}
		return nil, classify("get contract by agent", err)
	}
	return fromContractModel(m)
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	var models []contractModel
	q := s.q.NewSelect(&models)
	if owner, ok := opts.Owner.Get(); ok {
		q = q.Where("owner = ?", account.Key(owner))
	}
	q = page(q.OrderExpr("created_at ASC, id ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list contracts", err)
	}

	result := make([]*contract.Contract, len(models))
	for i := range models {
		c, err := fromContractModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	res, err := s.q.NewUpdate(toContractModel(c)).
		Column("owner", "pending_owner", "pending_since", "transfer_id",
			"buy_limit", "buy_limit_price", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return classify("update contract", err)
	}
	return expectOne(res, agentchat.ErrContractNotFound)
}

// ==================== Allowance Store ====================

func (s *Store) GetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address) (types.Amount, error) {
	m := new(chatLimitModel)
	err := s.q.NewSelect(m).
		Where("contract_id = ?", contractID.String()).
		Where("user_address = ?", account.Key(user)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return types.ZeroAmount(), nil
		}
		return types.ZeroAmount(), classify("get chat limit", err)
	}
	return types.ParseAmount(m.ChatLimit)
}

func (s *Store) SetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error {
	m := &chatLimitModel{
		ContractID:  contractID.String(),
		UserAddress: account.Key(user),
		ChatLimit:   limit.String(),
		UpdatedAt:   types.UnixNano(types.Stamp(at)),
	}
	_, err := s.q.NewInsert(m).
		OnConflict("(contract_id, user_address) DO UPDATE").
		Set("chat_limit = excluded.chat_limit").
		Set("updated_at = excluded.updated_at").
		Exec(ctx)
	return classify("set chat limit", err)
}

func (s *Store) ListChatLimits(ctx context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error) {
	var models []chatLimitModel
	q := s.q.NewSelect(&models).Where("contract_id = ?", contractID.String())
	if opts.NonZero {
		q = q.Where("chat_limit <> ?", "0")
	}
	q = page(q.OrderExpr("user_address ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list chat limits", err)
	}

	result := make([]*allowance.Entry, len(models))
	for i := range models {
		e, err := fromChatLimitModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, r *purchase.Receipt) error {
	_, err := s.q.NewInsert(toPurchaseModel(r)).Exec(ctx)
	return classify("create purchase", err)
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Receipt, error) {
	m := new(purchaseModel)
	err := s.q.NewSelect(m).
		Where("id = ?", purchaseID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, agentchat.ErrPurchaseNotFound
		}
		return nil, classify("get purchase", err)
	}
	return fromPurchaseModel(m)
}

func (s *Store) ListPurchases(ctx context.Context, contractID id.ContractID, opts purchase.ListOpts) ([]*purchase.Receipt, error) {
	var models []purchaseModel
	q := s.q.NewSelect(&models).Where("contract_id = ?", contractID.String())
	if buyer, ok := opts.Buyer.Get(); ok {
		q = q.Where("buyer = ?", account.Key(buyer))
	}
	q = page(q.OrderExpr("created_at ASC, id ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list purchases", err)
	}

	result := make([]*purchase.Receipt, len(models))
	for i := range models {
		r, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Ownership Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *ownership.Transfer) error {
	_, err := s.q.NewInsert(toTransferModel(t)).Exec(ctx)
	return classify("create transfer", err)
}

func (s *Store) GetTransfer(ctx context.Context, transferID id.TransferID) (*ownership.Transfer, error) {
	m := new(transferModel)
	err := s.q.NewSelect(m).
		Where("id = ?", transferID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, agentchat.ErrTransferNotFound
		}
		return nil, classify("get transfer", err)
	}
	return fromTransferModel(m)
}

func (s *Store) UpdateTransfer(ctx context.Context, t *ownership.Transfer) error {
	res, err := s.q.NewUpdate(toTransferModel(t)).
		Column("status", "resolved_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return classify("update transfer", err)
	}
	return expectOne(res, agentchat.ErrTransferNotFound)
}

func (s *Store) ListTransfers(ctx context.Context, contractID id.ContractID, opts ownership.ListOpts) ([]*ownership.Transfer, error) {
	var models []transferModel
	q := s.q.NewSelect(&models).Where("contract_id = ?", contractID.String())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	q = page(q.OrderExpr("created_at ASC, id ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list transfers", err)
	}

	result := make([]*ownership.Transfer, len(models))
	for i := range models {
		t, err := fromTransferModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

// classify maps driver errors onto agentchat sentinels. modernc reports
// constraint and locking failures only through the message text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: agentchat/sqlite: %s: %w", agentchat.ErrAlreadyExists, op, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: agentchat/sqlite: %s: %w", agentchat.ErrContractNotFound, op, err)
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: agentchat/sqlite: %s: %w", agentchat.ErrTransactionFailed, op, err)
	case errors.Is(err, grove.ErrDriverClosed), strings.Contains(msg, "sql: database is closed"):
		return fmt.Errorf("%w: agentchat/sqlite: %s: %w", agentchat.ErrStoreClosed, op, err)
	}
	return fmt.Errorf("agentchat/sqlite: %s: %w", op, err)
}

func expectOne(res driver.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// page applies limit and offset. SQLite rejects OFFSET without LIMIT, so
// an offset alone gets an unbounded limit.
func page(q *sqlitedriver.SelectQuery, limit, offset int) *sqlitedriver.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	} else if offset > 0 {
		q = q.Limit(math.MaxInt)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
