// Package postgres implements store.Store on PostgreSQL through the Grove
// ORM and its pgx-backed pgdriver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"

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

// queries is satisfied by *pgdriver.PgDB and *pgdriver.PgTx.
type queries interface {
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
}

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
	q  queries
	tx bool
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	pg := pgdriver.Unwrap(db)
	return &Store{db: db, pg: pg, q: pg}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv := pgdriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("agentchat/postgres: connect: %w", err)
	}
	if err := drv.Ping(ctx); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("agentchat/postgres: ping: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("agentchat/postgres: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.Ping(ctx))
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.tx {
		return errors.New("agentchat/postgres: cannot close a store from inside a transaction")
	}
	return s.db.Close()
}

// Atomic runs fn inside a serializable transaction. Serialization failures
// surface as agentchat.ErrTransactionFailed, which is retryable.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.tx {
		return fn(ctx, s)
	}

	tx, err := s.pg.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelSerializable})
	if err != nil {
		return classify("begin", err)
	}
	if err := fn(ctx, &Store{db: s.db, pg: s.pg, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: agentchat/postgres: commit: %w", agentchat.ErrTransactionFailed, err)
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
		Where("id = $1", contractID.String()).
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
		Where("agent = $1", account.Key(agent)).
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
		q = q.Where("owner = $1", account.Key(owner))
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
		Where("contract_id = $1", contractID.String()).
		Where("user_address = $2", account.Key(user)).
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
		Set("chat_limit = EXCLUDED.chat_limit").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classify("set chat limit", err)
}

func (s *Store) ListChatLimits(ctx context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error) {
	var models []chatLimitModel
	q := s.q.NewSelect(&models).Where("contract_id = $1", contractID.String())
	if opts.NonZero {
		q = q.Where("chat_limit <> '0'")
	}
	// Byte order, matching the other backends regardless of the database
	// collation.
	q = page(q.OrderExpr(`user_address COLLATE "C" ASC`), opts.Limit, opts.Offset)

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
		Where("id = $1", purchaseID.String()).
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
	q := s.q.NewSelect(&models).Where("contract_id = $1", contractID.String())
	if buyer, ok := opts.Buyer.Get(); ok {
		q = q.Where("buyer = $2", account.Key(buyer))
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
		Where("id = $1", transferID.String()).
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
	q := s.q.NewSelect(&models).Where("contract_id = $1", contractID.String())
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
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

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

// SQLSTATE codes mapped onto agentchat sentinels.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, grove.ErrDriverClosed) {
		return fmt.Errorf("%w: agentchat/postgres: %s: %w", agentchat.ErrStoreClosed, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: agentchat/postgres: %s: %w", agentchat.ErrAlreadyExists, op, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: agentchat/postgres: %s: %w", agentchat.ErrContractNotFound, op, err)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: agentchat/postgres: %s: %w", agentchat.ErrTransactionFailed, op, err)
		}
	}
	return fmt.Errorf("agentchat/postgres: %s: %w", op, err)
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

func page(q *pgdriver.SelectQuery, limit, offset int) *pgdriver.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
