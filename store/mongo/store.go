// Package mongo implements store.Store on MongoDB through the Grove ORM and
// its mongodriver. Transactions need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

// Collection name constants.
const (
	colContracts  = "agentchat_contracts"
	colChatLimits = "agentchat_chat_limits"
	colPurchases  = "agentchat_purchases"
	colTransfers  = "agentchat_transfers"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// queries is satisfied by *mongodriver.MongoDB and *mongodriver.MongoTx.
type queries interface {
	NewFind(model ...any) *mongodriver.FindQuery
	NewInsert(model any) *mongodriver.InsertQuery
	NewUpdate(model any) *mongodriver.UpdateQuery
}

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
	q   queries
	tx  bool
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	mdb := mongodriver.Unwrap(db)
	return &Store{db: db, mdb: mdb, q: mdb}
}

// Open connects to uri, selects database name and verifies the connection.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	drv := mongodriver.New()
	if err := drv.Open(ctx, uri, mongodriver.WithDatabase(name)); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("agentchat/mongo: connect: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("agentchat/mongo: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Database returns the underlying mongo database for direct access.
func (s *Store) Database() *mongo.Database { return s.mdb.Database() }

// Migrate creates indexes for all agentchat collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: agentchat/mongo: migrate %s indexes: %w", agentchat.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.Ping(ctx))
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.tx {
		return errors.New("agentchat/mongo: cannot close a store from inside a transaction")
	}
	return s.db.Close()
}

// Atomic runs fn inside a multi-document transaction. The callback runs
// exactly once; the driver's automatic callback retry is not used because fn
// may have side effects outside the database.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.tx {
		return fn(ctx, s)
	}

	gtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	mtx, ok := gtx.Raw().(*mongodriver.MongoTx)
	if !ok {
		_ = gtx.Rollback()
		return fmt.Errorf("agentchat/mongo: unexpected transaction type %T", gtx.Raw())
	}

	if err := fn(mtx.SessionContext(ctx), &Store{db: s.db, mdb: s.mdb, q: mtx, tx: true}); err != nil {
		_ = mtx.Rollback()
		return err
	}
	if err := mtx.Commit(); err != nil {
		return fmt.Errorf("%w: agentchat/mongo: commit: %w", agentchat.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Contract Store ====================

func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	_, err := s.q.NewInsert(toContractModel(c)).Exec(ctx)
	return classify("create contract", err)
}

func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error) {
	return s.findContract(ctx, bson.M{"_id": contractID.String()})
}

func (s *Store) GetContractByAgent(ctx context.Context, agent account.Address) (*contract.Contract, error) {
	return s.findContract(ctx, bson.M{"agent": account.Key(agent)})
}

func (s *Store) findContract(ctx context.Context, filter bson.M) (*contract.Contract, error) {
	var m contractModel
	if err := s.q.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, agentchat.ErrContractNotFound
		}
		return nil, classify("get contract", err)
	}
	return fromContractModel(&m)
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	filter := bson.M{}
	if owner, ok := opts.Owner.Get(); ok {
		filter["owner"] = account.Key(owner)
	}

	var models []contractModel
	q := page(s.q.NewFind(&models).Filter(filter).Sort(createdOrder), opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, classify("list contracts", err)
	}

	out := make([]*contract.Contract, 0, len(models))
	for i := range models {
		c, err := fromContractModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	m := toContractModel(c)
	update := bson.M{
		"$set": bson.M{
			"owner":           m.Owner,
			"pending_since":   m.PendingSince,
			"buy_limit":       m.BuyLimit,
			"buy_limit_price": m.BuyLimitPrice,
			"updated_at":      m.UpdatedAt,
		},
	}
	if m.PendingOwner != nil {
		update["$set"].(bson.M)["pending_owner"] = *m.PendingOwner
		update["$set"].(bson.M)["transfer_id"] = m.TransferID
	} else {
		update["$unset"] = bson.M{"pending_owner": "", "transfer_id": ""}
	}

	res, err := s.q.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return classify("update contract", err)
	}
	if res.MatchedCount() == 0 {
		return agentchat.ErrContractNotFound
	}
	return nil
}

// ==================== Allowance Store ====================

func (s *Store) GetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address) (types.Amount, error) {
	var m chatLimitModel
	err := s.q.NewFind(&m).Filter(bson.M{"_id": chatLimitKey(contractID, user)}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return types.ZeroAmount(), nil
		}
		return types.ZeroAmount(), classify("get chat limit", err)
	}
	return types.ParseAmount(m.ChatLimit)
}

// SetChatLimit upserts the row. MongoDB has no foreign keys, so the contract
// is checked explicitly.
func (s *Store) SetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error {
	n, err := s.q.NewFind((*contractModel)(nil)).Filter(bson.M{"_id": contractID.String()}).Count(ctx)
	if err != nil {
		return classify("set chat limit", err)
	}
	if n == 0 {
		return agentchat.ErrContractNotFound
	}

	m := &chatLimitModel{
		ID:          chatLimitKey(contractID, user),
		ContractID:  contractID.String(),
		UserAddress: account.Key(user),
		ChatLimit:   limit.String(),
		UpdatedAt:   types.UnixNano(types.Stamp(at)),
	}
	_, err = s.q.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Upsert().
		Exec(ctx)
	return classify("set chat limit", err)
}

func (s *Store) ListChatLimits(ctx context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error) {
	filter := bson.M{"contract_id": contractID.String()}
	if opts.NonZero {
		filter["chat_limit"] = bson.M{"$ne": "0"}
	}

	var models []chatLimitModel
	q := page(s.q.NewFind(&models).Filter(filter).Sort(bson.D{{Key: "user_address", Value: 1}}), opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, classify("list chat limits", err)
	}

	out := make([]*allowance.Entry, 0, len(models))
	for i := range models {
		e, err := fromChatLimitModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, r *purchase.Receipt) error {
	_, err := s.q.NewInsert(toPurchaseModel(r)).Exec(ctx)
	return classify("create purchase", err)
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Receipt, error) {
	var m purchaseModel
	if err := s.q.NewFind(&m).Filter(bson.M{"_id": purchaseID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, agentchat.ErrPurchaseNotFound
		}
		return nil, classify("get purchase", err)
	}
	return fromPurchaseModel(&m)
}

func (s *Store) ListPurchases(ctx context.Context, contractID id.ContractID, opts purchase.ListOpts) ([]*purchase.Receipt, error) {
	filter := bson.M{"contract_id": contractID.String()}
	if buyer, ok := opts.Buyer.Get(); ok {
		filter["buyer"] = account.Key(buyer)
	}

	var models []purchaseModel
	q := page(s.q.NewFind(&models).Filter(filter).Sort(createdOrder), opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, classify("list purchases", err)
	}

	out := make([]*purchase.Receipt, 0, len(models))
	for i := range models {
		r, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ==================== Ownership Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *ownership.Transfer) error {
	_, err := s.q.NewInsert(toTransferModel(t)).Exec(ctx)
	return classify("create transfer", err)
}

func (s *Store) GetTransfer(ctx context.Context, transferID id.TransferID) (*ownership.Transfer, error) {
	var m transferModel
	if err := s.q.NewFind(&m).Filter(bson.M{"_id": transferID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, agentchat.ErrTransferNotFound
		}
		return nil, classify("get transfer", err)
	}
	return fromTransferModel(&m)
}

func (s *Store) UpdateTransfer(ctx context.Context, t *ownership.Transfer) error {
	res, err := s.q.NewUpdate((*transferModel)(nil)).
		Filter(bson.M{"_id": t.ID.String()}).
		Set("status", string(t.Status)).
		Set("resolved_at", types.UnixNano(t.ResolvedAt)).
		Set("updated_at", types.UnixNano(t.UpdatedAt)).
		Exec(ctx)
	if err != nil {
		return classify("update transfer", err)
	}
	if res.MatchedCount() == 0 {
		return agentchat.ErrTransferNotFound
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, contractID id.ContractID, opts ownership.ListOpts) ([]*ownership.Transfer, error) {
	filter := bson.M{"contract_id": contractID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	var models []transferModel
	q := page(s.q.NewFind(&models).Filter(filter).Sort(createdOrder), opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, classify("list transfers", err)
	}

	out := make([]*ownership.Transfer, 0, len(models))
	for i := range models {
		t, err := fromTransferModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ==================== Helpers ====================

var createdOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func page(q *mongodriver.FindQuery, limit, offset int) *mongodriver.FindQuery {
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}
	return q
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: agentchat/mongo: %s: %w", agentchat.ErrAlreadyExists, op, err)
	}
	if errors.Is(err, grove.ErrDriverClosed) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: agentchat/mongo: %s: %w", agentchat.ErrStoreClosed, op, err)
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: agentchat/mongo: %s: %w", agentchat.ErrTransactionFailed, op, err)
	}
	return fmt.Errorf("agentchat/mongo: %s: %w", op, err)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colContracts: {
			{
				Keys:    bson.D{{Key: "agent", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "owner", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colChatLimits: {
			{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "user_address", Value: 1}}},
		},
		colPurchases: {
			{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "buyer", Value: 1}}},
		},
		colTransfers: {
			{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
