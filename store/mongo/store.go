/*
Package mongo provides a MongoDB implementation of ledger.TxStore.

PURPOSE:
  Document-store backend for deployments that already run MongoDB. Each
  record type lives in its own collection; ids are stored as their string
  form in _id and decimals as strings.

COLLECTIONS:
  liabilities  one document per liability
  entries      charges and payments, keyed by liability_id
  plans        payment plans with embedded allocations

CONCURRENCY:
  WithTx runs the unit of work in a multi-document transaction, which needs
  a replica set (a single-node one is enough). Two units of work that
  update the same liability conflict at the second write; the server labels
  the conflict TransientTransactionError and the whole unit of work is run
  again. Conflicts that outlive the retry budget surface as
  ledger.ErrTransactionFailed.

USAGE:
  store, err := mongo.New(ctx, "mongodb://localhost:27017/?replicaSet=rs0", "planner")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

// Collection names.
const (
	colLiabilities = "liabilities"
	colEntries     = "entries"
	colPlans       = "plans"
)

var _ ledger.TxStore = (*Store)(nil)

// Store implements ledger.TxStore on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and pings the primary. It does not create indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Migrate creates the collections and indexes. Creating an index that
// already exists is a no-op, so Migrate can run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for col, models := range migrationIndexes() {
		// Collections cannot be created implicitly inside a transaction on
		// older servers, so create them up front.
		if !have[col] {
			if err := s.db.CreateCollection(ctx, col); err != nil {
				return fmt.Errorf("failed to create collection %s: %w", col, err)
			}
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", col, err)
		}
	}
	return nil
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colLiabilities: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "liability_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colPlans: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}

// Reset deletes all ledger data. Used by tests.
func (s *Store) Reset(ctx context.Context) error {
	for _, col := range []string{colEntries, colPlans, colLiabilities} {
		if _, err := s.db.Collection(col).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to reset %s: %w", col, err)
		}
	}
	return nil
}

// =============================================================================
// LIABILITIES
// =============================================================================

func (s *Store) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	if _, err := s.db.Collection(colLiabilities).InsertOne(ctx, toLiabilityModel(l)); err != nil {
		return wrapErr("failed to insert liability", err)
	}
	return nil
}

func (s *Store) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	var m liabilityModel
	err := s.db.Collection(colLiabilities).
		FindOne(ctx, ownedBy(userID, liabilityID)).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.NewNotFound(ledger.ResourceLiability, liabilityID.String())
	}
	if err != nil {
		return nil, wrapErr("failed to get liability", err)
	}
	return fromLiabilityModel(&m)
}

func (s *Store) ListLiabilities(ctx context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	filter := bson.M{"user_id": string(userID)}
	if status != "" {
		filter["status"] = string(status)
	}

	var models []liabilityModel
	if err := s.findAll(ctx, colLiabilities, filter, 1, &models); err != nil {
		return nil, wrapErr("failed to list liabilities", err)
	}

	out := make([]*ledger.Liability, 0, len(models))
	for i := range models {
		l, err := fromLiabilityModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) UpdateLiability(ctx context.Context, l *ledger.Liability) error {
	res, err := s.db.Collection(colLiabilities).
		ReplaceOne(ctx, ownedBy(l.UserID, l.ID), toLiabilityModel(l))
	if err != nil {
		return wrapErr("failed to update liability", err)
	}
	if res.MatchedCount == 0 {
		return ledger.NewNotFound(ledger.ResourceLiability, l.ID.String())
	}
	return nil
}

// DeleteLiability removes the liability and its entries. The relational
// stores cascade on the foreign key; here the entries are removed explicitly.
func (s *Store) DeleteLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) error {
	res, err := s.db.Collection(colLiabilities).DeleteOne(ctx, ownedBy(userID, liabilityID))
	if err != nil {
		return wrapErr("failed to delete liability", err)
	}
	if res.DeletedCount == 0 {
		return ledger.NewNotFound(ledger.ResourceLiability, liabilityID.String())
	}
	if _, err := s.DeleteEntries(ctx, userID, liabilityID); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *Store) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	if _, err := s.db.Collection(colEntries).InsertOne(ctx, toEntryModel(e)); err != nil {
		return wrapErr("failed to insert entry", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	var m entryModel
	err := s.db.Collection(colEntries).FindOne(ctx, ownedBy(userID, entryID)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.NewNotFound(ledger.ResourceEntry, entryID.String())
	}
	if err != nil {
		return nil, wrapErr("failed to get entry", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	filter := bson.M{"user_id": string(userID), "liability_id": liabilityID.String()}

	var models []entryModel
	if err := s.findAll(ctx, colEntries, filter, 1, &models); err != nil {
		return nil, wrapErr("failed to list entries", err)
	}

	out := make([]*ledger.Entry, 0, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	res, err := s.db.Collection(colEntries).UpdateOne(ctx, ownedBy(e.UserID, e.ID), bson.M{
		"$set": bson.M{
			"amount_cents": e.AmountCents,
			"entry_date":   e.Date,
			"notes":        e.Notes,
			"updated_at":   e.UpdatedAt,
		},
	})
	if err != nil {
		return wrapErr("failed to update entry", err)
	}
	if res.MatchedCount == 0 {
		return ledger.NewNotFound(ledger.ResourceEntry, e.ID.String())
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) error {
	res, err := s.db.Collection(colEntries).DeleteOne(ctx, ownedBy(userID, entryID))
	if err != nil {
		return wrapErr("failed to delete entry", err)
	}
	if res.DeletedCount == 0 {
		return ledger.NewNotFound(ledger.ResourceEntry, entryID.String())
	}
	return nil
}

func (s *Store) DeleteEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	res, err := s.db.Collection(colEntries).DeleteMany(ctx, bson.M{
		"user_id":      string(userID),
		"liability_id": liabilityID.String(),
	})
	if err != nil {
		return 0, wrapErr("failed to delete entries", err)
	}
	return int(res.DeletedCount), nil
}

// =============================================================================
// PLANS
// =============================================================================

func (s *Store) CreatePlan(ctx context.Context, p *ledger.Plan) error {
	if _, err := s.db.Collection(colPlans).InsertOne(ctx, toPlanModel(p)); err != nil {
		return wrapErr("failed to insert plan", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	var m planModel
	err := s.db.Collection(colPlans).FindOne(ctx, ownedBy(userID, planID)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.NewNotFound(ledger.ResourcePlan, planID.String())
	}
	if err != nil {
		return nil, wrapErr("failed to get plan", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	var models []planModel
	if err := s.findAll(ctx, colPlans, bson.M{"user_id": string(userID)}, -1, &models); err != nil {
		return nil, wrapErr("failed to list plans", err)
	}

	out := make([]*ledger.Plan, 0, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	res, err := s.db.Collection(colPlans).ReplaceOne(ctx, ownedBy(p.UserID, p.ID), toPlanModel(p))
	if err != nil {
		return wrapErr("failed to update plan", err)
	}
	if res.MatchedCount == 0 {
		return ledger.NewNotFound(ledger.ResourcePlan, p.ID.String())
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a multi-document transaction. Errors returned
// by fn are passed through unchanged after the transaction aborts.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: begin: %w", ledger.ErrTransactionFailed, err)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ledger.ErrTransactionFailed, err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	// WithTransaction reruns the callback on TransientTransactionError and
	// retries the commit on UnknownTransactionCommitResult.
	_, err = sess.WithTransaction(ctx, func(context.Context) (any, error) {
		return nil, fn(&txStore{store: s, sess: sess})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrTransactionFailed) || ledger.IsClientError(err) {
		return err
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("UnknownTransactionCommitResult") {
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	return err
}

// txStore binds every call to the session so the caller's own context
// (captured in fn) still joins the transaction.
type txStore struct {
	store *Store
	sess  *mongo.Session
}

func (t *txStore) bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *txStore) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	return t.store.CreateLiability(t.bind(ctx), l)
}

func (t *txStore) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	return t.store.GetLiability(t.bind(ctx), userID, liabilityID)
}

func (t *txStore) ListLiabilities(ctx context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	return t.store.ListLiabilities(t.bind(ctx), userID, status)
}

func (t *txStore) UpdateLiability(ctx context.Context, l *ledger.Liability) error {
	return t.store.UpdateLiability(t.bind(ctx), l)
}

func (t *txStore) DeleteLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) error {
	return t.store.DeleteLiability(t.bind(ctx), userID, liabilityID)
}

func (t *txStore) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	return t.store.CreateEntry(t.bind(ctx), e)
}

func (t *txStore) GetEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	return t.store.GetEntry(t.bind(ctx), userID, entryID)
}

func (t *txStore) ListEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	return t.store.ListEntries(t.bind(ctx), userID, liabilityID)
}

func (t *txStore) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	return t.store.UpdateEntry(t.bind(ctx), e)
}

func (t *txStore) DeleteEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) error {
	return t.store.DeleteEntry(t.bind(ctx), userID, entryID)
}

func (t *txStore) DeleteEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	return t.store.DeleteEntries(t.bind(ctx), userID, liabilityID)
}

func (t *txStore) CreatePlan(ctx context.Context, p *ledger.Plan) error {
	return t.store.CreatePlan(t.bind(ctx), p)
}

func (t *txStore) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	return t.store.GetPlan(t.bind(ctx), userID, planID)
}

func (t *txStore) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	return t.store.ListPlans(t.bind(ctx), userID)
}

func (t *txStore) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	return t.store.UpdatePlan(t.bind(ctx), p)
}

func (t *txStore) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func ownedBy(userID ledger.UserID, entityID id.ID) bson.M {
	return bson.M{"_id": entityID.String(), "user_id": string(userID)}
}

// findAll decodes every match sorted by created_at in the given direction,
// with _id as tie-break. Ids are time-ordered, so the tie-break keeps
// creation order for records stamped within the same millisecond.
func (s *Store) findAll(ctx context.Context, col string, filter bson.M, dir int, out any) error {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}})
	cur, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func isTransient(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return true
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

func wrapErr(msg string, err error) error {
	if isTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTransactionFailed, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
