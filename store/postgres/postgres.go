/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Same contract as store/sqlite, for deployments that share one database
  between several server processes.

CONCURRENCY:
  There is no process-level lock. WithTx runs the unit of work in a
  READ COMMITTED transaction, and inside it GetLiability, GetEntry and
  GetPlan use SELECT ... FOR UPDATE: a balance read-modify-write holds the
  row lock until commit, so concurrent payments or edits on one liability
  serialize instead of losing updates. GetEntry locks the owning liability
  before the entry, the same order the write paths use. Serialization failures and deadlocks surface as
  ledger.ErrTransactionFailed so the caller can retry.

MIGRATION:
  SQL files under migrations/ are embedded and applied in name order; each
  applied file is recorded in schema_migrations.

USAGE:
  store, err := postgres.New(ctx, "postgres://localhost:5432/planner")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  if err := store.Migrate(ctx); err != nil {
      log.Fatal(err)
  }
*/
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ ledger.TxStore = (*Store)(nil)

// Store implements ledger.TxStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects and pings the database. It does not migrate.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies every embedded migration not yet recorded.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, f := range files {
		name := path.Base(f)

		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		body, err := migrations.ReadFile(f)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(body)) == "" {
			return fmt.Errorf("empty migration: %s", name)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Reset deletes all ledger data. Used by tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE entries, plans, liabilities`)
	return err
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// LIABILITIES
// =============================================================================

const liabilityColumns = `
	id, user_id, kind, name, institution, balance_cents, opening_balance_cents,
	credit_limit_cents, statement_day, due_day, interest_rate_apr::text, min_payment_cents,
	target_utilization_percent::text, next_due_date, last_payment_date, status,
	created_at, updated_at`

func (s *Store) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	return createLiability(ctx, s.pool, l)
}

func (s *Store) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	return getLiability(ctx, s.pool, userID, liabilityID, false)
}

func (s *Store) ListLiabilities(ctx context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	return listLiabilities(ctx, s.pool, userID, status)
}

func (s *Store) UpdateLiability(ctx context.Context, l *ledger.Liability) error {
	return updateLiability(ctx, s.pool, l)
}

func (s *Store) DeleteLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) error {
	return deleteLiability(ctx, s.pool, userID, liabilityID)
}

func createLiability(ctx context.Context, db dbtx, l *ledger.Liability) error {
	_, err := db.Exec(ctx, `
		INSERT INTO liabilities (
			id, user_id, kind, name, institution, balance_cents, opening_balance_cents,
			credit_limit_cents, statement_day, due_day, interest_rate_apr, min_payment_cents,
			target_utilization_percent, next_due_date, last_payment_date, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::text::numeric, $12,
			$13::text::numeric, $14, $15, $16, $17, $18)`,
		l.ID.String(), string(l.UserID), string(l.Kind), l.Name, l.Institution,
		l.BalanceCents, l.OpeningBalanceCents,
		l.CreditLimitCents, l.StatementDay, l.DueDay, decimalArg(l.InterestRateAPR), l.MinPaymentCents,
		decimalArg(l.TargetUtilizationPercent), l.NextDueDate, l.LastPaymentDate, string(l.Status),
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to insert liability", err)
	}
	return nil
}

func getLiability(ctx context.Context, db dbtx, userID ledger.UserID, liabilityID id.ID, forUpdate bool) (*ledger.Liability, error) {
	query := `SELECT ` + liabilityColumns + ` FROM liabilities WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	l, err := scanLiability(db.QueryRow(ctx, query, liabilityID.String(), string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourceLiability, liabilityID.String())
	}
	return l, err
}

func listLiabilities(ctx context.Context, db dbtx, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	query := `SELECT ` + liabilityColumns + ` FROM liabilities WHERE user_id = $1`
	args := []any{string(userID)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("failed to query liabilities", err)
	}
	defer rows.Close()

	var out []*ledger.Liability
	for rows.Next() {
		l, err := scanLiability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func updateLiability(ctx context.Context, db dbtx, l *ledger.Liability) error {
	tag, err := db.Exec(ctx, `
		UPDATE liabilities SET
			kind = $3, name = $4, institution = $5, balance_cents = $6, opening_balance_cents = $7,
			credit_limit_cents = $8, statement_day = $9, due_day = $10,
			interest_rate_apr = $11::text::numeric, min_payment_cents = $12,
			target_utilization_percent = $13::text::numeric, next_due_date = $14,
			last_payment_date = $15, status = $16, updated_at = $17
		WHERE id = $1 AND user_id = $2`,
		l.ID.String(), string(l.UserID),
		string(l.Kind), l.Name, l.Institution, l.BalanceCents, l.OpeningBalanceCents,
		l.CreditLimitCents, l.StatementDay, l.DueDay,
		decimalArg(l.InterestRateAPR), l.MinPaymentCents,
		decimalArg(l.TargetUtilizationPercent), l.NextDueDate,
		l.LastPaymentDate, string(l.Status), l.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to update liability", err)
	}
	return expectOne(tag, ledger.ResourceLiability, l.ID)
}

func deleteLiability(ctx context.Context, db dbtx, userID ledger.UserID, liabilityID id.ID) error {
	tag, err := db.Exec(ctx,
		`DELETE FROM liabilities WHERE id = $1 AND user_id = $2`,
		liabilityID.String(), string(userID),
	)
	if err != nil {
		return wrapErr("failed to delete liability", err)
	}
	return expectOne(tag, ledger.ResourceLiability, liabilityID)
}

func scanLiability(row pgx.Row) (*ledger.Liability, error) {
	var (
		l                    ledger.Liability
		rawID, userID        string
		kind, status         string
		apr, target          *string
		statementDay, dueDay *int32
	)
	err := row.Scan(
		&rawID, &userID, &kind, &l.Name, &l.Institution, &l.BalanceCents, &l.OpeningBalanceCents,
		&l.CreditLimitCents, &statementDay, &dueDay, &apr, &l.MinPaymentCents,
		&target, &l.NextDueDate, &l.LastPaymentDate, &status,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan liability: %w", err)
	}

	if l.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	l.UserID = ledger.UserID(userID)
	l.Kind = ledger.Kind(kind)
	l.Status = ledger.Status(status)
	l.StatementDay = intPtr(statementDay)
	l.DueDay = intPtr(dueDay)
	if l.InterestRateAPR, err = parseDecimal(apr); err != nil {
		return nil, err
	}
	if l.TargetUtilizationPercent, err = parseDecimal(target); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, user_id, liability_id, entry_type, amount_cents, entry_date, notes, created_at, updated_at`

func (s *Store) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	return createEntry(ctx, s.pool, e)
}

func (s *Store) GetEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	return getEntry(ctx, s.pool, userID, entryID, false)
}

func (s *Store) ListEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	return listEntries(ctx, s.pool, userID, liabilityID)
}

func (s *Store) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	return updateEntry(ctx, s.pool, e)
}

func (s *Store) DeleteEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) error {
	return deleteEntry(ctx, s.pool, userID, entryID)
}

func (s *Store) DeleteEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	return deleteEntries(ctx, s.pool, userID, liabilityID)
}

func createEntry(ctx context.Context, db dbtx, e *ledger.Entry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID.String(), string(e.UserID), e.LiabilityID.String(), string(e.Type), e.AmountCents,
		e.Date, e.Notes, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to insert entry", err)
	}
	return nil
}

func getEntry(ctx context.Context, db dbtx, userID ledger.UserID, entryID id.ID, forUpdate bool) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(db.QueryRow(ctx, query, entryID.String(), string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourceEntry, entryID.String())
	}
	return e, err
}

func listEntries(ctx context.Context, db dbtx, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	rows, err := db.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE user_id = $1 AND liability_id = $2
		ORDER BY created_at ASC, id ASC`,
		string(userID), liabilityID.String(),
	)
	if err != nil {
		return nil, wrapErr("failed to query entries", err)
	}
	defer rows.Close()

	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func updateEntry(ctx context.Context, db dbtx, e *ledger.Entry) error {
	tag, err := db.Exec(ctx, `
		UPDATE entries SET amount_cents = $3, entry_date = $4, notes = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2`,
		e.ID.String(), string(e.UserID), e.AmountCents, e.Date, e.Notes, e.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to update entry", err)
	}
	return expectOne(tag, ledger.ResourceEntry, e.ID)
}

func deleteEntry(ctx context.Context, db dbtx, userID ledger.UserID, entryID id.ID) error {
	tag, err := db.Exec(ctx,
		`DELETE FROM entries WHERE id = $1 AND user_id = $2`,
		entryID.String(), string(userID),
	)
	if err != nil {
		return wrapErr("failed to delete entry", err)
	}
	return expectOne(tag, ledger.ResourceEntry, entryID)
}

func deleteEntries(ctx context.Context, db dbtx, userID ledger.UserID, liabilityID id.ID) (int, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM entries WHERE user_id = $1 AND liability_id = $2`,
		string(userID), liabilityID.String(),
	)
	if err != nil {
		return 0, wrapErr("failed to delete entries", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e                     ledger.Entry
		rawID, userID, liabID string
		typ                   string
	)
	err := row.Scan(&rawID, &userID, &liabID, &typ, &e.AmountCents, &e.Date, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	if e.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	if e.LiabilityID, err = id.Parse(liabID); err != nil {
		return nil, err
	}
	e.UserID = ledger.UserID(userID)
	e.Type = ledger.EntryType(typ)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// =============================================================================
// PLANS
// =============================================================================

const planColumns = `
	id, user_id, strategy, paycheck_amount_cents, pay_date, reserve_cents,
	target_utilization_percent::text, allocations, total_allocated_cents,
	remaining_cents, status, payment_ids, applied_at, created_at, updated_at`

func (s *Store) CreatePlan(ctx context.Context, p *ledger.Plan) error {
	return createPlan(ctx, s.pool, p)
}

func (s *Store) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	return getPlan(ctx, s.pool, userID, planID, false)
}

func (s *Store) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	return listPlans(ctx, s.pool, userID)
}

func (s *Store) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	return updatePlan(ctx, s.pool, p)
}

func createPlan(ctx context.Context, db dbtx, p *ledger.Plan) error {
	allocations, err := json.Marshal(nonNil(p.Allocations))
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO plans (
			id, user_id, strategy, paycheck_amount_cents, pay_date, reserve_cents,
			target_utilization_percent, allocations, total_allocated_cents,
			remaining_cents, status, payment_ids, applied_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID.String(), string(p.UserID), string(p.Strategy), p.PaycheckAmountCents, p.PayDate, p.ReserveCents,
		decimalArg(p.TargetUtilizationPercent), allocations, p.TotalAllocatedCents,
		p.RemainingCents, string(p.Status), idStrings(p.PaymentIDs), p.AppliedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to insert plan", err)
	}
	return nil
}

func getPlan(ctx context.Context, db dbtx, userID ledger.UserID, planID id.ID, forUpdate bool) (*ledger.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPlan(db.QueryRow(ctx, query, planID.String(), string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourcePlan, planID.String())
	}
	return p, err
}

func listPlans(ctx context.Context, db dbtx, userID ledger.UserID) ([]*ledger.Plan, error) {
	rows, err := db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`,
		string(userID),
	)
	if err != nil {
		return nil, wrapErr("failed to query plans", err)
	}
	defer rows.Close()

	var out []*ledger.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func updatePlan(ctx context.Context, db dbtx, p *ledger.Plan) error {
	allocations, err := json.Marshal(nonNil(p.Allocations))
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE plans SET
			strategy = $3, paycheck_amount_cents = $4, pay_date = $5, reserve_cents = $6,
			target_utilization_percent = $7::text::numeric, allocations = $8,
			total_allocated_cents = $9, remaining_cents = $10, status = $11,
			payment_ids = $12, applied_at = $13, updated_at = $14
		WHERE id = $1 AND user_id = $2`,
		p.ID.String(), string(p.UserID),
		string(p.Strategy), p.PaycheckAmountCents, p.PayDate, p.ReserveCents,
		decimalArg(p.TargetUtilizationPercent), allocations,
		p.TotalAllocatedCents, p.RemainingCents, string(p.Status),
		idStrings(p.PaymentIDs), p.AppliedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapErr("failed to update plan", err)
	}
	return expectOne(tag, ledger.ResourcePlan, p.ID)
}

func scanPlan(row pgx.Row) (*ledger.Plan, error) {
	var (
		p                ledger.Plan
		rawID, userID    string
		strategy, status string
		target           *string
		allocations      []byte
		paymentIDs       []string
	)
	err := row.Scan(
		&rawID, &userID, &strategy, &p.PaycheckAmountCents, &p.PayDate, &p.ReserveCents,
		&target, &allocations, &p.TotalAllocatedCents,
		&p.RemainingCents, &status, &paymentIDs, &p.AppliedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}

	if p.ID, err = id.Parse(rawID); err != nil {
		return nil, err
	}
	p.UserID = ledger.UserID(userID)
	p.Strategy = ledger.Strategy(strategy)
	p.Status = ledger.PlanStatus(status)
	if p.TargetUtilizationPercent, err = parseDecimal(target); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(allocations, &p.Allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations: %w", err)
	}
	p.PaymentIDs = make([]id.ID, len(paymentIDs))
	for i, raw := range paymentIDs {
		if p.PaymentIDs[i], err = id.Parse(raw); err != nil {
			return nil, err
		}
	}
	if p.AppliedAt != nil {
		t := p.AppliedAt.UTC()
		p.AppliedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Errors returned by fn
// are passed through unchanged after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ledger.ErrTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	return nil
}

// txStore locks the rows it reads for update.
type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	return createLiability(ctx, ts.tx, l)
}

func (ts *txStore) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	return getLiability(ctx, ts.tx, userID, liabilityID, true)
}

func (ts *txStore) ListLiabilities(ctx context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	return listLiabilities(ctx, ts.tx, userID, status)
}

func (ts *txStore) UpdateLiability(ctx context.Context, l *ledger.Liability) error {
	return updateLiability(ctx, ts.tx, l)
}

func (ts *txStore) DeleteLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) error {
	return deleteLiability(ctx, ts.tx, userID, liabilityID)
}

func (ts *txStore) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	return createEntry(ctx, ts.tx, e)
}

func (ts *txStore) GetEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	// Liability row first, the order every balance write locks in, then
	// the entry itself so its amount cannot change under the caller.
	e, err := getEntry(ctx, ts.tx, userID, entryID, false)
	if err != nil {
		return nil, err
	}
	if _, err := getLiability(ctx, ts.tx, userID, e.LiabilityID, true); err != nil && !ledger.IsNotFound(err) {
		return nil, err
	}
	return getEntry(ctx, ts.tx, userID, entryID, true)
}

func (ts *txStore) ListEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	return listEntries(ctx, ts.tx, userID, liabilityID)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	return updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) DeleteEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) error {
	return deleteEntry(ctx, ts.tx, userID, entryID)
}

func (ts *txStore) DeleteEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	return deleteEntries(ctx, ts.tx, userID, liabilityID)
}

func (ts *txStore) CreatePlan(ctx context.Context, p *ledger.Plan) error {
	return createPlan(ctx, ts.tx, p)
}

func (ts *txStore) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	return getPlan(ctx, ts.tx, userID, planID, true)
}

func (ts *txStore) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	return listPlans(ctx, ts.tx, userID)
}

func (ts *txStore) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	return updatePlan(ctx, ts.tx, p)
}

func (ts *txStore) Ping(ctx context.Context) error {
	_, err := ts.tx.Exec(ctx, `SELECT 1`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func decimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse decimal %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func idStrings(ids []id.ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func nonNil(a []ledger.Allocation) []ledger.Allocation {
	if a == nil {
		return []ledger.Allocation{}
	}
	return a
}

func expectOne(tag pgconn.CommandTag, resource string, entityID id.ID) error {
	if tag.RowsAffected() == 0 {
		return ledger.NewNotFound(resource, entityID.String())
	}
	return nil
}

// Postgres error codes after which the whole unit of work may be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func wrapErr(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTransactionFailed, msg, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTransactionFailed, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
