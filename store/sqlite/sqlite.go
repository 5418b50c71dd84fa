/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists liabilities, their charge/payment entries and payment plans in a
  single SQLite database. Every balance-affecting ledger operation runs in
  one database transaction through WithTx.

KEY TABLES:
  liabilities:  one row per debt, current balance and opening balance
  entries:      charges and payments (entry_type), cascade-deleted with
                their liability
  plans:        paycheck plans; allocations and payment ids as JSON columns

STORAGE FORMATS:
  amounts     INTEGER cents
  decimals    TEXT (shopspring/decimal string form), NULL when unset
  dates       TEXT YYYY-MM-DD
  timestamps  TEXT fixed-width UTC, so ORDER BY on the text is chronological

CONCURRENCY:
  A sync.RWMutex serializes writers: WithTx holds the write lock for the
  whole unit of work, so a read-modify-write of a balance never interleaves
  with another. Reads inside WithTx go through the *sql.Tx and see the
  transaction's own writes.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging): readers do not
  block the single writer.

USAGE:
  store, err := sqlite.New("./data/planner.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New(). Migrate is idempotent and exposed for
  the migrate command.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
  - store/postgres: the same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

var _ ledger.TxStore = (*Store)(nil)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS liabilities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		institution TEXT NOT NULL DEFAULT '',
		balance_cents INTEGER NOT NULL CHECK (balance_cents >= 0),
		opening_balance_cents INTEGER NOT NULL,
		credit_limit_cents INTEGER,
		statement_day INTEGER,
		due_day INTEGER,
		interest_rate_apr TEXT,
		min_payment_cents INTEGER,
		target_utilization_percent TEXT,
		next_due_date TEXT,
		last_payment_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_liabilities_user_status
		ON liabilities(user_id, status);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		liability_id TEXT NOT NULL REFERENCES liabilities(id) ON DELETE CASCADE,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('charge', 'payment')),
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		entry_date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_liability
		ON entries(user_id, liability_id, created_at);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		paycheck_amount_cents INTEGER NOT NULL,
		pay_date TEXT NOT NULL,
		reserve_cents INTEGER NOT NULL,
		target_utilization_percent TEXT,
		allocations_json TEXT NOT NULL,
		total_allocated_cents INTEGER NOT NULL,
		remaining_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_ids_json TEXT NOT NULL DEFAULT '[]',
		applied_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_user_created
		ON plans(user_id, created_at);
	`

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LIABILITIES
// =============================================================================

const liabilityColumns = `
	id, user_id, kind, name, institution, balance_cents, opening_balance_cents,
	credit_limit_cents, statement_day, due_day, interest_rate_apr, min_payment_cents,
	target_utilization_percent, next_due_date, last_payment_date, status,
	created_at, updated_at`

func (s *Store) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createLiability(ctx, s.db, l)
}

func (s *Store) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLiability(ctx, s.db, userID, liabilityID)
}

func (s *Store) ListLiabilities(ctx context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLiabilities(ctx, s.db, userID, status)
}

func (s *Store) UpdateLiability(ctx context.Context, l *ledger.Liability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateLiability(ctx, s.db, l)
}

func (s *Store) DeleteLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteLiability(ctx, s.db, userID, liabilityID)
}

func createLiability(ctx context.Context, q querier, l *ledger.Liability) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO liabilities (`+liabilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.UserID), string(l.Kind), l.Name, l.Institution,
		l.BalanceCents, l.OpeningBalanceCents,
		nullInt64(l.CreditLimitCents), nullInt(l.StatementDay), nullInt(l.DueDay),
		nullDecimal(l.InterestRateAPR), nullInt64(l.MinPaymentCents),
		nullDecimal(l.TargetUtilizationPercent),
		nullDate(l.NextDueDate), nullDate(l.LastPaymentDate),
		string(l.Status), formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return wrapErr("failed to insert liability", err)
	}
	return nil
}

func getLiability(ctx context.Context, q querier, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+liabilityColumns+` FROM liabilities WHERE id = ? AND user_id = ?`,
		liabilityID.String(), string(userID),
	)
	l, err := scanLiability(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourceLiability, liabilityID.String())
	}
	return l, err
}

func listLiabilities(ctx context.Context, q querier, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	query := `SELECT ` + liabilityColumns + ` FROM liabilities WHERE user_id = ?`
	args := []any{string(userID)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
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

func updateLiability(ctx context.Context, q querier, l *ledger.Liability) error {
	res, err := q.ExecContext(ctx, `
		UPDATE liabilities SET
			kind = ?, name = ?, institution = ?, balance_cents = ?, opening_balance_cents = ?,
			credit_limit_cents = ?, statement_day = ?, due_day = ?, interest_rate_apr = ?,
			min_payment_cents = ?, target_utilization_percent = ?, next_due_date = ?,
			last_payment_date = ?, status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		string(l.Kind), l.Name, l.Institution, l.BalanceCents, l.OpeningBalanceCents,
		nullInt64(l.CreditLimitCents), nullInt(l.StatementDay), nullInt(l.DueDay),
		nullDecimal(l.InterestRateAPR), nullInt64(l.MinPaymentCents),
		nullDecimal(l.TargetUtilizationPercent), nullDate(l.NextDueDate),
		nullDate(l.LastPaymentDate), string(l.Status), formatTime(l.UpdatedAt),
		l.ID.String(), string(l.UserID),
	)
	if err != nil {
		return wrapErr("failed to update liability", err)
	}
	return expectOne(res, ledger.ResourceLiability, l.ID)
}

func deleteLiability(ctx context.Context, q querier, userID ledger.UserID, liabilityID id.ID) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM liabilities WHERE id = ? AND user_id = ?`,
		liabilityID.String(), string(userID),
	)
	if err != nil {
		return wrapErr("failed to delete liability", err)
	}
	return expectOne(res, ledger.ResourceLiability, liabilityID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLiability(row scanner) (*ledger.Liability, error) {
	var (
		l                   ledger.Liability
		userID, kind        string
		status              string
		creditLimit         sql.NullInt64
		statementDay        sql.NullInt64
		dueDay              sql.NullInt64
		apr, target         sql.NullString
		minPayment          sql.NullInt64
		nextDue, lastPaid   sql.NullString
		createdAt, updateAt string
	)
	err := row.Scan(
		&l.ID, &userID, &kind, &l.Name, &l.Institution, &l.BalanceCents, &l.OpeningBalanceCents,
		&creditLimit, &statementDay, &dueDay, &apr, &minPayment,
		&target, &nextDue, &lastPaid, &status,
		&createdAt, &updateAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan liability: %w", err)
	}

	l.UserID = ledger.UserID(userID)
	l.Kind = ledger.Kind(kind)
	l.Status = ledger.Status(status)
	l.CreditLimitCents = int64Ptr(creditLimit)
	l.StatementDay = intPtr(statementDay)
	l.DueDay = intPtr(dueDay)
	l.MinPaymentCents = int64Ptr(minPayment)
	if l.InterestRateAPR, err = parseNullDecimal(apr); err != nil {
		return nil, err
	}
	if l.TargetUtilizationPercent, err = parseNullDecimal(target); err != nil {
		return nil, err
	}
	if l.NextDueDate, err = parseNullDate(nextDue); err != nil {
		return nil, err
	}
	if l.LastPaymentDate, err = parseNullDate(lastPaid); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, user_id, liability_id, entry_type, amount_cents, entry_date, notes, created_at, updated_at`

func (s *Store) CreateEntry(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createEntry(ctx, s.db, e)
}

func (s *Store) GetEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, userID, entryID)
}

func (s *Store) ListEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, userID, liabilityID)
}

func (s *Store) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, e)
}

func (s *Store) DeleteEntry(ctx context.Context, userID ledger.UserID, entryID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntry(ctx, s.db, userID, entryID)
}

func (s *Store) DeleteEntries(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntries(ctx, s.db, userID, liabilityID)
}

func createEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.UserID), e.LiabilityID, string(e.Type), e.AmountCents,
		formatDate(e.Date), e.Notes, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return wrapErr("failed to insert entry", err)
	}
	return nil
}

func getEntry(ctx context.Context, q querier, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND user_id = ?`,
		entryID.String(), string(userID),
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourceEntry, entryID.String())
	}
	return e, err
}

func listEntries(ctx context.Context, q querier, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE user_id = ? AND liability_id = ?
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

func updateEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	res, err := q.ExecContext(ctx, `
		UPDATE entries SET amount_cents = ?, entry_date = ?, notes = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		e.AmountCents, formatDate(e.Date), e.Notes, formatTime(e.UpdatedAt),
		e.ID.String(), string(e.UserID),
	)
	if err != nil {
		return wrapErr("failed to update entry", err)
	}
	return expectOne(res, ledger.ResourceEntry, e.ID)
}

func deleteEntry(ctx context.Context, q querier, userID ledger.UserID, entryID id.ID) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM entries WHERE id = ? AND user_id = ?`,
		entryID.String(), string(userID),
	)
	if err != nil {
		return wrapErr("failed to delete entry", err)
	}
	return expectOne(res, ledger.ResourceEntry, entryID)
}

func deleteEntries(ctx context.Context, q querier, userID ledger.UserID, liabilityID id.ID) (int, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM entries WHERE user_id = ? AND liability_id = ?`,
		string(userID), liabilityID.String(),
	)
	if err != nil {
		return 0, wrapErr("failed to delete entries", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanEntry(row scanner) (*ledger.Entry, error) {
	var (
		e                    ledger.Entry
		userID, typ, date    string
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &userID, &e.LiabilityID, &typ, &e.AmountCents, &date, &e.Notes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.UserID = ledger.UserID(userID)
	e.Type = ledger.EntryType(typ)
	if e.Date, err = ledger.ParseDate(date); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// PLANS
// =============================================================================

const planColumns = `
	id, user_id, strategy, paycheck_amount_cents, pay_date, reserve_cents,
	target_utilization_percent, allocations_json, total_allocated_cents,
	remaining_cents, status, payment_ids_json, applied_at, created_at, updated_at`

func (s *Store) CreatePlan(ctx context.Context, p *ledger.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPlan(ctx, s.db, p)
}

func (s *Store) GetPlan(ctx context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPlan(ctx, s.db, userID, planID)
}

func (s *Store) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPlans(ctx, s.db, userID)
}

func (s *Store) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePlan(ctx, s.db, p)
}

func createPlan(ctx context.Context, q querier, p *ledger.Plan) error {
	allocations, paymentIDs, err := marshalPlanJSON(p)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.UserID), string(p.Strategy), p.PaycheckAmountCents,
		formatDate(p.PayDate), p.ReserveCents, nullDecimal(p.TargetUtilizationPercent),
		allocations, p.TotalAllocatedCents, p.RemainingCents, string(p.Status),
		paymentIDs, nullTime(p.AppliedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return wrapErr("failed to insert plan", err)
	}
	return nil
}

func getPlan(ctx context.Context, q querier, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ? AND user_id = ?`,
		planID.String(), string(userID),
	)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NewNotFound(ledger.ResourcePlan, planID.String())
	}
	return p, err
}

func listPlans(ctx context.Context, q querier, userID ledger.UserID) ([]*ledger.Plan, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE user_id = ?
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

func updatePlan(ctx context.Context, q querier, p *ledger.Plan) error {
	allocations, paymentIDs, err := marshalPlanJSON(p)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE plans SET
			strategy = ?, paycheck_amount_cents = ?, pay_date = ?, reserve_cents = ?,
			target_utilization_percent = ?, allocations_json = ?, total_allocated_cents = ?,
			remaining_cents = ?, status = ?, payment_ids_json = ?, applied_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		string(p.Strategy), p.PaycheckAmountCents, formatDate(p.PayDate), p.ReserveCents,
		nullDecimal(p.TargetUtilizationPercent), allocations, p.TotalAllocatedCents,
		p.RemainingCents, string(p.Status), paymentIDs, nullTime(p.AppliedAt), formatTime(p.UpdatedAt),
		p.ID.String(), string(p.UserID),
	)
	if err != nil {
		return wrapErr("failed to update plan", err)
	}
	return expectOne(res, ledger.ResourcePlan, p.ID)
}

func scanPlan(row scanner) (*ledger.Plan, error) {
	var (
		p                        ledger.Plan
		userID, strategy, status string
		payDate                  string
		target                   sql.NullString
		allocations, paymentIDs  string
		appliedAt                sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(
		&p.ID, &userID, &strategy, &p.PaycheckAmountCents, &payDate, &p.ReserveCents,
		&target, &allocations, &p.TotalAllocatedCents,
		&p.RemainingCents, &status, &paymentIDs, &appliedAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}

	p.UserID = ledger.UserID(userID)
	p.Strategy = ledger.Strategy(strategy)
	p.Status = ledger.PlanStatus(status)
	if p.PayDate, err = ledger.ParseDate(payDate); err != nil {
		return nil, err
	}
	if p.TargetUtilizationPercent, err = parseNullDecimal(target); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allocations), &p.Allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations: %w", err)
	}
	if err := json.Unmarshal([]byte(paymentIDs), &p.PaymentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode payment ids: %w", err)
	}
	if appliedAt.Valid {
		t, err := parseTime(appliedAt.String)
		if err != nil {
			return nil, err
		}
		p.AppliedAt = &t
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalPlanJSON(p *ledger.Plan) (allocations, paymentIDs string, err error) {
	a := p.Allocations
	if a == nil {
		a = []ledger.Allocation{}
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode allocations: %w", err)
	}
	ids := p.PaymentIDs
	if ids == nil {
		ids = []id.ID{}
	}
	ib, err := json.Marshal(ids)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode payment ids: %w", err)
	}
	return string(ab), string(ib), nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Errors returned by fn
// are passed through unchanged after rollback; begin and commit failures
// are reported as ledger.ErrTransactionFailed.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ledger.ErrTransactionFailed, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	return nil
}

// txStore runs every operation, reads included, on the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateLiability(ctx context.Context, l *ledger.Liability) error {
	return createLiability(ctx, ts.tx, l)
}

func (ts *txStore) GetLiability(ctx context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	return getLiability(ctx, ts.tx, userID, liabilityID)
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
	return getEntry(ctx, ts.tx, userID, entryID)
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
	return getPlan(ctx, ts.tx, userID, planID)
}

func (ts *txStore) ListPlans(ctx context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	return listPlans(ctx, ts.tx, userID)
}

func (ts *txStore) UpdatePlan(ctx context.Context, p *ledger.Plan) error {
	return updatePlan(ctx, ts.tx, p)
}

func (ts *txStore) Ping(ctx context.Context) error {
	return ts.tx.QueryRowContext(ctx, `SELECT 1`).Scan(new(int))
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string { return t.Format(ledger.DateLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ledger.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func expectOne(res sql.Result, resource string, entityID id.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NewNotFound(resource, entityID.String())
	}
	return nil
}

// wrapErr marks lock contention as retryable; everything else is wrapped
// with its context only.
func wrapErr(msg string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTransactionFailed, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
