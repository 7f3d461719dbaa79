/*
Package sqlite provides a SQLite-backed implementation of the credit
store interfaces.

PURPOSE:
  Implements FamilyStore, TierStore, CreditStore, SettlementStore,
  AuditStore, and the points Ledger on one SQLite database. The same
  patterns apply to PostgreSQL - only minor dialect differences.

KEY TABLES:
  families:            settlement schedule + report recipient
  children:            child registry per family
  point_transactions:  append-only points ledger (debt source of truth)
  interest_tiers:      per-family bracket tables
  credit_settings:     per-child credit line state
  settlement_records:  immutable settlement snapshots
  report_log:          audit trail + idempotency guard

INVARIANTS ENFORCED BY SCHEMA:
  - UNIQUE (family_id, report_type, period_start) on report_log: the
    idempotency guard. A racing second batch run loses the insert and
    is treated as "already settled".
  - UNIQUE (family_id, child_id, settlement_date) on settlement_records:
    one record per child per settlement day, ever.
  - UNIQUE idempotency_key on point_transactions: a retried interest
    debit posts once.

APPEND-ONLY ENFORCEMENT:
  settlement_records and point_transactions have no UPDATE or DELETE
  statements anywhere in this package.

CHILD-LEVEL SERIALIZATION:
  Settlement holds a per-child lock (WithChildLock) for its whole
  read-compute-debit-record sequence; PostTransaction takes the same
  lock, so no points write lands mid-settlement.

WAL MODE:
  Opened with WAL so readers don't block the single writer.

USAGE:
  db, err := sqlite.New("./data/credit.db")
  if err != nil { log.Fatal(err) }
  defer db.Close()

SEE ALSO:
  - credit/store.go: interface definitions
  - credit/store/memory.go: in-memory implementation for tests
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

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/hearth/credit-engine/credit"
)

// Store implements all credit storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Per-child locks serialize settlement against points writes; see
	// WithChildLock.
	lockMu     sync.Mutex
	childLocks map[string]*sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, childLocks: make(map[string]*sync.Mutex)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS families (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		settlement_day INTEGER NOT NULL DEFAULT 1,
		recipient TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL REFERENCES families(id),
		name TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_children_family ON children(family_id);

	-- Append-only points ledger
	CREATE TABLE IF NOT EXISTS point_transactions (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		amount INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		effective_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_point_tx_child ON point_transactions(child_id, effective_at);

	CREATE TABLE IF NOT EXISTS interest_tiers (
		family_id TEXT NOT NULL REFERENCES families(id),
		tier_order INTEGER NOT NULL,
		min_debt INTEGER NOT NULL,
		max_debt INTEGER,
		rate TEXT NOT NULL,
		PRIMARY KEY (family_id, tier_order)
	);

	CREATE TABLE IF NOT EXISTS credit_settings (
		child_id TEXT PRIMARY KEY REFERENCES children(id),
		family_id TEXT NOT NULL REFERENCES families(id),
		enabled INTEGER NOT NULL DEFAULT 0,
		credit_limit INTEGER NOT NULL DEFAULT 0,
		original_credit_limit INTEGER NOT NULL DEFAULT 0,
		max_credit_limit INTEGER NOT NULL DEFAULT 0
	);

	-- Immutable settlement snapshots: one per child per settlement day
	CREATE TABLE IF NOT EXISTS settlement_records (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		settlement_date TEXT NOT NULL,
		debt_amount INTEGER NOT NULL,
		interest_calculated INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		credit_limit_before INTEGER NOT NULL,
		credit_limit_after INTEGER NOT NULL,
		credit_limit_adjustment INTEGER NOT NULL,
		interest_breakdown TEXT NOT NULL,
		settled_at TEXT NOT NULL,
		UNIQUE (family_id, child_id, settlement_date)
	);
	CREATE INDEX IF NOT EXISTS idx_settlement_family ON settlement_records(family_id, settled_at DESC);
	CREATE INDEX IF NOT EXISTS idx_settlement_child ON settlement_records(child_id, settled_at DESC);

	-- Audit trail; the unique index is the batch idempotency guard
	CREATE TABLE IF NOT EXISTS report_log (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		sent_at TEXT,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (family_id, report_type, period_start)
	);
	CREATE INDEX IF NOT EXISTS idx_report_log_family ON report_log(family_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint hit.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

const dateFormat = "2006-01-02"

// =============================================================================
// FAMILY STORE
// =============================================================================

func (s *Store) SaveFamily(ctx context.Context, f credit.Family) error {
	if !credit.ValidSettlementDay(f.SettlementDay) {
		return credit.ErrInvalidSettlementDay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO families (id, name, settlement_day, recipient) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			settlement_day = excluded.settlement_day, recipient = excluded.recipient`,
		string(f.ID), f.Name, f.SettlementDay, f.Recipient)
	return err
}

func (s *Store) GetFamily(ctx context.Context, id credit.FamilyID) (*credit.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f credit.Family
	var fid string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, settlement_day, recipient FROM families WHERE id = ?`, string(id)).
		Scan(&fid, &f.Name, &f.SettlementDay, &f.Recipient)
	if err == sql.ErrNoRows {
		return nil, credit.ErrFamilyNotFound
	}
	if err != nil {
		return nil, err
	}
	f.ID = credit.FamilyID(fid)
	return &f, nil
}

func (s *Store) ListFamilies(ctx context.Context) ([]credit.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, settlement_day, recipient FROM families ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.Family
	for rows.Next() {
		var f credit.Family
		var fid string
		if err := rows.Scan(&fid, &f.Name, &f.SettlementDay, &f.Recipient); err != nil {
			return nil, err
		}
		f.ID = credit.FamilyID(fid)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// CHILDREN + POINTS LEDGER
// =============================================================================

// SaveChild registers a child under a family.
func (s *Store) SaveChild(ctx context.Context, familyID credit.FamilyID, childID credit.ChildID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO children (id, family_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET family_id = excluded.family_id, name = excluded.name`,
		string(childID), string(familyID), name)
	return err
}

func (s *Store) GetChildrenOf(ctx context.Context, familyID credit.FamilyID) ([]credit.ChildID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM children WHERE family_id = ? ORDER BY id`, string(familyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.ChildID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, credit.ChildID(id))
	}
	return out, rows.Err()
}

func (s *Store) childLock(childID credit.ChildID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.childLocks[string(childID)]
	if !ok {
		l = &sync.Mutex{}
		s.childLocks[string(childID)] = l
	}
	return l
}

// WithChildLock serializes settlement against points writes for one
// child. PostTransaction takes the same lock; PostInterestDebit does
// not, because it only ever runs inside a WithChildLock section.
func (s *Store) WithChildLock(ctx context.Context, childID credit.ChildID, fn func(ctx context.Context) error) error {
	l := s.childLock(childID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// PostTransaction appends an arbitrary points transaction (quest rewards,
// redemptions, manual adjustments). Append-only. Blocks while the child
// is being settled.
func (s *Store) PostTransaction(ctx context.Context, childID credit.ChildID, amount int64, txType, reason, key string, at time.Time) error {
	l := s.childLock(childID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransaction(ctx, childID, amount, txType, reason, key, at)
}

func (s *Store) appendTransaction(ctx context.Context, childID credit.ChildID, amount int64, txType, reason, key string, at time.Time) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM children WHERE id = ?`, string(childID)).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return credit.ErrChildNotFound
	}

	var keyArg any
	if key != "" {
		keyArg = key
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO point_transactions (id, child_id, amount, tx_type, reason, idempotency_key, effective_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(childID), amount, txType, reason, keyArg,
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	if isUniqueViolation(err) {
		return nil // retried write, already posted
	}
	return err
}

func (s *Store) GetBalance(ctx context.Context, childID credit.ChildID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM children WHERE id = ?`, string(childID)).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, credit.ErrChildNotFound
	}

	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM point_transactions WHERE child_id = ?`,
		string(childID)).Scan(&balance)
	return balance, err
}

func (s *Store) GetOutstandingDebt(ctx context.Context, childID credit.ChildID) (int64, error) {
	balance, err := s.GetBalance(ctx, childID)
	if err != nil {
		return 0, err
	}
	if balance >= 0 {
		return 0, nil
	}
	return -balance, nil
}

func (s *Store) PostInterestDebit(ctx context.Context, childID credit.ChildID, amount int64, at time.Time, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransaction(ctx, childID, -amount, "interest", "settlement interest charge", key, at)
}

// =============================================================================
// TIER STORE
// =============================================================================

func (s *Store) GetTiers(ctx context.Context, familyID credit.FamilyID) ([]credit.InterestTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier_order, min_debt, max_debt, rate FROM interest_tiers
		WHERE family_id = ? ORDER BY tier_order`, string(familyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.InterestTier
	for rows.Next() {
		var t credit.InterestTier
		var maxDebt sql.NullInt64
		var rate string
		if err := rows.Scan(&t.Order, &t.MinDebt, &maxDebt, &rate); err != nil {
			return nil, err
		}
		if maxDebt.Valid {
			v := maxDebt.Int64
			t.MaxDebt = &v
		}
		t.Rate, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("corrupt rate for family %s tier %d: %w", familyID, t.Order, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceTiers(ctx context.Context, familyID credit.FamilyID, tiers []credit.InterestTier) error {
	if err := credit.ValidateTiers(tiers); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM interest_tiers WHERE family_id = ?`, string(familyID)); err != nil {
		return err
	}
	for _, t := range tiers {
		var maxDebt any
		if t.MaxDebt != nil {
			maxDebt = *t.MaxDebt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interest_tiers (family_id, tier_order, min_debt, max_debt, rate)
			VALUES (?, ?, ?, ?, ?)`,
			string(familyID), t.Order, t.MinDebt, maxDebt, t.Rate.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// CREDIT STORE
// =============================================================================

func (s *Store) SaveSettings(ctx context.Context, cs credit.CreditSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_settings (child_id, family_id, enabled, credit_limit, original_credit_limit, max_credit_limit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(child_id) DO UPDATE SET
			family_id = excluded.family_id,
			enabled = excluded.enabled,
			credit_limit = excluded.credit_limit,
			original_credit_limit = excluded.original_credit_limit,
			max_credit_limit = excluded.max_credit_limit`,
		string(cs.ChildID), string(cs.FamilyID), boolToInt(cs.Enabled),
		cs.CreditLimit, cs.OriginalCreditLimit, cs.MaxCreditLimit)
	return err
}

func (s *Store) GetSettings(ctx context.Context, familyID credit.FamilyID, childID credit.ChildID) (*credit.CreditSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cs credit.CreditSettings
	var fid, cid string
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT child_id, family_id, enabled, credit_limit, original_credit_limit, max_credit_limit
		FROM credit_settings WHERE child_id = ? AND family_id = ?`,
		string(childID), string(familyID)).
		Scan(&cid, &fid, &enabled, &cs.CreditLimit, &cs.OriginalCreditLimit, &cs.MaxCreditLimit)
	if err == sql.ErrNoRows {
		return nil, credit.ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	cs.ChildID = credit.ChildID(cid)
	cs.FamilyID = credit.FamilyID(fid)
	cs.Enabled = enabled != 0
	return &cs, nil
}

func (s *Store) UpdateLimit(ctx context.Context, familyID credit.FamilyID, childID credit.ChildID, newLimit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_settings SET credit_limit = ? WHERE child_id = ? AND family_id = ?`,
		newLimit, string(childID), string(familyID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credit.ErrSettingsNotFound
	}
	return nil
}

// =============================================================================
// SETTLEMENT STORE (append-only)
// =============================================================================

// breakdownRow is the JSON shape persisted for each tier contribution.
type breakdownRow struct {
	TierOrder  int    `json:"tier_order"`
	MinDebt    int64  `json:"min_debt"`
	MaxDebt    *int64 `json:"max_debt"`
	DebtInTier int64  `json:"debt_in_tier"`
	Rate       string `json:"rate"`
	Interest   int64  `json:"interest_amount"`
}

func (s *Store) SaveRecord(ctx context.Context, rec credit.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	brows := make([]breakdownRow, 0, len(rec.Breakdown))
	for _, b := range rec.Breakdown {
		brows = append(brows, breakdownRow{
			TierOrder: b.TierOrder, MinDebt: b.MinDebt, MaxDebt: b.MaxDebt,
			DebtInTier: b.DebtInTier, Rate: b.Rate.String(), Interest: b.Interest,
		})
	}
	breakdownJSON, err := json.Marshal(brows)
	if err != nil {
		return err
	}

	id := string(rec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlement_records
			(id, family_id, child_id, settlement_date, debt_amount, interest_calculated,
			 balance_before, credit_limit_before, credit_limit_after, credit_limit_adjustment,
			 interest_breakdown, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(rec.FamilyID), string(rec.ChildID),
		rec.SettlementDate.UTC().Format(dateFormat),
		rec.DebtAmount, rec.InterestCalculated, rec.BalanceBefore,
		rec.CreditLimitBefore, rec.CreditLimitAfter, rec.CreditLimitAdjustment,
		string(breakdownJSON), rec.SettledAt.UTC().Format(time.RFC3339))
	if isUniqueViolation(err) {
		return credit.ErrAlreadySettled
	}
	return err
}

func (s *Store) ListRecords(ctx context.Context, familyID credit.FamilyID, limit int) ([]credit.SettlementRecord, error) {
	return s.queryRecords(ctx, `family_id = ?`, string(familyID), limit)
}

func (s *Store) ListRecordsForChild(ctx context.Context, childID credit.ChildID, limit int) ([]credit.SettlementRecord, error) {
	return s.queryRecords(ctx, `child_id = ?`, string(childID), limit)
}

func (s *Store) queryRecords(ctx context.Context, where string, arg string, limit int) ([]credit.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, child_id, settlement_date, debt_amount, interest_calculated,
		       balance_before, credit_limit_before, credit_limit_after, credit_limit_adjustment,
		       interest_breakdown, settled_at
		FROM settlement_records WHERE `+where+` ORDER BY settled_at DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.SettlementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (credit.SettlementRecord, error) {
	var rec credit.SettlementRecord
	var id, fid, cid, settlementDate, breakdownJSON, settledAt string
	if err := rows.Scan(&id, &fid, &cid, &settlementDate,
		&rec.DebtAmount, &rec.InterestCalculated, &rec.BalanceBefore,
		&rec.CreditLimitBefore, &rec.CreditLimitAfter, &rec.CreditLimitAdjustment,
		&breakdownJSON, &settledAt); err != nil {
		return rec, err
	}

	rec.ID = credit.RecordID(id)
	rec.FamilyID = credit.FamilyID(fid)
	rec.ChildID = credit.ChildID(cid)

	var err error
	rec.SettlementDate, err = time.Parse(dateFormat, settlementDate)
	if err != nil {
		return rec, err
	}
	rec.SettledAt, err = time.Parse(time.RFC3339, settledAt)
	if err != nil {
		return rec, err
	}

	var brows []breakdownRow
	if err := json.Unmarshal([]byte(breakdownJSON), &brows); err != nil {
		return rec, fmt.Errorf("corrupt breakdown for record %s: %w", id, err)
	}
	for _, b := range brows {
		rate, err := decimal.NewFromString(b.Rate)
		if err != nil {
			return rec, fmt.Errorf("corrupt breakdown rate for record %s: %w", id, err)
		}
		rec.Breakdown = append(rec.Breakdown, credit.TierInterest{
			TierOrder: b.TierOrder, MinDebt: b.MinDebt, MaxDebt: b.MaxDebt,
			DebtInTier: b.DebtInTier, Rate: rate, Interest: b.Interest,
		})
	}
	return rec, nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (s *Store) Create(ctx context.Context, entry *credit.ReportEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_log
			(id, family_id, report_type, period_start, period_end, status, recipient, sent_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		entry.ID, string(entry.FamilyID), string(entry.Type),
		entry.PeriodStart.UTC().Format(dateFormat), entry.PeriodEnd.UTC().Format(dateFormat),
		string(entry.Status), entry.Recipient, entry.ErrorMessage,
		entry.CreatedAt.UTC().Format(time.RFC3339))
	if isUniqueViolation(err) {
		return credit.ErrAlreadySettled
	}
	return err
}

func (s *Store) Exists(ctx context.Context, familyID credit.FamilyID, typ credit.ReportType, periodStart time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM report_log WHERE family_id = ? AND report_type = ? AND period_start = ?`,
		string(familyID), string(typ), periodStart.UTC().Format(dateFormat)).Scan(&n)
	return n > 0, err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status credit.ReportStatus, sentAt *time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sentArg any
	if sentAt != nil {
		sentArg = sentAt.UTC().Format(time.RFC3339)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_log SET status = ?, sent_at = ?, error_message = ? WHERE id = ?`,
		string(status), sentArg, errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("report entry %s not found", id)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, familyID credit.FamilyID, limit int) ([]credit.ReportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, family_id, report_type, period_start, period_end, status, recipient, sent_at, error_message, created_at
		FROM report_log WHERE family_id = ? ORDER BY created_at DESC LIMIT ?`,
		string(familyID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.ReportEntry
	for rows.Next() {
		var e credit.ReportEntry
		var fid, typ, status, periodStart, periodEnd, createdAt string
		var sentAt sql.NullString
		if err := rows.Scan(&e.ID, &fid, &typ, &periodStart, &periodEnd,
			&status, &e.Recipient, &sentAt, &e.ErrorMessage, &createdAt); err != nil {
			return nil, err
		}
		e.FamilyID = credit.FamilyID(fid)
		e.Type = credit.ReportType(typ)
		e.Status = credit.ReportStatus(status)
		if e.PeriodStart, err = time.Parse(dateFormat, periodStart); err != nil {
			return nil, err
		}
		if e.PeriodEnd, err = time.Parse(dateFormat, periodEnd); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			t, err := time.Parse(time.RFC3339, sentAt.String)
			if err != nil {
				return nil, err
			}
			e.SentAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
