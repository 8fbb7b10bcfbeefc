/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.ConfigStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch ledger_events
  - Corrections are new events
  - The only writes to balances happen inside Append's transaction
    (and Reconcile's repair path)

KEY TABLES:
  ledger_events: immutable log of all point-affecting events
  balances:      cached (merchant, member) -> points + lifetime spend
  tier_configs:  per-merchant evaluation basis (points vs spend)
  tier_rules:    per-merchant (threshold, name) boundaries
  earn_policies: per-merchant points valuation (JSON document)

IDEMPOTENCY:
  ledger_events.idempotency_key carries a UNIQUE constraint. The check
  runs at commit, so two concurrent appends for the same webhook
  delivery resolve to exactly one committed event; the loser surfaces
  ledger.ErrDuplicateIdempotencyKey and the engine returns the winner.

ATOMICITY:
  Append runs the event insert and the balance upsert-with-increment in
  one database transaction. A crash or context cancellation before
  commit leaves no orphan event and no stale balance.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - readers don't block behind the single writer
  - better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, store)

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/ledger"
	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// Store implements ledger.Store and ledger.ConfigStore using SQLite.
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

	store := &Store{db: db}
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
	-- Ledger events (append-only)
	CREATE TABLE IF NOT EXISTS ledger_events (
		event_id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		member_ref TEXT NOT NULL,
		event_type TEXT NOT NULL,
		points_delta INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		related_ref TEXT,
		related_line_ref TEXT,
		reason TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance replay and history (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_merchant_member
		ON ledger_events(merchant_id, member_ref, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_idempotency
		ON ledger_events(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_related
		ON ledger_events(related_ref) WHERE related_ref IS NOT NULL;

	-- Cached balances (materialized view over ledger_events)
	CREATE TABLE IF NOT EXISTS balances (
		merchant_id TEXT NOT NULL,
		member_ref TEXT NOT NULL,
		points INTEGER NOT NULL,
		lifetime_spend TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (merchant_id, member_ref)
	);

	-- Tier configuration (managed by merchant admins, read at evaluation)
	CREATE TABLE IF NOT EXISTS tier_configs (
		merchant_id TEXT PRIMARY KEY,
		basis TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tier_rules (
		merchant_id TEXT NOT NULL,
		threshold TEXT NOT NULL,
		tier_name TEXT NOT NULL,
		PRIMARY KEY (merchant_id, threshold)
	);

	-- Earn policy (JSON document per merchant)
	CREATE TABLE IF NOT EXISTS earn_policies (
		merchant_id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append inserts the event and increments the cached balance in one
// transaction.
func (s *Store) Append(ctx context.Context, ev ledger.Event, spendDelta decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyError(err)
	}
	defer tx.Rollback()

	metadataJSON, _ := json.Marshal(ev.Metadata)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events
		(event_id, merchant_id, member_ref, event_type, points_delta,
		 idempotency_key, related_ref, related_line_ref, reason, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.MerchantID,
		ev.MemberRef,
		ev.Type,
		ev.PointsDelta,
		nullString(ev.IdempotencyKey),
		nullString(ev.RelatedRef),
		nullString(ev.RelatedLineRef),
		nullString(ev.Reason),
		string(metadataJSON),
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, classifyError(err)
	}

	// Lifetime spend is a decimal stored as text, so the new total is
	// computed here; the read happens inside the same transaction.
	var curSpend string
	err = tx.QueryRowContext(ctx,
		"SELECT lifetime_spend FROM balances WHERE merchant_id = ? AND member_ref = ?",
		ev.MerchantID, ev.MemberRef,
	).Scan(&curSpend)
	if err != nil && err != sql.ErrNoRows {
		return 0, classifyError(err)
	}
	newSpend := parseDecimal(curSpend).Add(spendDelta)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (merchant_id, member_ref, points, lifetime_spend, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, member_ref) DO UPDATE SET
			points = balances.points + excluded.points,
			lifetime_spend = excluded.lifetime_spend,
			updated_at = excluded.updated_at
	`,
		ev.MerchantID, ev.MemberRef, ev.PointsDelta, newSpend.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, classifyError(err)
	}

	var points int64
	err = tx.QueryRowContext(ctx,
		"SELECT points FROM balances WHERE merchant_id = ? AND member_ref = ?",
		ev.MerchantID, ev.MemberRef,
	).Scan(&points)
	if err != nil {
		return 0, classifyError(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyError(err)
	}
	return points, nil
}

// EventByIdempotencyKey returns the committed event carrying the key.
func (s *Store) EventByIdempotencyKey(ctx context.Context, key string) (ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.queryEvents(ctx, `
		SELECT event_id, merchant_id, member_ref, event_type, points_delta,
		       idempotency_key, related_ref, related_line_ref, reason, metadata_json, created_at
		FROM ledger_events
		WHERE idempotency_key = ?
	`, key)
	if err != nil {
		return ledger.Event{}, err
	}
	if len(events) == 0 {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	return events[0], nil
}

// Events returns a member's full history, oldest first.
func (s *Store) Events(ctx context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx, `
		SELECT event_id, merchant_id, member_ref, event_type, points_delta,
		       idempotency_key, related_ref, related_line_ref, reason, metadata_json, created_at
		FROM ledger_events
		WHERE merchant_id = ? AND member_ref = ?
		ORDER BY created_at ASC, event_id ASC
	`, merchantID, memberRef)
}

// Balance returns the cached points balance (zero for unknown members).
func (s *Store) Balance(ctx context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var points int64
	err := s.db.QueryRowContext(ctx,
		"SELECT points FROM balances WHERE merchant_id = ? AND member_ref = ?",
		merchantID, memberRef,
	).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError(err)
	}
	return points, nil
}

// LifetimeSpend returns the member's running lifetime spend.
func (s *Store) LifetimeSpend(ctx context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spend string
	err := s.db.QueryRowContext(ctx,
		"SELECT lifetime_spend FROM balances WHERE merchant_id = ? AND member_ref = ?",
		merchantID, memberRef,
	).Scan(&spend)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, classifyError(err)
	}
	return parseDecimal(spend), nil
}

// Reconcile replays the member's events inside one transaction and
// repairs the cached balance if it diverged.
func (s *Store) Reconcile(ctx context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (int64, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, false, classifyError(err)
	}
	defer tx.Rollback()

	var sum int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points_delta), 0) FROM ledger_events WHERE merchant_id = ? AND member_ref = ?",
		merchantID, memberRef,
	).Scan(&sum)
	if err != nil {
		return 0, 0, false, classifyError(err)
	}

	var cached int64
	hasRow := true
	err = tx.QueryRowContext(ctx,
		"SELECT points FROM balances WHERE merchant_id = ? AND member_ref = ?",
		merchantID, memberRef,
	).Scan(&cached)
	if err == sql.ErrNoRows {
		cached, hasRow = 0, false
	} else if err != nil {
		return 0, 0, false, classifyError(err)
	}

	if cached == sum && (hasRow || sum == 0) {
		return sum, cached, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (merchant_id, member_ref, points, lifetime_spend, updated_at)
		VALUES (?, ?, ?, '0', ?)
		ON CONFLICT(merchant_id, member_ref) DO UPDATE SET
			points = excluded.points,
			updated_at = excluded.updated_at
	`, merchantID, memberRef, sum, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, 0, false, classifyError(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, false, classifyError(err)
	}
	return sum, cached, true, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (ledger.Event, error) {
	var (
		ev             ledger.Event
		idempotencyKey sql.NullString
		relatedRef     sql.NullString
		relatedLineRef sql.NullString
		reason         sql.NullString
		metadataJSON   sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&ev.ID, &ev.MerchantID, &ev.MemberRef, &ev.Type, &ev.PointsDelta,
		&idempotencyKey, &relatedRef, &relatedLineRef, &reason, &metadataJSON, &createdAt,
	)
	if err != nil {
		return ev, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.IdempotencyKey = idempotencyKey.String
	ev.RelatedRef = relatedRef.String
	ev.RelatedLineRef = relatedLineRef.String
	ev.Reason = reason.String
	ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata)
	}

	return ev, nil
}

// =============================================================================
// CONFIG STORE (ledger.ConfigStore interface)
// =============================================================================

// SaveTierRules replaces a merchant's tier configuration atomically.
func (s *Store) SaveTierRules(ctx context.Context, rs tier.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tier_configs (merchant_id, basis, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			basis = excluded.basis,
			updated_at = excluded.updated_at
	`, rs.MerchantID, rs.Basis, now)
	if err != nil {
		return classifyError(err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM tier_rules WHERE merchant_id = ?", rs.MerchantID); err != nil {
		return classifyError(err)
	}
	for _, r := range rs.Rules {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO tier_rules (merchant_id, threshold, tier_name) VALUES (?, ?, ?)",
			rs.MerchantID, r.Threshold.String(), r.Name,
		)
		if err != nil {
			return classifyError(err)
		}
	}

	return classifyError(tx.Commit())
}

// TierRules returns a merchant's rule set, or ledger.ErrNoRules.
func (s *Store) TierRules(ctx context.Context, merchantID ledger.MerchantID) (tier.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var basis string
	err := s.db.QueryRowContext(ctx,
		"SELECT basis FROM tier_configs WHERE merchant_id = ?", merchantID,
	).Scan(&basis)
	if err == sql.ErrNoRows {
		return tier.RuleSet{}, ledger.ErrNoRules
	}
	if err != nil {
		return tier.RuleSet{}, classifyError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT threshold, tier_name FROM tier_rules WHERE merchant_id = ?", merchantID,
	)
	if err != nil {
		return tier.RuleSet{}, classifyError(err)
	}
	defer rows.Close()

	rs := tier.RuleSet{MerchantID: string(merchantID), Basis: tier.Basis(basis)}
	for rows.Next() {
		var threshold, name string
		if err := rows.Scan(&threshold, &name); err != nil {
			return tier.RuleSet{}, err
		}
		rs.Rules = append(rs.Rules, tier.Rule{Threshold: parseDecimal(threshold), Name: name})
	}
	return rs, rows.Err()
}

// SaveEarnPolicy stores a merchant's earn policy as a JSON document.
func (s *Store) SaveEarnPolicy(ctx context.Context, merchantID ledger.MerchantID, policy rewards.EarnPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	configJSON, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal earn policy: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO earn_policies (merchant_id, config_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, merchantID, string(configJSON), time.Now().UTC().Format(time.RFC3339))
	return classifyError(err)
}

// EarnPolicy returns a merchant's stored policy, or ledger.ErrNoPolicy.
func (s *Store) EarnPolicy(ctx context.Context, merchantID ledger.MerchantID) (rewards.EarnPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM earn_policies WHERE merchant_id = ?", merchantID,
	).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return rewards.EarnPolicy{}, ledger.ErrNoPolicy
	}
	if err != nil {
		return rewards.EarnPolicy{}, classifyError(err)
	}

	var policy rewards.EarnPolicy
	if err := json.Unmarshal([]byte(configJSON), &policy); err != nil {
		return rewards.EarnPolicy{}, fmt.Errorf("failed to unmarshal earn policy: %w", err)
	}
	return policy, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// classifyError maps driver errors onto the ledger sentinels. Constraint
// names come from the schema above; busy/locked conditions are marked
// retryable for the engine's bounded retry loop.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ledger_events.idempotency_key"):
		return ledger.ErrDuplicateIdempotencyKey
	case strings.Contains(msg, "ledger_events.event_id"):
		return ledger.ErrDuplicateEventID
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", ledger.ErrTransientFailure, err)
	}
	return err
}
