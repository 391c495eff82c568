/*
Package sqlstore provides a SQL-backed implementation of indemnity.Store.

PURPOSE:
  Persists claims, quittances and the transition history. The same queries
  run on SQLite (development, tests) and PostgreSQL (production). They are
  written with ? placeholders and rebound for the driver by sqlx.

KEY TABLES:
  claims:      One row per claim, version column for compare-and-swap
  quittances:  One row per quittance, workflow state as a JSON snapshot
  transitions: Append-only audit trail, ordered by seq

COMPARE-AND-SWAP:
  Commit runs in a single database transaction. Every update has the form

    UPDATE ... SET version = :version WHERE id = :id AND version = :prev_version

  and zero affected rows aborts the whole changeset with AlreadyTransitioned,
  or NotFound when the row does not exist.

WORKFLOW STATE:
  A quittance's state is stored as quittance.Snapshot JSON and restored by
  replaying the workflow edges, so a row can never load into a state the
  workflow could not have reached. The stage column is a copy for filtering.

USAGE:
  store, err := sqlstore.Open(sqlstore.DriverSQLite, "./data/indemnity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - indemnity/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/quittance"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements indemnity.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and migrates the schema.
// Use DriverSQLite with ":memory:" for an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// A :memory: database lives and dies with its connection.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		claim_type TEXT NOT NULL,
		policy_snapshot_json TEXT NOT NULL,
		declared_at TEXT NOT NULL,
		incident_date TEXT NOT NULL,
		declarant_json TEXT NOT NULL,
		claimed_amount TEXT NOT NULL,
		outstanding_principal TEXT NOT NULL,
		currency TEXT NOT NULL,
		required_documents_json TEXT NOT NULL,
		attached_documents_json TEXT NOT NULL,
		status TEXT NOT NULL,
		granted_amount TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		decided_at TEXT,
		paid_at TEXT,
		closed_at TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_partner_status
		ON claims(partner_id, status);

	CREATE TABLE IF NOT EXISTS quittances (
		id TEXT PRIMARY KEY,
		claim_id TEXT NOT NULL REFERENCES claims(id),
		kind TEXT NOT NULL,
		beneficiary TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		stage TEXT NOT NULL,
		state_json TEXT NOT NULL,
		is_archived INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quittances_claim
		ON quittances(claim_id);
	CREATE INDEX IF NOT EXISTS idx_quittances_stage
		ON quittances(stage, created_at);

	-- Append-only: no UPDATE or DELETE is ever issued on this table
	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		claim_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		role TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_entity
		ON transitions(entity, entity_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transitions_claim
		ON transitions(claim_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITES
// =============================================================================

const insertClaimSQL = `
	INSERT INTO claims
	(id, partner_id, policy_id, claim_type, policy_snapshot_json, declared_at, incident_date,
	 declarant_json, claimed_amount, outstanding_principal, currency, required_documents_json,
	 attached_documents_json, status, granted_amount, rejection_reason, is_archived,
	 decided_at, paid_at, closed_at, version, created_at, updated_at)
	VALUES
	(:id, :partner_id, :policy_id, :claim_type, :policy_snapshot_json, :declared_at, :incident_date,
	 :declarant_json, :claimed_amount, :outstanding_principal, :currency, :required_documents_json,
	 :attached_documents_json, :status, :granted_amount, :rejection_reason, :is_archived,
	 :decided_at, :paid_at, :closed_at, :version, :created_at, :updated_at)
`

// Only the mutable columns: identity, policy and declaration never change.
const updateClaimSQL = `
	UPDATE claims SET
		attached_documents_json = :attached_documents_json,
		status = :status,
		granted_amount = :granted_amount,
		rejection_reason = :rejection_reason,
		is_archived = :is_archived,
		decided_at = :decided_at,
		paid_at = :paid_at,
		closed_at = :closed_at,
		version = :version,
		updated_at = :updated_at
	WHERE id = :id AND version = :prev_version
`

const insertQuittanceSQL = `
	INSERT INTO quittances
	(id, claim_id, kind, beneficiary, amount, currency, stage, state_json,
	 is_archived, version, created_at, updated_at)
	VALUES
	(:id, :claim_id, :kind, :beneficiary, :amount, :currency, :stage, :state_json,
	 :is_archived, :version, :created_at, :updated_at)
`

const updateQuittanceSQL = `
	UPDATE quittances SET
		stage = :stage,
		state_json = :state_json,
		is_archived = :is_archived,
		version = :version,
		updated_at = :updated_at
	WHERE id = :id AND version = :prev_version
`

const insertTransitionSQL = `
	INSERT INTO transitions
	(id, seq, entity, entity_id, claim_id, action, from_state, to_state, actor_id, role, reason, at)
	VALUES
	(:id, :seq, :entity, :entity_id, :claim_id, :action, :from_state, :to_state, :actor_id, :role, :reason, :at)
`

func (s *Store) CreateClaim(ctx context.Context, c claims.Claim, record indemnity.TransitionRecord) error {
	row, err := toClaimRow(c)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertClaimSQL, row); err != nil {
		if isUniqueConstraintError(err) {
			return generic.InvalidField("id", "claim %s already exists", c.ID)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	if err := appendRecords(ctx, tx, []indemnity.TransitionRecord{record}); err != nil {
		return err
	}
	return tx.Commit()
}

// Commit applies a changeset atomically. Any stale version aborts it whole.
func (s *Store) Commit(ctx context.Context, cs indemnity.Changeset) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if cs.Claim != nil {
		row, err := toClaimRow(cs.Claim.Claim)
		if err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, updateClaimSQL, versionedClaim{claimRow: row, PrevVersion: cs.Claim.PrevVersion})
		if err != nil {
			return fmt.Errorf("failed to update claim: %w", err)
		}
		if err := checkSwapped(ctx, tx, res, "claims", "claim", row.ID, cs.Claim.PrevVersion); err != nil {
			return err
		}
	}

	for _, u := range cs.Quittances {
		row, err := toQuittanceRow(u.Quittance)
		if err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, updateQuittanceSQL, versionedQuittance{quittanceRow: row, PrevVersion: u.PrevVersion})
		if err != nil {
			return fmt.Errorf("failed to update quittance: %w", err)
		}
		if err := checkSwapped(ctx, tx, res, "quittances", "quittance", row.ID, u.PrevVersion); err != nil {
			return err
		}
	}

	for _, q := range cs.NewQuittances {
		row, err := toQuittanceRow(q)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertQuittanceSQL, row); err != nil {
			if isUniqueConstraintError(err) {
				return generic.InvalidField("id", "quittance %s already exists", q.ID)
			}
			return fmt.Errorf("failed to insert quittance: %w", err)
		}
	}

	if err := appendRecords(ctx, tx, cs.Records); err != nil {
		return err
	}
	return tx.Commit()
}

// checkSwapped turns a zero-row versioned update into the matching error.
func checkSwapped(ctx context.Context, tx *sqlx.Tx, res sql.Result, table, entity, id string, prev int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var actual int
	err = tx.GetContext(ctx, &actual, tx.Rebind("SELECT version FROM "+table+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", entity, err)
	}
	return &generic.AlreadyTransitionedError{Entity: entity, ID: id, ExpectedVersion: prev, ActualVersion: actual}
}

func appendRecords(ctx context.Context, tx *sqlx.Tx, records []indemnity.TransitionRecord) error {
	if len(records) == 0 {
		return nil
	}
	var seq int
	if err := tx.GetContext(ctx, &seq, "SELECT COALESCE(MAX(seq), 0) FROM transitions"); err != nil {
		return fmt.Errorf("failed to read history sequence: %w", err)
	}
	for _, r := range records {
		seq++
		if _, err := tx.NamedExecContext(ctx, insertTransitionSQL, toTransitionRow(r, seq)); err != nil {
			return fmt.Errorf("failed to append transition: %w", err)
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const selectClaimSQL = `
	SELECT id, partner_id, policy_id, claim_type, policy_snapshot_json, declared_at, incident_date,
	       declarant_json, claimed_amount, outstanding_principal, currency, required_documents_json,
	       attached_documents_json, status, granted_amount, rejection_reason, is_archived,
	       decided_at, paid_at, closed_at, version, created_at, updated_at
	FROM claims
`

const selectQuittanceSQL = `
	SELECT id, claim_id, kind, beneficiary, amount, currency, stage, state_json,
	       is_archived, version, created_at, updated_at
	FROM quittances
`

func (s *Store) GetClaim(ctx context.Context, id string) (claims.Claim, error) {
	var row claimRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectClaimSQL+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, &generic.NotFoundError{Entity: "claim", ID: id}
	}
	if err != nil {
		return claims.Claim{}, fmt.Errorf("failed to get claim: %w", err)
	}
	return row.toClaim()
}

func (s *Store) ListClaims(ctx context.Context, filter indemnity.ClaimFilter) ([]claims.Claim, error) {
	query := selectClaimSQL + " WHERE 1=1"
	var args []any
	if !filter.IncludeArchived {
		query += " AND is_archived = 0"
	}
	if filter.PartnerID != "" {
		query += " AND partner_id = ?"
		args = append(args, filter.PartnerID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at ASC, id ASC"

	var rows []claimRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	out := make([]claims.Claim, 0, len(rows))
	for _, row := range rows {
		c, err := row.toClaim()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) GetQuittance(ctx context.Context, id string) (quittance.Quittance, error) {
	var row quittanceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectQuittanceSQL+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return quittance.Quittance{}, &generic.NotFoundError{Entity: "quittance", ID: id}
	}
	if err != nil {
		return quittance.Quittance{}, fmt.Errorf("failed to get quittance: %w", err)
	}
	return row.toQuittance()
}

func (s *Store) ListQuittances(ctx context.Context, filter indemnity.QuittanceFilter) ([]quittance.Quittance, error) {
	query := selectQuittanceSQL + " WHERE 1=1"
	var args []any
	if !filter.IncludeArchived {
		query += " AND is_archived = 0"
	}
	if filter.ClaimID != "" {
		query += " AND claim_id = ?"
		args = append(args, filter.ClaimID)
	}
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, string(filter.Stage))
	}
	query += " ORDER BY created_at ASC, id ASC"

	var rows []quittanceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list quittances: %w", err)
	}
	out := make([]quittance.Quittance, 0, len(rows))
	for _, row := range rows {
		q, err := row.toQuittance()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, entity, id string) ([]indemnity.TransitionRecord, error) {
	query := `
		SELECT id, seq, entity, entity_id, claim_id, action, from_state, to_state, actor_id, role, reason, at
		FROM transitions
		WHERE entity = ? AND entity_id = ?
		ORDER BY seq ASC
	`
	var rows []transitionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), entity, id); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	out := make([]indemnity.TransitionRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func corrupt(entity, id, column string, err error) error {
	return fmt.Errorf("corrupt %s %s: column %s: %w", entity, id, column, err)
}

// Ensure Store implements the interface.
var _ indemnity.Store = (*Store)(nil)
