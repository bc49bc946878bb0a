// Package sqlite provides the durable audit store. Receipts and breaker
// events land in append-only tables; the one permitted update is the
// receipt's single outcome finalization.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
)

// Store is the SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			subject_id TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			alternatives INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			context TEXT,
			corrects_id TEXT,
			finalized_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS breaker_events (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			subject_id TEXT NOT NULL,
			breaker_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			auto_resolved INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_subject ON receipts(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_type ON receipts(decision_type)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_outcome ON receipts(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_events_subject ON breaker_events(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON breaker_events(breaker_type)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveReceipt(ctx context.Context, receipt *domain.DecisionReceipt) error {
	query := `INSERT INTO receipts (id, created_at, subject_id, decision_type, confidence, alternatives, outcome, context, corrects_id, finalized_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var finalizedAt any
	if receipt.FinalizedAt != nil {
		finalizedAt = *receipt.FinalizedAt
	}

	_, err := s.db.ExecContext(ctx, query,
		receipt.ID, receipt.CreatedAt, receipt.SubjectID, string(receipt.DecisionType),
		receipt.Confidence, receipt.Alternatives, string(receipt.Outcome),
		string(receipt.Context), receipt.CorrectsID, finalizedAt)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

func (s *Store) FinalizeReceipt(ctx context.Context, id string, outcome domain.DecisionOutcome) error {
	// The WHERE clause makes the transition atomic: a concurrent second
	// finalize matches zero rows.
	query := `UPDATE receipts SET outcome = ?, finalized_at = ?
	          WHERE id = ? AND finalized_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, string(outcome), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finalize receipt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM receipts WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return domain.ErrNotFound("receipt " + id)
		}
		return storage.ErrAlreadyFinalized
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.DecisionReceipt, error) {
	query := `SELECT id, created_at, subject_id, decision_type, confidence, alternatives, outcome, context, corrects_id, finalized_at
	          FROM receipts WHERE id = ?`

	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("receipt " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

func (s *Store) ListReceipts(ctx context.Context, opts storage.ListOptions) ([]domain.DecisionReceipt, error) {
	query := `SELECT id, created_at, subject_id, decision_type, confidence, alternatives, outcome, context, corrects_id, finalized_at
	          FROM receipts`

	var conds []string
	var args []any
	if opts.DecisionType != "" {
		conds = append(conds, "decision_type = ?")
		args = append(args, opts.DecisionType)
	}
	if opts.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, opts.Outcome)
	}
	if opts.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, opts.SubjectID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.DecisionReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

func (s *Store) SaveBreakerEvent(ctx context.Context, event *domain.SafetyBreakerEvent) error {
	query := `INSERT INTO breaker_events (id, created_at, subject_id, breaker_type, reason, auto_resolved)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.SubjectID, event.BreakerType,
		event.Reason, event.AutoResolved)
	if err != nil {
		return fmt.Errorf("failed to save breaker event: %w", err)
	}
	return nil
}

func (s *Store) ListBreakerEvents(ctx context.Context, opts storage.ListOptions) ([]domain.SafetyBreakerEvent, error) {
	query := `SELECT id, created_at, subject_id, breaker_type, reason, auto_resolved
	          FROM breaker_events`

	var conds []string
	var args []any
	if opts.BreakerType != "" {
		conds = append(conds, "breaker_type = ?")
		args = append(args, opts.BreakerType)
	}
	if opts.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, opts.SubjectID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query breaker events: %w", err)
	}
	defer rows.Close()

	var events []domain.SafetyBreakerEvent
	for rows.Next() {
		var e domain.SafetyBreakerEvent
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.SubjectID, &e.BreakerType, &e.Reason, &e.AutoResolved); err != nil {
			return nil, fmt.Errorf("failed to scan breaker event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*domain.DecisionReceipt, error) {
	var receipt domain.DecisionReceipt
	var decisionType, outcome string
	var contextStr, correctsID sql.NullString
	var finalizedAt sql.NullTime

	if err := row.Scan(&receipt.ID, &receipt.CreatedAt, &receipt.SubjectID,
		&decisionType, &receipt.Confidence, &receipt.Alternatives, &outcome,
		&contextStr, &correctsID, &finalizedAt); err != nil {
		return nil, err
	}

	receipt.DecisionType = domain.DecisionType(decisionType)
	receipt.Outcome = domain.DecisionOutcome(outcome)
	if contextStr.Valid && contextStr.String != "" {
		receipt.Context = json.RawMessage(contextStr.String)
	}
	if correctsID.Valid {
		receipt.CorrectsID = correctsID.String
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		receipt.FinalizedAt = &t
	}
	return &receipt, nil
}

func listLimit(opts storage.ListOptions) int {
	if opts.Limit <= 0 {
		return storage.DefaultListLimit
	}
	return opts.Limit
}
