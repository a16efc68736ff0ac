package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLite stores transaction records in a local SQLite database. Used for
// development deployments and tests; the caller imports the driver and owns
// the *sql.DB lifecycle.
type SQLite struct {
	DB    *sql.DB
	AppID string
}

func NewSQLite(db *sql.DB, appID string) *SQLite {
	return &SQLite{DB: db, AppID: appID}
}

// Migrate creates the transactions table if it does not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id             TEXT PRIMARY KEY,
			app_id         TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			amount         TEXT NOT NULL,
			currency       TEXT NOT NULL,
			protocol       TEXT NOT NULL,
			card_masked    TEXT NOT NULL,
			status         TEXT NOT NULL,
			response_code  TEXT NOT NULL,
			message        TEXT NOT NULL,
			settlement_ref TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_app_user_created
			ON transactions (app_id, user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate transactions table: %w", err)
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AppID == "" {
		rec.AppID = s.AppID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO transactions
			(id, app_id, user_id, amount, currency, protocol, card_masked,
			 status, response_code, message, settlement_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.AppID, rec.UserID, rec.Amount.String(), rec.Currency,
		rec.Protocol, rec.CardMasked, rec.Status, rec.ResponseCode,
		rec.Message, rec.SettlementRef, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction record: %w", err)
	}
	return nil
}

func (s *SQLite) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, app_id, user_id, amount, currency, protocol, card_masked,
		       status, response_code, message, settlement_ref, created_at
		FROM transactions
		WHERE app_id = ? AND user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, s.AppID, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var amount string
		err := rows.Scan(
			&rec.ID, &rec.AppID, &rec.UserID, &amount, &rec.Currency,
			&rec.Protocol, &rec.CardMasked, &rec.Status, &rec.ResponseCode,
			&rec.Message, &rec.SettlementRef, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction record: %w", err)
		}
		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}
