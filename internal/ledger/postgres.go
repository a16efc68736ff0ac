package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres stores transaction records in PostgreSQL through a shared
// connection pool. The pool handles concurrent appends.
type Postgres struct {
	Pool  *pgxpool.Pool
	AppID string
}

func NewPostgres(pool *pgxpool.Pool, appID string) *Postgres {
	return &Postgres{Pool: pool, AppID: appID}
}

// Migrate creates the transactions table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id             UUID PRIMARY KEY,
			app_id         TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			amount         NUMERIC(20,8) NOT NULL,
			currency       TEXT NOT NULL,
			protocol       TEXT NOT NULL,
			card_masked    TEXT NOT NULL,
			status         TEXT NOT NULL,
			response_code  TEXT NOT NULL,
			message        TEXT NOT NULL,
			settlement_ref TEXT,
			created_at     TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_app_user_created
			ON transactions (app_id, user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate transactions table: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AppID == "" {
		rec.AppID = p.AppID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := p.Pool.Exec(ctx, `
		INSERT INTO transactions
			(id, app_id, user_id, amount, currency, protocol, card_masked,
			 status, response_code, message, settlement_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.AppID, rec.UserID, rec.Amount.String(), rec.Currency,
		rec.Protocol, rec.CardMasked, rec.Status, rec.ResponseCode,
		rec.Message, nullable(rec.SettlementRef), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction record: %w", err)
	}
	return nil
}

func (p *Postgres) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, app_id, user_id, amount::text, currency, protocol,
		       card_masked, status, response_code, message,
		       COALESCE(settlement_ref, ''), created_at
		FROM transactions
		WHERE app_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, p.AppID, userID, normalizeLimit(limit))
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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
