package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/service/suppression"
)

// SuppressionSchema creates the suppression table.
const SuppressionSchema = `
CREATE TABLE IF NOT EXISTS engine_suppressions (
	tenant_id    TEXT        NOT NULL,
	recipient_id TEXT        NOT NULL,
	reason       TEXT        NOT NULL,
	source       TEXT        NOT NULL,
	delivery_id  TEXT        NOT NULL DEFAULT '',
	note         TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, recipient_id)
);
CREATE INDEX IF NOT EXISTS engine_suppressions_created_idx ON engine_suppressions (tenant_id, created_at DESC);
`

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// Migrate creates the schema if it does not exist.
func (r *SuppressionRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, SuppressionSchema); err != nil {
		return fmt.Errorf("migrate engine_suppressions: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, tenantID, recipientID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM engine_suppressions WHERE tenant_id = $1 AND recipient_id = $2)`,
		tenantID, recipientID,
	).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepo) Suppress(ctx context.Context, e *suppression.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engine_suppressions (tenant_id, recipient_id, reason, source, delivery_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, recipient_id) DO NOTHING
	`, e.TenantID, e.RecipientID, string(e.Reason), string(e.Source), e.DeliveryID, e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, tenantID, recipientID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM engine_suppressions WHERE tenant_id = $1 AND recipient_id = $2`,
		tenantID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, tenantID string, f suppression.ListFilter) ([]suppression.Entry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM engine_suppressions WHERE tenant_id = $1 AND ($2 = '' OR reason = $2)`,
		tenantID, f.Reason,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, recipient_id, reason, source, delivery_id, note, created_at
		FROM engine_suppressions
		WHERE tenant_id = $1 AND ($2 = '' OR reason = $2)
		ORDER BY created_at DESC, recipient_id
		LIMIT $3 OFFSET $4
	`, tenantID, f.Reason, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	out := []suppression.Entry{}
	for rows.Next() {
		var e suppression.Entry
		var reason, source string
		if err := rows.Scan(&e.TenantID, &e.RecipientID, &reason, &source, &e.DeliveryID, &e.Note, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		e.Reason, e.Source = suppression.Reason(reason), suppression.Source(source)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
