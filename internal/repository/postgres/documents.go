package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/repository"
)

// Schema creates the document table and its lookup indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS engine_documents (
	kind       TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	tenant_id  TEXT        NOT NULL DEFAULT '',
	parent_id  TEXT        NOT NULL DEFAULT '',
	status     TEXT        NOT NULL DEFAULT '',
	version    BIGINT      NOT NULL,
	body       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS engine_documents_parent_idx ON engine_documents (kind, parent_id);
CREATE INDEX IF NOT EXISTS engine_documents_status_idx ON engine_documents (kind, status);
`

// DocumentRepo implements repository.Backend against PostgreSQL.
type DocumentRepo struct{ db *sql.DB }

// NewDocumentRepo creates a Postgres-backed document backend.
func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

// Migrate creates the schema if it does not exist.
func (r *DocumentRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate engine_documents: %w", err)
	}
	return nil
}

const selectColumns = `kind, id, tenant_id, parent_id, status, version, body, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*repository.Document, error) {
	var d repository.Document
	var kind string
	if err := row.Scan(&kind, &d.ID, &d.TenantID, &d.ParentID, &d.Status, &d.Version, &d.Body, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Kind = repository.Kind(kind)
	return &d, nil
}

func (r *DocumentRepo) Get(ctx context.Context, kind repository.Kind, id string) (*repository.Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM engine_documents WHERE kind = $1 AND id = $2`, string(kind), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %s", repository.ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return d, nil
}

func (r *DocumentRepo) Put(ctx context.Context, doc *repository.Document, expectedVersion int64) error {
	args := []interface{}{string(doc.Kind), doc.ID, doc.TenantID, doc.ParentID, doc.Status, string(doc.Body), doc.UpdatedAt}

	var q string
	switch {
	case expectedVersion == repository.AnyVersion:
		q = `
		INSERT INTO engine_documents (kind, id, tenant_id, parent_id, status, body, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (kind, id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id, parent_id = EXCLUDED.parent_id, status = EXCLUDED.status,
			body = EXCLUDED.body, updated_at = EXCLUDED.updated_at,
			version = engine_documents.version + 1
		RETURNING version`
	case expectedVersion == 0:
		q = `
		INSERT INTO engine_documents (kind, id, tenant_id, parent_id, status, body, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (kind, id) DO NOTHING
		RETURNING version`
	default:
		q = `
		UPDATE engine_documents SET
			tenant_id = $3, parent_id = $4, status = $5, body = $6, updated_at = $7,
			version = version + 1
		WHERE kind = $1 AND id = $2 AND version = $8
		RETURNING version`
		args = append(args, expectedVersion)
	}

	var version int64
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s %s", repository.ErrVersionConflict, doc.Kind, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("put %s %s: %w", doc.Kind, doc.ID, err)
	}
	doc.Version = version
	return nil
}

func (r *DocumentRepo) Query(ctx context.Context, f repository.Query) ([]*repository.Document, error) {
	where := []string{"kind = $1"}
	args := []interface{}{string(f.Kind)}
	idx := 2

	if f.TenantID != "" {
		where = append(where, fmt.Sprintf("tenant_id = $%d", idx))
		args = append(args, f.TenantID)
		idx++
	}
	if f.ParentID != "" {
		where = append(where, fmt.Sprintf("parent_id = $%d", idx))
		args = append(args, f.ParentID)
		idx++
	}
	if len(f.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", idx))
		args = append(args, pq.Array(f.Statuses))
		idx++
	}

	q := `SELECT ` + selectColumns + ` FROM engine_documents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", f.Kind, err)
	}
	defer rows.Close()

	var out []*repository.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", f.Kind, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
