// Package tenant resolves tenants to their data schemas and carries the
// resolved identity as an explicit Scope value.
//
// A Scope is passed by value to every tenant-scoped call. There is no
// ambient "current tenant": concurrent workers each hold their own Scope.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/lib/pq"
)

// ErrUnknownTenant is returned when a directory has no entry for a tenant.
var ErrUnknownTenant = errors.New("unknown tenant")

// Scope identifies the tenant a unit of work runs for.
type Scope struct {
	TenantID string
	Schema   string
}

// IsZero reports whether the scope was never resolved.
func (s Scope) IsZero() bool { return s.TenantID == "" }

func (s Scope) String() string {
	return fmt.Sprintf("%s(%s)", s.TenantID, s.Schema)
}

// Directory maps tenant ids to schema identifiers.
type Directory interface {
	GetTenantSchema(ctx context.Context, tenantID string) (string, error)
}

// Resolve builds a Scope for tenantID.
func Resolve(ctx context.Context, dir Directory, tenantID string) (Scope, error) {
	schema, err := dir.GetTenantSchema(ctx, tenantID)
	if err != nil {
		return Scope{}, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	return Scope{TenantID: tenantID, Schema: schema}, nil
}

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchema reports whether schema is safe to splice into SQL identifiers.
func ValidSchema(schema string) bool { return schemaPattern.MatchString(schema) }

// StaticDirectory is a fixed tenant -> schema map, loaded from config.
// When DefaultPattern is set, unlisted tenants map to fmt.Sprintf(pattern, id).
type StaticDirectory struct {
	mu             sync.RWMutex
	schemas        map[string]string
	DefaultPattern string
}

// NewStaticDirectory creates a directory from a tenant -> schema map.
func NewStaticDirectory(schemas map[string]string) *StaticDirectory {
	cp := make(map[string]string, len(schemas))
	for k, v := range schemas {
		cp[k] = v
	}
	return &StaticDirectory{schemas: cp}
}

// Set registers or replaces a tenant's schema.
func (d *StaticDirectory) Set(tenantID, schema string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemas[tenantID] = schema
}

// GetTenantSchema implements Directory.
func (d *StaticDirectory) GetTenantSchema(_ context.Context, tenantID string) (string, error) {
	d.mu.RLock()
	schema, ok := d.schemas[tenantID]
	d.mu.RUnlock()
	if !ok && d.DefaultPattern != "" {
		schema, ok = fmt.Sprintf(d.DefaultPattern, tenantID), true
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	if !ValidSchema(schema) {
		return "", fmt.Errorf("tenant %s has invalid schema %q", tenantID, schema)
	}
	return schema, nil
}

// PostgresDirectory reads tenant schemas from a tenants table.
type PostgresDirectory struct {
	db    *sql.DB
	table string
}

// NewPostgresDirectory creates a directory over table, which needs id,
// schema_name and active columns.
func NewPostgresDirectory(db *sql.DB, table string) *PostgresDirectory {
	if table == "" {
		table = "tenants"
	}
	return &PostgresDirectory{db: db, table: table}
}

// GetTenantSchema implements Directory. Inactive tenants are unknown.
func (d *PostgresDirectory) GetTenantSchema(ctx context.Context, tenantID string) (string, error) {
	var schema string
	err := d.db.QueryRowContext(ctx,
		`SELECT schema_name FROM `+pq.QuoteIdentifier(d.table)+` WHERE id = $1 AND active`, tenantID,
	).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup tenant %s: %w", tenantID, err)
	}
	if !ValidSchema(schema) {
		return "", fmt.Errorf("tenant %s has invalid schema %q", tenantID, schema)
	}
	return schema, nil
}
