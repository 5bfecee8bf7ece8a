// Package crm reads campaign recipients from tenant CRM data.
package crm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/tenant"
)

// ErrTenantUnavailable is returned when a tenant's CRM data cannot be read.
var ErrTenantUnavailable = errors.New("tenant crm unavailable")

// Recipient is one addressable contact with the attributes campaigns
// personalize and branch on.
type Recipient struct {
	ID   string
	Data map[string]interface{}
}

// Page bounds a recipient listing.
type Page struct {
	Limit  int
	Offset int
}

// PostgresStore lists recipients from "<schema>".recipients, one schema per
// tenant. Segment criteria are matched with JSONB containment.
type PostgresStore struct{ db *sql.DB }

// NewPostgresStore creates a CRM reader over db.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// ListRecipients returns the recipients of scope matching criteria.
func (s *PostgresStore) ListRecipients(ctx context.Context, scope tenant.Scope, criteria map[string]interface{}, page Page) ([]Recipient, error) {
	if !tenant.ValidSchema(scope.Schema) {
		return nil, fmt.Errorf("%w: invalid schema %q for tenant %s", ErrTenantUnavailable, scope.Schema, scope.TenantID)
	}
	filter := []byte("{}")
	if len(criteria) > 0 {
		b, err := json.Marshal(criteria)
		if err != nil {
			return nil, fmt.Errorf("marshal segment criteria: %w", err)
		}
		filter = b
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 1000
	}

	q := fmt.Sprintf(`
		SELECT id, attributes
		FROM %s.recipients
		WHERE attributes @> $1::jsonb AND unsubscribed_at IS NULL
		ORDER BY id
		LIMIT $2 OFFSET $3`, pq.QuoteIdentifier(scope.Schema))

	rows, err := s.db.QueryContext(ctx, q, string(filter), limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list recipients for %s: %v", ErrTenantUnavailable, scope.TenantID, err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		var attrs []byte
		if err := rows.Scan(&r.ID, &attrs); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Data); err != nil {
				return nil, fmt.Errorf("decode recipient %s attributes: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StaticStore serves recipients from memory, keyed by tenant id.
type StaticStore struct {
	mu         sync.RWMutex
	recipients map[string][]Recipient
	failures   map[string]error
}

// NewStaticStore creates an empty in-memory CRM.
func NewStaticStore() *StaticStore {
	return &StaticStore{recipients: map[string][]Recipient{}, failures: map[string]error{}}
}

// Add registers recipients for a tenant.
func (s *StaticStore) Add(tenantID string, rs ...Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[tenantID] = append(s.recipients[tenantID], rs...)
	sort.Slice(s.recipients[tenantID], func(i, j int) bool {
		return s.recipients[tenantID][i].ID < s.recipients[tenantID][j].ID
	})
}

// Fail makes every listing for tenantID return err.
func (s *StaticStore) Fail(tenantID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[tenantID] = err
}

// ListRecipients returns recipients whose data contains every criteria
// key with an equal value.
func (s *StaticStore) ListRecipients(_ context.Context, scope tenant.Scope, criteria map[string]interface{}, page Page) ([]Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[scope.TenantID]; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTenantUnavailable, err)
	}
	var matched []Recipient
	for _, r := range s.recipients[scope.TenantID] {
		if containsAll(r.Data, criteria) {
			matched = append(matched, r)
		}
	}
	if page.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func containsAll(data, criteria map[string]interface{}) bool {
	for k, want := range criteria {
		if fmt.Sprint(data[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
