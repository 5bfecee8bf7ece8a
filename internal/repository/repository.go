// Package repository persists engine entities as versioned JSON documents.
//
// A Backend stores opaque documents keyed by (kind, id) with a handful of
// indexed attributes. Store layers the typed entity operations on top of
// any Backend; memory, dynamo and postgres provide the backends.
package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionConflict = errors.New("document version conflict")
)

// Kind names an entity collection.
type Kind string

const (
	KindMultiTenantBatch Kind = "multi_tenant_batch"
	KindCampaign         Kind = "campaign"
	KindCampaignBatch    Kind = "campaign_batch"
	KindJourney          Kind = "journey"
	KindDelivery         Kind = "delivery"
)

// AnyVersion disables the optimistic version check on Put.
const AnyVersion int64 = -1

// Document is the stored form of one entity.
type Document struct {
	Kind      Kind
	ID        string
	TenantID  string
	ParentID  string
	Status    string
	Version   int64
	Body      []byte
	UpdatedAt time.Time
}

// Query selects documents of one kind. Empty filters match everything.
// Results are ordered by ID.
type Query struct {
	Kind     Kind
	TenantID string
	ParentID string
	Statuses []string
	Limit    int
	Offset   int
}

// Matches reports whether doc satisfies the query's filters.
func (q Query) Matches(doc *Document) bool {
	if doc.Kind != q.Kind {
		return false
	}
	if q.TenantID != "" && doc.TenantID != q.TenantID {
		return false
	}
	if q.ParentID != "" && doc.ParentID != q.ParentID {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if doc.Status == s {
			return true
		}
	}
	return false
}

// Page applies Offset and Limit to an already filtered, ordered slice.
func (q Query) Page(docs []*Document) []*Document {
	if q.Offset >= len(docs) {
		return nil
	}
	docs = docs[q.Offset:]
	if q.Limit > 0 && q.Limit < len(docs) {
		docs = docs[:q.Limit]
	}
	return docs
}

// Backend is a versioned document store.
//
// Put writes doc if the stored version equals expectedVersion (0 means the
// document must not exist yet, AnyVersion skips the check) and sets
// doc.Version to the new version. A failed check returns ErrVersionConflict.
type Backend interface {
	Get(ctx context.Context, kind Kind, id string) (*Document, error)
	Put(ctx context.Context, doc *Document, expectedVersion int64) error
	Query(ctx context.Context, q Query) ([]*Document, error)
}
