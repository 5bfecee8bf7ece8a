// Package memory is an in-process repository backend for tests and
// single-node runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/campaign-engine/internal/repository"
)

type key struct {
	kind repository.Kind
	id   string
}

// Backend keeps documents in a map.
type Backend struct {
	mu   sync.RWMutex
	docs map[key]repository.Document
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{docs: make(map[key]repository.Document)}
}

func clone(d repository.Document) *repository.Document {
	d.Body = append([]byte(nil), d.Body...)
	return &d
}

// Get implements repository.Backend.
func (b *Backend) Get(_ context.Context, kind repository.Kind, id string) (*repository.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.docs[key{kind, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", repository.ErrNotFound, kind, id)
	}
	return clone(d), nil
}

// Put implements repository.Backend.
func (b *Backend) Put(_ context.Context, doc *repository.Document, expectedVersion int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{doc.Kind, doc.ID}
	current, exists := b.docs[k]
	switch {
	case expectedVersion == repository.AnyVersion:
	case expectedVersion == 0 && exists:
		return fmt.Errorf("%w: %s %s exists", repository.ErrVersionConflict, doc.Kind, doc.ID)
	case expectedVersion > 0 && (!exists || current.Version != expectedVersion):
		return fmt.Errorf("%w: %s %s", repository.ErrVersionConflict, doc.Kind, doc.ID)
	}
	doc.Version = current.Version + 1
	b.docs[k] = *clone(*doc)
	return nil
}

// Query implements repository.Backend.
func (b *Backend) Query(_ context.Context, q repository.Query) ([]*repository.Document, error) {
	b.mu.RLock()
	var out []*repository.Document
	for _, d := range b.docs {
		d := d
		if q.Matches(&d) {
			out = append(out, clone(d))
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return q.Page(out), nil
}

// Len returns the number of stored documents of kind.
func (b *Backend) Len(kind repository.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for k := range b.docs {
		if k.kind == kind {
			n++
		}
	}
	return n
}
