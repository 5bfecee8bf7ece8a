// Package render turns a stage's content reference into personalized
// subject and body text using Liquid templates.
package render

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/osteele/liquid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// ErrContentNotFound is returned when a content reference does not resolve.
var ErrContentNotFound = errors.New("content not found")

// Content is what a transport sends.
type Content struct {
	Subject string
	Body    string
}

// Template is the raw, unrendered content behind a content reference.
type Template struct {
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body" json:"body"`
}

// Library resolves content references for a tenant.
type Library interface {
	Template(ctx context.Context, scope tenant.Scope, ref string) (Template, error)
}

// StaticLibrary serves templates from memory. Tenant-specific entries are
// keyed "tenant/ref" and win over shared "ref" entries.
type StaticLibrary struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewStaticLibrary creates a library from ref -> template.
func NewStaticLibrary(templates map[string]Template) *StaticLibrary {
	l := &StaticLibrary{templates: make(map[string]Template, len(templates))}
	for k, v := range templates {
		l.templates[k] = v
	}
	return l
}

// Put registers a template. An empty tenantID registers a shared template.
func (l *StaticLibrary) Put(tenantID, ref string, t Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tenantID != "" {
		ref = tenantID + "/" + ref
	}
	l.templates[ref] = t
}

// Template implements Library.
func (l *StaticLibrary) Template(_ context.Context, scope tenant.Scope, ref string) (Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if t, ok := l.templates[scope.TenantID+"/"+ref]; ok {
		return t, nil
	}
	if t, ok := l.templates[ref]; ok {
		return t, nil
	}
	return Template{}, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
}

// PostgresLibrary reads templates from each tenant schema's
// content_templates table and falls back to a shared library.
type PostgresLibrary struct {
	db       *sql.DB
	fallback Library
}

// NewPostgresLibrary creates a library over db. fallback may be nil.
func NewPostgresLibrary(db *sql.DB, fallback Library) *PostgresLibrary {
	return &PostgresLibrary{db: db, fallback: fallback}
}

// Template implements Library.
func (l *PostgresLibrary) Template(ctx context.Context, scope tenant.Scope, ref string) (Template, error) {
	if !tenant.ValidSchema(scope.Schema) {
		return Template{}, fmt.Errorf("invalid schema %q for tenant %s", scope.Schema, scope.TenantID)
	}
	var t Template
	err := l.db.QueryRowContext(ctx,
		`SELECT subject, body FROM `+pq.QuoteIdentifier(scope.Schema)+`.content_templates WHERE ref = $1`, ref,
	).Scan(&t.Subject, &t.Body)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, sql.ErrNoRows):
		if l.fallback != nil {
			return l.fallback.Template(ctx, scope, ref)
		}
		return Template{}, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	default:
		return Template{}, fmt.Errorf("load template %s for %s: %w", ref, scope, err)
	}
}

// Renderer renders stage content with Liquid, caching parsed templates.
type Renderer struct {
	engine  *liquid.Engine
	library Library
	cache   sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer over library.
func NewRenderer(library Library) *Renderer {
	engine := liquid.NewEngine()

	// {{ name | titlecase }}
	engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})
	// {{ email | urlencode }}
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	return &Renderer{engine: engine, library: library}
}

// Render produces the content of stage for a recipient. The template comes
// from the stage's ContentRef, or inline from the "body" setting when the
// stage has none. A stage Subject overrides the template's.
func (r *Renderer) Render(ctx context.Context, scope tenant.Scope, stage domain.StageDefinition, data map[string]interface{}) (Content, error) {
	tpl := Template{Body: stage.Setting("body")}
	if stage.ContentRef != "" {
		var err error
		if tpl, err = r.library.Template(ctx, scope, stage.ContentRef); err != nil {
			return Content{}, err
		}
	}
	if stage.Subject != "" {
		tpl.Subject = stage.Subject
	}

	subject, err := r.renderString(scope.TenantID+"|"+stage.ContentRef+"|subject", tpl.Subject, data)
	if err != nil {
		return Content{}, fmt.Errorf("render subject of stage %s: %w", stage.ID, err)
	}
	body, err := r.renderString(scope.TenantID+"|"+stage.ContentRef+"|body", tpl.Body, data)
	if err != nil {
		return Content{}, fmt.Errorf("render body of stage %s: %w", stage.ID, err)
	}
	return Content{Subject: subject, Body: body}, nil
}

func (r *Renderer) renderString(cacheKey, src string, data map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	key := cacheKey + "|" + src
	if cached, ok := r.cache.Load(key); ok {
		out, err := cached.(*liquid.Template).RenderString(data)
		if err != nil {
			return "", err
		}
		return out, nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(key, tpl)
	out, err := tpl.RenderString(data)
	if err != nil {
		return "", err
	}
	return out, nil
}
