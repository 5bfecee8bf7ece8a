package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/service/engine"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/worker"
)

// Engine is the part of the batch processor exposed over HTTP.
type Engine interface {
	CreateMultiTenantBatch(ctx context.Context, template domain.WorkflowCampaign, tenantIDs []string, opts domain.BatchOptions) (string, error)
	GetBatchStatus(ctx context.Context, id string, page repository.Page) (*engine.BatchStatus, error)
	PauseBatch(ctx context.Context, id, reason string) error
	ResumeBatch(ctx context.Context, id string) error
	CancelBatch(ctx context.Context, id, reason string) error
	CancelJourney(ctx context.Context, journeyID, reason string) error
	RecordDeliveryEvent(ctx context.Context, deliveryID string, status domain.DeliveryStatus, at time.Time) (*domain.MessageDelivery, error)
}

// WorkerLister reports live workers.
type WorkerLister interface {
	Workers(ctx context.Context) ([]worker.Stats, error)
}

// Suppressions is the opt-out list exposed over HTTP.
type Suppressions interface {
	Suppress(ctx context.Context, e suppression.Entry) error
	Remove(ctx context.Context, tenantID, recipientID string) error
	List(ctx context.Context, tenantID string, filter suppression.ListFilter) ([]suppression.Entry, int, error)
	GetStats(ctx context.Context, tenantID string) (*suppression.Stats, error)
}

// Handlers serves the engine's HTTP API.
type Handlers struct {
	engine       Engine
	workers      WorkerLister
	suppressions Suppressions
}

// NewHandlers creates handlers for e. workers may be nil.
func NewHandlers(e Engine, workers WorkerLister) *Handlers {
	return &Handlers{engine: e, workers: workers}
}

// SetSuppressions enables the suppression routes. Call it before
// SetupRoutes.
func (h *Handlers) SetSuppressions(s Suppressions) {
	h.suppressions = s
}

// writeError maps engine and domain errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail logged, never returned.
func writeError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		httputil.Unprocessable(w, "workflow is invalid", verrs)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, engine.ErrBusy):
		httputil.Error(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrJourneyTerminal):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, engine.ErrNoTenants), errors.Is(err, engine.ErrInvalidStatus), errors.Is(err, suppression.ErrInvalid):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Printf("[API] request abandoned: %v", err)
		httputil.Error(w, http.StatusServiceUnavailable, "timeout", "request timed out")
	default:
		httputil.InternalError(w, err)
	}
}

// ListWorkers returns the live workers.
//
//	GET /api/workers
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	if h.workers == nil {
		httputil.OK(w, map[string]interface{}{"workers": []worker.Stats{}})
		return
	}
	ws, err := h.workers.Workers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ws == nil {
		ws = []worker.Stats{}
	}
	httputil.OK(w, map[string]interface{}{"workers": ws})
}
