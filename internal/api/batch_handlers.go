package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/repository"
)

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Template  domain.WorkflowCampaign `json:"template"`
	TenantIDs []string                `json:"tenant_ids"`
	Options   domain.BatchOptions     `json:"options"`
}

// CreateBatchResponse is returned once a batch is queued.
type CreateBatchResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CreateBatch validates a template and queues it for the listed tenants.
//
//	POST /api/batches
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Options.RequestedBy == "" {
		req.Options.RequestedBy = r.Header.Get("X-Requested-By")
	}
	id, err := h.engine.CreateMultiTenantBatch(r.Context(), req.Template, req.TenantIDs, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, CreateBatchResponse{
		ID:        id,
		Status:    string(domain.BatchQueued),
		StatusURL: "/api/batches/" + id,
	})
}

// GetBatch reports a batch's status. limit and offset page the per-tenant
// results.
//
//	GET /api/batches/{id}?limit=50&offset=0
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	offset, err := httputil.QueryInt(r, "offset")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	st, err := h.engine.GetBatchStatus(r.Context(), chi.URLParam(r, "id"), repository.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

// PauseBatch stops a batch from being picked up.
//
//	POST /api/batches/{id}/pause
func (h *Handlers) PauseBatch(w http.ResponseWriter, r *http.Request) {
	reason, ok := optionalReason(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r, h.engine.PauseBatch(r.Context(), chi.URLParam(r, "id"), reason))
}

// ResumeBatch re-queues a paused batch.
//
//	POST /api/batches/{id}/resume
func (h *Handlers) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	h.respondTransition(w, r, h.engine.ResumeBatch(r.Context(), chi.URLParam(r, "id")))
}

// CancelBatch cancels a batch and, on the next pass, its running journeys.
//
//	POST /api/batches/{id}/cancel
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	reason, ok := optionalReason(w, r)
	if !ok {
		return
	}
	h.respondTransition(w, r, h.engine.CancelBatch(r.Context(), chi.URLParam(r, "id"), reason))
}

// respondTransition answers with the batch's new status.
func (h *Handlers) respondTransition(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.engine.GetBatchStatus(r.Context(), chi.URLParam(r, "id"), repository.Page{Limit: 1})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"id":            st.ID,
		"status":        st.Status,
		"status_reason": st.StatusReason,
	})
}

// CancelJourney cancels one recipient's journey.
//
//	POST /api/journeys/{id}/cancel
func (h *Handlers) CancelJourney(w http.ResponseWriter, r *http.Request) {
	reason, ok := optionalReason(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.engine.CancelJourney(r.Context(), id, reason); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": string(domain.JourneyCanceled)})
}

// optionalReason reads {"reason": "..."} when a body is present.
func optionalReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.ContentLength == 0 {
		return "", true
	}
	var req reasonRequest
	if !httputil.Decode(w, r, &req) {
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}
