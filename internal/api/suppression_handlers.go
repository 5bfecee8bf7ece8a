package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

type addSuppressionRequest struct {
	RecipientID string             `json:"recipient_id"`
	Reason      suppression.Reason `json:"reason"`
	Note        string             `json:"note"`
}

// ListSuppressions pages a tenant's suppressed recipients.
//
//	GET /api/tenants/{tenantID}/suppressions?reason=spam&limit=50&offset=0
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
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
	entries, total, err := h.suppressions.List(r.Context(), chi.URLParam(r, "tenantID"), suppression.ListFilter{
		Reason: r.URL.Query().Get("reason"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"suppressions": entries, "total": total})
}

// AddSuppression opts a recipient out of every campaign of the tenant.
// The reason defaults to manual.
//
//	POST /api/tenants/{tenantID}/suppressions
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req addSuppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = suppression.ReasonManual
	}
	entry := suppression.Entry{
		TenantID:    chi.URLParam(r, "tenantID"),
		RecipientID: req.RecipientID,
		Reason:      req.Reason,
		Source:      suppression.SourceOperator,
		Note:        req.Note,
	}
	if err := h.suppressions.Suppress(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"tenant_id": entry.TenantID, "recipient_id": entry.RecipientID})
}

// RemoveSuppression lets a recipient be contacted again.
//
//	DELETE /api/tenants/{tenantID}/suppressions/{recipientID}
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	if err := h.suppressions.Remove(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "recipientID")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SuppressionStats counts a tenant's suppressions by reason and source.
//
//	GET /api/tenants/{tenantID}/suppressions/stats
func (h *Handlers) SuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.suppressions.GetStats(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, stats)
}
