package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// maxEventsPerRequest caps a bulk callback.
const maxEventsPerRequest = 500

// DeliveryEvent is one provider status callback.
type DeliveryEvent struct {
	DeliveryID string                `json:"delivery_id,omitempty"`
	Status     domain.DeliveryStatus `json:"status"`
	Timestamp  *time.Time            `json:"timestamp,omitempty"`
}

func (e DeliveryEvent) at() time.Time {
	if e.Timestamp == nil {
		return time.Time{}
	}
	return *e.Timestamp
}

// RecordDeliveryEvent applies one callback to a delivery.
//
//	POST /api/deliveries/{id}/events
func (h *Handlers) RecordDeliveryEvent(w http.ResponseWriter, r *http.Request) {
	var ev DeliveryEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	d, err := h.engine.RecordDeliveryEvent(r.Context(), chi.URLParam(r, "id"), ev.Status, ev.at())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, d)
}

type bulkEventsRequest struct {
	Events []DeliveryEvent `json:"events"`
}

type rejectedEvent struct {
	Index      int    `json:"index"`
	DeliveryID string `json:"delivery_id"`
	Error      string `json:"error"`
}

// RecordDeliveryEvents applies a batch of callbacks. Each event stands
// alone; the rejected ones are listed in the response.
//
//	POST /api/events
func (h *Handlers) RecordDeliveryEvents(w http.ResponseWriter, r *http.Request) {
	var req bulkEventsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Events) > maxEventsPerRequest {
		httputil.BadRequest(w, "too many events")
		return
	}

	accepted := 0
	rejected := []rejectedEvent{}
	for i, ev := range req.Events {
		if ev.DeliveryID == "" {
			rejected = append(rejected, rejectedEvent{Index: i, Error: "delivery_id is required"})
			continue
		}
		if _, err := h.engine.RecordDeliveryEvent(r.Context(), ev.DeliveryID, ev.Status, ev.at()); err != nil {
			if r.Context().Err() != nil {
				writeError(w, r.Context().Err())
				return
			}
			rejected = append(rejected, rejectedEvent{Index: i, DeliveryID: ev.DeliveryID, Error: err.Error()})
			continue
		}
		accepted++
	}
	httputil.OK(w, map[string]interface{}{"accepted": accepted, "rejected": rejected})
}
