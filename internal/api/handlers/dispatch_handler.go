package handlers

import (
	"context"
	"net/http"

	"github.com/klenai/stonecare/internal/application/services"
)

// Dispatcher defines the dispatch pass exposed over the API
type Dispatcher interface {
	DispatchDue(ctx context.Context) (services.DispatchStats, error)
}

// DispatchHandler triggers a dispatcher pass on demand. The recurring loop
// in the dispatcher binary is the normal driver; this endpoint exists for
// operations and tests.
type DispatchHandler struct {
	dispatcher Dispatcher
}

// NewDispatchHandler creates a new dispatch handler
func NewDispatchHandler(dispatcher Dispatcher) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher}
}

// TriggerDispatch handles POST /api/nudges/dispatch
func (h *DispatchHandler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dispatcher.DispatchDue(r.Context())
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
