package routes

import (
	"net/http"

	"github.com/klenai/stonecare/internal/api/handlers"
	"github.com/klenai/stonecare/internal/api/middleware"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	analysisHandler *handlers.AnalysisHandler
	planHandler     *handlers.PlanHandler
	dispatchHandler *handlers.DispatchHandler
}

// NewRouter creates a new router
func NewRouter(
	analysisHandler *handlers.AnalysisHandler,
	planHandler *handlers.PlanHandler,
	dispatchHandler *handlers.DispatchHandler,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		analysisHandler: analysisHandler,
		planHandler:     planHandler,
		dispatchHandler: dispatchHandler,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Analysis endpoints
	r.mux.HandleFunc("POST /api/analyses", r.analysisHandler.StartRun)
	r.mux.HandleFunc("GET /api/analyses/{id}", r.analysisHandler.GetAnalysis)
	r.mux.HandleFunc("GET /api/analyses/{id}/mesh", r.analysisHandler.GetMeshArtifact)
	r.mux.HandleFunc("GET /api/patients/{id}/analyses", r.analysisHandler.ListAnalyses)
	r.mux.HandleFunc("POST /api/patients/{id}/labs", r.analysisHandler.SubmitLabs)

	// Plan endpoints
	r.mux.HandleFunc("GET /api/plans/{id}", r.planHandler.GetPlan)
	r.mux.HandleFunc("POST /api/plans/{id}/approve", r.planHandler.ApprovePlan)
	r.mux.HandleFunc("GET /api/plans/{id}/nudges", r.planHandler.ListPlanNudges)
	r.mux.HandleFunc("GET /api/patients/{id}/plan", r.planHandler.GetActivePlan)

	// Dispatch endpoint
	r.mux.HandleFunc("POST /api/nudges/dispatch", r.dispatchHandler.TriggerDispatch)

	return middleware.LoggingMiddleware(r.mux)
}
