// Package api serves the worker's admin endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-scheduler/internal/api/handlers"
	"github.com/dvloznov/finance-scheduler/internal/api/middleware"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
)

// NewRouter wires the admin routes behind recovery, request id and request
// logging middleware.
func NewRouter(log zerolog.Logger, events jobs.EventStore, triggers *handlers.TriggersHandler) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(log), middleware.RequestID, middleware.Logger(log))

	r.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	if events != nil {
		eh := handlers.NewEventsHandler(events)
		r.HandleFunc("/api/events", eh.ListEvents).Methods(http.MethodGet)
		r.HandleFunc("/api/events/{id}", eh.GetEvent).Methods(http.MethodGet)
	}
	if triggers == nil {
		triggers = &handlers.TriggersHandler{}
	}
	r.HandleFunc("/api/triggers/recurring", triggers.TriggerRecurring).Methods(http.MethodPost)
	r.HandleFunc("/api/triggers/budget-alerts", triggers.TriggerBudgetAlerts).Methods(http.MethodPost)
	r.HandleFunc("/api/triggers/monthly-reports", triggers.TriggerMonthlyReports).Methods(http.MethodPost)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	return r
}
