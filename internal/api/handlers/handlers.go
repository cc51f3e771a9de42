package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"

	"github.com/dvloznov/finance-scheduler/internal/api/middleware"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/scheduler"
)

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// EventsHandler exposes the processing history of recurring transaction events.
type EventsHandler struct {
	store jobs.EventStore
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(store jobs.EventStore) *EventsHandler {
	return &EventsHandler{store: store}
}

// GetEvent handles GET /api/events/{id}
func (h *EventsHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := h.store.GetEvent(r.Context(), id)
	if errors.Is(err, jobs.ErrEventNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("event_id", id).Msg("Failed to get event")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, event)
}

// ListEvents handles GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.EventFilter{
		Name:   query.Get("name"),
		Status: jobs.EventStatus(query.Get("status")),
		UserID: query.Get("user_id"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list events")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// RecurringRunner emits processing events for due recurring transactions.
type RecurringRunner interface {
	Run(ctx context.Context) (scheduler.TriggerResult, error)
}

// BudgetRunner checks budgets and sends alerts.
type BudgetRunner interface {
	Run(ctx context.Context) (scheduler.BudgetAlertResult, error)
}

// ReportRunner sends monthly reports.
type ReportRunner interface {
	Run(ctx context.Context) (scheduler.ReportsResult, error)
	RunForMonth(ctx context.Context, month civil.Date) (scheduler.ReportsResult, error)
}

// TriggersHandler runs the periodic jobs on demand. A nil runner answers 503.
type TriggersHandler struct {
	Recurring RecurringRunner
	Budgets   BudgetRunner
	Reports   ReportRunner
}

// TriggerRecurring handles POST /api/triggers/recurring
func (h *TriggersHandler) TriggerRecurring(w http.ResponseWriter, r *http.Request) {
	if h.Recurring == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Recurring trigger is not configured")
		return
	}
	res, err := h.Recurring.Run(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Recurring trigger failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to trigger recurring transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, res)
}

// TriggerBudgetAlerts handles POST /api/triggers/budget-alerts
func (h *TriggersHandler) TriggerBudgetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Budgets == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Budget alerts are not configured")
		return
	}
	res, err := h.Budgets.Run(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Budget alert check failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to check budgets")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// TriggerMonthlyReports handles POST /api/triggers/monthly-reports?month=2006-01
// Without month the previous calendar month is reported.
func (h *TriggersHandler) TriggerMonthlyReports(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Monthly reports are not configured")
		return
	}

	var (
		res scheduler.ReportsResult
		err error
	)
	if m := r.URL.Query().Get("month"); m != "" {
		month, perr := ParseMonth(m)
		if perr != nil {
			middleware.WriteError(w, http.StatusBadRequest, "month must look like 2006-01")
			return
		}
		res, err = h.Reports.RunForMonth(r.Context(), month)
	} else {
		res, err = h.Reports.Run(r.Context())
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Monthly reports failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to send monthly reports")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// ParseMonth parses "2006-01" into the first day of that month.
func ParseMonth(s string) (civil.Date, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: 1}, nil
}
