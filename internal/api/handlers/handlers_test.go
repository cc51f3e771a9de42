package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/scheduler"
)

var errDown = errors.New("database down")

type downEventStore struct{}

func (downEventStore) SaveEvent(context.Context, *jobs.Event) error { return errDown }

func (downEventStore) GetEvent(context.Context, string) (*jobs.Event, error) { return nil, errDown }

func (downEventStore) ListEvents(context.Context, jobs.EventFilter) ([]*jobs.Event, error) {
	return nil, errDown
}

type downRunner struct{}

func (downRunner) Run(context.Context) (scheduler.TriggerResult, error) {
	return scheduler.TriggerResult{}, errDown
}

type downBudgets struct{}

func (downBudgets) Run(context.Context) (scheduler.BudgetAlertResult, error) {
	return scheduler.BudgetAlertResult{}, errDown
}

type downReports struct{}

func (downReports) Run(context.Context) (scheduler.ReportsResult, error) {
	return scheduler.ReportsResult{}, errDown
}

func (downReports) RunForMonth(context.Context, civil.Date) (scheduler.ReportsResult, error) {
	return scheduler.ReportsResult{}, errDown
}

// serve runs h with a request whose context carries a logger writing to buf.
func serve(h http.HandlerFunc, r *http.Request, buf *bytes.Buffer) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ctx := logger.WithContext(r.Context(), logger.NewWithWriter(buf))
	h(rec, r.WithContext(ctx))
	return rec
}

func TestHandlers_LogFailuresToRequestLogger(t *testing.T) {
	events := NewEventsHandler(downEventStore{})
	triggers := &TriggersHandler{Recurring: downRunner{}, Budgets: downBudgets{}, Reports: downReports{}}

	getReq := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/events/e1", nil), map[string]string{"id": "e1"})

	tests := []struct {
		name    string
		handler http.HandlerFunc
		req     *http.Request
		logMsg  string
	}{
		{"get event", events.GetEvent, getReq, "Failed to get event"},
		{"list events", events.ListEvents, httptest.NewRequest(http.MethodGet, "/api/events", nil), "Failed to list events"},
		{"recurring", triggers.TriggerRecurring, httptest.NewRequest(http.MethodPost, "/api/triggers/recurring", nil), "Recurring trigger failed"},
		{"budgets", triggers.TriggerBudgetAlerts, httptest.NewRequest(http.MethodPost, "/api/triggers/budget-alerts", nil), "Budget alert check failed"},
		{"reports", triggers.TriggerMonthlyReports, httptest.NewRequest(http.MethodPost, "/api/triggers/monthly-reports", nil), "Monthly reports failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rec := serve(tt.handler, tt.req, &buf)

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, buf.String(), tt.logMsg)
			assert.Contains(t, buf.String(), "database down")
		})
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	store := &notFoundStore{}
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/events/x", nil), map[string]string{"id": "x"})

	var buf bytes.Buffer
	rec := serve(NewEventsHandler(store).GetEvent, req, &buf)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, buf.String())
}

type notFoundStore struct{ downEventStore }

func (*notFoundStore) GetEvent(context.Context, string) (*jobs.Event, error) {
	return nil, jobs.ErrEventNotFound
}
