package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/R3E-Network/rumble/internal/app/events"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/":                                   "/",
		"/healthz":                            "/healthz",
		"/metrics":                            "/metrics",
		"/ws/v1/events":                       "/ws",
		"/api/v1/rounds":                      "/api/v1/rounds",
		"/api/v1/rounds/":                     "/api/v1/rounds",
		"/api/v1/rounds/round-7":              "/api/v1/rounds/:id",
		"/api/v1/rounds/round-7/deposits":     "/api/v1/rounds/:id/deposits",
		"/api/v1/rounds/round-7/select-winners": "/api/v1/rounds/:id/select-winners",
		"/api/v1/accounts":                    "/api/v1/accounts",
		"/api/v1/accounts/NXV7ZhHiyM1aHXwvUN": "/api/v1/accounts/:address",
		"/api/v1/other":                       "/api/v1/other",
	}
	for raw, want := range cases {
		if got := canonicalPath(raw); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rounds/round-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	count := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/rounds/:id", "418"))
	if count < 1 {
		t.Errorf("requests_total = %v, want >= 1", count)
	}
}

func TestEventObserverCounts(t *testing.T) {
	obs := EventObserver{}
	ctx := context.Background()

	depositsBefore := testutil.ToFloat64(depositsTotal)
	unitsBefore := testutil.ToFloat64(depositedUnits)
	paidBefore := testutil.ToFloat64(paidUnits)
	burnedBefore := testutil.ToFloat64(burnedUnits)

	obs.Emit(ctx, events.New(events.TypeDepositRecorded, "r1", events.DepositRecorded{Depositor: "alice", Amount: 250}))
	obs.Emit(ctx, events.New(events.TypeScoresRecorded, "r1", events.ScoresRecorded{Updated: 3}))
	obs.Emit(ctx, events.New(events.TypeWinnersSelected, "r1", events.WinnersSelected{
		Winners:   []string{"alice", "bob"},
		PerWinner: 450,
		BurnShare: 100,
	}))
	obs.Emit(ctx, events.New(events.TypeGameReset, "r1", events.GameReset{}))

	if got := testutil.ToFloat64(depositsTotal) - depositsBefore; got != 1 {
		t.Errorf("deposits_total delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(depositedUnits) - unitsBefore; got != 250 {
		t.Errorf("deposited_units_total delta = %v, want 250", got)
	}
	if got := testutil.ToFloat64(paidUnits) - paidBefore; got != 900 {
		t.Errorf("paid_units_total delta = %v, want 900", got)
	}
	if got := testutil.ToFloat64(burnedUnits) - burnedBefore; got != 100 {
		t.Errorf("burned_units_total delta = %v, want 100", got)
	}
}

func TestRecordScheduledRun(t *testing.T) {
	// Should not panic on edge inputs.
	RecordScheduledRun("", 0, false)
	RecordScheduledRun("settle", 0, true)
}
