package apihttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	balanceapp "community-billing/internal/balance/application"
	billingapp "community-billing/internal/billing/application"
	billing "community-billing/internal/billing/domain"
	periodapp "community-billing/internal/period/application"
	"community-billing/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	periods, err := periodapp.NewService(st, nil)
	if err != nil {
		t.Fatalf("period service: %v", err)
	}
	bills, err := billingapp.NewBillService(st, billingapp.Settings{
		Tariff: billing.Tariff{
			Multiplier: decimal.NewFromInt(1),
			Rate:       decimal.NewFromInt(3),
			Losses:     decimal.RequireFromString("0.2"),
		},
		Strategy: billing.Proportional{},
	}, nil)
	if err != nil {
		t.Fatalf("bill service: %v", err)
	}
	balances, err := balanceapp.NewBalanceService(st, nil)
	if err != nil {
		t.Fatalf("balance service: %v", err)
	}
	community, err := billingapp.NewCommunityService(st, nil)
	if err != nil {
		t.Fatalf("community service: %v", err)
	}
	periodHandler, err := NewPeriodHandler(periods, bills, balances, BudgetDefaults{
		Main:         decimal.NewFromInt(1200),
		Conservation: decimal.NewFromInt(600),
	}, nil)
	if err != nil {
		t.Fatalf("period handler: %v", err)
	}
	communityHandler, err := NewCommunityHandler(community)
	if err != nil {
		t.Fatalf("community handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/periods", periodHandler)
	mux.Handle("/api/v1/periods/", periodHandler)
	communityHandler.Register(mux)
	srv := httptest.NewServer(LoggingMiddleware(mux, nil))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("%s %s: expected %d, got %d (%+v)", method, path, wantStatus, resp.StatusCode, e)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func seedCommunity(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var p periodDTO
	do(t, srv, http.MethodPost, "/api/v1/periods", map[string]string{
		"name": "2026-01", "start_date": "2026-01-01", "end_date": "2026-02-01",
	}, http.StatusCreated, &p)

	do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{"id": "o1", "name": "Anna", "is_resident": true, "account_id": "acc-1"}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{"id": "o2", "name": "Boris", "is_resident": true, "account_id": "acc-2"}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, "/api/v1/properties", map[string]any{"id": "p1", "owner_id": "o1", "name": "Plot 1", "share_weight": "60", "is_active": true}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, "/api/v1/properties", map[string]any{"id": "p2", "owner_id": "o2", "name": "Plot 2", "share_weight": "40", "is_active": true}, http.StatusCreated, nil)

	for _, r := range []map[string]any{
		{"property_id": "p1", "value": "100", "reading_date": "2026-01-01"},
		{"property_id": "p1", "value": "150", "reading_date": "2026-02-01"},
		{"property_id": "p2", "value": "200", "reading_date": "2026-01-01"},
		{"property_id": "p2", "value": "250", "reading_date": "2026-02-01"},
	} {
		do(t, srv, http.MethodPost, "/api/v1/readings", r, http.StatusCreated, nil)
	}
	return p.ID
}

func TestElectricityPreviewThenConfirm(t *testing.T) {
	srv := newTestServer(t)
	id := seedCommunity(t, srv)
	path := "/api/v1/periods/" + id + "/bills/electricity"

	var preview electricityPreview
	do(t, srv, http.MethodPost, path, map[string]any{"main_start": "0", "main_end": "1000"}, http.StatusOK, &preview)
	if !preview.TotalCost.Equal(decimal.NewFromInt(3600)) {
		t.Fatalf("expected total 3600, got %s", preview.TotalCost)
	}
	if !preview.SharedCost.Equal(decimal.NewFromInt(3300)) {
		t.Fatalf("expected shared 3300, got %s", preview.SharedCost)
	}

	var bills []billDTO
	do(t, srv, http.MethodGet, "/api/v1/periods/"+id+"/bills", nil, http.StatusOK, &bills)
	if len(bills) != 0 {
		t.Fatalf("preview must not write bills, got %d", len(bills))
	}

	var run billRunResponse
	do(t, srv, http.MethodPost, path, map[string]any{"main_start": "0", "main_end": "1000", "confirm": true}, http.StatusCreated, &run)
	if len(run.Created) != 4 {
		t.Fatalf("expected 4 bills, got %d", len(run.Created))
	}

	do(t, srv, http.MethodPost, path, map[string]any{"main_start": "0", "main_end": "1000", "confirm": true}, http.StatusConflict, nil)
}

func TestNegativeConsumptionIsUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	seedCommunity(t, srv)
	var feb periodDTO
	do(t, srv, http.MethodPost, "/api/v1/periods", map[string]string{
		"name": "2026-02", "start_date": "2026-02-01", "end_date": "2026-03-01",
	}, http.StatusCreated, &feb)
	do(t, srv, http.MethodPost, "/api/v1/readings", map[string]any{"property_id": "p2", "value": "5", "reading_date": "2026-03-01"}, http.StatusCreated, nil)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/periods/"+feb.ID+"/bills/electricity", bytes.NewBufferString(`{"main_start":"1000","main_end":"2000"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(e.Subjects) != 1 || e.Subjects[0] != "p2" {
		t.Fatalf("expected p2 as offending subject, got %v", e.Subjects)
	}
}

func TestLedgerAndBalanceSheet(t *testing.T) {
	srv := newTestServer(t)
	id := seedCommunity(t, srv)
	base := "/api/v1/periods/" + id

	do(t, srv, http.MethodPost, base+"/contributions", map[string]any{"owner_id": "o1", "amount": "500", "date": "2026-01-10"}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, base+"/service-charges", map[string]any{"owner_id": "o1", "amount": "120.50", "date": "2026-01-11"}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, base+"/expenses", map[string]any{"amount": "75", "date": "2026-01-12", "description": "road repair"}, http.StatusCreated, nil)
	do(t, srv, http.MethodPost, base+"/contributions", map[string]any{"owner_id": "o1", "amount": "-1", "date": "2026-01-10"}, http.StatusBadRequest, nil)

	var bal map[string]any
	do(t, srv, http.MethodGet, base+"/balances/o1", nil, http.StatusOK, &bal)
	if bal["balance"] != "379.5" {
		t.Fatalf("expected balance 379.5, got %v", bal["balance"])
	}

	var sheet sheetDTO
	do(t, srv, http.MethodGet, base+"/balances", nil, http.StatusOK, &sheet)
	if len(sheet.Rows) != 2 {
		t.Fatalf("expected a row per owner, got %d", len(sheet.Rows))
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+base+"/balances/export.xlsx", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != contentTypeXLSX {
		t.Fatalf("unexpected export response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestClosedPeriodRejectsWrites(t *testing.T) {
	srv := newTestServer(t)
	id := seedCommunity(t, srv)
	base := "/api/v1/periods/" + id

	var p periodDTO
	do(t, srv, http.MethodPost, base+"/close", nil, http.StatusOK, &p)
	if p.Status != "CLOSED" || p.ClosedAt == nil {
		t.Fatalf("expected closed period, got %+v", p)
	}
	do(t, srv, http.MethodPost, base+"/contributions", map[string]any{"owner_id": "o1", "amount": "10", "date": "2026-01-10"}, http.StatusBadRequest, nil)
	do(t, srv, http.MethodPost, base+"/bills/main", map[string]any{"confirm": true}, http.StatusBadRequest, nil)
	do(t, srv, http.MethodGet, "/api/v1/periods/current", nil, http.StatusNotFound, nil)

	do(t, srv, http.MethodPost, base+"/reopen", nil, http.StatusOK, &p)
	var history []auditDTO
	do(t, srv, http.MethodGet, base+"/history", nil, http.StatusOK, &history)
	if len(history) != 3 || history[1].Action != "period.close" || history[2].Action != "period.reopen" {
		t.Fatalf("unexpected history %+v", history)
	}
	var run billRunResponse
	do(t, srv, http.MethodPost, base+"/bills/main", map[string]any{"confirm": true}, http.StatusOK, &run)
	if len(run.Created) != 2 {
		t.Fatalf("expected 2 MAIN bills, got %d", len(run.Created))
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	seedCommunity(t, srv)

	do(t, srv, http.MethodGet, "/api/v1/periods/missing", nil, http.StatusNotFound, nil)
	do(t, srv, http.MethodPost, "/api/v1/periods", map[string]string{
		"name": "2026-01", "start_date": "2026-03-01", "end_date": "2026-04-01",
	}, http.StatusConflict, nil)
	do(t, srv, http.MethodPost, "/api/v1/periods", map[string]string{
		"name": "bad", "start_date": "2026-03-01", "end_date": "2026-02-01",
	}, http.StatusBadRequest, nil)
	do(t, srv, http.MethodPost, "/api/v1/properties", map[string]any{"owner_id": "nobody", "name": "Plot 9"}, http.StatusNotFound, nil)
	do(t, srv, http.MethodDelete, "/api/v1/owners", nil, http.StatusMethodNotAllowed, nil)
}
