package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"community-billing/internal/api/export"
	"community-billing/internal/apperrors"
	"community-billing/internal/auth"
	balanceapp "community-billing/internal/balance/application"
	balance "community-billing/internal/balance/domain"
	billingapp "community-billing/internal/billing/application"
	billing "community-billing/internal/billing/domain"
	"community-billing/internal/observability/metrics"
	periodapp "community-billing/internal/period/application"
	period "community-billing/internal/period/domain"
)

const periodsPrefix = "/api/v1/periods"

// BudgetDefaults are the yearly budgets used when a request omits one.
type BudgetDefaults struct {
	Main         decimal.Decimal
	Conservation decimal.Decimal
}

// PeriodHandler serves periods and everything scoped to one period:
// bills, ledger rows, balances and exports.
type PeriodHandler struct {
	periods  *periodapp.Service
	bills    *billingapp.BillService
	balances *balanceapp.BalanceService
	budgets  BudgetDefaults
	logger   *zap.Logger
}

// NewPeriodHandler constructs a PeriodHandler.
func NewPeriodHandler(periods *periodapp.Service, bills *billingapp.BillService, balances *balanceapp.BalanceService, budgets BudgetDefaults, logger *zap.Logger) (*PeriodHandler, error) {
	if periods == nil || bills == nil || balances == nil {
		return nil, errors.New("period handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodHandler{periods: periods, bills: bills, balances: balances, budgets: budgets, logger: logger}, nil
}

// ServeHTTP handles /api/v1/periods and /api/v1/periods/{id}/...
func (h *PeriodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, periodsPrefix), "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			methodNotAllowed(w)
		}
		return
	}
	if rest == "current" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.handleCurrent(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	h.route(w, r, id, sub)
}

func (h *PeriodHandler) route(w http.ResponseWriter, r *http.Request, id, sub string) {
	get := r.Method == http.MethodGet
	post := r.Method == http.MethodPost
	switch {
	case sub == "" && get:
		h.handleGet(w, r, id)
	case sub == "history" && get:
		h.handleHistory(w, r, id)
	case sub == "close" && post:
		h.handleTransition(w, r, id, h.periods.Close)
	case sub == "reopen" && post:
		h.handleTransition(w, r, id, h.periods.Reopen)
	case sub == "bills" && get:
		h.handleListBills(w, r, id)
	case sub == "bills/export.xlsx" && get:
		h.handleExportBills(w, r, id)
	case sub == "bills/electricity" && post:
		h.handleElectricity(w, r, id)
	case sub == "bills/main" && post:
		h.handleBudget(w, r, id, billing.BillTypeMain, h.budgets.Main)
	case sub == "bills/conservation" && post:
		h.handleBudget(w, r, id, billing.BillTypeConservation, h.budgets.Conservation)
	case sub == "contributions" && post:
		h.handleEntry(w, r, id, h.balances.RecordContribution)
	case sub == "expenses" && post:
		h.handleEntry(w, r, id, h.balances.RecordExpense)
	case sub == "service-charges" && post:
		h.handleEntry(w, r, id, h.balances.RecordServiceCharge)
	case sub == "entries" && get:
		h.handleEntries(w, r, id)
	case sub == "balances" && get:
		h.handleSheet(w, r, id)
	case sub == "balances/export.xlsx" && get:
		h.handleExportSheet(w, r, id, "xlsx")
	case sub == "balances/export.pdf" && get:
		h.handleExportSheet(w, r, id, "pdf")
	case strings.HasPrefix(sub, "balances/") && get:
		h.handleOwnerBalance(w, r, id, strings.TrimPrefix(sub, "balances/"))
	case sub == "carry-forward" && get:
		h.handleCarryForward(w, r, id)
	case sub == "rollover" && post:
		h.handleRollover(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type createPeriodRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (h *PeriodHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	p, err := h.periods.Create(r.Context(), req.Name, start, end, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*p))
}

func (h *PeriodHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.periods.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]periodDTO, 0, len(list))
	for _, p := range list {
		out = append(out, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PeriodHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	p, err := h.periods.Current(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *PeriodHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.periods.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

type periodTransition func(ctx context.Context, id, actorID string) (*period.ServicePeriod, error)

func (h *PeriodHandler) handleTransition(w http.ResponseWriter, r *http.Request, id string, fn periodTransition) {
	p, err := fn(r.Context(), id, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *PeriodHandler) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.periods.History(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]auditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PeriodHandler) handleListBills(w http.ResponseWriter, r *http.Request, id string) {
	bills, err := h.bills.ListBills(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

type electricityRequest struct {
	MainStart decimal.Decimal `json:"main_start"`
	MainEnd   decimal.Decimal `json:"main_end"`
	Confirm   bool            `json:"confirm"`
}

// handleElectricity returns the calculation for review, and writes the bills
// when the request confirms it.
func (h *PeriodHandler) handleElectricity(w http.ResponseWriter, r *http.Request, id string) {
	var req electricityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	calc, err := h.bills.CalculateElectricity(r.Context(), id, req.MainStart, req.MainEnd)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusOK, toElectricityPreview(calc))
		return
	}
	res, err := h.bills.CreateElectricityBills(r.Context(), id, calc.Personal, calc.Shared, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillRunResponse(res))
}

type budgetRequest struct {
	YearBudget decimal.NullDecimal `json:"year_budget"`
	Confirm    bool                `json:"confirm"`
}

func (h *PeriodHandler) handleBudget(w http.ResponseWriter, r *http.Request, id string, billType billing.BillType, fallback decimal.Decimal) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	yearBudget := fallback
	if req.YearBudget.Valid {
		yearBudget = req.YearBudget.Decimal
	}
	calcs, err := h.bills.CalculateBudget(r.Context(), id, yearBudget, billType)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !req.Confirm {
		writeJSON(w, http.StatusOK, toBudgetPreview(billType, calcs))
		return
	}
	res, err := h.bills.CreateBudgetBills(r.Context(), id, calcs, billType, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillRunResponse(res))
}

type entryRequest struct {
	OwnerID     string          `json:"owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

type recordFunc func(ctx context.Context, in balanceapp.EntryInput, actorID string) (*balance.Entry, error)

func (h *PeriodHandler) handleEntry(w http.ResponseWriter, r *http.Request, id string, record recordFunc) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	entry, err := record(r.Context(), balanceapp.EntryInput{
		PeriodID:    id,
		OwnerID:     req.OwnerID,
		Amount:      req.Amount,
		Date:        date,
		Description: req.Description,
	}, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (h *PeriodHandler) handleEntries(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.balances.Entries(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PeriodHandler) handleSheet(w http.ResponseWriter, r *http.Request, id string) {
	sheet, err := h.balances.BalanceSheet(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSheetDTO(sheet))
}

func (h *PeriodHandler) handleOwnerBalance(w http.ResponseWriter, r *http.Request, id, ownerID string) {
	if ownerID == "" || strings.Contains(ownerID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	amount, err := h.balances.Balance(r.Context(), id, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period_id": id,
		"owner_id":  ownerID,
		"balance":   amount,
	})
}

func (h *PeriodHandler) handleCarryForward(w http.ResponseWriter, r *http.Request, id string) {
	to := r.URL.Query().Get("to")
	if to == "" {
		respondServiceError(w, apperrors.Validation("to is required"))
		return
	}
	balances, err := h.balances.CarryForward(r.Context(), id, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from_period_id": id,
		"to_period_id":   to,
		"balances":       balances,
	})
}

type rolloverRequest struct {
	ToPeriodID string `json:"to_period_id"`
}

func (h *PeriodHandler) handleRollover(w http.ResponseWriter, r *http.Request, id string) {
	var req rolloverRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	entries, err := h.balances.Rollover(r.Context(), id, req.ToPeriodID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	writeJSON(w, http.StatusCreated, out)
}

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

func (h *PeriodHandler) handleExportBills(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("bills_xlsx", result, time.Since(start))
	}()

	p, err := h.periods.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	bills, err := h.bills.ListBills(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	body, err := export.BuildBillsXLSX(p, bills)
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("bills export failed", zap.String("period_id", id), zap.Error(err))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	writeFile(w, contentTypeXLSX, "bills-"+p.Name+".xlsx", body)
}

func (h *PeriodHandler) handleExportSheet(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("balances_"+format, result, time.Since(start))
	}()

	p, err := h.periods.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	sheet, err := h.balances.BalanceSheet(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	var body []byte
	contentType := contentTypeXLSX
	if format == "pdf" {
		contentType = contentTypePDF
		body, err = export.BuildBalanceSheetPDF(p, sheet)
	} else {
		body, err = export.BuildBalanceSheetXLSX(p, sheet)
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("balance sheet export failed", zap.String("period_id", id), zap.String("format", format), zap.Error(err))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	writeFile(w, contentType, "balances-"+p.Name+"."+format, body)
}

func writeFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(filename)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
