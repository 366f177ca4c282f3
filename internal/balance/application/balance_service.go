package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	balance "community-billing/internal/balance/domain"
	"community-billing/internal/observability/metrics"
	"community-billing/internal/observability/tracing"
	period "community-billing/internal/period/domain"
	"community-billing/internal/store"
)

const tracerName = "community-billing/balance"

// EntryInput describes a ledger row to record. OwnerID may be empty for
// community expenses.
type EntryInput struct {
	PeriodID    string
	OwnerID     string
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// BalanceService records ledger rows and derives owner balances.
type BalanceService struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewBalanceService constructs a service.
func NewBalanceService(st store.Store, logger *zap.Logger) (*BalanceService, error) {
	if st == nil {
		return nil, errors.New("balance service: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceService{store: st, logger: logger, now: time.Now}, nil
}

// WithClock overrides the time source.
func (s *BalanceService) WithClock(now func() time.Time) *BalanceService {
	if now != nil {
		s.now = now
	}
	return s
}

// RecordContribution records a payment made by an owner.
func (s *BalanceService) RecordContribution(ctx context.Context, in EntryInput, actorID string) (*balance.Entry, error) {
	return s.record(ctx, balance.KindContribution, in, actorID)
}

// RecordExpense records money spent. With an owner set the expense is
// attributed to that owner's balance.
func (s *BalanceService) RecordExpense(ctx context.Context, in EntryInput, actorID string) (*balance.Entry, error) {
	return s.record(ctx, balance.KindExpense, in, actorID)
}

// RecordServiceCharge records an amount owed by an owner.
func (s *BalanceService) RecordServiceCharge(ctx context.Context, in EntryInput, actorID string) (*balance.Entry, error) {
	return s.record(ctx, balance.KindServiceCharge, in, actorID)
}

func (s *BalanceService) record(ctx context.Context, kind balance.EntryKind, in EntryInput, actorID string) (*balance.Entry, error) {
	now := s.now().UTC()
	entry := balance.Entry{
		Kind:            kind,
		ServicePeriodID: in.PeriodID,
		OwnerID:         in.OwnerID,
		Amount:          in.Amount,
		Date:            in.Date.UTC(),
		Description:     in.Description,
		CreatedAt:       now,
	}
	if entry.Date.IsZero() {
		entry.Date = now
	}
	if err := entry.Validate(); err != nil {
		metrics.IncLedgerEntry(string(kind), metrics.ResultError)
		return nil, err
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := lockOpenPeriod(ctx, tx, in.PeriodID); err != nil {
			return err
		}
		if entry.OwnerID != "" {
			if err := requireOwner(ctx, tx, entry.OwnerID); err != nil {
				return err
			}
		}
		return insertEntry(ctx, tx, &entry, audit.ActionLedgerCreate, actorID, now)
	})
	if err != nil {
		metrics.IncLedgerEntry(string(kind), metrics.ResultError)
		return nil, err
	}
	metrics.IncLedgerEntry(string(kind), metrics.ResultSuccess)
	return &entry, nil
}

// Balance is contributions minus attributable expenses and service charges
// of one owner in one period.
func (s *BalanceService) Balance(ctx context.Context, periodID, ownerID string) (decimal.Decimal, error) {
	var totals balance.Totals
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := requirePeriod(ctx, tx, periodID); err != nil {
			return err
		}
		if err := requireOwner(ctx, tx, ownerID); err != nil {
			return err
		}
		var err error
		totals, err = tx.OwnerTotals(ctx, periodID, ownerID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return totals.Balance(), nil
}

// BalanceSheet lists every owner's balance for a period, including owners
// without any activity.
func (s *BalanceService) BalanceSheet(ctx context.Context, periodID string) (balance.Sheet, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	ctx, span := tracing.Start(ctx, tracerName, "balances.sheet", attribute.String("period_id", periodID))
	defer func() {
		metrics.ObserveBalanceSheet(result, time.Since(start))
		span.SetAttributes(attribute.String("result", result))
		span.End()
	}()

	var sheet balance.Sheet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sheet, err = buildSheet(ctx, tx, periodID)
		return err
	})
	if err != nil {
		result = metrics.ResultError
		return balance.Sheet{}, err
	}
	return sheet, nil
}

func buildSheet(ctx context.Context, tx store.Tx, periodID string) (balance.Sheet, error) {
	if _, err := requirePeriod(ctx, tx, periodID); err != nil {
		return balance.Sheet{}, err
	}
	owners, err := tx.ListOwners(ctx)
	if err != nil {
		return balance.Sheet{}, err
	}
	totals, err := tx.PeriodTotals(ctx, periodID)
	if err != nil {
		return balance.Sheet{}, err
	}
	refs := make([]balance.OwnerRef, 0, len(owners))
	for _, o := range owners {
		refs = append(refs, balance.OwnerRef{ID: o.ID, Name: o.Name})
	}
	return balance.BuildSheet(periodID, refs, totals), nil
}

// CarryForward returns the non-zero balances of fromPeriod that are to be
// opened in toPeriod. Both periods must exist.
func (s *BalanceService) CarryForward(ctx context.Context, fromPeriodID, toPeriodID string) (map[string]decimal.Decimal, error) {
	var out map[string]decimal.Decimal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = carryForward(ctx, tx, fromPeriodID, toPeriodID)
		return err
	})
	return out, err
}

func carryForward(ctx context.Context, tx store.Tx, fromPeriodID, toPeriodID string) (map[string]decimal.Decimal, error) {
	if fromPeriodID == toPeriodID {
		return nil, apperrors.Validation("cannot carry period %s into itself", fromPeriodID)
	}
	if _, err := requirePeriod(ctx, tx, toPeriodID); err != nil {
		return nil, err
	}
	sheet, err := buildSheet(ctx, tx, fromPeriodID)
	if err != nil {
		return nil, err
	}
	return sheet.NonZero(), nil
}

// ApplyOpeningBalance writes carried balances into an open period: credit
// as an "Opening balance" contribution, debt as an "Opening debt" service
// charge. Zero balances write nothing. Every owner must exist, and an owner
// that already has an opening row in the period is a conflict.
func (s *BalanceService) ApplyOpeningBalance(ctx context.Context, periodID string, balances map[string]decimal.Decimal, actorID string) ([]balance.Entry, error) {
	var out []balance.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.applyOpening(ctx, tx, periodID, balances, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.AddCarriedForward(len(out))
	s.logger.Info("opening balances applied", zap.String("period_id", periodID), zap.Int("entries", len(out)))
	return out, nil
}

func (s *BalanceService) applyOpening(ctx context.Context, tx store.Tx, periodID string, balances map[string]decimal.Decimal, actorID string) ([]balance.Entry, error) {
	p, err := lockOpenPeriod(ctx, tx, periodID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	entries := balance.OpeningEntries(periodID, p.StartDate, balances)
	if len(entries) == 0 {
		return entries, nil
	}
	existing, err := tx.ListEntries(ctx, periodID)
	if err != nil {
		return nil, err
	}
	opened := make(map[string]struct{})
	for _, e := range existing {
		if e.IsOpening() {
			opened[e.OwnerID] = struct{}{}
		}
	}
	for _, e := range entries {
		if err := requireOwner(ctx, tx, e.OwnerID); err != nil {
			return nil, err
		}
		if _, dup := opened[e.OwnerID]; dup {
			return nil, apperrors.Conflict("opening balance for owner %s already recorded in period %s", e.OwnerID, periodID)
		}
	}
	for i := range entries {
		entries[i].CreatedAt = now
		if err := entries[i].Validate(); err != nil {
			return nil, err
		}
		if err := insertEntry(ctx, tx, &entries[i], audit.ActionOpeningCreate, actorID, now); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Rollover carries fromPeriod's balances into toPeriod in one transaction.
func (s *BalanceService) Rollover(ctx context.Context, fromPeriodID, toPeriodID, actorID string) ([]balance.Entry, error) {
	ctx, span := tracing.Start(ctx, tracerName, "balances.rollover",
		attribute.String("from_period_id", fromPeriodID),
		attribute.String("to_period_id", toPeriodID),
	)
	var out []balance.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		balances, err := carryForward(ctx, tx, fromPeriodID, toPeriodID)
		if err != nil {
			return err
		}
		out, err = s.applyOpening(ctx, tx, toPeriodID, balances, actorID)
		return err
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	metrics.AddCarriedForward(len(out))
	s.logger.Info("balances rolled over",
		zap.String("from_period_id", fromPeriodID),
		zap.String("to_period_id", toPeriodID),
		zap.Int("entries", len(out)),
	)
	return out, nil
}

// Entries lists the ledger rows of a period.
func (s *BalanceService) Entries(ctx context.Context, periodID string) ([]balance.Entry, error) {
	var out []balance.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := requirePeriod(ctx, tx, periodID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListEntries(ctx, periodID)
		return err
	})
	return out, err
}

func insertEntry(ctx context.Context, tx store.Tx, e *balance.Entry, action, actorID string, now time.Time) error {
	if err := tx.InsertEntry(ctx, e); err != nil {
		return err
	}
	changes := map[string]any{
		"kind":        string(e.Kind),
		"period_id":   e.ServicePeriodID,
		"owner_id":    e.OwnerID,
		"amount":      e.Amount.StringFixed(2),
		"date":        e.Date.Format(time.RFC3339),
		"description": e.Description,
	}
	entry, err := audit.NewEntry(audit.EntityLedgerEntry, e.ID, action, actorID, changes, now)
	if err != nil {
		return err
	}
	return tx.InsertAudit(ctx, entry)
}

func requirePeriod(ctx context.Context, tx store.Tx, periodID string) (*period.ServicePeriod, error) {
	p, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("period %s not found", periodID)
	}
	return p, nil
}

func requireOwner(ctx context.Context, tx store.Tx, ownerID string) error {
	owner, err := tx.GetOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner == nil {
		return apperrors.NotFound("owner %s not found", ownerID)
	}
	return nil
}

func lockOpenPeriod(ctx context.Context, tx store.Tx, periodID string) (*period.ServicePeriod, error) {
	p, err := tx.LockPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("period %s not found", periodID)
	}
	if err := p.EnsureOpen(); err != nil {
		return nil, err
	}
	return p, nil
}
