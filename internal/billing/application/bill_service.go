package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	billing "community-billing/internal/billing/domain"
	"community-billing/internal/observability/metrics"
	"community-billing/internal/observability/tracing"
	period "community-billing/internal/period/domain"
	"community-billing/internal/store"
)

const (
	skipReasonNoAccount = "no_account"
	tracerName          = "community-billing/billing"
)

// Settings are the tariff and shared-cost strategy used by calculations.
type Settings struct {
	Tariff   billing.Tariff
	Strategy billing.Strategy
}

// CreateResult reports what a bill run wrote. SkippedOwners lists owners
// that have no account and therefore got no bill.
type CreateResult struct {
	Created       []billing.Bill
	Updated       []billing.Bill
	SkippedOwners []string
}

// BillService persists calculated bills under the period gate.
type BillService struct {
	store       store.Store
	tariff      billing.Tariff
	electricity *billing.ElectricityCalculator
	budget      billing.BudgetCalculator
	logger      *zap.Logger
	now         func() time.Time
}

// NewBillService constructs a service.
func NewBillService(st store.Store, settings Settings, logger *zap.Logger) (*BillService, error) {
	if st == nil {
		return nil, errors.New("bill service: nil store")
	}
	if err := settings.Tariff.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillService{
		store:       st,
		tariff:      settings.Tariff,
		electricity: billing.NewElectricityCalculator(settings.Strategy),
		logger:      logger,
		now:         time.Now,
	}, nil
}

// WithClock overrides the time source.
func (s *BillService) WithClock(now func() time.Time) *BillService {
	if now != nil {
		s.now = now
	}
	return s
}

// Tariff returns the configured tariff.
func (s *BillService) Tariff() billing.Tariff { return s.tariff }

// CalculateElectricity prices a period from stored readings: each active
// property is read at the period start and end, and the community meter
// delta mainStart..mainEnd is priced with the configured tariff. Nothing is
// written.
func (s *BillService) CalculateElectricity(ctx context.Context, periodID string, mainStart, mainEnd decimal.Decimal) (*billing.ElectricityCalculation, error) {
	var input billing.ElectricityInput
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := requirePeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}
		properties, err := tx.ListProperties(ctx)
		if err != nil {
			return err
		}
		owners, err := tx.ListOwners(ctx)
		if err != nil {
			return err
		}
		readings := make([]billing.MeterReadings, 0, len(properties))
		for _, prop := range properties {
			if !prop.IsActive {
				continue
			}
			mr := billing.MeterReadings{PropertyID: prop.ID, OwnerID: prop.OwnerID}
			if r, err := tx.LatestReadingAtOrBefore(ctx, prop.ID, p.StartDate); err != nil {
				return err
			} else if r != nil {
				mr.Start = decimal.NewNullDecimal(r.Value)
			}
			if r, err := tx.LatestReadingAtOrBefore(ctx, prop.ID, p.EndDate); err != nil {
				return err
			} else if r != nil {
				mr.End = decimal.NewNullDecimal(r.Value)
			}
			readings = append(readings, mr)
		}
		input = billing.ElectricityInput{
			MainStart:  mainStart,
			MainEnd:    mainEnd,
			Tariff:     s.tariff,
			Properties: readings,
			Owners:     ownerSubjects(owners, properties),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	calc, err := s.electricity.Calculate(input)
	if err != nil {
		return nil, err
	}
	if len(calc.Skipped) > 0 {
		s.logger.Warn("properties without boundary readings",
			zap.String("period_id", periodID),
			zap.Strings("property_ids", calc.Skipped),
		)
	}
	return calc, nil
}

// ownerSubjects turns owners into allocation subjects weighted by their
// active properties. Owners without an active weighted property take part
// with a zero share.
func ownerSubjects(owners []billing.Owner, properties []billing.Property) []billing.Subject {
	weights := billing.OwnerWeights(properties)
	out := make([]billing.Subject, 0, len(owners))
	for _, o := range owners {
		w, ok := weights[o.ID]
		out = append(out, billing.Subject{
			ID:          o.ID,
			ShareWeight: w,
			Active:      ok && w.IsPositive(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CalculateBudget computes MAIN or CONSERVATION amounts for the period's
// month count. Nothing is written.
func (s *BillService) CalculateBudget(ctx context.Context, periodID string, yearBudget decimal.Decimal, billType billing.BillType) ([]billing.BudgetCalculation, error) {
	if !billType.IsBudget() {
		return nil, apperrors.Validation("bill type %s is not a budget type", billType)
	}
	var (
		properties []billing.Property
		months     int
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := requirePeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}
		months = p.Months()
		properties, err = tx.ListProperties(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	in := billing.BudgetInput{YearBudget: yearBudget, PeriodMonths: months}
	if billType == billing.BillTypeConservation {
		return s.budget.Conservation(properties, in), nil
	}
	return s.budget.Main(properties, in), nil
}

// CreateElectricityBills writes personal and shared electricity bills once
// per period. A second run fails with a conflict and writes nothing.
// Zero shared amounts produce no bill.
func (s *BillService) CreateElectricityBills(ctx context.Context, periodID string, personal []billing.PersonalBill, shared []billing.Share, actorID string) (*CreateResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	ctx, span := tracing.Start(ctx, tracerName, "bills.electricity", attribute.String("period_id", periodID))
	defer func() {
		metrics.ObserveBillRun("electricity", result, time.Since(start))
		span.SetAttributes(attribute.String("result", result))
		span.End()
	}()

	now := s.now().UTC()
	var out *CreateResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = &CreateResult{}
		if _, err := lockOpenPeriod(ctx, tx, periodID); err != nil {
			return err
		}
		existing, err := tx.CountBills(ctx, periodID, billing.ElectricityBillTypes...)
		if err != nil {
			return err
		}
		if existing > 0 {
			return apperrors.Conflict("electricity bills already exist for period %s", periodID)
		}

		accounts := newAccountResolver(tx)
		for _, pb := range personal {
			account, err := accounts.resolve(ctx, pb.OwnerID)
			if err != nil {
				return err
			}
			if account == "" {
				continue
			}
			bill := billing.Bill{
				ServicePeriodID: periodID,
				AccountID:       account,
				PropertyID:      pb.PropertyID,
				Type:            billing.BillTypeElectricity,
				Amount:          billing.Round2(pb.Amount),
				Comment:         "consumption " + pb.Consumption.String() + " (" + pb.StartReading.String() + " - " + pb.EndReading.String() + ")",
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := insertBill(ctx, tx, &bill, pb.OwnerID, actorID, now); err != nil {
				return err
			}
			out.Created = append(out.Created, bill)
		}
		for _, share := range shared {
			if !share.Amount.IsPositive() {
				continue
			}
			account, err := accounts.resolve(ctx, share.SubjectID)
			if err != nil {
				return err
			}
			if account == "" {
				continue
			}
			bill := billing.Bill{
				ServicePeriodID: periodID,
				AccountID:       account,
				Type:            billing.BillTypeSharedElectricity,
				Amount:          billing.Round2(share.Amount),
				Comment:         "shared electricity",
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := insertBill(ctx, tx, &bill, share.SubjectID, actorID, now); err != nil {
				return err
			}
			out.Created = append(out.Created, bill)
		}
		out.SkippedOwners = accounts.skippedOwners()
		return nil
	})
	if err != nil {
		result = resultFor(err)
		return nil, err
	}
	s.report(periodID, "electricity", out)
	return out, nil
}

// CreateBudgetBills upserts MAIN or CONSERVATION bills: an existing bill for
// the same (period, account, type) gets its amount replaced.
func (s *BillService) CreateBudgetBills(ctx context.Context, periodID string, calculations []billing.BudgetCalculation, billType billing.BillType, actorID string) (*CreateResult, error) {
	kind := strings.ToLower(string(billType))
	start := time.Now()
	result := metrics.ResultSuccess
	ctx, span := tracing.Start(ctx, tracerName, "bills."+kind, attribute.String("period_id", periodID))
	defer func() {
		metrics.ObserveBillRun(kind, result, time.Since(start))
		span.SetAttributes(attribute.String("result", result))
		span.End()
	}()

	if !billType.IsBudget() {
		result = metrics.ResultError
		return nil, apperrors.Validation("bill type %s is not a budget type", billType)
	}
	now := s.now().UTC()
	var out *CreateResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = &CreateResult{}
		if _, err := lockOpenPeriod(ctx, tx, periodID); err != nil {
			return err
		}
		accounts := newAccountResolver(tx)
		for _, calc := range calculations {
			account, err := accounts.resolve(ctx, calc.OwnerID)
			if err != nil {
				return err
			}
			if account == "" {
				continue
			}
			amount := billing.Round2(calc.Amount)
			comment := "weight " + calc.Weight.StringFixed(2)
			existing, err := tx.FindBill(ctx, periodID, account, "", billType)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := tx.UpdateBillAmount(ctx, existing.ID, amount, comment, now); err != nil {
					return err
				}
				previous := existing.Amount
				existing.Amount = amount
				existing.Comment = comment
				existing.UpdatedAt = now
				entry, err := billAudit(existing, calc.OwnerID, audit.ActionBillUpdate, actorID, now, map[string]any{
					"previous_amount": previous.StringFixed(2),
				})
				if err != nil {
					return err
				}
				if err := tx.InsertAudit(ctx, entry); err != nil {
					return err
				}
				out.Updated = append(out.Updated, *existing)
				continue
			}
			bill := billing.Bill{
				ServicePeriodID: periodID,
				AccountID:       account,
				Type:            billType,
				Amount:          amount,
				Comment:         comment,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := insertBill(ctx, tx, &bill, calc.OwnerID, actorID, now); err != nil {
				return err
			}
			out.Created = append(out.Created, bill)
		}
		out.SkippedOwners = accounts.skippedOwners()
		return nil
	})
	if err != nil {
		result = resultFor(err)
		return nil, err
	}
	s.report(periodID, kind, out)
	return out, nil
}

// ListBills returns the bills of a period.
func (s *BillService) ListBills(ctx context.Context, periodID string) ([]billing.Bill, error) {
	var out []billing.Bill
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := requirePeriod(ctx, tx, periodID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListBills(ctx, periodID)
		return err
	})
	return out, err
}

func (s *BillService) report(periodID, kind string, out *CreateResult) {
	for _, b := range out.Created {
		metrics.AddBillsWritten(string(b.Type), "create", 1)
	}
	for _, b := range out.Updated {
		metrics.AddBillsWritten(string(b.Type), "update", 1)
	}
	metrics.AddOwnersSkipped(skipReasonNoAccount, len(out.SkippedOwners))
	for _, owner := range out.SkippedOwners {
		s.logger.Warn("owner has no account, bill skipped",
			zap.String("period_id", periodID),
			zap.String("owner_id", owner),
			zap.String("kind", kind),
		)
	}
	s.logger.Info("bills written",
		zap.String("period_id", periodID),
		zap.String("kind", kind),
		zap.Int("created", len(out.Created)),
		zap.Int("updated", len(out.Updated)),
		zap.Int("skipped_owners", len(out.SkippedOwners)),
	)
}

func resultFor(err error) string {
	if apperrors.IsConflict(err) {
		return metrics.ResultConflict
	}
	return metrics.ResultError
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

func insertBill(ctx context.Context, tx store.Tx, bill *billing.Bill, ownerID, actorID string, now time.Time) error {
	if err := tx.InsertBill(ctx, bill); err != nil {
		return err
	}
	entry, err := billAudit(bill, ownerID, audit.ActionBillCreate, actorID, now, nil)
	if err != nil {
		return err
	}
	return tx.InsertAudit(ctx, entry)
}

func billAudit(bill *billing.Bill, ownerID, action, actorID string, now time.Time, extra map[string]any) (audit.Entry, error) {
	changes := map[string]any{
		"bill_type": string(bill.Type),
		"subject":   bill.SubjectKey(),
		"owner_id":  ownerID,
		"amount":    bill.Amount.StringFixed(2),
		"period_id": bill.ServicePeriodID,
		"actor_id":  actorID,
	}
	if bill.PropertyID != "" {
		changes["property_id"] = bill.PropertyID
	}
	for k, v := range extra {
		changes[k] = v
	}
	return audit.NewEntry(audit.EntityBill, bill.ID, action, actorID, changes, now)
}

// accountResolver caches owner to account lookups for one transaction.
type accountResolver struct {
	tx       store.Tx
	accounts map[string]string
	skipped  map[string]struct{}
}

func newAccountResolver(tx store.Tx) *accountResolver {
	return &accountResolver{tx: tx, accounts: make(map[string]string), skipped: make(map[string]struct{})}
}

// resolve returns "" for owners that are missing or have no account.
func (r *accountResolver) resolve(ctx context.Context, ownerID string) (string, error) {
	if account, ok := r.accounts[ownerID]; ok {
		return account, nil
	}
	owner, err := r.tx.GetOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	account := ""
	if owner != nil && owner.HasAccount() {
		account = owner.AccountID
	} else {
		r.skipped[ownerID] = struct{}{}
	}
	r.accounts[ownerID] = account
	return account, nil
}

func (r *accountResolver) skippedOwners() []string {
	out := make([]string, 0, len(r.skipped))
	for id := range r.skipped {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
