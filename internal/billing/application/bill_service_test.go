package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
	"community-billing/internal/store"
	"community-billing/internal/store/memory"
)

var (
	janStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	janEnd   = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func weight(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

type fixture struct {
	store  *memory.Store
	svc    *BillService
	period *period.ServicePeriod
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	p, err := period.New("jan", "January", janStart, janEnd, janStart)
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	err = st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreatePeriod(ctx, p); err != nil {
			return err
		}
		owners := []billing.Owner{
			{ID: "o1", Name: "Anna", AccountID: "acc-1"},
			{ID: "o2", Name: "Boris", AccountID: "acc-2"},
			{ID: "o3", Name: "Clara"},
		}
		for i := range owners {
			if err := tx.SaveOwner(ctx, &owners[i]); err != nil {
				return err
			}
		}
		props := []billing.Property{
			{ID: "p1", OwnerID: "o1", Name: "Plot 1", ShareWeight: weight("60"), IsActive: true},
			{ID: "p2", OwnerID: "o2", Name: "Plot 2", ShareWeight: weight("40"), IsActive: true},
			{ID: "p3", OwnerID: "o3", Name: "Plot 3", ShareWeight: weight("0"), IsActive: true},
		}
		for i := range props {
			if err := tx.SaveProperty(ctx, &props[i]); err != nil {
				return err
			}
		}
		readings := []billing.Reading{
			{PropertyID: "p1", Value: dec("100"), ReadingDate: janStart},
			{PropertyID: "p1", Value: dec("200"), ReadingDate: janEnd},
			{PropertyID: "p2", Value: dec("50"), ReadingDate: janStart.AddDate(0, 0, -3)},
			{PropertyID: "p2", Value: dec("150"), ReadingDate: janEnd.AddDate(0, 0, -1)},
			{PropertyID: "p3", Value: dec("0"), ReadingDate: janStart},
			{PropertyID: "p3", Value: dec("10"), ReadingDate: janEnd},
		}
		for i := range readings {
			if err := tx.InsertReading(ctx, &readings[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	core, logs := observer.New(zapcore.WarnLevel)
	svc, err := NewBillService(st, Settings{
		Tariff: billing.Tariff{Multiplier: dec("1"), Rate: dec("3"), Losses: dec("0.2")},
	}, zap.New(core))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{store: st, svc: svc, period: p, logs: logs}
}

func (f *fixture) countBills(t *testing.T, types ...billing.BillType) int {
	t.Helper()
	var n int
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.CountBills(ctx, f.period.ID, types...)
		return err
	})
	if err != nil {
		t.Fatalf("count bills: %v", err)
	}
	return n
}

func TestCalculateElectricity_FromStoredReadings(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.CalculateElectricity(context.Background(), f.period.ID, dec("1000"), dec("1500"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !calc.TotalCost.Equal(dec("1800.00")) {
		t.Fatalf("expected total 1800.00, got %s", calc.TotalCost)
	}
	if len(calc.Personal) != 3 || !calc.PersonalTotal.Equal(dec("630")) {
		t.Fatalf("unexpected personal bills %+v", calc.Personal)
	}
	if !calc.SharedCost.Equal(dec("1170")) {
		t.Fatalf("expected shared 1170, got %s", calc.SharedCost)
	}
	shared := map[string]decimal.Decimal{}
	for _, s := range calc.Shared {
		shared[s.SubjectID] = s.Amount
	}
	if !shared["o1"].Equal(dec("702")) || !shared["o2"].Equal(dec("468")) || !shared["o3"].IsZero() {
		t.Fatalf("unexpected shared split %v", shared)
	}
}

func TestCreateElectricityBills_SecondRunConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	calc, err := f.svc.CalculateElectricity(ctx, f.period.ID, dec("1000"), dec("1500"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	res, err := f.svc.CreateElectricityBills(ctx, f.period.ID, calc.Personal, calc.Shared, "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Created) != 4 {
		t.Fatalf("expected 4 bills, got %d", len(res.Created))
	}
	if len(res.SkippedOwners) != 1 || res.SkippedOwners[0] != "o3" {
		t.Fatalf("expected o3 skipped, got %v", res.SkippedOwners)
	}
	if f.logs.FilterMessage("owner has no account, bill skipped").Len() != 1 {
		t.Fatalf("expected one skip warning, got %v", f.logs.All())
	}
	before := f.countBills(t, billing.ElectricityBillTypes...)

	_, err = f.svc.CreateElectricityBills(ctx, f.period.ID, calc.Personal, calc.Shared, "admin")
	if !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict on second run, got %v", err)
	}
	if after := f.countBills(t, billing.ElectricityBillTypes...); after != before {
		t.Fatalf("bill count changed from %d to %d", before, after)
	}
}

func TestCreateBills_PeriodGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateElectricityBills(ctx, "missing", nil, nil, ""); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockPeriod(ctx, f.period.ID)
		if err != nil {
			return err
		}
		p.Close(janEnd)
		return tx.UpdatePeriodStatus(ctx, p)
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	calcs := []billing.BudgetCalculation{{OwnerID: "o1", Weight: dec("100"), Amount: dec("10")}}
	if _, err := f.svc.CreateBudgetBills(ctx, f.period.ID, calcs, billing.BillTypeMain, ""); !apperrors.IsValidation(err) {
		t.Fatalf("expected closed period validation error, got %v", err)
	}
	if n := f.countBills(t, billing.BillTypeMain); n != 0 {
		t.Fatalf("closed period must not receive bills, got %d", n)
	}
}

func TestCreateBudgetBills_MainUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveProperty(ctx, &billing.Property{ID: "p2", OwnerID: "o2", Name: "Plot 2", ShareWeight: weight("40"), IsActive: false})
	})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	first, err := f.svc.CalculateBudget(ctx, f.period.ID, dec("12000"), billing.BillTypeMain)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	res, err := f.svc.CreateBudgetBills(ctx, f.period.ID, first, billing.BillTypeMain, "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Created) != 1 || !res.Created[0].Amount.Equal(dec("600")) {
		t.Fatalf("expected one MAIN bill of 600 for o1, got %+v", res.Created)
	}
	if len(res.SkippedOwners) != 1 || res.SkippedOwners[0] != "o3" {
		t.Fatalf("expected o3 skipped, got %v", res.SkippedOwners)
	}

	second := []billing.BudgetCalculation{{OwnerID: "o1", Weight: dec("100"), Amount: dec("1000.00")}}
	res, err = f.svc.CreateBudgetBills(ctx, f.period.ID, second, billing.BillTypeMain, "admin")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(res.Updated) != 1 || len(res.Created) != 0 {
		t.Fatalf("expected one update, got %+v", res)
	}

	bills, err := f.svc.ListBills(ctx, f.period.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var main []billing.Bill
	for _, b := range bills {
		if b.Type == billing.BillTypeMain && b.AccountID == "acc-1" {
			main = append(main, b)
		}
	}
	if len(main) != 1 || !main[0].Amount.Equal(dec("1000.00")) {
		t.Fatalf("expected single MAIN bill of 1000.00, got %+v", main)
	}

	var actions []string
	_ = f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.ListAudit(ctx, audit.EntityBill, main[0].ID)
		if err != nil {
			t.Fatalf("audit: %v", err)
		}
		for _, e := range entries {
			actions = append(actions, e.Action)
		}
		return nil
	})
	if len(actions) != 2 || actions[0] != audit.ActionBillCreate || actions[1] != audit.ActionBillUpdate {
		t.Fatalf("unexpected audit trail %v", actions)
	}
}

func TestCalculateBudget_MainSingleMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveProperty(ctx, &billing.Property{ID: "p1", OwnerID: "o1", Name: "Plot 1", ShareWeight: weight("100"), IsActive: true})
	})
	if err != nil {
		t.Fatalf("save property: %v", err)
	}
	calcs, err := f.svc.CalculateBudget(ctx, f.period.ID, dec("12000"), billing.BillTypeMain)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	for _, c := range calcs {
		if c.OwnerID == "o1" && !c.Amount.Equal(dec("1000.00")) {
			t.Fatalf("expected 1000.00 for weight 100, got %s", c.Amount)
		}
	}
}

func TestCalculateBudget_Conservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		props := []billing.Property{
			{ID: "p1", OwnerID: "o1", Name: "Plot 1", ShareWeight: weight("25"), IsActive: true, IsConservation: true},
			{ID: "p2", OwnerID: "o2", Name: "Plot 2", ShareWeight: weight("75"), IsActive: true, IsConservation: true},
		}
		for i := range props {
			if err := tx.SaveProperty(ctx, &props[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("save properties: %v", err)
	}
	calcs, err := f.svc.CalculateBudget(ctx, f.period.ID, dec("1200"), billing.BillTypeConservation)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(calcs) != 2 || !calcs[0].Amount.Equal(dec("25.00")) || !calcs[1].Amount.Equal(dec("75.00")) {
		t.Fatalf("unexpected conservation split %+v", calcs)
	}
	if _, err := f.svc.CalculateBudget(ctx, f.period.ID, dec("1200"), billing.BillTypeElectricity); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for non-budget type, got %v", err)
	}
}

func TestCreateElectricityBills_FailureMidBatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// o2 pays through o1's account, so the second shared bill collides
	// with the first one on (period, account, type).
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveOwner(ctx, &billing.Owner{ID: "o2", Name: "Boris", AccountID: "acc-1"})
	})
	if err != nil {
		t.Fatalf("share account: %v", err)
	}
	calc, err := f.svc.CalculateElectricity(ctx, f.period.ID, dec("1000"), dec("1500"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	_, err = f.svc.CreateElectricityBills(ctx, f.period.ID, calc.Personal, calc.Shared, "admin")
	if !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict from duplicate shared bill, got %v", err)
	}
	if n := f.countBills(t, billing.ElectricityBillTypes...); n != 0 {
		t.Fatalf("expected no bills after failed run, got %d", n)
	}
	err = f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.ListAudit(ctx, audit.EntityBill, "")
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			t.Fatalf("expected no bill audit rows after failed run, got %d", len(entries))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
}
