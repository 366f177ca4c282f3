package balance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

// EntryKind selects the ledger an entry belongs to.
type EntryKind string

const (
	KindContribution  EntryKind = "CONTRIBUTION"
	KindExpense       EntryKind = "EXPENSE"
	KindServiceCharge EntryKind = "SERVICE_CHARGE"
)

// Descriptions of entries written by ApplyOpeningBalance.
const (
	OpeningBalanceDescription = "Opening balance"
	OpeningDebtDescription    = "Opening debt"
)

// Entry is a contribution, expense or service charge row. OwnerID is empty
// for community expenses not attributable to an owner.
type Entry struct {
	ID              string
	Kind            EntryKind
	ServicePeriodID string
	OwnerID         string
	Amount          decimal.Decimal
	Date            time.Time
	Description     string
	CreatedAt       time.Time
}

// Validate checks an entry before it is written.
func (e Entry) Validate() error {
	switch e.Kind {
	case KindContribution, KindServiceCharge:
		if e.OwnerID == "" {
			return apperrors.Validation("%s requires an owner", e.Kind)
		}
	case KindExpense:
	default:
		return apperrors.Validation("unknown ledger kind %q", e.Kind)
	}
	if e.ServicePeriodID == "" {
		return apperrors.Validation("ledger entry requires a period")
	}
	if e.Amount.IsNegative() {
		return apperrors.Validation("ledger amount %s must not be negative", e.Amount.String())
	}
	if !e.Amount.Equal(e.Amount.Round(2)) {
		return apperrors.Validation("ledger amount %s has more than 2 decimals", e.Amount.String())
	}
	return nil
}

// IsOpening reports whether e was written by a carry-forward.
func (e Entry) IsOpening() bool {
	switch e.Kind {
	case KindContribution:
		return e.Description == OpeningBalanceDescription
	case KindServiceCharge:
		return e.Description == OpeningDebtDescription
	}
	return false
}

// Totals are one owner's period sums.
type Totals struct {
	Contributions decimal.Decimal
	Expenses      decimal.Decimal
	Charges       decimal.Decimal
}

// Balance is contributions minus attributable expenses and charges.
func (t Totals) Balance() decimal.Decimal {
	return t.Contributions.Sub(t.Expenses.Add(t.Charges))
}

// Row is one line of a balance sheet.
type Row struct {
	OwnerID       string
	OwnerName     string
	Contributions decimal.Decimal
	Expenses      decimal.Decimal
	Charges       decimal.Decimal
	Balance       decimal.Decimal
}

// Sheet is the per-owner balance of a period.
type Sheet struct {
	PeriodID string
	Rows     []Row
}

// OwnerRef names an owner on a sheet.
type OwnerRef struct {
	ID   string
	Name string
}

// BuildSheet produces one row per owner, including owners without any
// activity. Totals for owners not in the owner list are ignored.
func BuildSheet(periodID string, owners []OwnerRef, totals map[string]Totals) Sheet {
	rows := make([]Row, 0, len(owners))
	for _, o := range owners {
		t := totals[o.ID]
		rows = append(rows, Row{
			OwnerID:       o.ID,
			OwnerName:     o.Name,
			Contributions: t.Contributions,
			Expenses:      t.Expenses,
			Charges:       t.Charges,
			Balance:       t.Balance(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].OwnerName < rows[j].OwnerName })
	return Sheet{PeriodID: periodID, Rows: rows}
}

// Summary totals the whole sheet. Balance equals Contributions minus
// Expenses and Charges.
func (s Sheet) Summary() Row {
	var sum Row
	for _, r := range s.Rows {
		sum.Contributions = sum.Contributions.Add(r.Contributions)
		sum.Expenses = sum.Expenses.Add(r.Expenses)
		sum.Charges = sum.Charges.Add(r.Charges)
		sum.Balance = sum.Balance.Add(r.Balance)
	}
	return sum
}

// NonZero returns the non-zero balances keyed by owner id.
func (s Sheet) NonZero() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range s.Rows {
		if !r.Balance.IsZero() {
			out[r.OwnerID] = r.Balance
		}
	}
	return out
}

// OpeningEntries turns carried balances into opening ledger rows:
// credit becomes a contribution, debt becomes a service charge, zero is
// dropped. Rows are ordered by owner id.
func OpeningEntries(periodID string, date time.Time, balances map[string]decimal.Decimal) []Entry {
	ids := make([]string, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Entry
	for _, id := range ids {
		b := balances[id]
		switch {
		case b.IsPositive():
			out = append(out, Entry{
				Kind:            KindContribution,
				ServicePeriodID: periodID,
				OwnerID:         id,
				Amount:          b,
				Date:            date,
				Description:     OpeningBalanceDescription,
			})
		case b.IsNegative():
			out = append(out, Entry{
				Kind:            KindServiceCharge,
				ServicePeriodID: periodID,
				OwnerID:         id,
				Amount:          b.Abs(),
				Date:            date,
				Description:     OpeningDebtDescription,
			})
		}
	}
	return out
}
