package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BudgetInput is a yearly budget billed for a number of months.
type BudgetInput struct {
	YearBudget   decimal.Decimal
	PeriodMonths int
}

// Valid reports whether the input can produce bills. Invalid input yields
// an empty calculation rather than an error.
func (in BudgetInput) Valid() bool {
	return in.YearBudget.IsPositive() && in.PeriodMonths >= 1 && in.PeriodMonths <= 12
}

// BudgetCalculation is the amount charged to one owner.
// Weight is the owner's summed (normalized, for conservation) share weight.
type BudgetCalculation struct {
	OwnerID string
	Weight  decimal.Decimal
	Amount  decimal.Decimal
}

// BudgetCalculator computes MAIN and CONSERVATION bills.
type BudgetCalculator struct{}

// Main charges every active weighted property:
//
//	round2(year_budget / 12 * months * weight / 100)
//
// summed per owner.
func (BudgetCalculator) Main(properties []Property, in BudgetInput) []BudgetCalculation {
	if !in.Valid() {
		return nil
	}
	var selected []Property
	for _, p := range properties {
		if p.IsActive && p.ShareWeight.Valid {
			selected = append(selected, p)
		}
	}
	return chargeProperties(selected, in, hundred)
}

// Conservation charges only conservation properties. Their weights are
// renormalized to add up to 100 so the whole budget is recovered from
// them: coefficient = 100 / sum(conservation weights).
func (BudgetCalculator) Conservation(properties []Property, in BudgetInput) []BudgetCalculation {
	if !in.Valid() {
		return nil
	}
	var selected []Property
	base := decimal.Zero
	for _, p := range properties {
		if p.IsActive && p.IsConservation && p.ShareWeight.Valid {
			selected = append(selected, p)
			base = base.Add(p.ShareWeight.Decimal)
		}
	}
	if !base.IsPositive() {
		return nil
	}
	return chargeProperties(selected, in, base)
}

// chargeProperties prices each property as
// year_budget * months * weight / (12 * base) and sums per owner.
// base is 100 for MAIN; for CONSERVATION it is the conservation weight sum,
// which folds the 100/sum coefficient into one exact division.
func chargeProperties(properties []Property, in BudgetInput, base decimal.Decimal) []BudgetCalculation {
	months := decimal.NewFromInt(int64(in.PeriodMonths))
	denominator := monthsInYear.Mul(base)

	byOwner := make(map[string]*BudgetCalculation)
	var order []string
	for _, p := range properties {
		weight := p.ShareWeight.Decimal
		amount := Round2(in.YearBudget.Mul(months).Mul(weight).Div(denominator))
		normalized := weight.Mul(hundred).Div(base)
		calc, ok := byOwner[p.OwnerID]
		if !ok {
			calc = &BudgetCalculation{OwnerID: p.OwnerID, Weight: decimal.Zero, Amount: decimal.Zero}
			byOwner[p.OwnerID] = calc
			order = append(order, p.OwnerID)
		}
		calc.Weight = calc.Weight.Add(normalized)
		calc.Amount = calc.Amount.Add(amount)
	}

	sort.Strings(order)
	out := make([]BudgetCalculation, 0, len(order))
	for _, id := range order {
		out = append(out, *byOwner[id])
	}
	return out
}
