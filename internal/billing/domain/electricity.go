package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

// Tariff prices the community meter.
// Losses is a fraction, 0.2 meaning 20% line losses.
type Tariff struct {
	Multiplier decimal.Decimal
	Rate       decimal.Decimal
	Losses     decimal.Decimal
}

// Validate checks the tariff coefficients.
func (t Tariff) Validate() error {
	if !t.Multiplier.IsPositive() {
		return apperrors.Validation("electricity: multiplier must be positive")
	}
	if !t.Rate.IsPositive() {
		return apperrors.Validation("electricity: rate must be positive")
	}
	if t.Losses.IsNegative() {
		return apperrors.Validation("electricity: losses must not be negative")
	}
	return nil
}

// TotalCost prices the community meter delta:
//
//	round2((end - start) * multiplier * rate * (1 + losses))
func TotalCost(start, end decimal.Decimal, tariff Tariff) (decimal.Decimal, error) {
	if start.IsNegative() || end.IsNegative() {
		return decimal.Zero, apperrors.Validation("electricity: negative meter reading")
	}
	if !end.GreaterThan(start) {
		return decimal.Zero, apperrors.Validation("electricity: end reading %s must exceed start reading %s", end.String(), start.String())
	}
	if err := tariff.Validate(); err != nil {
		return decimal.Zero, err
	}
	cost := end.Sub(start).
		Mul(tariff.Multiplier).
		Mul(tariff.Rate).
		Mul(decimal.NewFromInt(1).Add(tariff.Losses))
	return Round2(cost), nil
}

// MeterReadings holds the period boundary readings of one property.
// A side is invalid when no reading exists at or before that boundary.
type MeterReadings struct {
	PropertyID string
	OwnerID    string
	Start      decimal.NullDecimal
	End        decimal.NullDecimal
}

// PersonalBill is the metered electricity charge of one property.
type PersonalBill struct {
	PropertyID   string
	OwnerID      string
	StartReading decimal.Decimal
	EndReading   decimal.Decimal
	Consumption  decimal.Decimal
	Amount       decimal.Decimal
}

// ElectricityInput is everything needed to price a period.
type ElectricityInput struct {
	MainStart  decimal.Decimal
	MainEnd    decimal.Decimal
	Tariff     Tariff
	Properties []MeterReadings
	// Owners carries each owner's summed active share weight. Consumption
	// is filled in by the calculator from the personal bills.
	Owners []Subject
}

// ElectricityCalculation is the priced period, ready for confirmation.
type ElectricityCalculation struct {
	TotalCost     decimal.Decimal
	PersonalTotal decimal.Decimal
	SharedCost    decimal.Decimal
	Personal      []PersonalBill
	Shared        []Share
	Skipped       []string
}

// ElectricityCalculator prices personal meters and splits the unmetered
// remainder among owners.
type ElectricityCalculator struct {
	strategy Strategy
}

// NewElectricityCalculator constructs a calculator. A nil strategy means
// Proportional.
func NewElectricityCalculator(strategy Strategy) *ElectricityCalculator {
	if strategy == nil {
		strategy = Proportional{}
	}
	return &ElectricityCalculator{strategy: strategy}
}

// Strategy returns the shared-cost strategy.
func (c *ElectricityCalculator) Strategy() Strategy { return c.strategy }

// PersonalBills prices each property's consumption at rate. Properties
// missing a boundary reading are returned in skipped. Any negative
// consumption fails the whole batch and lists every offending property.
func (c *ElectricityCalculator) PersonalBills(properties []MeterReadings, rate decimal.Decimal) ([]PersonalBill, []string, error) {
	if rate.IsNegative() {
		return nil, nil, apperrors.Validation("electricity: negative rate")
	}
	var (
		bills     []PersonalBill
		skipped   []string
		offending []string
	)
	for _, p := range properties {
		if !p.Start.Valid || !p.End.Valid {
			skipped = append(skipped, p.PropertyID)
			continue
		}
		consumption := p.End.Decimal.Sub(p.Start.Decimal)
		if consumption.IsNegative() {
			offending = append(offending, p.PropertyID)
			continue
		}
		bills = append(bills, PersonalBill{
			PropertyID:   p.PropertyID,
			OwnerID:      p.OwnerID,
			StartReading: p.Start.Decimal,
			EndReading:   p.End.Decimal,
			Consumption:  consumption,
			Amount:       Round2(consumption.Mul(rate)),
		})
	}
	if len(offending) > 0 {
		sort.Strings(offending)
		return nil, nil, apperrors.Inconsistent("electricity: negative consumption", offending)
	}
	return bills, skipped, nil
}

// Calculate prices the community meter, the personal meters and the shared
// remainder: max(0, total - sum(personal)).
func (c *ElectricityCalculator) Calculate(in ElectricityInput) (*ElectricityCalculation, error) {
	total, err := TotalCost(in.MainStart, in.MainEnd, in.Tariff)
	if err != nil {
		return nil, err
	}
	personal, skipped, err := c.PersonalBills(in.Properties, in.Tariff.Rate)
	if err != nil {
		return nil, err
	}

	personalTotal := decimal.Zero
	consumptionByOwner := make(map[string]decimal.Decimal)
	for _, b := range personal {
		personalTotal = personalTotal.Add(b.Amount)
		consumptionByOwner[b.OwnerID] = consumptionByOwner[b.OwnerID].Add(b.Consumption)
	}
	shared := total.Sub(personalTotal)
	if shared.IsNegative() {
		shared = decimal.Zero
	}

	owners := make([]Subject, len(in.Owners))
	for i, o := range in.Owners {
		o.Consumption = consumptionByOwner[o.ID]
		owners[i] = o
	}
	shares, err := Allocate(shared, c.strategy, owners)
	if err != nil {
		return nil, err
	}

	return &ElectricityCalculation{
		TotalCost:     total,
		PersonalTotal: personalTotal,
		SharedCost:    shared,
		Personal:      personal,
		Shared:        shares,
		Skipped:       skipped,
	}, nil
}
