package billing

import (
	"strings"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

// Strategy names as they appear in configuration.
const (
	StrategyProportional = "PROPORTIONAL"
	StrategyFixedFee     = "FIXED_FEE"
	StrategyUsageBased   = "USAGE_BASED"
	StrategyNone         = "NONE"
)

// Subject is an allocation candidate. Inactive subjects stay in the output
// with a zero share.
type Subject struct {
	ID          string
	ShareWeight decimal.Decimal
	Consumption decimal.Decimal
	Active      bool
}

// Strategy turns subjects into allocation weights. The set of strategies is
// closed: only the types in this package implement it.
type Strategy interface {
	Name() string
	weights(subjects []Subject) []Weighted
}

// Proportional weights each active subject by its share weight.
type Proportional struct{}

// FixedFee gives every active subject the same weight.
type FixedFee struct{}

// UsageBased weights each active subject by its consumption delta.
type UsageBased struct{}

// NoAllocation allocates nothing.
type NoAllocation struct{}

func (Proportional) Name() string { return StrategyProportional }
func (FixedFee) Name() string     { return StrategyFixedFee }
func (UsageBased) Name() string   { return StrategyUsageBased }
func (NoAllocation) Name() string { return StrategyNone }

func (Proportional) weights(subjects []Subject) []Weighted {
	return buildWeights(subjects, func(s Subject) decimal.Decimal { return s.ShareWeight })
}

func (FixedFee) weights(subjects []Subject) []Weighted {
	one := decimal.NewFromInt(1)
	return buildWeights(subjects, func(Subject) decimal.Decimal { return one })
}

func (UsageBased) weights(subjects []Subject) []Weighted {
	return buildWeights(subjects, func(s Subject) decimal.Decimal { return s.Consumption })
}

func (NoAllocation) weights(subjects []Subject) []Weighted {
	return buildWeights(subjects, func(Subject) decimal.Decimal { return decimal.Zero })
}

func buildWeights(subjects []Subject, weightOf func(Subject) decimal.Decimal) []Weighted {
	out := make([]Weighted, len(subjects))
	for i, s := range subjects {
		w := decimal.Zero
		if s.Active {
			w = weightOf(s)
		}
		out[i] = Weighted{SubjectID: s.ID, Weight: w}
	}
	return out
}

// ParseStrategy resolves a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case StrategyProportional, "":
		return Proportional{}, nil
	case StrategyFixedFee:
		return FixedFee{}, nil
	case StrategyUsageBased:
		return UsageBased{}, nil
	case StrategyNone:
		return NoAllocation{}, nil
	default:
		return nil, apperrors.Validation("allocation: unknown strategy %q", name)
	}
}

// Allocate applies strategy to subjects and distributes total across them.
func Allocate(total decimal.Decimal, strategy Strategy, subjects []Subject) ([]Share, error) {
	if strategy == nil {
		return nil, apperrors.Validation("allocation: nil strategy")
	}
	return Distribute(total, strategy.weights(subjects))
}
