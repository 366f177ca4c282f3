package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
)

// Weighted is one allocation subject with its weight. Slice order is the
// tie-break order for remainder cents.
type Weighted struct {
	SubjectID string
	Weight    decimal.Decimal
}

// Share is the amount allocated to one subject.
type Share struct {
	SubjectID string
	Weight    decimal.Decimal
	Amount    decimal.Decimal
}

// Distribute splits total across weights so that the shares add up to the
// cent-rounded total exactly and no share is negative. A total with
// sub-cent digits is rounded half away from zero first, so 10.005 yields
// shares summing to 10.01.
//
//	per_unit  = total / sum(weights)
//	raw_i     = round2(per_unit * weight_i)
//	remainder = cents(total) - sum(cents(raw_i))
//
// Remainder cents go one at a time to subjects ordered by weight
// descending, ties kept in input order. Zero-weight subjects never receive
// a remainder cent. When every weight is zero all shares are zero.
func Distribute(total decimal.Decimal, weights []Weighted) ([]Share, error) {
	if total.IsNegative() {
		return nil, apperrors.Validation("allocation: negative total %s", total.String())
	}
	seen := make(map[string]struct{}, len(weights))
	sum := decimal.Zero
	for _, w := range weights {
		if w.SubjectID == "" {
			return nil, apperrors.Validation("allocation: empty subject id")
		}
		if _, dup := seen[w.SubjectID]; dup {
			return nil, apperrors.Validation("allocation: duplicate subject %s", w.SubjectID)
		}
		seen[w.SubjectID] = struct{}{}
		if w.Weight.IsNegative() {
			return nil, apperrors.Validation("allocation: negative weight for %s", w.SubjectID)
		}
		sum = sum.Add(w.Weight)
	}

	shares := make([]Share, len(weights))
	for i, w := range weights {
		shares[i] = Share{SubjectID: w.SubjectID, Weight: w.Weight, Amount: decimal.Zero}
	}
	if sum.IsZero() {
		return shares, nil
	}

	perUnit := total.Div(sum)
	cents := make([]int64, len(weights))
	var allocated int64
	for i, w := range weights {
		cents[i] = toCents(Round2(perUnit.Mul(w.Weight)))
		allocated += cents[i]
	}

	order := make([]int, 0, len(weights))
	for i, w := range weights {
		if w.Weight.IsPositive() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]].Weight.GreaterThan(weights[order[b]].Weight)
	})

	remainder := toCents(total) - allocated
	for remainder > 0 {
		for _, idx := range order {
			if remainder == 0 {
				break
			}
			cents[idx]++
			remainder--
		}
	}
	for remainder < 0 {
		taken := false
		for _, idx := range order {
			if remainder == 0 {
				break
			}
			if cents[idx] == 0 {
				continue
			}
			cents[idx]--
			remainder++
			taken = true
		}
		if !taken {
			// unreachable for a non-negative total: allocated cents are bounded by it
			return nil, apperrors.Inconsistent("allocation: cannot settle remainder", nil)
		}
	}

	for i := range shares {
		shares[i].Amount = fromCents(cents[i])
	}
	return shares, nil
}

// ShareTotal sums the amounts of shares.
func ShareTotal(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}
