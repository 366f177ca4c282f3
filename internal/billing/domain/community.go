package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Owner is a resident. AccountID is the ledger subject bills attach to and
// may be empty for legacy records.
type Owner struct {
	ID         string
	Name       string
	IsAdmin    bool
	IsResident bool
	AccountID  string
	CreatedAt  time.Time
}

// HasAccount reports whether bills can be attached to the owner.
func (o Owner) HasAccount() bool { return o.AccountID != "" }

// Property is a plot or unit belonging to an owner.
type Property struct {
	ID             string
	OwnerID        string
	Name           string
	Type           string
	ShareWeight    decimal.NullDecimal
	IsActive       bool
	IsConservation bool
}

// EffectiveWeight returns the share weight that takes part in allocation:
// zero when the property is inactive or has no weight.
func (p Property) EffectiveWeight() decimal.Decimal {
	if !p.IsActive || !p.ShareWeight.Valid {
		return decimal.Zero
	}
	return p.ShareWeight.Decimal
}

// OwnerWeights sums active share weights per owner.
func OwnerWeights(properties []Property) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range properties {
		if !p.IsActive || !p.ShareWeight.Valid {
			continue
		}
		out[p.OwnerID] = out[p.OwnerID].Add(p.ShareWeight.Decimal)
	}
	return out
}

// Reading is a meter reading of one property.
type Reading struct {
	ID          string
	PropertyID  string
	Value       decimal.Decimal
	ReadingDate time.Time
}

// LatestAtOrBefore returns the most recent reading taken at or before at.
func LatestAtOrBefore(readings []Reading, at time.Time) (Reading, bool) {
	var best Reading
	found := false
	for _, r := range readings {
		if r.ReadingDate.After(at) {
			continue
		}
		if !found || r.ReadingDate.After(best.ReadingDate) {
			best = r
			found = true
		}
	}
	return best, found
}
