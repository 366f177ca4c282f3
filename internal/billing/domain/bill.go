package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillType classifies a bill.
type BillType string

const (
	BillTypeElectricity       BillType = "ELECTRICITY"
	BillTypeSharedElectricity BillType = "SHARED_ELECTRICITY"
	BillTypeMain              BillType = "MAIN"
	BillTypeConservation      BillType = "CONSERVATION"
)

// ElectricityBillTypes are the types guarded by the once-per-period rule.
var ElectricityBillTypes = []BillType{BillTypeElectricity, BillTypeSharedElectricity}

// Valid reports whether t is a known bill type.
func (t BillType) Valid() bool {
	switch t {
	case BillTypeElectricity, BillTypeSharedElectricity, BillTypeMain, BillTypeConservation:
		return true
	}
	return false
}

// IsBudget reports whether t is computed from a yearly budget.
func (t BillType) IsBudget() bool {
	return t == BillTypeMain || t == BillTypeConservation
}

// Bill is a persisted charge for one subject in one service period.
// PropertyID is set for personal electricity bills only.
// At most one bill exists per (period, account, property, type).
type Bill struct {
	ID              string
	ServicePeriodID string
	AccountID       string
	PropertyID      string
	Type            BillType
	Amount          decimal.Decimal
	Comment         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SubjectKey identifies the bill subject within a period.
func (b Bill) SubjectKey() string {
	if b.PropertyID != "" {
		return b.AccountID + "/" + b.PropertyID
	}
	return b.AccountID
}
