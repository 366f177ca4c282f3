package apihttp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"community-billing/internal/audit"
	balance "community-billing/internal/balance/domain"
	billingapp "community-billing/internal/billing/application"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
)

type periodDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Status    string     `json:"status"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func toPeriodDTO(p period.ServicePeriod) periodDTO {
	out := periodDTO{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Status:    string(p.Status),
	}
	if !p.ClosedAt.IsZero() {
		closed := p.ClosedAt
		out.ClosedAt = &closed
	}
	return out
}

type billDTO struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	PropertyID string          `json:"property_id,omitempty"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Comment    string          `json:"comment,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toBillDTOs(bills []billing.Bill) []billDTO {
	out := make([]billDTO, 0, len(bills))
	for _, b := range bills {
		out = append(out, billDTO{
			ID:         b.ID,
			AccountID:  b.AccountID,
			PropertyID: b.PropertyID,
			Type:       string(b.Type),
			Amount:     b.Amount,
			Comment:    b.Comment,
			UpdatedAt:  b.UpdatedAt,
		})
	}
	return out
}

type billRunResponse struct {
	Created       []billDTO `json:"created"`
	Updated       []billDTO `json:"updated"`
	SkippedOwners []string  `json:"skipped_owners,omitempty"`
}

func toBillRunResponse(res *billingapp.CreateResult) billRunResponse {
	return billRunResponse{
		Created:       toBillDTOs(res.Created),
		Updated:       toBillDTOs(res.Updated),
		SkippedOwners: res.SkippedOwners,
	}
}

type personalBillDTO struct {
	PropertyID   string          `json:"property_id"`
	OwnerID      string          `json:"owner_id"`
	StartReading decimal.Decimal `json:"start_reading"`
	EndReading   decimal.Decimal `json:"end_reading"`
	Consumption  decimal.Decimal `json:"consumption"`
	Amount       decimal.Decimal `json:"amount"`
}

type shareDTO struct {
	OwnerID string          `json:"owner_id"`
	Weight  decimal.Decimal `json:"weight"`
	Amount  decimal.Decimal `json:"amount"`
}

type electricityPreview struct {
	TotalCost         decimal.Decimal   `json:"total_cost"`
	PersonalTotal     decimal.Decimal   `json:"personal_total"`
	SharedCost        decimal.Decimal   `json:"shared_cost"`
	Personal          []personalBillDTO `json:"personal"`
	Shared            []shareDTO        `json:"shared"`
	SkippedProperties []string          `json:"skipped_properties,omitempty"`
}

func toElectricityPreview(calc *billing.ElectricityCalculation) electricityPreview {
	out := electricityPreview{
		TotalCost:         calc.TotalCost,
		PersonalTotal:     calc.PersonalTotal,
		SharedCost:        calc.SharedCost,
		Personal:          make([]personalBillDTO, 0, len(calc.Personal)),
		Shared:            make([]shareDTO, 0, len(calc.Shared)),
		SkippedProperties: calc.Skipped,
	}
	for _, p := range calc.Personal {
		out.Personal = append(out.Personal, personalBillDTO(p))
	}
	for _, s := range calc.Shared {
		out.Shared = append(out.Shared, shareDTO{OwnerID: s.SubjectID, Weight: s.Weight, Amount: s.Amount})
	}
	return out
}

type budgetPreview struct {
	Type   string     `json:"type"`
	Shares []shareDTO `json:"shares"`
}

func toBudgetPreview(billType billing.BillType, calcs []billing.BudgetCalculation) budgetPreview {
	out := budgetPreview{Type: string(billType), Shares: make([]shareDTO, 0, len(calcs))}
	for _, c := range calcs {
		out.Shares = append(out.Shares, shareDTO{OwnerID: c.OwnerID, Weight: c.Weight, Amount: c.Amount})
	}
	return out
}

type entryDTO struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description,omitempty"`
}

func toEntryDTO(e balance.Entry) entryDTO {
	return entryDTO{
		ID:          e.ID,
		Kind:        string(e.Kind),
		OwnerID:     e.OwnerID,
		Amount:      e.Amount,
		Date:        e.Date,
		Description: e.Description,
	}
}

type sheetRowDTO struct {
	OwnerID       string          `json:"owner_id"`
	OwnerName     string          `json:"owner_name"`
	Contributions decimal.Decimal `json:"contributions"`
	Expenses      decimal.Decimal `json:"expenses"`
	Charges       decimal.Decimal `json:"service_charges"`
	Balance       decimal.Decimal `json:"balance"`
}

type sheetDTO struct {
	PeriodID string        `json:"period_id"`
	Rows     []sheetRowDTO `json:"rows"`
}

func toSheetDTO(sheet balance.Sheet) sheetDTO {
	out := sheetDTO{PeriodID: sheet.PeriodID, Rows: make([]sheetRowDTO, 0, len(sheet.Rows))}
	for _, r := range sheet.Rows {
		out.Rows = append(out.Rows, sheetRowDTO(r))
	}
	return out
}

type ownerDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsAdmin    bool   `json:"is_admin"`
	IsResident bool   `json:"is_resident"`
	AccountID  string `json:"account_id,omitempty"`
}

type propertyDTO struct {
	ID             string              `json:"id"`
	OwnerID        string              `json:"owner_id"`
	Name           string              `json:"name"`
	Type           string              `json:"type,omitempty"`
	ShareWeight    decimal.NullDecimal `json:"share_weight"`
	IsActive       bool                `json:"is_active"`
	IsConservation bool                `json:"is_conservation"`
}

type readingDTO struct {
	ID          string          `json:"id,omitempty"`
	PropertyID  string          `json:"property_id"`
	Value       decimal.Decimal `json:"value"`
	ReadingDate string          `json:"reading_date"`
}

type auditDTO struct {
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	Changes   json.RawMessage `json:"changes"`
	Digest    string          `json:"payload_digest"`
	CreatedAt time.Time       `json:"created_at"`
}

func toAuditDTO(e audit.Entry) auditDTO {
	return auditDTO{
		Action:    e.Action,
		ActorID:   e.ActorID,
		Changes:   e.Changes,
		Digest:    e.PayloadDigest,
		CreatedAt: e.CreatedAt,
	}
}
