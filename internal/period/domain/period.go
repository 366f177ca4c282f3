package period

import (
	"errors"
	"strings"
	"time"

	"community-billing/internal/apperrors"
)

// Status is the lifecycle state of a service period.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

var (
	// ErrEmptyName is returned when a period has no name.
	ErrEmptyName = errors.New("period: empty name")
	// ErrInvalidRange is returned when end date is not after start date.
	ErrInvalidRange = errors.New("period: end date must be after start date")
)

// ServicePeriod is a billing window. Ledger rows and bills may only be
// written while it is OPEN.
type ServicePeriod struct {
	ID        string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    Status
	ClosedAt  time.Time
	CreatedAt time.Time
}

// New builds an open period.
func New(id, name string, start, end, now time.Time) (*ServicePeriod, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Wrap(apperrors.KindValidation, "period name required", ErrEmptyName)
	}
	if !end.After(start) {
		return nil, apperrors.Wrap(apperrors.KindValidation, "period "+name, ErrInvalidRange)
	}
	return &ServicePeriod{
		ID:        id,
		Name:      name,
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
		Status:    StatusOpen,
		CreatedAt: now.UTC(),
	}, nil
}

// IsOpen reports whether ledger mutations are allowed.
func (p *ServicePeriod) IsOpen() bool {
	return p != nil && p.Status == StatusOpen
}

// EnsureOpen fails with a validation error when the period is closed.
func (p *ServicePeriod) EnsureOpen() error {
	if p == nil {
		return apperrors.NotFound("period not found")
	}
	if p.Status != StatusOpen {
		return apperrors.Validation("period %s is closed", p.Name)
	}
	return nil
}

// Close finalizes billing. Closing a closed period is a no-op and reports
// false.
func (p *ServicePeriod) Close(now time.Time) bool {
	if p.Status == StatusClosed {
		return false
	}
	p.Status = StatusClosed
	p.ClosedAt = now.UTC()
	return true
}

// Reopen allows corrections on a closed period. Reopening an open period is
// a no-op and reports false.
func (p *ServicePeriod) Reopen() bool {
	if p.Status == StatusOpen {
		return false
	}
	p.Status = StatusOpen
	p.ClosedAt = time.Time{}
	return true
}

// Months returns the number of calendar months the period touches,
// clamped to [1, 12]. Budget bills use it as period_months.
func (p *ServicePeriod) Months() int {
	start, end := p.StartDate, p.EndDate
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() > start.Day() || months == 0 {
		months++
	}
	if months < 1 {
		months = 1
	}
	if months > 12 {
		months = 12
	}
	return months
}
