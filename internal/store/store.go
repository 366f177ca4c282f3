// Package store is the persistence port of the billing core. Every read and
// write runs inside WithinTx; implementations guarantee that a failing
// callback leaves no partial writes behind.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"community-billing/internal/audit"
	balance "community-billing/internal/balance/domain"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
)

// Store opens transactions.
type Store interface {
	// WithinTx runs fn in one transaction. fn's error rolls everything back
	// and is returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the method set available inside a transaction. Getters return
// (nil, nil) when the row does not exist.
type Tx interface {
	// Service periods
	CreatePeriod(ctx context.Context, p *period.ServicePeriod) error
	GetPeriod(ctx context.Context, id string) (*period.ServicePeriod, error)
	// LockPeriod loads a period and holds it against concurrent status
	// changes until the transaction ends.
	LockPeriod(ctx context.Context, id string) (*period.ServicePeriod, error)
	UpdatePeriodStatus(ctx context.Context, p *period.ServicePeriod) error
	ListPeriods(ctx context.Context) ([]period.ServicePeriod, error)

	// Owners, properties and readings
	SaveOwner(ctx context.Context, o *billing.Owner) error
	GetOwner(ctx context.Context, id string) (*billing.Owner, error)
	ListOwners(ctx context.Context) ([]billing.Owner, error)
	SaveProperty(ctx context.Context, p *billing.Property) error
	ListProperties(ctx context.Context) ([]billing.Property, error)
	InsertReading(ctx context.Context, r *billing.Reading) error
	LatestReadingAtOrBefore(ctx context.Context, propertyID string, at time.Time) (*billing.Reading, error)

	// Bills
	CountBills(ctx context.Context, periodID string, types ...billing.BillType) (int, error)
	FindBill(ctx context.Context, periodID, accountID, propertyID string, billType billing.BillType) (*billing.Bill, error)
	// InsertBill fails with a conflict when the (period, account, property,
	// type) key is taken.
	InsertBill(ctx context.Context, b *billing.Bill) error
	UpdateBillAmount(ctx context.Context, id string, amount decimal.Decimal, comment string, updatedAt time.Time) error
	ListBills(ctx context.Context, periodID string) ([]billing.Bill, error)

	// Contribution, expense and service charge ledgers
	InsertEntry(ctx context.Context, e *balance.Entry) error
	ListEntries(ctx context.Context, periodID string) ([]balance.Entry, error)
	// PeriodTotals sums the owner-attributable rows of a period per owner.
	PeriodTotals(ctx context.Context, periodID string) (map[string]balance.Totals, error)
	OwnerTotals(ctx context.Context, periodID, ownerID string) (balance.Totals, error)

	// Audit log
	InsertAudit(ctx context.Context, e audit.Entry) error
	ListAudit(ctx context.Context, entityType, entityID string) ([]audit.Entry, error)
}
