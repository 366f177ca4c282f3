package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	balance "community-billing/internal/balance/domain"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type tx struct {
	tx *sql.Tx
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

const periodColumns = `id, name, start_date, end_date, status, closed_at, created_at`

func scanPeriod(row rowScanner) (*period.ServicePeriod, error) {
	var p period.ServicePeriod
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &closedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.StartDate = p.StartDate.UTC()
	p.EndDate = p.EndDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time.UTC()
	}
	return &p, nil
}

func (t *tx) CreatePeriod(ctx context.Context, p *period.ServicePeriod) error {
	p.ID = newID(p.ID)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO service_periods (id, name, start_date, end_date, status, closed_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, p.StartDate, p.EndDate, p.Status, nullTime(p.ClosedAt), p.CreatedAt)
	if err != nil {
		mapped := mapError(err)
		if apperrors.IsConflict(mapped) {
			return apperrors.Wrap(apperrors.KindConflict, "period "+p.Name+" already exists", err)
		}
		return mapped
	}
	return nil
}

func (t *tx) GetPeriod(ctx context.Context, id string) (*period.ServicePeriod, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM service_periods WHERE id = $1`, id)
	p, err := scanPeriod(row)
	return p, mapError(err)
}

func (t *tx) LockPeriod(ctx context.Context, id string) (*period.ServicePeriod, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM service_periods WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPeriod(row)
	return p, mapError(err)
}

func (t *tx) UpdatePeriodStatus(ctx context.Context, p *period.ServicePeriod) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE service_periods SET status = $1, closed_at = $2 WHERE id = $3`,
		p.Status, nullTime(p.ClosedAt), p.ID)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("period %s not found", p.ID)
	}
	return nil
}

func (t *tx) ListPeriods(ctx context.Context) ([]period.ServicePeriod, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+periodColumns+` FROM service_periods ORDER BY start_date DESC, id DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []period.ServicePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, mapError(rows.Err())
}

func scanOwner(row rowScanner) (*billing.Owner, error) {
	var o billing.Owner
	var account sql.NullString
	if err := row.Scan(&o.ID, &o.Name, &o.IsAdmin, &o.IsResident, &account, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	o.AccountID = account.String
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func (t *tx) SaveOwner(ctx context.Context, o *billing.Owner) error {
	o.ID = newID(o.ID)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO owners (id, name, is_admin, is_resident, account_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	is_admin = EXCLUDED.is_admin,
	is_resident = EXCLUDED.is_resident,
	account_id = EXCLUDED.account_id`,
		o.ID, o.Name, o.IsAdmin, o.IsResident, nullString(o.AccountID), o.CreatedAt)
	return mapError(err)
}

func (t *tx) GetOwner(ctx context.Context, id string) (*billing.Owner, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT id, name, is_admin, is_resident, account_id, created_at FROM owners WHERE id = $1`, id)
	o, err := scanOwner(row)
	return o, mapError(err)
}

func (t *tx) ListOwners(ctx context.Context) ([]billing.Owner, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, name, is_admin, is_resident, account_id, created_at FROM owners ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []billing.Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, mapError(rows.Err())
}

func (t *tx) SaveProperty(ctx context.Context, p *billing.Property) error {
	p.ID = newID(p.ID)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO properties (id, owner_id, name, type, share_weight, is_active, is_conservation)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	share_weight = EXCLUDED.share_weight,
	is_active = EXCLUDED.is_active,
	is_conservation = EXCLUDED.is_conservation`,
		p.ID, p.OwnerID, p.Name, p.Type, p.ShareWeight, p.IsActive, p.IsConservation)
	return mapError(err)
}

func (t *tx) ListProperties(ctx context.Context) ([]billing.Property, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, owner_id, name, type, share_weight, is_active, is_conservation
FROM properties ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []billing.Property
	for rows.Next() {
		var p billing.Property
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Type, &p.ShareWeight, &p.IsActive, &p.IsConservation); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, mapError(rows.Err())
}

func (t *tx) InsertReading(ctx context.Context, r *billing.Reading) error {
	r.ID = newID(r.ID)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO meter_readings (id, property_id, value, reading_date) VALUES ($1,$2,$3,$4)`,
		r.ID, r.PropertyID, r.Value, r.ReadingDate)
	return mapError(err)
}

func (t *tx) LatestReadingAtOrBefore(ctx context.Context, propertyID string, at time.Time) (*billing.Reading, error) {
	var r billing.Reading
	err := t.tx.QueryRowContext(ctx, `
SELECT id, property_id, value, reading_date
FROM meter_readings
WHERE property_id = $1 AND reading_date <= $2
ORDER BY reading_date DESC
LIMIT 1`, propertyID, at).Scan(&r.ID, &r.PropertyID, &r.Value, &r.ReadingDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	r.ReadingDate = r.ReadingDate.UTC()
	return &r, nil
}

func (t *tx) CountBills(ctx context.Context, periodID string, types ...billing.BillType) (int, error) {
	if len(types) == 0 {
		return 0, nil
	}
	args := []any{periodID}
	placeholders := make([]string, 0, len(types))
	for _, bt := range types {
		args = append(args, string(bt))
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}
	var n int
	err := t.tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM bills
WHERE service_period_id = $1 AND bill_type IN (`+strings.Join(placeholders, ",")+`)`, args...).Scan(&n)
	return n, mapError(err)
}

const billColumns = `id, service_period_id, account_id, property_id, bill_type, amount, comment, created_at, updated_at`

func scanBill(row rowScanner) (*billing.Bill, error) {
	var b billing.Bill
	var property sql.NullString
	err := row.Scan(&b.ID, &b.ServicePeriodID, &b.AccountID, &property, &b.Type, &b.Amount, &b.Comment, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	b.PropertyID = property.String
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (t *tx) FindBill(ctx context.Context, periodID, accountID, propertyID string, billType billing.BillType) (*billing.Bill, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+billColumns+`
FROM bills
WHERE service_period_id = $1 AND account_id = $2 AND COALESCE(property_id, '') = $3 AND bill_type = $4
FOR UPDATE`, periodID, accountID, propertyID, billType)
	b, err := scanBill(row)
	return b, mapError(err)
}

func (t *tx) InsertBill(ctx context.Context, b *billing.Bill) error {
	b.ID = newID(b.ID)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO bills (`+billColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.ServicePeriodID, b.AccountID, nullString(b.PropertyID), b.Type, b.Amount, b.Comment, b.CreatedAt, b.UpdatedAt)
	return mapError(err)
}

func (t *tx) UpdateBillAmount(ctx context.Context, id string, amount decimal.Decimal, comment string, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE bills SET amount = $1, comment = $2, updated_at = $3 WHERE id = $4`, amount, comment, updatedAt, id)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("bill %s not found", id)
	}
	return nil
}

func (t *tx) ListBills(ctx context.Context, periodID string) ([]billing.Bill, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT `+billColumns+`
FROM bills
WHERE service_period_id = $1
ORDER BY bill_type, account_id, COALESCE(property_id, '')`, periodID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, mapError(rows.Err())
}

func (t *tx) InsertEntry(ctx context.Context, e *balance.Entry) error {
	e.ID = newID(e.ID)
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO ledger_entries (id, kind, service_period_id, owner_id, amount, entry_date, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Kind, e.ServicePeriodID, nullString(e.OwnerID), e.Amount, e.Date, e.Description, e.CreatedAt)
	return mapError(err)
}

func (t *tx) ListEntries(ctx context.Context, periodID string) ([]balance.Entry, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, kind, service_period_id, owner_id, amount, entry_date, description, created_at
FROM ledger_entries
WHERE service_period_id = $1
ORDER BY entry_date, created_at, id`, periodID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []balance.Entry
	for rows.Next() {
		var e balance.Entry
		var owner sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.ServicePeriodID, &owner, &e.Amount, &e.Date, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OwnerID = owner.String
		e.Date = e.Date.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, e)
	}
	return result, mapError(rows.Err())
}

const totalsSelect = `
SELECT owner_id,
	COALESCE(SUM(amount) FILTER (WHERE kind = 'CONTRIBUTION'), 0),
	COALESCE(SUM(amount) FILTER (WHERE kind = 'EXPENSE'), 0),
	COALESCE(SUM(amount) FILTER (WHERE kind = 'SERVICE_CHARGE'), 0)
FROM ledger_entries
WHERE service_period_id = $1 AND owner_id IS NOT NULL`

func (t *tx) PeriodTotals(ctx context.Context, periodID string) (map[string]balance.Totals, error) {
	rows, err := t.tx.QueryContext(ctx, totalsSelect+` GROUP BY owner_id`, periodID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string]balance.Totals)
	for rows.Next() {
		var owner string
		var totals balance.Totals
		if err := rows.Scan(&owner, &totals.Contributions, &totals.Expenses, &totals.Charges); err != nil {
			return nil, err
		}
		out[owner] = totals
	}
	return out, mapError(rows.Err())
}

func (t *tx) OwnerTotals(ctx context.Context, periodID, ownerID string) (balance.Totals, error) {
	var totals balance.Totals
	var owner string
	err := t.tx.QueryRowContext(ctx, totalsSelect+` AND owner_id = $2 GROUP BY owner_id`, periodID, ownerID).
		Scan(&owner, &totals.Contributions, &totals.Expenses, &totals.Charges)
	if errors.Is(err, sql.ErrNoRows) {
		return balance.Totals{}, nil
	}
	return totals, mapError(err)
}

func (t *tx) InsertAudit(ctx context.Context, e audit.Entry) error {
	changes := string(e.Changes)
	if changes == "" {
		changes = "{}"
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, changes, payload_digest, created_at)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8)`,
		newID(e.ID), e.EntityType, e.EntityID, e.Action, nullString(e.ActorID), changes, e.PayloadDigest, e.CreatedAt)
	return mapError(err)
}

func (t *tx) ListAudit(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, entity_type, entity_id, action, actor_id, changes, payload_digest, created_at
FROM audit_logs
WHERE entity_type = $1 AND ($2 = '' OR entity_id = $2)
ORDER BY created_at, id`, entityType, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var actor sql.NullString
		var changes []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &actor, &changes, &e.PayloadDigest, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		e.Changes = changes
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, e)
	}
	return result, mapError(rows.Err())
}
