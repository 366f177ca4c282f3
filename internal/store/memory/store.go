// Package memory is an in-process store. Transactions are serialized and
// work on a copy of the data that replaces the live copy only on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	balance "community-billing/internal/balance/domain"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
	"community-billing/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps all rows in memory.
type Store struct {
	mu     sync.Mutex
	data   *state
	closed bool
}

type state struct {
	periods    map[string]period.ServicePeriod
	owners     map[string]billing.Owner
	properties map[string]billing.Property
	readings   []billing.Reading
	bills      []billing.Bill
	entries    []balance.Entry
	audits     []audit.Entry
}

// New returns an empty store.
func New() *Store {
	return &Store{data: &state{
		periods:    make(map[string]period.ServicePeriod),
		owners:     make(map[string]billing.Owner),
		properties: make(map[string]billing.Property),
	}}
}

func (s *state) clone() *state {
	out := &state{
		periods:    make(map[string]period.ServicePeriod, len(s.periods)),
		owners:     make(map[string]billing.Owner, len(s.owners)),
		properties: make(map[string]billing.Property, len(s.properties)),
		readings:   append([]billing.Reading(nil), s.readings...),
		bills:      append([]billing.Bill(nil), s.bills...),
		entries:    append([]balance.Entry(nil), s.entries...),
		audits:     append([]audit.Entry(nil), s.audits...),
	}
	for k, v := range s.periods {
		out.periods[k] = v
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.properties {
		out.properties[k] = v
	}
	return out
}

// WithinTx runs fn against a private copy and publishes it when fn returns
// nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	work := s.data.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var errClosed = apperrors.Validation("memory store: closed")

type tx struct {
	st *state
}

func newID() string { return uuid.NewString() }

func (t *tx) CreatePeriod(_ context.Context, p *period.ServicePeriod) error {
	for _, existing := range t.st.periods {
		if existing.Name == p.Name {
			return apperrors.Conflict("period %q already exists", p.Name)
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	if _, ok := t.st.periods[p.ID]; ok {
		return apperrors.Conflict("period %s already exists", p.ID)
	}
	t.st.periods[p.ID] = *p
	return nil
}

func (t *tx) GetPeriod(_ context.Context, id string) (*period.ServicePeriod, error) {
	p, ok := t.st.periods[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *tx) LockPeriod(ctx context.Context, id string) (*period.ServicePeriod, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) UpdatePeriodStatus(_ context.Context, p *period.ServicePeriod) error {
	existing, ok := t.st.periods[p.ID]
	if !ok {
		return apperrors.NotFound("period %s not found", p.ID)
	}
	existing.Status = p.Status
	existing.ClosedAt = p.ClosedAt
	t.st.periods[p.ID] = existing
	return nil
}

func (t *tx) ListPeriods(context.Context) ([]period.ServicePeriod, error) {
	out := make([]period.ServicePeriod, 0, len(t.st.periods))
	for _, p := range t.st.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartDate.After(out[j].StartDate)
	})
	return out, nil
}

func (t *tx) SaveOwner(_ context.Context, o *billing.Owner) error {
	for _, existing := range t.st.owners {
		if existing.Name == o.Name && existing.ID != o.ID {
			return apperrors.Conflict("owner %q already exists", o.Name)
		}
	}
	if o.ID == "" {
		o.ID = newID()
	}
	t.st.owners[o.ID] = *o
	return nil
}

func (t *tx) GetOwner(_ context.Context, id string) (*billing.Owner, error) {
	o, ok := t.st.owners[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *tx) ListOwners(context.Context) ([]billing.Owner, error) {
	out := make([]billing.Owner, 0, len(t.st.owners))
	for _, o := range t.st.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) SaveProperty(_ context.Context, p *billing.Property) error {
	if _, ok := t.st.owners[p.OwnerID]; !ok {
		return apperrors.NotFound("owner %s not found", p.OwnerID)
	}
	if p.ID == "" {
		p.ID = newID()
	}
	t.st.properties[p.ID] = *p
	return nil
}

func (t *tx) ListProperties(context.Context) ([]billing.Property, error) {
	out := make([]billing.Property, 0, len(t.st.properties))
	for _, p := range t.st.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) InsertReading(_ context.Context, r *billing.Reading) error {
	if r.ID == "" {
		r.ID = newID()
	}
	t.st.readings = append(t.st.readings, *r)
	return nil
}

func (t *tx) LatestReadingAtOrBefore(_ context.Context, propertyID string, at time.Time) (*billing.Reading, error) {
	var own []billing.Reading
	for _, r := range t.st.readings {
		if r.PropertyID == propertyID {
			own = append(own, r)
		}
	}
	r, ok := billing.LatestAtOrBefore(own, at)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *tx) CountBills(_ context.Context, periodID string, types ...billing.BillType) (int, error) {
	n := 0
	for _, b := range t.st.bills {
		if b.ServicePeriodID == periodID && hasType(types, b.Type) {
			n++
		}
	}
	return n, nil
}

func hasType(types []billing.BillType, t billing.BillType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (t *tx) FindBill(_ context.Context, periodID, accountID, propertyID string, billType billing.BillType) (*billing.Bill, error) {
	for _, b := range t.st.bills {
		if b.ServicePeriodID == periodID && b.AccountID == accountID && b.PropertyID == propertyID && b.Type == billType {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertBill(ctx context.Context, b *billing.Bill) error {
	existing, _ := t.FindBill(ctx, b.ServicePeriodID, b.AccountID, b.PropertyID, b.Type)
	if existing != nil {
		return apperrors.Conflict("bill %s %s already exists for %s", b.Type, b.SubjectKey(), b.ServicePeriodID)
	}
	if b.ID == "" {
		b.ID = newID()
	}
	t.st.bills = append(t.st.bills, *b)
	return nil
}

func (t *tx) UpdateBillAmount(_ context.Context, id string, amount decimal.Decimal, comment string, updatedAt time.Time) error {
	for i := range t.st.bills {
		if t.st.bills[i].ID == id {
			t.st.bills[i].Amount = amount
			t.st.bills[i].Comment = comment
			t.st.bills[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return apperrors.NotFound("bill %s not found", id)
}

func (t *tx) ListBills(_ context.Context, periodID string) ([]billing.Bill, error) {
	var out []billing.Bill
	for _, b := range t.st.bills {
		if b.ServicePeriodID == periodID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].SubjectKey() < out[j].SubjectKey()
	})
	return out, nil
}

func (t *tx) InsertEntry(_ context.Context, e *balance.Entry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) ListEntries(_ context.Context, periodID string) ([]balance.Entry, error) {
	var out []balance.Entry
	for _, e := range t.st.entries {
		if e.ServicePeriodID == periodID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (t *tx) PeriodTotals(_ context.Context, periodID string) (map[string]balance.Totals, error) {
	out := make(map[string]balance.Totals)
	for _, e := range t.st.entries {
		if e.ServicePeriodID != periodID || e.OwnerID == "" {
			continue
		}
		out[e.OwnerID] = addEntry(out[e.OwnerID], e)
	}
	return out, nil
}

func (t *tx) OwnerTotals(_ context.Context, periodID, ownerID string) (balance.Totals, error) {
	var totals balance.Totals
	for _, e := range t.st.entries {
		if e.ServicePeriodID == periodID && e.OwnerID == ownerID && ownerID != "" {
			totals = addEntry(totals, e)
		}
	}
	return totals, nil
}

func addEntry(t balance.Totals, e balance.Entry) balance.Totals {
	switch e.Kind {
	case balance.KindContribution:
		t.Contributions = t.Contributions.Add(e.Amount)
	case balance.KindExpense:
		t.Expenses = t.Expenses.Add(e.Amount)
	case balance.KindServiceCharge:
		t.Charges = t.Charges.Add(e.Amount)
	}
	return t
}

func (t *tx) InsertAudit(_ context.Context, e audit.Entry) error {
	t.st.audits = append(t.st.audits, e)
	return nil
}

func (t *tx) ListAudit(_ context.Context, entityType, entityID string) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range t.st.audits {
		if e.EntityType == entityType && (entityID == "" || e.EntityID == entityID) {
			out = append(out, e)
		}
	}
	return out, nil
}
