package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-billing/internal/apperrors"
	"community-billing/internal/audit"
	"community-billing/internal/observability/metrics"
	period "community-billing/internal/period/domain"
	"community-billing/internal/store"
)

// Service manages the service period lifecycle.
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService constructs a service.
func NewService(st store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("period service: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, logger: logger, now: time.Now}, nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create opens a new period. Names are unique.
func (s *Service) Create(ctx context.Context, name string, start, end time.Time, actorID string) (*period.ServicePeriod, error) {
	now := s.now().UTC()
	p, err := period.New(uuid.NewString(), name, start, end, now)
	if err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreatePeriod(ctx, p); err != nil {
			return err
		}
		return writeAudit(ctx, tx, p, audit.ActionPeriodCreate, actorID, now)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPeriodTransition(audit.ActionPeriodCreate)
	s.logger.Info("period created", zap.String("period_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Close finalizes a period. Closing a closed period returns it unchanged.
func (s *Service) Close(ctx context.Context, id, actorID string) (*period.ServicePeriod, error) {
	return s.transition(ctx, id, actorID, audit.ActionPeriodClose, func(p *period.ServicePeriod, now time.Time) bool {
		return p.Close(now)
	})
}

// Reopen puts a closed period back into OPEN for corrections.
func (s *Service) Reopen(ctx context.Context, id, actorID string) (*period.ServicePeriod, error) {
	return s.transition(ctx, id, actorID, audit.ActionPeriodReopen, func(p *period.ServicePeriod, _ time.Time) bool {
		return p.Reopen()
	})
}

func (s *Service) transition(ctx context.Context, id, actorID, action string, apply func(*period.ServicePeriod, time.Time) bool) (*period.ServicePeriod, error) {
	now := s.now().UTC()
	var (
		out     *period.ServicePeriod
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return apperrors.NotFound("period %s not found", id)
		}
		out = p
		if changed = apply(p, now); !changed {
			return nil
		}
		if err := tx.UpdatePeriodStatus(ctx, p); err != nil {
			return err
		}
		return writeAudit(ctx, tx, p, action, actorID, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.IncPeriodTransition(action)
		s.logger.Info("period status changed",
			zap.String("period_id", out.ID),
			zap.String("action", action),
			zap.String("status", string(out.Status)),
		)
	}
	return out, nil
}

// Get returns a period by id.
func (s *Service) Get(ctx context.Context, id string) (*period.ServicePeriod, error) {
	var out *period.ServicePeriod
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return apperrors.NotFound("period %s not found", id)
		}
		out = p
		return nil
	})
	return out, err
}

// List returns all periods, latest start first.
func (s *Service) List(ctx context.Context) ([]period.ServicePeriod, error) {
	var out []period.ServicePeriod
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListPeriods(ctx)
		return err
	})
	return out, err
}

// Current returns the open period with the latest start date.
func (s *Service) Current(ctx context.Context) (*period.ServicePeriod, error) {
	periods, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range periods {
		if periods[i].IsOpen() {
			return &periods[i], nil
		}
	}
	return nil, apperrors.NotFound("no open period")
}

// History returns the audit trail of a period, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]audit.Entry, error) {
	var out []audit.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return apperrors.NotFound("period %s not found", id)
		}
		out, err = tx.ListAudit(ctx, audit.EntityServicePeriod, id)
		return err
	})
	return out, err
}

func writeAudit(ctx context.Context, tx store.Tx, p *period.ServicePeriod, action, actorID string, now time.Time) error {
	changes := map[string]any{
		"name":       p.Name,
		"status":     string(p.Status),
		"start_date": p.StartDate.Format(time.RFC3339),
		"end_date":   p.EndDate.Format(time.RFC3339),
	}
	if !p.ClosedAt.IsZero() {
		changes["closed_at"] = p.ClosedAt.Format(time.RFC3339)
	}
	entry, err := audit.NewEntry(audit.EntityServicePeriod, p.ID, action, actorID, changes, now)
	if err != nil {
		return err
	}
	return tx.InsertAudit(ctx, entry)
}
