package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"community-billing/internal/apperrors"
	billing "community-billing/internal/billing/domain"
	"community-billing/internal/store"
)

// shareWeightScale matches the share_weight column.
const shareWeightScale = 4

// CommunityService maintains owners, properties and meter readings.
type CommunityService struct {
	store  store.Store
	logger *zap.Logger
}

// NewCommunityService constructs a service.
func NewCommunityService(st store.Store, logger *zap.Logger) (*CommunityService, error) {
	if st == nil {
		return nil, errors.New("community service: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommunityService{store: st, logger: logger}, nil
}

// SaveOwner creates or replaces an owner.
func (s *CommunityService) SaveOwner(ctx context.Context, o billing.Owner) (*billing.Owner, error) {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return nil, apperrors.Validation("owner name required")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		owners, err := tx.ListOwners(ctx)
		if err != nil {
			return err
		}
		for _, existing := range owners {
			if existing.Name == o.Name && existing.ID != o.ID {
				return apperrors.Conflict("owner %q already exists", o.Name)
			}
		}
		return tx.SaveOwner(ctx, &o)
	})
	if err != nil {
		return nil, err
	}
	if !o.HasAccount() {
		s.logger.Warn("owner saved without account", zap.String("owner_id", o.ID))
	}
	return &o, nil
}

// ListOwners returns all owners.
func (s *CommunityService) ListOwners(ctx context.Context) ([]billing.Owner, error) {
	var out []billing.Owner
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListOwners(ctx)
		return err
	})
	return out, err
}

// SaveProperty creates or replaces a property of an existing owner.
func (s *CommunityService) SaveProperty(ctx context.Context, p billing.Property) (*billing.Property, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, apperrors.Validation("property name required")
	}
	if p.ShareWeight.Valid && p.ShareWeight.Decimal.IsNegative() {
		return nil, apperrors.Validation("share weight %s must not be negative", p.ShareWeight.Decimal.String())
	}
	if p.ShareWeight.Valid && !p.ShareWeight.Decimal.Equal(p.ShareWeight.Decimal.Round(shareWeightScale)) {
		return nil, apperrors.Validation("share weight %s has more than %d decimals", p.ShareWeight.Decimal.String(), shareWeightScale)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		owner, err := tx.GetOwner(ctx, p.OwnerID)
		if err != nil {
			return err
		}
		if owner == nil {
			return apperrors.NotFound("owner %s not found", p.OwnerID)
		}
		return tx.SaveProperty(ctx, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProperties returns all properties.
func (s *CommunityService) ListProperties(ctx context.Context) ([]billing.Property, error) {
	var out []billing.Property
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListProperties(ctx)
		return err
	})
	return out, err
}

// RecordReading stores a meter reading of a known property.
func (s *CommunityService) RecordReading(ctx context.Context, r billing.Reading) (*billing.Reading, error) {
	if r.Value.IsNegative() {
		return nil, apperrors.Validation("meter reading %s must not be negative", r.Value.String())
	}
	if r.ReadingDate.IsZero() {
		return nil, apperrors.Validation("reading date required")
	}
	r.ReadingDate = r.ReadingDate.UTC()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		properties, err := tx.ListProperties(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, p := range properties {
			if p.ID == r.PropertyID {
				found = true
				break
			}
		}
		if !found {
			return apperrors.NotFound("property %s not found", r.PropertyID)
		}
		return tx.InsertReading(ctx, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
