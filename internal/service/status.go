package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/repository"
)

// StatusNotFound is reported instead of an error when no license matches.
const StatusNotFound = "not_found"

// PublicStatus is the customer-facing license view.  OK is true only for an
// approved license that has not expired.
type PublicStatus struct {
	OK         bool       `json:"ok"`
	Status     string     `json:"status"`
	PlanDays   *int       `json:"planDays,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	Broker     *string    `json:"broker,omitempty"`
}

// VerifyResult is the minimal answer returned to the EA.
type VerifyResult struct {
	OK        bool       `json:"ok"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// StatusService serves the read-only lookups by (login, server).
type StatusService struct {
	store LicenseStore
	now   func() time.Time
}

func NewStatusService(store LicenseStore) *StatusService {
	return &StatusService{store: store, now: utcNow}
}

// lookup returns nil, nil when no license matches.
func (s *StatusService) lookup(ctx context.Context, login int64, server string) (*model.License, error) {
	server = strings.TrimSpace(server)
	if login <= 0 {
		return nil, &ValidationError{Field: "login", Message: "must be a positive integer"}
	}
	if server == "" {
		return nil, &ValidationError{Field: "server", Message: "is required"}
	}
	l, err := s.store.FindByLoginServer(ctx, login, server)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find license", err)
	}
	return l, nil
}

// PublicStatus reports the effective status of one license.
func (s *StatusService) PublicStatus(ctx context.Context, login int64, server string) (*PublicStatus, error) {
	l, err := s.lookup(ctx, login, server)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return &PublicStatus{Status: StatusNotFound}, nil
	}
	eff := l.Effective(s.now())
	planDays := l.PlanDays
	return &PublicStatus{
		OK:         eff == model.StatusApproved,
		Status:     string(eff),
		PlanDays:   &planDays,
		ExpiresAt:  l.ExpiresAt,
		ApprovedAt: l.ApprovedAt,
		Broker:     l.Broker,
	}, nil
}

// Verify answers the EA's runtime license check.  The expiry is only
// disclosed for approved and expired licenses.
func (s *StatusService) Verify(ctx context.Context, login int64, server string) (*VerifyResult, error) {
	l, err := s.lookup(ctx, login, server)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return &VerifyResult{Status: StatusNotFound}, nil
	}
	eff := l.Effective(s.now())
	res := &VerifyResult{OK: eff == model.StatusApproved, Status: string(eff)}
	if eff == model.StatusApproved || eff == model.StatusExpired {
		res.ExpiresAt = l.ExpiresAt
	}
	return res, nil
}
