package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
	"github.com/iliyamo/ea-license-service/internal/repository"
)

// ActivationRequest is the body of POST /activation-requests.
type ActivationRequest struct {
	Email                string `json:"email" validate:"required,email,max=254"`
	Whatsapp             string `json:"whatsapp" validate:"max=20"`
	Login                int64  `json:"login" validate:"gt=0"`
	Server               string `json:"server" validate:"required,min=2,max=100"`
	Broker               string `json:"broker" validate:"max=100"`
	PlanDays             *int   `json:"planDays" validate:"omitnil,oneof=0 30 90"`
	SkipAffiliationCheck bool   `json:"skipAffiliationCheck"`
}

// ActivationResult reports what Submit did.  Created is false when an
// existing rejected or revoked license was re-submitted.
type ActivationResult struct {
	Created      bool
	AutoApproved bool
	Message      string
	License      model.License
}

// ActivationService records activation requests, auto-approving customers
// the affiliate API recognises.
type ActivationService struct {
	store     LicenseStore
	affiliate AffiliationChecker
	events    EventPublisher
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewActivationService wires the service.  A nil affiliate checker sends
// every request to manual review; a nil publisher drops events.
func NewActivationService(store LicenseStore, affiliate AffiliationChecker, events EventPublisher, log *zap.SugaredLogger) *ActivationService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ActivationService{
		store:     store,
		affiliate: affiliate,
		events:    orNop(events),
		log:       log,
		now:       utcNow,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Submit validates req, checks affiliation unless skipped, and inserts or
// re-submits the license for (login, server).
//
// A license that is pending or approved blocks the request with a
// *ConflictError before the affiliate API is consulted.  A failing affiliate API never fails the request; it falls
// back to manual review.
func (s *ActivationService) Submit(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Whatsapp = strings.TrimSpace(req.Whatsapp)
	req.Server = strings.TrimSpace(req.Server)
	req.Broker = strings.TrimSpace(req.Broker)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	planDays := model.PlanMonthly
	if req.PlanDays != nil {
		planDays = *req.PlanDays
	}

	existing, err := s.store.FindByLoginServer(ctx, req.Login, req.Server)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, storageErr("find license", err)
	case existing.Status == model.StatusPending || existing.Status == model.StatusApproved:
		return nil, &ConflictError{Existing: existing.Status}
	}

	autoApprove, clientUID, err := s.checkAffiliation(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	l := model.License{
		Email:     req.Email,
		Whatsapp:  optional(req.Whatsapp),
		Login:     req.Login,
		Server:    req.Server,
		Broker:    optional(req.Broker),
		Status:    model.StatusPending,
		PlanDays:  planDays,
		ClientUID: clientUID,
		UpdatedAt: now,
	}
	if autoApprove {
		approvedAt := now
		l.Status = model.StatusApproved
		l.ApprovedAt = &approvedAt
		l.ExpiresAt = model.ExpiryFor(now, planDays)
	}

	if existing == nil {
		return s.insert(ctx, l, now)
	}

	l.ID = existing.ID
	l.CreatedAt = existing.CreatedAt
	if err := s.store.Resubmit(ctx, &l); err != nil {
		return nil, storageErr("resubmit license", err)
	}
	s.log.Infow("license re-submitted", "license_id", l.ID, "login", l.Login, "server", l.Server, "status", l.Status)
	s.emit(l, existing.Status)
	return &ActivationResult{AutoApproved: autoApprove, Message: activationMessage(false, l), License: l}, nil
}

// checkAffiliation returns whether the request may be auto-approved and the
// affiliate client id to link.  Only a definite "not affiliated" answer is
// an error.
func (s *ActivationService) checkAffiliation(ctx context.Context, req ActivationRequest) (bool, *string, error) {
	if req.SkipAffiliationCheck || s.affiliate == nil {
		return false, nil, nil
	}
	res, err := s.affiliate.CheckAffiliation(ctx, req.Email)
	if err != nil {
		s.log.Warnw("affiliation check unavailable, falling back to manual review",
			"login", req.Login, "server", req.Server, "error", err)
		return false, nil, nil
	}
	if !res.Affiliated {
		return false, nil, ErrNotAffiliated
	}
	return true, res.ClientUID, nil
}

func (s *ActivationService) insert(ctx context.Context, l model.License, now time.Time) (*ActivationResult, error) {
	l.ID = uuid.NewString()
	l.CreatedAt = now
	if err := s.store.Insert(ctx, &l); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{}
		}
		return nil, storageErr("insert license", err)
	}
	s.log.Infow("license requested", "license_id", l.ID, "login", l.Login, "server", l.Server, "status", l.Status)
	s.emit(l, "")
	return &ActivationResult{Created: true, AutoApproved: l.Status == model.StatusApproved, Message: activationMessage(true, l), License: l}, nil
}

func (s *ActivationService) emit(l model.License, from model.Status) {
	s.events.Publish(queue.LicenseEvent{
		LicenseID: l.ID,
		Login:     l.Login,
		Server:    l.Server,
		From:      string(from),
		To:        string(l.Status),
		Source:    queue.SourceActivation,
	})
}

func activationMessage(created bool, l model.License) string {
	if l.Status == model.StatusApproved {
		if l.ExpiresAt == nil {
			return "License approved automatically with lifetime access."
		}
		return "License approved automatically. Valid until " + l.ExpiresAt.Format("2006-01-02") + "."
	}
	if created {
		return "Activation request submitted. An admin will verify it within 24 hours."
	}
	return "Re-activation request submitted. An admin will verify it within 24 hours."
}
