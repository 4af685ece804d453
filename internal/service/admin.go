package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
	"github.com/iliyamo/ea-license-service/internal/repository"
)

// Action is an admin transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevoke  Action = "revoke"
)

// ListLimit caps the admin listing.
const ListLimit = 200

// ActionResult is the outcome of Apply.
type ActionResult struct {
	Message string
	License model.License
}

// LicenseView is a license annotated with its effective status.
type LicenseView struct {
	model.License
	EffectiveStatus model.Status `json:"effective_status"`
}

// LicenseList is the admin dashboard listing.  Counts are keyed by
// effective status.
type LicenseList struct {
	Licenses []LicenseView        `json:"licenses"`
	Counts   map[model.Status]int `json:"counts"`
	Total    int                  `json:"total"`
}

// AdminService applies admin transitions and serves the dashboard listing.
type AdminService struct {
	store  LicenseStore
	events EventPublisher
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewAdminService(store LicenseStore, events EventPublisher, log *zap.SugaredLogger) *AdminService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AdminService{store: store, events: orNop(events), log: log, now: utcNow}
}

// Apply performs action on the license with the given id.  Approval is
// accepted from any prior status and always restarts the plan window from
// now using the stored plan length.
func (s *AdminService) Apply(ctx context.Context, id string, action Action) (*ActionResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ValidationError{Field: "id", Message: "must be a valid id"}
	}
	switch action {
	case ActionApprove, ActionReject, ActionRevoke:
	default:
		return nil, &ValidationError{Field: "action", Message: "must be one of approve, reject, revoke"}
	}

	l, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get license", err)
	}
	prev := l.Status
	now := s.now()

	var msg string
	switch action {
	case ActionApprove:
		expiresAt := model.ExpiryFor(now, l.PlanDays)
		if err := s.store.Approve(ctx, id, now, expiresAt); err != nil {
			return nil, storageErr("approve license", err)
		}
		l.Status, l.ApprovedAt, l.ExpiresAt = model.StatusApproved, &now, expiresAt
		msg = "License approved with lifetime access."
		if expiresAt != nil {
			msg = "License approved. Valid until " + expiresAt.Format("2006-01-02") + "."
		}
	case ActionReject:
		if err := s.store.Reject(ctx, id, now); err != nil {
			return nil, storageErr("reject license", err)
		}
		l.Status, l.ApprovedAt, l.ExpiresAt = model.StatusRejected, nil, nil
		msg = "License rejected."
	case ActionRevoke:
		if err := s.store.Revoke(ctx, id, now); err != nil {
			return nil, storageErr("revoke license", err)
		}
		l.Status = model.StatusRevoked
		msg = "License revoked."
	}
	l.UpdatedAt = now

	s.log.Infow("admin action applied", "license_id", id, "action", action, "from", prev, "to", l.Status)
	s.events.Publish(queue.LicenseEvent{
		LicenseID: l.ID,
		Login:     l.Login,
		Server:    l.Server,
		From:      string(prev),
		To:        string(l.Status),
		Source:    queue.SourceAdmin,
	})
	return &ActionResult{Message: msg, License: *l}, nil
}

// List returns the newest licenses with their effective status.
func (s *AdminService) List(ctx context.Context) (*LicenseList, error) {
	rows, err := s.store.ListRecent(ctx, ListLimit)
	if err != nil {
		return nil, storageErr("list licenses", err)
	}
	now := s.now()
	out := &LicenseList{
		Licenses: make([]LicenseView, 0, len(rows)),
		Counts:   map[model.Status]int{},
		Total:    len(rows),
	}
	for _, l := range rows {
		eff := l.Effective(now)
		out.Licenses = append(out.Licenses, LicenseView{License: l, EffectiveStatus: eff})
		out.Counts[eff]++
	}
	return out, nil
}
