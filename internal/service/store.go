// Package service holds the license lifecycle rules: activation requests,
// admin transitions, public and EA read paths, and the affiliate
// reconciliation job.  Services depend on small interfaces so the
// repository and partner client can be swapped in tests.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/ea-license-service/internal/affiliate"
	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
)

// LicenseStore is the subset of repository.LicenseRepo used by services.
type LicenseStore interface {
	GetByID(ctx context.Context, id string) (*model.License, error)
	FindByLoginServer(ctx context.Context, login int64, server string) (*model.License, error)
	Insert(ctx context.Context, l *model.License) error
	Resubmit(ctx context.Context, l *model.License) error
	Approve(ctx context.Context, id string, approvedAt time.Time, expiresAt *time.Time) error
	Reject(ctx context.Context, id string, now time.Time) error
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeUpstream(ctx context.Context, id, upstream, note string, now time.Time) error
	SetExnessStatus(ctx context.Context, id, upstream string, now time.Time) error
	ListRecent(ctx context.Context, limit int) ([]model.License, error)
	ListApprovedWithClientUID(ctx context.Context) ([]model.License, error)
}

// AffiliationChecker verifies a customer's registration upstream.
type AffiliationChecker interface {
	CheckAffiliation(ctx context.Context, email string) (affiliate.AffiliationResult, error)
}

// ClientStatusSource batch-reads upstream client statuses.
type ClientStatusSource interface {
	ListClientStatuses(ctx context.Context, uids []string) (map[string]string, error)
}

// EventPublisher receives lifecycle events.  Publish must not block.
type EventPublisher interface {
	Publish(ev queue.LicenseEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(queue.LicenseEvent) {}

func orNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func utcNow() time.Time { return time.Now().UTC() }
