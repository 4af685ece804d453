package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ea-license-service/internal/affiliate"
	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
	"github.com/iliyamo/ea-license-service/internal/repository"
)

// memStore is an in-memory LicenseStore mirroring the repository's SQL.
type memStore struct {
	mu     sync.Mutex
	rows   map[string]*model.License
	writes int

	findErr   error
	insertErr error
	listErr   error
	// updateErr fails every update of the given license id.
	updateErr map[string]error
}

func newMemStore(rows ...model.License) *memStore {
	s := &memStore{rows: map[string]*model.License{}, updateErr: map[string]error{}}
	for i := range rows {
		l := rows[i]
		s.rows[l.ID] = &l
	}
	return s
}

func (s *memStore) get(id string) model.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) update(id string, fn func(l *model.License)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[id]; err != nil {
		return err
	}
	if l, ok := s.rows[id]; ok {
		fn(l)
		s.writes++
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	l, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) FindByLoginServer(_ context.Context, login int64, server string) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, l := range s.rows {
		if l.Login == login && l.Server == server {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) Insert(_ context.Context, l *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, r := range s.rows {
		if r.Login == l.Login && r.Server == l.Server {
			return repository.ErrDuplicate
		}
	}
	cp := *l
	s.rows[l.ID] = &cp
	s.writes++
	return nil
}

func (s *memStore) Resubmit(_ context.Context, l *model.License) error {
	return s.update(l.ID, func(r *model.License) {
		r.Email, r.Whatsapp, r.Broker, r.PlanDays = l.Email, l.Whatsapp, l.Broker, l.PlanDays
		r.Status, r.ExpiresAt, r.ApprovedAt = l.Status, l.ExpiresAt, l.ApprovedAt
		r.Note, r.ClientUID, r.ExnessStatus, r.UpdatedAt = nil, l.ClientUID, nil, l.UpdatedAt
	})
}

func (s *memStore) Approve(_ context.Context, id string, approvedAt time.Time, expiresAt *time.Time) error {
	return s.update(id, func(r *model.License) {
		r.Status, r.ApprovedAt, r.ExpiresAt, r.UpdatedAt = model.StatusApproved, &approvedAt, expiresAt, approvedAt
	})
}

func (s *memStore) Reject(_ context.Context, id string, now time.Time) error {
	return s.update(id, func(r *model.License) {
		r.Status, r.ApprovedAt, r.ExpiresAt, r.UpdatedAt = model.StatusRejected, nil, nil, now
	})
}

func (s *memStore) Revoke(_ context.Context, id string, now time.Time) error {
	return s.update(id, func(r *model.License) { r.Status, r.UpdatedAt = model.StatusRevoked, now })
}

func (s *memStore) RevokeUpstream(_ context.Context, id, upstream, note string, now time.Time) error {
	return s.update(id, func(r *model.License) {
		r.Status, r.ExnessStatus, r.Note, r.UpdatedAt = model.StatusRevoked, &upstream, &note, now
	})
}

func (s *memStore) SetExnessStatus(_ context.Context, id, upstream string, now time.Time) error {
	return s.update(id, func(r *model.License) { r.ExnessStatus, r.UpdatedAt = &upstream, now })
}

func (s *memStore) sorted() []model.License {
	out := make([]model.License, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := s.sorted()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListApprovedWithClientUID(_ context.Context) ([]model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []model.License{}
	for _, l := range s.sorted() {
		if l.Status == model.StatusApproved && l.ClientUID != nil {
			out = append(out, l)
		}
	}
	return out, nil
}

type stubAffiliate struct {
	res   affiliate.AffiliationResult
	err   error
	calls int
}

func (a *stubAffiliate) CheckAffiliation(context.Context, string) (affiliate.AffiliationResult, error) {
	a.calls++
	return a.res, a.err
}

type stubStatuses struct {
	statuses map[string]string
	err      error
	calls    int
	lastUIDs []string
}

func (u *stubStatuses) ListClientStatuses(_ context.Context, uids []string) (map[string]string, error) {
	u.calls++
	u.lastUIDs = uids
	if u.err != nil {
		return nil, u.err
	}
	out := map[string]string{}
	for _, id := range uids {
		if st, ok := u.statuses[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []queue.LicenseEvent
}

func (r *recorder) Publish(ev queue.LicenseEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type stubLocker struct {
	held     bool
	err      error
	released int
}

func (l *stubLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() { l.held = false; l.released++ }, true, nil
}

func strp(s string) *string { return &s }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }
