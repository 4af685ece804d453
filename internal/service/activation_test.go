package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ea-license-service/internal/affiliate"
	"github.com/iliyamo/ea-license-service/internal/model"
	"github.com/iliyamo/ea-license-service/internal/queue"
	"github.com/iliyamo/ea-license-service/internal/repository"
)

var t0 = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

func intp(i int) *int { return &i }

func newActivation(store *memStore, aff AffiliationChecker, events EventPublisher) *ActivationService {
	s := NewActivationService(store, aff, events, nil)
	s.now = fixedClock(t0)
	return s
}

func validRequest() ActivationRequest {
	return ActivationRequest{Email: "trader@example.com", Login: 12345678, Server: "Broker-Live", PlanDays: intp(30)}
}

func TestSubmitNewPendingIsRetrievable(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	svc := newActivation(store, nil, rec)

	req := validRequest()
	req.PlanDays = nil
	req.SkipAffiliationCheck = true
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.AutoApproved)
	assert.Contains(t, res.Message, "submitted")

	got, err := store.FindByLoginServer(context.Background(), 12345678, "Broker-Live")
	require.NoError(t, err)
	assert.Equal(t, res.License.ID, got.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 30, got.PlanDays)
	assert.Nil(t, got.ExpiresAt)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, t0, got.CreatedAt)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "", rec.events[0].From)
	assert.Equal(t, "pending", rec.events[0].To)
	assert.Equal(t, queue.SourceActivation, rec.events[0].Source)
}

func TestSubmitAutoApprovesAffiliated(t *testing.T) {
	store := newMemStore()
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: true, ClientUID: strp("uid-1")}}
	svc := newActivation(store, aff, &recorder{})

	res, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, res.AutoApproved)
	assert.Equal(t, 1, aff.calls)

	got := store.get(res.License.ID)
	assert.Equal(t, model.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, t0, *got.ApprovedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, t0.Add(30*24*time.Hour), *got.ExpiresAt)
	require.NotNil(t, got.ClientUID)
	assert.Equal(t, "uid-1", *got.ClientUID)
	assert.Contains(t, res.Message, "2025-02-09")
}

func TestSubmitAutoApproveLifetime(t *testing.T) {
	store := newMemStore()
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: true}}
	svc := newActivation(store, aff, nil)

	req := validRequest()
	req.PlanDays = intp(0)
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, store.get(res.License.ID).ExpiresAt)
	assert.Contains(t, res.Message, "lifetime")
}

func TestSubmitNotAffiliated(t *testing.T) {
	store := newMemStore()
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: false}}
	svc := newActivation(store, aff, nil)

	_, err := svc.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNotAffiliated)
	assert.Zero(t, store.writes)
}

func TestSubmitNotAffiliatedOnResubmit(t *testing.T) {
	existing := model.License{ID: "33333333-3333-3333-3333-333333333333", Email: "old@example.com",
		Login: 12345678, Server: "Broker-Live", Status: model.StatusRevoked, PlanDays: 30}
	store := newMemStore(existing)
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: false}}
	svc := newActivation(store, aff, nil)

	_, err := svc.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNotAffiliated)
	assert.Equal(t, 1, aff.calls)
	assert.Zero(t, store.writes)
	assert.Equal(t, model.StatusRevoked, store.get(existing.ID).Status)
}

func TestSubmitFallsBackToManualReviewOnUpstreamFailure(t *testing.T) {
	for name, upErr := range map[string]error{
		"upstream": &affiliate.UpstreamError{Op: "affiliation check", Status: 502},
		"auth":     &affiliate.AuthError{Status: 401},
		"config":   affiliate.ErrConfig,
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			svc := newActivation(store, &stubAffiliate{err: upErr}, nil)

			res, err := svc.Submit(context.Background(), validRequest())
			require.NoError(t, err)
			assert.False(t, res.AutoApproved)
			assert.Equal(t, model.StatusPending, store.get(res.License.ID).Status)
		})
	}
}

func TestSubmitSkipFlagBypassesAffiliation(t *testing.T) {
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: false}}
	svc := newActivation(newMemStore(), aff, nil)

	req := validRequest()
	req.SkipAffiliationCheck = true
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.AutoApproved)
	assert.Zero(t, aff.calls)
}

func TestSubmitConflictsWithActiveLicense(t *testing.T) {
	for _, st := range []model.Status{model.StatusPending, model.StatusApproved} {
		t.Run(string(st), func(t *testing.T) {
			past := t0.Add(-time.Hour)
			existing := model.License{ID: "11111111-1111-1111-1111-111111111111", Email: "old@example.com",
				Login: 12345678, Server: "Broker-Live", Status: st, PlanDays: 30, ExpiresAt: &past}
			for _, affiliated := range []bool{true, false} {
				store := newMemStore(existing)
				aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: affiliated}}
				svc := newActivation(store, aff, nil)

				req := validRequest()
				req.Email = "someone-else@example.com"
				req.PlanDays = intp(90)
				_, err := svc.Submit(context.Background(), req)
				assert.ErrorIs(t, err, ErrConflict)
				assert.NotErrorIs(t, err, ErrNotAffiliated)
				var ce *ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, st, ce.Existing)
				assert.Zero(t, aff.calls, "affiliate api must not be asked about a blocked login")
				assert.Zero(t, store.writes)
				assert.Equal(t, "old@example.com", store.get(existing.ID).Email)
			}
		})
	}
}

func TestSubmitResubmitsRejectedOrRevoked(t *testing.T) {
	for _, st := range []model.Status{model.StatusRejected, model.StatusRevoked} {
		t.Run(string(st), func(t *testing.T) {
			created := t0.Add(-48 * time.Hour)
			existing := model.License{ID: "22222222-2222-2222-2222-222222222222", Email: "old@example.com",
				Login: 12345678, Server: "Broker-Live", Status: st, PlanDays: 90,
				Note: strp("Auto-revoked"), ExnessStatus: strp("INACTIVE"), CreatedAt: created}
			store := newMemStore(existing)
			rec := &recorder{}
			svc := newActivation(store, nil, rec)

			req := validRequest()
			req.Email = "new@example.com"
			req.Broker = "Exness"
			res, err := svc.Submit(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, res.Created)
			assert.Contains(t, res.Message, "Re-activation")

			got := store.get(existing.ID)
			assert.Equal(t, existing.ID, got.ID)
			assert.Equal(t, created, got.CreatedAt)
			assert.Equal(t, model.StatusPending, got.Status)
			assert.Equal(t, "new@example.com", got.Email)
			assert.Equal(t, 30, got.PlanDays)
			require.NotNil(t, got.Broker)
			assert.Equal(t, "Exness", *got.Broker)
			assert.Nil(t, got.Note)
			assert.Nil(t, got.ExnessStatus)
			assert.Len(t, store.rows, 1)

			require.Len(t, rec.events, 1)
			assert.Equal(t, string(st), rec.events[0].From)
		})
	}
}

func TestSubmitResubmitAutoApproved(t *testing.T) {
	existing := model.License{ID: "33333333-3333-3333-3333-333333333333", Login: 12345678, Server: "Broker-Live", Status: model.StatusRevoked}
	store := newMemStore(existing)
	aff := &stubAffiliate{res: affiliate.AffiliationResult{Affiliated: true, ClientUID: strp("uid-9")}}
	svc := newActivation(store, aff, nil)

	res, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, res.AutoApproved)
	got := store.get(existing.ID)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "uid-9", *got.ClientUID)
}

func TestSubmitDuplicateInsertIsConflict(t *testing.T) {
	store := newMemStore()
	store.insertErr = repository.ErrDuplicate
	svc := newActivation(store, nil, nil)

	_, err := svc.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSubmitStorageFailure(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("connection refused")
	svc := newActivation(store, nil, nil)

	_, err := svc.Submit(context.Background(), validRequest())
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "find license", se.Op)
}

func TestSubmitValidation(t *testing.T) {
	cases := map[string]struct {
		mutate func(r *ActivationRequest)
		field  string
	}{
		"bad email":       {func(r *ActivationRequest) { r.Email = "nope" }, "email"},
		"missing email":   {func(r *ActivationRequest) { r.Email = " " }, "email"},
		"zero login":      {func(r *ActivationRequest) { r.Login = 0 }, "login"},
		"negative login":  {func(r *ActivationRequest) { r.Login = -5 }, "login"},
		"short server":    {func(r *ActivationRequest) { r.Server = " X " }, "server"},
		"long broker":     {func(r *ActivationRequest) { r.Broker = strings.Repeat("b", 101) }, "broker"},
		"long whatsapp":   {func(r *ActivationRequest) { r.Whatsapp = "+6281234567890123456789" }, "whatsapp"},
		"plan 60":         {func(r *ActivationRequest) { r.PlanDays = intp(60) }, "planDays"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newActivation(newMemStore(), nil, nil)
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.Submit(context.Background(), req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}
