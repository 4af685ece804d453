package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ea-license-service/internal/model"
)

func newStatus(store *memStore) *StatusService {
	s := NewStatusService(store)
	s.now = fixedClock(t0)
	return s
}

func TestVerifyNotFound(t *testing.T) {
	res, err := newStatus(newMemStore()).Verify(context.Background(), 999, "Nowhere")
	require.NoError(t, err)
	assert.Equal(t, &VerifyResult{OK: false, Status: "not_found"}, res)
}

func TestPublicStatusNotFound(t *testing.T) {
	res, err := newStatus(newMemStore()).PublicStatus(context.Background(), 999, "Nowhere")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "not_found", res.Status)
	assert.Nil(t, res.PlanDays)
}

// Both read paths and the admin listing must agree on every combination.
func TestReadPathsAgreeOnEffectiveStatus(t *testing.T) {
	past := t0.Add(-time.Second)
	future := t0.Add(time.Second)
	cases := []struct {
		status model.Status
		exp    *time.Time
		want   model.Status
	}{
		{model.StatusApproved, &past, model.StatusExpired},
		{model.StatusApproved, &future, model.StatusApproved},
		{model.StatusApproved, nil, model.StatusApproved},
		{model.StatusPending, &past, model.StatusPending},
		{model.StatusRevoked, &past, model.StatusRevoked},
		{model.StatusRejected, nil, model.StatusRejected},
	}
	for _, tc := range cases {
		t.Run(string(tc.status)+"->"+string(tc.want), func(t *testing.T) {
			store := newMemStore(model.License{ID: licID, Login: 7, Server: "S", Status: tc.status, PlanDays: 30, ExpiresAt: tc.exp})
			ctx := context.Background()

			pub, err := newStatus(store).PublicStatus(ctx, 7, "S")
			require.NoError(t, err)
			ver, err := newStatus(store).Verify(ctx, 7, " S ")
			require.NoError(t, err)
			list, err := newAdmin(store, nil).List(ctx)
			require.NoError(t, err)

			assert.Equal(t, string(tc.want), pub.Status)
			assert.Equal(t, string(tc.want), ver.Status)
			assert.Equal(t, tc.want, list.Licenses[0].EffectiveStatus)
			assert.Equal(t, tc.want == model.StatusApproved, pub.OK)
			assert.Equal(t, tc.want == model.StatusApproved, ver.OK)
		})
	}
}

func TestVerifyDisclosesExpiryOnlyWhenApprovedOrExpired(t *testing.T) {
	past := t0.Add(-time.Hour)
	store := newMemStore(
		model.License{ID: "x", Login: 1, Server: "S", Status: model.StatusApproved, ExpiresAt: &past},
		model.License{ID: "y", Login: 2, Server: "S", Status: model.StatusRevoked, ExpiresAt: &past},
	)
	svc := newStatus(store)

	res, err := svc.Verify(context.Background(), 1, "S")
	require.NoError(t, err)
	assert.Equal(t, "expired", res.Status)
	require.NotNil(t, res.ExpiresAt)

	res, err = svc.Verify(context.Background(), 2, "S")
	require.NoError(t, err)
	assert.Equal(t, "revoked", res.Status)
	assert.Nil(t, res.ExpiresAt)
}

func TestPublicStatusFields(t *testing.T) {
	exp := t0.Add(24 * time.Hour)
	store := newMemStore(model.License{ID: "x", Login: 1, Server: "S", Status: model.StatusApproved,
		PlanDays: 90, ApprovedAt: &t0, ExpiresAt: &exp, Broker: strp("Exness")})

	res, err := newStatus(store).PublicStatus(context.Background(), 1, "S")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 90, *res.PlanDays)
	assert.Equal(t, exp, *res.ExpiresAt)
	assert.Equal(t, t0, *res.ApprovedAt)
	assert.Equal(t, "Exness", *res.Broker)
}

func TestStatusValidationAndStorage(t *testing.T) {
	svc := newStatus(newMemStore())
	var ve *ValidationError
	_, err := svc.Verify(context.Background(), 0, "S")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "login", ve.Field)
	_, err = svc.PublicStatus(context.Background(), 1, "  ")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "server", ve.Field)

	store := newMemStore()
	store.findErr = errors.New("down")
	_, err = newStatus(store).Verify(context.Background(), 1, "S")
	var se *StorageError
	assert.ErrorAs(t, err, &se)
}
