package feeds

import (
	"context"
	"testing"

	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)
	return NewRepository(gdb)
}

func sampleFeed(formID int) *Feed {
	return &Feed{
		FormID:         formID,
		Name:           "Contact feed",
		IsActive:       true,
		RemoteFormName: "Website leads",
		Mappings: []Mapping{
			{Property: "email", Source: "2"},
			{Property: "firstname", Source: "1.3"},
			{Property: "lifecyclestage", Source: "lead"},
		},
		Additional: []Mapping{{Property: "phone", Source: "4"}},
		Owner:      OwnerRule{Mode: OwnerSelect, OwnerID: "42"},
		Condition: Condition{
			Enabled: true,
			Logic:   "any",
			Rules:   []Rule{{Source: "5", Operator: "is", Value: "yes"}},
		},
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	f := sampleFeed(7)
	require.NoError(t, r.Create(ctx, f))
	require.NotZero(t, f.ID)

	got, err := r.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Mappings, got.Mappings)
	assert.Equal(t, f.Additional, got.Additional)
	assert.Equal(t, f.Owner, got.Owner)
	assert.Equal(t, f.Condition, got.Condition)
	assert.True(t, got.IsActive)
	assert.Equal(t, "Website leads", got.RemoteFormName)
}

func TestCreateKeepsInactiveFlag(t *testing.T) {
	r := newRepo(t)
	f := sampleFeed(1)
	f.IsActive = false
	require.NoError(t, r.Create(context.Background(), f))

	got, err := r.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestGetMissing(t *testing.T) {
	r := newRepo(t)
	_, err := r.Get(context.Background(), 99)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestListByForm(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, formID := range []int{1, 2, 1} {
		require.NoError(t, r.Create(ctx, sampleFeed(formID)))
	}

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byForm, err := r.ListByForm(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byForm, 2)
	assert.Less(t, byForm[0].ID, byForm[1].ID)
}

func TestUpdate(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	f := sampleFeed(1)
	require.NoError(t, r.Create(ctx, f))

	f.Name = "Renamed"
	f.IsActive = false
	f.Mappings = f.Mappings[:1]
	require.NoError(t, r.Update(ctx, f))

	got, err := r.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.IsActive)
	assert.Len(t, got.Mappings, 1)

	missing := sampleFeed(1)
	missing.ID = 1000
	assert.ErrorIs(t, r.Update(ctx, missing), errs.NotFound)
}

func TestUpdateRemoteResetsOwner(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	f := sampleFeed(1)
	require.NoError(t, r.Create(ctx, f))

	require.NoError(t, r.UpdateRemote(ctx, f.ID, "Website leads", "guid-1", "123", false))
	got, err := r.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "guid-1", got.RemoteFormGUID)
	assert.Equal(t, "123", got.RemoteAccountID)
	assert.Equal(t, OwnerSelect, got.Owner.Mode)

	require.NoError(t, r.UpdateRemote(ctx, f.ID, "Website leads", "guid-2", "456", true))
	got, err = r.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "guid-2", got.RemoteFormGUID)
	assert.Equal(t, OwnerNone, got.Owner.Mode)
	assert.Empty(t, got.Owner.OwnerID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	f := sampleFeed(1)
	require.NoError(t, r.Create(ctx, f))

	require.NoError(t, r.Delete(ctx, f.ID))
	require.NoError(t, r.Delete(ctx, f.ID))
	_, err := r.Get(ctx, f.ID)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestEffectiveProperty(t *testing.T) {
	assert.Equal(t, "phone", Mapping{Property: "phone"}.EffectiveProperty())
	assert.Equal(t, "custom_x", Mapping{Property: "gf_custom", CustomProperty: "custom_x"}.EffectiveProperty())
}
