package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/testutil"
)

type fakeProfiles struct {
	profile auth.Profile
	err     error
	calls   int
}

func (f *fakeProfiles) FetchProfile(_ context.Context, externalID string) (auth.Profile, error) {
	f.calls++
	if f.err != nil {
		return auth.Profile{}, f.err
	}
	p := f.profile
	p.ExternalID = externalID
	return p, nil
}

func TestResolveOrCreate(t *testing.T) {
	db := testutil.NewDB(t)
	dir := NewDirectory(db, nil, testutil.Logger())
	ctx := context.Background()

	first, err := dir.ResolveOrCreate(ctx, "user_1")
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, database.RoleUser, first.Role)

	again, err := dir.ResolveOrCreate(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&database.User{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	_, err = dir.ResolveOrCreate(ctx, "  ")
	assert.ErrorIs(t, err, errcode.ErrUnauthenticated)
}

func TestNeedsReconcileAndReconcile(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profiles := &fakeProfiles{profile: auth.Profile{Name: "Ada Lovelace", Email: "ada@example.com"}}
	dir := NewDirectory(db, profiles, testutil.Logger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	user, err := dir.ResolveOrCreate(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, dir.NeedsReconcile(user))

	user, err = dir.Reconcile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.False(t, dir.NeedsReconcile(user))

	stored, err := dir.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)
	require.NotNil(t, stored.LastSyncedAt)

	stale := now.Add(-25 * time.Hour)
	stored.LastSyncedAt = &stale
	assert.True(t, dir.NeedsReconcile(stored))

	profiles.err = errcode.Upstream("identity provider", errors.New("down"))
	_, err = dir.Reconcile(ctx, stored)
	assert.ErrorIs(t, err, errcode.ErrUpstream)
}

func TestTouchThrottlesWrites(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := NewDirectory(db, nil, testutil.Logger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "user_1", database.RoleUser)

	require.NoError(t, dir.Touch(ctx, user))
	stored, err := dir.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
	assert.True(t, stored.LastSeenAt.Equal(now))

	now = now.Add(10 * time.Minute)
	require.NoError(t, dir.Touch(ctx, stored))
	again, err := dir.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, again.LastSeenAt.Equal(now.Add(-10*time.Minute)))
}

func TestSetRoleAndIsAdmin(t *testing.T) {
	db := testutil.NewDB(t)
	dir := NewDirectory(db, nil, testutil.Logger())
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "user_1", database.RoleUser)

	isAdmin, err := dir.IsAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	_, err = dir.SetRole(ctx, user.ID, database.Role("ROOT"))
	assert.ErrorIs(t, err, errcode.ErrValidation)

	updated, err := dir.SetRole(ctx, user.ID, database.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, database.RoleAdmin, updated.Role)

	isAdmin, err = dir.IsAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	_, err = dir.SetRole(ctx, 9999, database.RoleAdmin)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestList(t *testing.T) {
	db := testutil.NewDB(t)
	dir := NewDirectory(db, nil, testutil.Logger())
	for _, id := range []string{"a", "b", "c"} {
		testutil.CreateUser(t, db, id, database.RoleUser)
	}

	page, err := dir.List(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Pages)
	assert.Len(t, page.Users, 3)
}

func TestApplyWebhook(t *testing.T) {
	db := testutil.NewDB(t)
	dir := NewDirectory(db, nil, testutil.Logger())
	ctx := context.Background()

	created := auth.WebhookEvent{Type: auth.EventUserCreated, Data: auth.ProviderUser{ID: "user_1", FirstName: "Ada"}}
	require.NoError(t, dir.ApplyWebhook(ctx, created))
	user, err := dir.GetByExternalID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)

	updated := auth.WebhookEvent{Type: auth.EventUserUpdated, Data: auth.ProviderUser{ID: "user_1", FirstName: "Grace"}}
	require.NoError(t, dir.ApplyWebhook(ctx, updated))
	user, err = dir.GetByExternalID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.Name)

	require.NoError(t, dir.ApplyWebhook(ctx, auth.WebhookEvent{Type: "session.created", Data: auth.ProviderUser{ID: "user_1"}}))
	assert.ErrorIs(t, dir.ApplyWebhook(ctx, auth.WebhookEvent{Type: auth.EventUserCreated}), errcode.ErrValidation)
}

func TestApplyWebhookDeleteCascades(t *testing.T) {
	db := testutil.NewDB(t)
	dir := NewDirectory(db, nil, testutil.Logger())
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "user_1", database.RoleUser)
	other := testutil.CreateUser(t, db, "user_2", database.RoleUser)

	require.NoError(t, db.Create(&database.CV{UserID: owner.ID, TemplateID: "t", Title: "mine"}).Error)
	require.NoError(t, db.Create(&database.CV{UserID: other.ID, TemplateID: "t", Title: "theirs"}).Error)
	op := database.PhotoOperation{UserID: owner.ID, Status: database.PhotoStatusPending, Photos: []database.Photo{
		{Type: database.PhotoTypeOriginal, URL: "https://cdn.test/a.jpg"},
	}}
	require.NoError(t, db.Create(&op).Error)

	require.NoError(t, dir.ApplyWebhook(ctx, auth.WebhookEvent{Type: auth.EventUserDeleted, Data: auth.ProviderUser{ID: "user_1"}}))

	_, err := dir.GetByExternalID(ctx, "user_1")
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	var cvs, ops, photos int64
	require.NoError(t, db.Unscoped().Model(&database.CV{}).Count(&cvs).Error)
	require.NoError(t, db.Unscoped().Model(&database.PhotoOperation{}).Count(&ops).Error)
	require.NoError(t, db.Unscoped().Model(&database.Photo{}).Count(&photos).Error)
	assert.EqualValues(t, 1, cvs)
	assert.Zero(t, ops)
	assert.Zero(t, photos)

	// 重复删除是幂等的
	require.NoError(t, dir.ApplyWebhook(ctx, auth.WebhookEvent{Type: auth.EventUserDeleted, Data: auth.ProviderUser{ID: "user_1"}}))
}
