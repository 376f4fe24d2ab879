package photos

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

type memoryObjects struct {
	mu      sync.Mutex
	deleted []string
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryObjects) ObjectKeyFromURL(raw string) (string, bool) {
	const prefix = "https://cdn.test/cvforge/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, prefix), true
}

func TestAdminSetStatusNeverReopensWindow(t *testing.T) {
	f := newFixture(t)
	op := f.submit(t, "https://cdn.test/uploads/a.png")
	ctx := context.Background()

	updated, err := f.workflow.AdminSetStatus(ctx, op.ID, database.PhotoStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, database.PhotoStatusProcessing, updated.Status)
	assert.False(t, updated.Cancellable)

	updated, err = f.workflow.AdminSetStatus(ctx, op.ID, database.PhotoStatusPending)
	require.NoError(t, err)
	assert.Equal(t, database.PhotoStatusPending, updated.Status)
	assert.False(t, updated.Cancellable)

	updated, err = f.workflow.AdminSetStatus(ctx, op.ID, database.PhotoStatusCompleted)
	require.NoError(t, err)
	assert.NotNil(t, updated.CompletedAt)

	_, err = f.workflow.AdminSetStatus(ctx, op.ID, database.PhotoStatus("DONE"))
	assert.ErrorIs(t, err, errcode.ErrValidation)
	_, err = f.workflow.AdminSetStatus(ctx, 4242, database.PhotoStatusFailed)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestAdminActionsReachCancelledOperations(t *testing.T) {
	f := newFixture(t)
	op := f.submit(t, "https://cdn.test/uploads/a.png")
	ctx := context.Background()
	require.NoError(t, f.workflow.Cancel(ctx, f.user.ID, op.ID))

	view, err := f.workflow.AdminGet(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, database.PhotoStatusCancelled, view.Status)

	updated, err := f.workflow.AdminSetStatus(ctx, op.ID, database.PhotoStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, database.PhotoStatusFailed, updated.Status)

	var stored database.PhotoOperation
	require.NoError(t, f.db.Unscoped().First(&stored, op.ID).Error)
	assert.Equal(t, database.PhotoStatusFailed, stored.Status)
	assert.True(t, stored.DeletedAt.Valid)

	_, err = f.workflow.AdminSetNotes(ctx, op.ID, "refunded")
	require.NoError(t, err)
	require.NoError(t, f.workflow.AdminDelete(ctx, op.ID))
}

func TestAdminSetNotes(t *testing.T) {
	f := newFixture(t)
	op := f.submit(t, "https://cdn.test/uploads/a.png")

	updated, err := f.workflow.AdminSetNotes(context.Background(), op.ID, "retouched by hand")
	require.NoError(t, err)
	assert.Equal(t, "retouched by hand", updated.Notes)

	view, err := f.workflow.AdminGet(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, "retouched by hand", view.Notes)
	require.NotNil(t, view.User)
	assert.Equal(t, f.user.Email, view.User.Email)
}

func TestAdminAttachProcessed(t *testing.T) {
	objects := &memoryObjects{}
	f := newFixture(t, WithObjectStore(objects))
	ctx := context.Background()

	_, err := f.workflow.AdminAttachProcessed(ctx, f.user.ID, AttachInput{URL: "https://cdn.test/cvforge/generated/1/x.png"})
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	op := f.submit(t, "https://cdn.test/uploads/a.png")
	photo, err := f.workflow.AdminAttachProcessed(ctx, f.user.ID, AttachInput{
		URL:      "https://cdn.test/cvforge/generated/1/x.png",
		Metadata: map[string]any{"retouched": true},
	})
	require.NoError(t, err)
	assert.Equal(t, op.ID, photo.OperationID)
	assert.Equal(t, database.PhotoTypeAIGenerated, photo.Type)
	assert.Equal(t, "generated/1/x.png", photo.ObjectKey)
	assert.Contains(t, string(photo.Metadata), `"attached_by_admin":true`)

	_, err = f.workflow.AdminAttachProcessed(ctx, f.user.ID, AttachInput{URL: "not a url"})
	assert.ErrorIs(t, err, errcode.ErrValidation)

	_, err = f.workflow.AdminAttachProcessed(ctx, f.user.ID, AttachInput{
		URL:       "https://cdn.test/cvforge/user-assets/1/x.png",
		ObjectKey: fmt.Sprintf("user-assets/%d/x.png", f.user.ID),
	})
	assert.ErrorIs(t, err, errcode.ErrValidation)
}

func TestAdminDeleteRemovesRowsAndObjects(t *testing.T) {
	objects := &memoryObjects{}
	f := newFixture(t, WithObjectStore(objects))
	ownKey := fmt.Sprintf("user-assets/%d/a.png", f.user.ID)
	op := f.submit(t, "https://cdn.test/cvforge/"+ownKey, "https://elsewhere.test/b.png")
	ctx := context.Background()

	require.NoError(t, f.workflow.AdminDelete(ctx, op.ID))

	var count int64
	require.NoError(t, f.db.Unscoped().Model(&database.PhotoOperation{}).Where("id = ?", op.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, f.db.Unscoped().Model(&database.Photo{}).Where("operation_id = ?", op.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, []string{ownKey}, objects.deleted)

	assert.ErrorIs(t, f.workflow.AdminDelete(ctx, op.ID), errcode.ErrNotFound)
}

func TestSubmitRejectsForeignBucketObjects(t *testing.T) {
	f := newFixture(t, WithObjectStore(&memoryObjects{}))
	foreign := fmt.Sprintf("https://cdn.test/cvforge/user-assets/%d/a.png", f.user.ID+1)

	_, err := f.workflow.Submit(context.Background(), f.user.ID, SubmitInput{PhotoURLs: []string{foreign}, Style: "studio"})
	assert.ErrorIs(t, err, errcode.ErrValidation)
}

func TestAdminListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, "https://cdn.test/uploads/a.png")
	second := f.submit(t, "https://cdn.test/uploads/b.png")
	require.NoError(t, f.workflow.Cancel(ctx, f.user.ID, first.ID))
	_, err := f.workflow.ProcessByID(ctx, second.ID)
	require.NoError(t, err)

	views, err := f.workflow.AdminList(ctx, AdminFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, second.ID, views[0].ID)
	assert.Len(t, views[0].Original, 1)
	assert.Len(t, views[0].Generated, 1)

	views, err = f.workflow.AdminList(ctx, AdminFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	views, err = f.workflow.AdminList(ctx, AdminFilter{Status: database.PhotoStatusCancelled})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Deleted)
	assert.Len(t, views[0].Original, 1)

	views, err = f.workflow.AdminList(ctx, AdminFilter{UserID: f.user.ID + 100})
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = f.workflow.AdminList(ctx, AdminFilter{Status: "WAT"})
	assert.ErrorIs(t, err, errcode.ErrValidation)
}

func TestPendingAndListForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Pending(ctx, f.user.ID)
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	done := f.submit(t, "https://cdn.test/uploads/a.png")
	_, err = f.workflow.ProcessByID(ctx, done.ID)
	require.NoError(t, err)
	open := f.submit(t, "https://cdn.test/uploads/b.png")

	pending, err := f.workflow.Pending(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, open.ID, pending.ID)
	assert.Len(t, pending.Photos, 1)

	ops, err := f.workflow.ListForUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Len(t, ops[1].Photos, 2)
}
