package templates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/resume"
	"cvforge/internal/testutil"
)

func TestResetReplacesCatalog(t *testing.T) {
	db := testutil.NewDB(t)
	catalog := NewCatalog(db)
	ctx := context.Background()

	n, err := catalog.Reset(ctx, DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog()), n)

	next := []database.CVTemplate{
		{ID: "s1", Name: "Plain", Category: database.CategorySimple, IsActive: true},
		{ID: "m1", Name: "Fresh", Category: database.CategoryModern, IsActive: true},
		{ID: "m2", Name: "Alpha", Category: database.CategoryModern, IsActive: true},
		{ID: "p1", Name: "Hidden", Category: database.CategoryProfessional, IsActive: false},
	}
	_, err = catalog.Reset(ctx, next)
	require.NoError(t, err)

	grouped, err := catalog.ListActive(ctx)
	require.NoError(t, err)

	ids := func(list []database.CVTemplate) []string {
		out := make([]string, 0, len(list))
		for _, tpl := range list {
			out = append(out, tpl.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"s1", "m1", "m2"}, ids(grouped.All))
	assert.Equal(t, ids(grouped.All), ids(grouped.Categories[database.CategoryAll]))
	assert.Equal(t, []string{"s1"}, ids(grouped.Categories[database.CategorySimple]))
	assert.Equal(t, []string{"m1", "m2"}, ids(grouped.Categories[database.CategoryModern]))
	assert.Empty(t, grouped.Categories[database.CategoryCreative])
	assert.Empty(t, grouped.Categories[database.CategoryProfessional])

	_, err = catalog.Get(ctx, "simple-classic")
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestResetKeepsDanglingCVReferences(t *testing.T) {
	db := testutil.NewDB(t)
	catalog := NewCatalog(db)
	store := resume.NewStore(db, catalog, 0)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, "owner", database.RoleUser)

	_, err := catalog.Reset(ctx, DefaultCatalog())
	require.NoError(t, err)
	cv, err := store.Create(ctx, owner.ID, resume.CreateInput{TemplateID: "modern-sidebar", Title: "Mine"})
	require.NoError(t, err)
	assert.Contains(t, string(cv.Content), "Your Name")

	_, err = catalog.Reset(ctx, []database.CVTemplate{{ID: "only", Name: "Only", Category: database.CategorySimple, IsActive: true}})
	require.NoError(t, err)

	stored, err := store.Get(ctx, owner.ID, cv.ID)
	require.NoError(t, err)
	assert.Equal(t, "modern-sidebar", stored.TemplateID)
}

func TestResetValidation(t *testing.T) {
	db := testutil.NewDB(t)
	catalog := NewCatalog(db)
	ctx := context.Background()
	_, err := catalog.Reset(ctx, DefaultCatalog())
	require.NoError(t, err)

	cases := map[string][]database.CVTemplate{
		"missing id":   {{Name: "x", Category: database.CategorySimple}},
		"duplicate id": {{ID: "a", Name: "x", Category: database.CategorySimple}, {ID: "a", Name: "y", Category: database.CategorySimple}},
		"missing name": {{ID: "a", Category: database.CategorySimple}},
		"all category": {{ID: "a", Name: "x", Category: database.CategoryAll}},
	}
	for name, list := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.Reset(ctx, list)
			assert.ErrorIs(t, err, errcode.ErrValidation)
		})
	}

	// 校验失败不影响现有目录
	grouped, err := catalog.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped.All, len(DefaultCatalog()))
}

func TestDefaultCatalogCoversEveryCategory(t *testing.T) {
	seen := map[database.TemplateCategory]bool{}
	for _, tpl := range DefaultCatalog() {
		seen[tpl.Category] = true
		assert.True(t, tpl.IsActive)
		assert.NotEmpty(t, tpl.DefaultContent)
	}
	for _, category := range Categories {
		assert.True(t, seen[category], category)
	}
}
