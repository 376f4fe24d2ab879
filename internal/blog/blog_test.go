package blog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/security"
	"cvforge/internal/testutil"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Café #1!":              "cafe-1",
		"  Hello,   World  ":    "hello-world",
		"Résumé / Tips":         "resume-tips",
		"already-a-slug":        "already-a-slug",
		"!!!":                   "post",
		"":                      "post",
		"Ｆｕｌｌｗｉｄｔｈ ２０２６": "fullwidth-2026",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func newStore(t *testing.T) (*Store, *gorm.DB, database.User) {
	t.Helper()
	db := testutil.NewDB(t)
	author := testutil.CreateUser(t, db, "author", database.RoleAdmin)
	return NewStore(db, security.NewSanitizer()), db, author
}

func TestCreatePostSlugCollisions(t *testing.T) {
	store, _, author := newStore(t)
	ctx := context.Background()

	first, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Café #1!", Content: "Body"})
	require.NoError(t, err)
	second, err := store.CreatePost(ctx, author.ID, PostInput{Title: "cafe 1", Content: "Body"})
	require.NoError(t, err)
	third, err := store.CreatePost(ctx, author.ID, PostInput{Title: "CAFE-1", Content: "Body"})
	require.NoError(t, err)

	assert.Equal(t, "cafe-1", first.Slug)
	assert.Equal(t, "cafe-1-2", second.Slug)
	assert.Equal(t, "cafe-1-3", third.Slug)

	reserved, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Categories"})
	require.NoError(t, err)
	assert.Equal(t, "categories-2", reserved.Slug)

	_, err = store.CreatePost(ctx, author.ID, PostInput{Title: "   "})
	assert.ErrorIs(t, err, errcode.ErrValidation)
}

func TestCreatePostSanitizesAndDerivesExcerpt(t *testing.T) {
	store, _, author := newStore(t)
	body := "# Heading\n\nSome **bold** text with a [link](https://example.com).<script>alert(1)</script>\n\n" + strings.Repeat("word ", 60)

	post, err := store.CreatePost(context.Background(), author.ID, PostInput{Title: "Sanitized", Content: body, Published: true})
	require.NoError(t, err)
	assert.NotContains(t, post.Content, "<script>")
	assert.True(t, strings.HasPrefix(post.Excerpt, "Heading Some bold text with a link."))
	assert.True(t, strings.HasSuffix(post.Excerpt, "…"))
	assert.LessOrEqual(t, len([]rune(post.Excerpt)), excerptLength+1)
	require.NotNil(t, post.PublishedAt)

	explicit, err := store.CreatePost(context.Background(), author.ID, PostInput{Title: "Explicit", Content: body, Excerpt: "Short <b>summary</b>"})
	require.NoError(t, err)
	assert.Equal(t, "Short summary", explicit.Excerpt)
	assert.Nil(t, explicit.PublishedAt)
}

func TestUpdatePostRegeneratesSlugOnlyOnTitleChange(t *testing.T) {
	store, _, author := newStore(t)
	ctx := context.Background()
	post, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Original Title", Content: "one"})
	require.NoError(t, err)

	content := "two"
	updated, err := store.UpdatePost(ctx, post.Slug, PostUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "original-title", updated.Slug)
	assert.Equal(t, "two", updated.Content)
	assert.Equal(t, "two", updated.Excerpt)

	same := "Original Title"
	updated, err = store.UpdatePost(ctx, updated.Slug, PostUpdate{Title: &same})
	require.NoError(t, err)
	assert.Equal(t, "original-title", updated.Slug)

	renamed := "Brand New Title"
	published := true
	updated, err = store.UpdatePost(ctx, updated.Slug, PostUpdate{Title: &renamed, Published: &published})
	require.NoError(t, err)
	assert.Equal(t, "brand-new-title", updated.Slug)
	assert.True(t, updated.Published)
	assert.NotNil(t, updated.PublishedAt)

	_, err = store.UpdatePost(ctx, "original-title", PostUpdate{Content: &content})
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestUpdatePostReplacesTaxonomy(t *testing.T) {
	store, db, author := newStore(t)
	ctx := context.Background()
	golang, err := store.CreateCategory(ctx, "Go")
	require.NoError(t, err)
	careers, err := store.CreateCategory(ctx, "Careers")
	require.NoError(t, err)
	tag, err := store.CreateTag(ctx, "Interviews")
	require.NoError(t, err)

	post, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Tagged", CategoryIDs: []uint{golang.ID}, TagIDs: []uint{tag.ID}})
	require.NoError(t, err)

	ids := []uint{careers.ID}
	updated, err := store.UpdatePost(ctx, post.Slug, PostUpdate{CategoryIDs: &ids})
	require.NoError(t, err)
	require.Len(t, updated.Categories, 1)
	assert.Equal(t, "careers", updated.Categories[0].Slug)
	require.Len(t, updated.Tags, 1)

	var links int64
	require.NoError(t, db.Table("blog_post_categories").Where("blog_post_id = ?", post.ID).Count(&links).Error)
	assert.EqualValues(t, 1, links)

	bogus := []uint{9999}
	_, err = store.UpdatePost(ctx, post.Slug, PostUpdate{TagIDs: &bogus})
	assert.ErrorIs(t, err, errcode.ErrValidation)
}

func TestListPostsPaginatesAndFilters(t *testing.T) {
	store, _, author := newStore(t)
	ctx := context.Background()
	category, err := store.CreateCategory(ctx, "Guides")
	require.NoError(t, err)

	for i := 0; i < 11; i++ {
		in := PostInput{Title: fmt.Sprintf("%s %d", gofakeit.Sentence(3), i), Content: gofakeit.Paragraph(1, 2, 10, " "), Published: true}
		if i < 2 {
			in.CategoryIDs = []uint{category.ID}
		}
		_, err := store.CreatePost(ctx, author.ID, in)
		require.NoError(t, err)
	}
	_, err = store.CreatePost(ctx, author.ID, PostInput{Title: "Draft"})
	require.NoError(t, err)

	page, err := store.ListPosts(ctx, ListFilter{Page: 1, PublishedOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 11, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Posts, PageSize)

	page, err = store.ListPosts(ctx, ListFilter{Page: 2, PublishedOnly: true})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)

	page, err = store.ListPosts(ctx, ListFilter{Page: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 12, page.Total)

	page, err = store.ListPosts(ctx, ListFilter{PublishedOnly: true, CategorySlug: "guides"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	for _, p := range page.Posts {
		require.Len(t, p.Categories, 1)
	}

	page, err = store.ListPosts(ctx, ListFilter{TagSlug: "missing"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Posts)
}

func TestGetBySlugHidesDrafts(t *testing.T) {
	store, _, author := newStore(t)
	ctx := context.Background()
	draft, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Hidden"})
	require.NoError(t, err)

	_, err = store.GetBySlug(ctx, draft.Slug, false)
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	got, err := store.GetBySlug(ctx, draft.Slug, true)
	require.NoError(t, err)
	assert.Equal(t, author.ID, got.Author.ID)
}

func TestDeletePostRemovesCommentsAndLinks(t *testing.T) {
	store, db, author := newStore(t)
	ctx := context.Background()
	tag, err := store.CreateTag(ctx, "Resume Tips")
	require.NoError(t, err)
	post, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Doomed", Published: true, TagIDs: []uint{tag.ID}})
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, post.Slug, author.ID, "first!")
	require.NoError(t, err)

	require.NoError(t, store.DeletePost(ctx, post.Slug))

	var count int64
	require.NoError(t, db.Model(&database.Comment{}).Where("post_id = ?", post.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Table("blog_post_tags").Where("blog_post_id = ?", post.ID).Count(&count).Error)
	assert.Zero(t, count)

	tags, err := store.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)

	assert.ErrorIs(t, store.DeletePost(ctx, post.Slug), errcode.ErrNotFound)
}

func TestTaxonomy(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	c, err := store.CreateCategory(ctx, "  Career Advice ")
	require.NoError(t, err)
	assert.Equal(t, "Career Advice", c.Name)
	assert.Equal(t, "career-advice", c.Slug)

	_, err = store.CreateCategory(ctx, "career advice")
	assert.ErrorIs(t, err, errcode.ErrInvalidState)
	_, err = store.CreateTag(ctx, " ")
	assert.ErrorIs(t, err, errcode.ErrValidation)

	require.NoError(t, store.DeleteCategory(ctx, c.ID))
	assert.ErrorIs(t, store.DeleteCategory(ctx, c.ID), errcode.ErrNotFound)

	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestComments(t *testing.T) {
	store, db, author := newStore(t)
	reader := testutil.CreateUser(t, db, "reader", database.RoleUser)
	stranger := testutil.CreateUser(t, db, "stranger", database.RoleUser)
	ctx := context.Background()

	post, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Discuss", Published: true})
	require.NoError(t, err)
	draft, err := store.CreatePost(ctx, author.ID, PostInput{Title: "Not yet"})
	require.NoError(t, err)

	comment, err := store.CreateComment(ctx, post.Slug, reader.ID, "  Great post <script>x()</script><b>really</b> ")
	require.NoError(t, err)
	assert.Equal(t, "Great post really", comment.Content)
	assert.Equal(t, reader.ID, comment.Author.ID)

	_, err = store.CreateComment(ctx, post.Slug, reader.ID, "   ")
	assert.ErrorIs(t, err, errcode.ErrValidation)
	_, err = store.CreateComment(ctx, post.Slug, reader.ID, strings.Repeat("a", MaxCommentLength+1))
	assert.ErrorIs(t, err, errcode.ErrValidation)
	_, err = store.CreateComment(ctx, post.Slug, reader.ID, strings.Repeat("é", MaxCommentLength))
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, draft.Slug, reader.ID, "hello")
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	comments, err := store.ListComments(ctx, post.Slug)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, comment.ID, comments[0].ID)

	err = store.DeleteComment(ctx, post.Slug, comment.ID, stranger.ID, false)
	assert.ErrorIs(t, err, errcode.ErrUnauthorized)
	require.NoError(t, store.DeleteComment(ctx, post.Slug, comment.ID, reader.ID, false))
	require.NoError(t, store.DeleteComment(ctx, post.Slug, comments[1].ID, author.ID, true))
	assert.ErrorIs(t, store.DeleteComment(ctx, post.Slug, comment.ID, reader.ID, false), errcode.ErrNotFound)
}
