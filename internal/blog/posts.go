// Package blog 管理 Markdown 博客文章、分类、标签与评论。
package blog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/security"
)

const (
	PageSize      = 9
	excerptLength = 160
)

// Store 提供博客的读写操作。
type Store struct {
	db        *gorm.DB
	sanitizer *security.Sanitizer
	now       func() time.Time
}

// NewStore 构造 Store。
func NewStore(db *gorm.DB, sanitizer *security.Sanitizer) *Store {
	return &Store{db: db, sanitizer: sanitizer, now: time.Now}
}

// PostInput 为创建文章的参数。
type PostInput struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	Excerpt        string `json:"excerpt"`
	SEOTitle       string `json:"seo_title"`
	SEODescription string `json:"seo_description"`
	Published      bool   `json:"published"`
	CategoryIDs    []uint `json:"category_ids"`
	TagIDs         []uint `json:"tag_ids"`
}

// PostUpdate 仅更新非 nil 字段；CategoryIDs/TagIDs 非 nil 时整体替换。
type PostUpdate struct {
	Title          *string `json:"title"`
	Content        *string `json:"content"`
	Excerpt        *string `json:"excerpt"`
	SEOTitle       *string `json:"seo_title"`
	SEODescription *string `json:"seo_description"`
	Published      *bool   `json:"published"`
	CategoryIDs    *[]uint `json:"category_ids"`
	TagIDs         *[]uint `json:"tag_ids"`
}

// CreatePost 创建文章并生成唯一 slug。
func (s *Store) CreatePost(ctx context.Context, authorID uint, in PostInput) (database.BlogPost, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return database.BlogPost{}, errcode.Validation("title is required")
	}
	content := s.sanitizer.Post(in.Content)
	post := database.BlogPost{
		Title:          title,
		Content:        content,
		Excerpt:        s.excerpt(in.Excerpt, content),
		SEOTitle:       strings.TrimSpace(in.SEOTitle),
		SEODescription: strings.TrimSpace(in.SEODescription),
		Published:      in.Published,
		AuthorID:       authorID,
	}
	if post.Published {
		now := s.now()
		post.PublishedAt = &now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueSlug(tx, Slugify(title), 0)
		if err != nil {
			return err
		}
		post.Slug = slug
		if post.Categories, err = loadCategories(tx, in.CategoryIDs); err != nil {
			return err
		}
		if post.Tags, err = loadTags(tx, in.TagIDs); err != nil {
			return err
		}
		return tx.Omit("Categories.*", "Tags.*").Create(&post).Error
	})
	if err != nil {
		return database.BlogPost{}, translate(err, "create post")
	}
	return post, nil
}

// UpdatePost 合并字段；仅当标题变化时重新生成 slug。
func (s *Store) UpdatePost(ctx context.Context, slug string, upd PostUpdate) (database.BlogPost, error) {
	var post database.BlogPost
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slug = ?", slug).First(&post).Error; err != nil {
			return err
		}

		updates := map[string]any{}
		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return errcode.Validation("title is required")
			}
			if title != post.Title {
				newSlug, err := uniqueSlug(tx, Slugify(title), post.ID)
				if err != nil {
					return err
				}
				updates["title"] = title
				updates["slug"] = newSlug
			}
		}
		if upd.Content != nil {
			content := s.sanitizer.Post(*upd.Content)
			updates["content"] = content
			if upd.Excerpt == nil && post.Excerpt == derivedExcerpt(s.sanitizer, post.Content) {
				updates["excerpt"] = derivedExcerpt(s.sanitizer, content)
			}
		}
		if upd.Excerpt != nil {
			content := post.Content
			if c, ok := updates["content"].(string); ok {
				content = c
			}
			updates["excerpt"] = s.excerpt(*upd.Excerpt, content)
		}
		if upd.SEOTitle != nil {
			updates["seo_title"] = strings.TrimSpace(*upd.SEOTitle)
		}
		if upd.SEODescription != nil {
			updates["seo_description"] = strings.TrimSpace(*upd.SEODescription)
		}
		if upd.Published != nil {
			updates["published"] = *upd.Published
			if *upd.Published && post.PublishedAt == nil {
				updates["published_at"] = s.now()
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&post).Updates(updates).Error; err != nil {
				return err
			}
		}

		if upd.CategoryIDs != nil {
			categories, err := loadCategories(tx, *upd.CategoryIDs)
			if err != nil {
				return err
			}
			if err := tx.Model(&post).Association("Categories").Replace(categories); err != nil {
				return err
			}
		}
		if upd.TagIDs != nil {
			tags, err := loadTags(tx, *upd.TagIDs)
			if err != nil {
				return err
			}
			if err := tx.Model(&post).Association("Tags").Replace(tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return database.BlogPost{}, translate(err, "update post")
	}
	return s.byID(ctx, post.ID)
}

// DeletePost 删除文章及其分类/标签关联与评论。
func (s *Store) DeletePost(ctx context.Context, slug string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post database.BlogPost
		if err := tx.Where("slug = ?", slug).First(&post).Error; err != nil {
			return err
		}
		if err := tx.Model(&post).Association("Categories").Clear(); err != nil {
			return err
		}
		if err := tx.Model(&post).Association("Tags").Clear(); err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&database.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	return translate(err, "delete post")
}

// GetBySlug 返回文章；includeDrafts 为 false 时草稿视为不存在。
func (s *Store) GetBySlug(ctx context.Context, slug string, includeDrafts bool) (database.BlogPost, error) {
	var post database.BlogPost
	query := withPostAssociations(s.db.WithContext(ctx)).Where("slug = ?", slug)
	if !includeDrafts {
		query = query.Where("published = ?", true)
	}
	if err := query.First(&post).Error; err != nil {
		return database.BlogPost{}, translate(err, "get post")
	}
	return post, nil
}

// ListFilter 过滤文章列表。Page 从 1 开始。
type ListFilter struct {
	Page          int
	PublishedOnly bool
	CategorySlug  string
	TagSlug       string
}

// PostPage 为分页结果。
type PostPage struct {
	Posts []database.BlogPost `json:"posts"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Pages int                 `json:"pages"`
}

// ListPosts 按创建时间倒序分页列出文章。
func (s *Store) ListPosts(ctx context.Context, filter ListFilter) (PostPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	db := s.db.WithContext(ctx)
	filtered := func() *gorm.DB {
		query := db.Model(&database.BlogPost{})
		if filter.PublishedOnly {
			query = query.Where("published = ?", true)
		}
		if slug := strings.TrimSpace(filter.CategorySlug); slug != "" {
			query = query.Where("id IN (?)", db.Table("blog_post_categories").
				Select("blog_post_categories.blog_post_id").
				Joins("JOIN categories ON categories.id = blog_post_categories.category_id").
				Where("categories.slug = ?", slug))
		}
		if slug := strings.TrimSpace(filter.TagSlug); slug != "" {
			query = query.Where("id IN (?)", db.Table("blog_post_tags").
				Select("blog_post_tags.blog_post_id").
				Joins("JOIN tags ON tags.id = blog_post_tags.tag_id").
				Where("tags.slug = ?", slug))
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return PostPage{}, errcode.Internal(fmt.Errorf("count posts: %w", err))
	}
	posts := []database.BlogPost{}
	err := withPostAssociations(filtered()).
		Order("created_at DESC, id DESC").
		Limit(PageSize).
		Offset((page - 1) * PageSize).
		Find(&posts).Error
	if err != nil {
		return PostPage{}, errcode.Internal(fmt.Errorf("list posts: %w", err))
	}
	return PostPage{
		Posts: posts,
		Total: total,
		Page:  page,
		Pages: int((total + PageSize - 1) / PageSize),
	}, nil
}

func (s *Store) byID(ctx context.Context, id uint) (database.BlogPost, error) {
	var post database.BlogPost
	if err := withPostAssociations(s.db.WithContext(ctx)).First(&post, id).Error; err != nil {
		return database.BlogPost{}, translate(err, "get post")
	}
	return post, nil
}

func withPostAssociations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Author").
		Preload("Categories", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") })
}

func uniqueSlug(tx *gorm.DB, base string, excludeID uint) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		if _, reserved := reservedSlugs[candidate]; !reserved {
			var count int64
			query := tx.Model(&database.BlogPost{}).Where("slug = ?", candidate)
			if excludeID != 0 {
				query = query.Where("id <> ?", excludeID)
			}
			if err := query.Count(&count).Error; err != nil {
				return "", err
			}
			if count == 0 {
				return candidate, nil
			}
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Store) excerpt(explicit, content string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return s.sanitizer.Text(trimmed)
	}
	return derivedExcerpt(s.sanitizer, content)
}

var (
	markdownLink   = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	markdownMarks  = regexp.MustCompile("(?m)^\\s{0,3}(#{1,6}|>|[-*+]|\\d+\\.)\\s+|[*_`~]")
	collapseSpaces = regexp.MustCompile(`\s+`)
)

// derivedExcerpt 粗略去除 Markdown 标记后截取前 160 个字符。
func derivedExcerpt(sanitizer *security.Sanitizer, content string) string {
	text := markdownLink.ReplaceAllString(content, "$1")
	text = markdownMarks.ReplaceAllString(text, "")
	text = sanitizer.Text(text)
	text = strings.TrimSpace(collapseSpaces.ReplaceAllString(text, " "))
	r := []rune(text)
	if len(r) <= excerptLength {
		return text
	}
	return strings.TrimSpace(string(r[:excerptLength])) + "…"
}

func loadCategories(tx *gorm.DB, ids []uint) ([]database.Category, error) {
	categories := []database.Category{}
	if len(ids) == 0 {
		return categories, nil
	}
	if err := tx.Where("id IN ?", ids).Find(&categories).Error; err != nil {
		return nil, err
	}
	if len(categories) != len(uniqueIDs(ids)) {
		return nil, errcode.Validation("unknown category id")
	}
	return categories, nil
}

func loadTags(tx *gorm.DB, ids []uint) ([]database.Tag, error) {
	tags := []database.Tag{}
	if len(ids) == 0 {
		return tags, nil
	}
	if err := tx.Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, err
	}
	if len(tags) != len(uniqueIDs(ids)) {
		return nil, errcode.Validation("unknown tag id")
	}
	return tags, nil
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func translate(err error, op string) error {
	return translateAs(err, "post", op)
}

func translateAs(err error, resource, op string) error {
	if err == nil {
		return nil
	}
	var e *errcode.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errcode.NotFound(resource)
	}
	return errcode.Internal(fmt.Errorf("%s: %w", op, err))
}
