package blog

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// CreateCategory 创建分类；slug 由名称生成且必须唯一。
func (s *Store) CreateCategory(ctx context.Context, name string) (database.Category, error) {
	name, slug, err := s.termSlug(ctx, &database.Category{}, name, "category")
	if err != nil {
		return database.Category{}, err
	}
	category := database.Category{Name: name, Slug: slug}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		return database.Category{}, errcode.Internal(fmt.Errorf("create category: %w", err))
	}
	return category, nil
}

// ListCategories 按名称排序返回全部分类。
func (s *Store) ListCategories(ctx context.Context) ([]database.Category, error) {
	categories := []database.Category{}
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&categories).Error; err != nil {
		return nil, errcode.Internal(fmt.Errorf("list categories: %w", err))
	}
	return categories, nil
}

// DeleteCategory 删除分类及其文章关联，文章本身保留。
func (s *Store) DeleteCategory(ctx context.Context, id uint) error {
	return s.deleteTerm(ctx, &database.Category{}, id, "blog_post_categories", "category_id", "category")
}

// CreateTag 创建标签。
func (s *Store) CreateTag(ctx context.Context, name string) (database.Tag, error) {
	name, slug, err := s.termSlug(ctx, &database.Tag{}, name, "tag")
	if err != nil {
		return database.Tag{}, err
	}
	tag := database.Tag{Name: name, Slug: slug}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		return database.Tag{}, errcode.Internal(fmt.Errorf("create tag: %w", err))
	}
	return tag, nil
}

// ListTags 按名称排序返回全部标签。
func (s *Store) ListTags(ctx context.Context) ([]database.Tag, error) {
	tags := []database.Tag{}
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, errcode.Internal(fmt.Errorf("list tags: %w", err))
	}
	return tags, nil
}

// DeleteTag 删除标签及其文章关联。
func (s *Store) DeleteTag(ctx context.Context, id uint) error {
	return s.deleteTerm(ctx, &database.Tag{}, id, "blog_post_tags", "tag_id", "tag")
}

func (s *Store) termSlug(ctx context.Context, model any, name, kind string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errcode.Validation(kind + " name is required")
	}
	slug := Slugify(name)
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return "", "", errcode.Internal(fmt.Errorf("check %s slug: %w", kind, err))
	}
	if count > 0 {
		return "", "", errcode.InvalidState(fmt.Sprintf("%s %q already exists", kind, slug))
	}
	return name, slug, nil
}

func (s *Store) deleteTerm(ctx context.Context, model any, id uint, joinTable, joinColumn, kind string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM "+joinTable+" WHERE "+joinColumn+" = ?", id).Error; err != nil {
			return errcode.Internal(fmt.Errorf("delete %s links: %w", kind, err))
		}
		res := tx.Delete(model, id)
		if res.Error != nil {
			return errcode.Internal(fmt.Errorf("delete %s: %w", kind, res.Error))
		}
		if res.RowsAffected == 0 {
			return errcode.NotFound(kind)
		}
		return nil
	})
}
