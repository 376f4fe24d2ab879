// Package resume 管理用户拥有的 CV 文档，所有读写都以所有者为前置条件。
package resume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// DefaultContentSource 提供模板的默认内容。
type DefaultContentSource interface {
	DefaultContent(ctx context.Context, templateID string) (datatypes.JSON, bool)
}

// Store 负责 CV 的增删改查。
type Store struct {
	db         *gorm.DB
	defaults   DefaultContentSource
	maxPerUser int
}

// NewStore 构造 Store。maxPerUser 为 0 时不限制数量。
func NewStore(db *gorm.DB, defaults DefaultContentSource, maxPerUser int) *Store {
	return &Store{db: db, defaults: defaults, maxPerUser: maxPerUser}
}

// CreateInput 为创建 CV 的参数。
type CreateInput struct {
	TemplateID string         `json:"template_id"`
	Title      string         `json:"title"`
	Content    datatypes.JSON `json:"content"`
}

// UpdateInput 为局部更新参数，nil 字段保持不变。
type UpdateInput struct {
	Title       *string         `json:"title"`
	Content     *datatypes.JSON `json:"content"`
	IsPublished *bool           `json:"is_published"`
}

// Create 为 ownerID 创建一份未发布的 CV。模板 ID 不做存在性校验。
func (s *Store) Create(ctx context.Context, ownerID uint, in CreateInput) (database.CV, error) {
	title := strings.TrimSpace(in.Title)
	templateID := strings.TrimSpace(in.TemplateID)
	if title == "" {
		return database.CV{}, errcode.Validation("title is required")
	}
	if templateID == "" {
		return database.CV{}, errcode.Validation("template_id is required")
	}

	if s.maxPerUser > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&database.CV{}).Where("user_id = ?", ownerID).Count(&count).Error; err != nil {
			return database.CV{}, errcode.Internal(fmt.Errorf("count cvs: %w", err))
		}
		if count >= int64(s.maxPerUser) {
			return database.CV{}, errcode.Unauthorized("cv limit reached")
		}
	}

	content := in.Content
	if isEmptyJSON(content) {
		content = s.defaultContent(ctx, templateID)
	}

	cv := database.CV{
		UserID:      ownerID,
		TemplateID:  templateID,
		Title:       title,
		Content:     content,
		IsPublished: false,
	}
	if err := s.db.WithContext(ctx).Create(&cv).Error; err != nil {
		return database.CV{}, errcode.Internal(fmt.Errorf("create cv: %w", err))
	}
	return cv, nil
}

// List 按最近更新时间倒序返回 ownerID 的全部 CV。
func (s *Store) List(ctx context.Context, ownerID uint) ([]database.CV, error) {
	var cvs []database.CV
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").Order("id DESC").
		Find(&cvs).Error; err != nil {
		return nil, errcode.Internal(fmt.Errorf("list cvs: %w", err))
	}
	return cvs, nil
}

// Get 返回 ownerID 拥有的 CV，不存在或不属于该用户时返回 NotFound。
func (s *Store) Get(ctx context.Context, ownerID, id uint) (database.CV, error) {
	var cv database.CV
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).First(&cv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.CV{}, errcode.NotFound("cv")
		}
		return database.CV{}, errcode.Internal(fmt.Errorf("get cv: %w", err))
	}
	return cv, nil
}

// Update 合并 in 中给出的字段。
func (s *Store) Update(ctx context.Context, ownerID, id uint, in UpdateInput) (database.CV, error) {
	updates := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return database.CV{}, errcode.Validation("title must not be empty")
		}
		updates["title"] = title
	}
	if in.Content != nil {
		if isEmptyJSON(*in.Content) {
			return database.CV{}, errcode.Validation("content must not be empty")
		}
		updates["content"] = *in.Content
	}
	if in.IsPublished != nil {
		updates["is_published"] = *in.IsPublished
	}

	cv, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return database.CV{}, err
	}
	if len(updates) == 0 {
		return cv, nil
	}

	result := s.db.WithContext(ctx).Model(&database.CV{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Updates(updates)
	if result.Error != nil {
		return database.CV{}, errcode.Internal(fmt.Errorf("update cv: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return database.CV{}, errcode.NotFound("cv")
	}
	return s.Get(ctx, ownerID, id)
}

// Delete 删除 ownerID 拥有的 CV。
func (s *Store) Delete(ctx context.Context, ownerID, id uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).Delete(&database.CV{})
	if result.Error != nil {
		return errcode.Internal(fmt.Errorf("delete cv: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return errcode.NotFound("cv")
	}
	return nil
}

func (s *Store) defaultContent(ctx context.Context, templateID string) datatypes.JSON {
	if s.defaults != nil {
		if content, ok := s.defaults.DefaultContent(ctx, templateID); ok && !isEmptyJSON(content) {
			return content
		}
	}
	return EmptyContent().JSON()
}

func isEmptyJSON(raw datatypes.JSON) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
