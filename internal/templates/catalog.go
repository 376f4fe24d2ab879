// Package templates 维护固定的 CV 模板目录。
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// Categories 为允许落库的分类，按展示顺序排列。
var Categories = []database.TemplateCategory{
	database.CategorySimple,
	database.CategoryModern,
	database.CategoryCreative,
	database.CategoryProfessional,
}

// Grouped 是按分类分组的模板列表，All 包含全部启用模板。
type Grouped struct {
	Categories map[database.TemplateCategory][]database.CVTemplate `json:"categories"`
	All        []database.CVTemplate                               `json:"all"`
}

// Catalog 负责模板的读取与整体重置。
type Catalog struct {
	db *gorm.DB
}

// NewCatalog 构造 Catalog。
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// ListActive 返回全部启用模板，按分类分组并附带 All 分组。
func (c *Catalog) ListActive(ctx context.Context) (Grouped, error) {
	var list []database.CVTemplate
	if err := c.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC").Order("name ASC").
		Find(&list).Error; err != nil {
		return Grouped{}, errcode.Internal(fmt.Errorf("list templates: %w", err))
	}

	if list == nil {
		list = []database.CVTemplate{}
	}
	grouped := Grouped{
		Categories: make(map[database.TemplateCategory][]database.CVTemplate, len(Categories)+1),
		All:        list,
	}
	for _, category := range Categories {
		grouped.Categories[category] = []database.CVTemplate{}
	}
	for _, tpl := range list {
		grouped.Categories[tpl.Category] = append(grouped.Categories[tpl.Category], tpl)
	}
	grouped.Categories[database.CategoryAll] = list
	return grouped, nil
}

// Get 按 ID 返回模板（含未启用）。
func (c *Catalog) Get(ctx context.Context, id string) (database.CVTemplate, error) {
	var tpl database.CVTemplate
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.CVTemplate{}, errcode.NotFound("template")
		}
		return database.CVTemplate{}, errcode.Internal(fmt.Errorf("get template: %w", err))
	}
	return tpl, nil
}

// DefaultContent 实现 resume.DefaultContentSource。
func (c *Catalog) DefaultContent(ctx context.Context, id string) (datatypes.JSON, bool) {
	tpl, err := c.Get(ctx, id)
	if err != nil {
		return nil, false
	}
	return tpl.DefaultContent, len(tpl.DefaultContent) > 0
}

// Reset 在一个事务内清空目录并写入 list，已有 CV 的 template_id 不做迁移。
func (c *Catalog) Reset(ctx context.Context, list []database.CVTemplate) (int, error) {
	if err := validate(list); err != nil {
		return 0, err
	}

	rows := make([]database.CVTemplate, len(list))
	copy(rows, list)
	for i := range rows {
		rows[i].ID = strings.TrimSpace(rows[i].ID)
		rows[i].Name = strings.TrimSpace(rows[i].Name)
		if rows[i].SortOrder == 0 {
			rows[i].SortOrder = i + 1
		}
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&database.CVTemplate{}).Error; err != nil {
			return fmt.Errorf("clear templates: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			return fmt.Errorf("insert templates: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, errcode.Internal(err)
	}
	return len(rows), nil
}

func validate(list []database.CVTemplate) error {
	seen := make(map[string]struct{}, len(list))
	for i, tpl := range list {
		id := strings.TrimSpace(tpl.ID)
		if id == "" {
			return errcode.Validation(fmt.Sprintf("template %d: id is required", i))
		}
		if _, dup := seen[id]; dup {
			return errcode.Validation(fmt.Sprintf("template %q: duplicate id", id))
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(tpl.Name) == "" {
			return errcode.Validation(fmt.Sprintf("template %q: name is required", id))
		}
		if !validCategory(tpl.Category) {
			return errcode.Validation(fmt.Sprintf("template %q: unsupported category %q", id, tpl.Category))
		}
	}
	return nil
}

func validCategory(category database.TemplateCategory) bool {
	for _, known := range Categories {
		if category == known {
			return true
		}
	}
	return false
}
