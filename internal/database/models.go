package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role 表示本地用户的权限级别。
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid 判断角色是否合法。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User 是身份提供方账号在本地的镜像。
type User struct {
	gorm.Model
	ExternalID   string `gorm:"uniqueIndex;size:128;not null"`
	Name         string `gorm:"size:255"`
	Email        string `gorm:"size:320;index"`
	Role         Role   `gorm:"size:16;not null;index"`
	LastSyncedAt *time.Time
	LastSeenAt   *time.Time
}

// CV 表示用户拥有的简历文档。TemplateID 仅为对模板目录的软引用。
type CV struct {
	gorm.Model
	UserID      uint           `gorm:"index;not null"`
	User        User           `gorm:"constraint:OnDelete:CASCADE"`
	TemplateID  string         `gorm:"size:64;index;not null"`
	Title       string         `gorm:"size:255;not null"`
	Content     datatypes.JSON `gorm:"type:jsonb"`
	IsPublished bool           `gorm:"not null"`
}

// TemplateCategory 用于模板目录分组。
type TemplateCategory string

const (
	CategorySimple       TemplateCategory = "Simple"
	CategoryModern       TemplateCategory = "Modern"
	CategoryCreative     TemplateCategory = "Creative"
	CategoryProfessional TemplateCategory = "Professional"
	// CategoryAll 为合成分组，不落库。
	CategoryAll TemplateCategory = "All"
)

// CVTemplate 表示固定展示目录中的一个模板。
type CVTemplate struct {
	ID             string           `gorm:"primaryKey;size:64"`
	Name           string           `gorm:"size:255;not null"`
	Category       TemplateCategory `gorm:"size:32;index;not null"`
	Description    string           `gorm:"type:text"`
	PreviewURL     string           `gorm:"size:512"`
	IsActive       bool             `gorm:"index;not null"`
	SortOrder      int              `gorm:"not null"`
	DefaultContent datatypes.JSON   `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PhotoStatus 表示 PhotoOperation 的生命周期状态。
type PhotoStatus string

const (
	PhotoStatusPending          PhotoStatus = "PENDING"
	PhotoStatusProcessing       PhotoStatus = "PROCESSING"
	PhotoStatusCompleted        PhotoStatus = "COMPLETED"
	PhotoStatusCompletedPartial PhotoStatus = "COMPLETED_PARTIAL"
	PhotoStatusFailed           PhotoStatus = "FAILED"
	PhotoStatusCancelled        PhotoStatus = "CANCELLED"
)

// PhotoStatuses 按生命周期顺序列出全部状态。
var PhotoStatuses = []PhotoStatus{
	PhotoStatusPending,
	PhotoStatusProcessing,
	PhotoStatusCompleted,
	PhotoStatusCompletedPartial,
	PhotoStatusFailed,
	PhotoStatusCancelled,
}

// Valid 判断状态是否合法。
func (s PhotoStatus) Valid() bool {
	for _, known := range PhotoStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PhotoType 区分原图与 AI 生成图。
type PhotoType string

const (
	PhotoTypeOriginal    PhotoType = "ORIGINAL"
	PhotoTypeAIGenerated PhotoType = "AI_GENERATED"
)

// PhotoOperation 表示用户提交的一批待 AI 处理的照片。
// 已取消的操作通过 DeletedAt 软删除保留墓碑。
type PhotoOperation struct {
	gorm.Model
	UserID       uint        `gorm:"index;not null"`
	User         User        `gorm:"constraint:OnDelete:CASCADE"`
	Status       PhotoStatus `gorm:"size:24;index;not null"`
	Style        string      `gorm:"size:64"`
	Cancellable  bool        `gorm:"not null"`
	Notes        string      `gorm:"type:text"`
	FailureCount int         `gorm:"not null"`
	LastError    string      `gorm:"type:text"`
	CancelledAt  *time.Time
	CompletedAt  *time.Time
	Photos       []Photo `gorm:"foreignKey:OperationID;constraint:OnDelete:CASCADE"`
}

// Photo 表示操作下的原图或生成结果。
type Photo struct {
	gorm.Model
	OperationID uint           `gorm:"index;not null"`
	Type        PhotoType      `gorm:"size:16;index;not null"`
	URL         string         `gorm:"size:1024;not null"`
	ObjectKey   string         `gorm:"size:512"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
}

// BlogPost 表示 Markdown 博客文章，关联分类、标签与评论。
type BlogPost struct {
	ID             uint   `gorm:"primaryKey"`
	Slug           string `gorm:"uniqueIndex;size:255;not null"`
	Title          string `gorm:"size:255;not null"`
	Content        string `gorm:"type:text"`
	Excerpt        string `gorm:"type:text"`
	SEOTitle       string `gorm:"size:255"`
	SEODescription string `gorm:"size:512"`
	Published      bool   `gorm:"index;not null"`
	PublishedAt    *time.Time
	AuthorID       uint       `gorm:"index;not null"`
	Author         User       `gorm:"constraint:OnDelete:CASCADE"`
	Categories     []Category `gorm:"many2many:blog_post_categories;constraint:OnDelete:CASCADE"`
	Tags           []Tag      `gorm:"many2many:blog_post_tags;constraint:OnDelete:CASCADE"`
	Comments       []Comment  `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Category struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Slug      string `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time
}

type Tag struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Slug      string `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time
}

// Comment 归属于一篇文章与一个作者。
type Comment struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"index;not null"`
	AuthorID  uint   `gorm:"index;not null"`
	Author    User   `gorm:"constraint:OnDelete:CASCADE"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllModels 按迁移顺序返回全部模型。
func AllModels() []any {
	return []any{
		&User{},
		&CVTemplate{},
		&CV{},
		&PhotoOperation{},
		&Photo{},
		&Category{},
		&Tag{},
		&BlogPost{},
		&Comment{},
	}
}
