// Package users 维护身份提供方账号在本地的镜像与角色。
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

const (
	defaultReconcileAfter = 24 * time.Hour
	touchInterval         = time.Hour
	pageSize              = 50
)

// ProfileFetcher 拉取身份提供方的用户资料。
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, externalID string) (auth.Profile, error)
}

// Directory 负责本地用户的解析、同步与角色管理。
type Directory struct {
	db             *gorm.DB
	profiles       ProfileFetcher
	logger         *slog.Logger
	reconcileAfter time.Duration
	now            func() time.Time
}

// Option 调整 Directory 的可选行为。
type Option func(*Directory)

// WithReconcileAfter 设置资料过期阈值。
func WithReconcileAfter(d time.Duration) Option {
	return func(dir *Directory) {
		if d > 0 {
			dir.reconcileAfter = d
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(dir *Directory) { dir.now = now }
}

// NewDirectory 构造 Directory。profiles 为空时跳过资料同步。
func NewDirectory(db *gorm.DB, profiles ProfileFetcher, logger *slog.Logger, opts ...Option) *Directory {
	dir := &Directory{
		db:             db,
		profiles:       profiles,
		logger:         logger,
		reconcileAfter: defaultReconcileAfter,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(dir)
	}
	return dir
}

// ResolveOrCreate 返回 externalID 对应的本地用户，首次出现时以 USER 角色创建。
func (d *Directory) ResolveOrCreate(ctx context.Context, externalID string) (database.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return database.User{}, errcode.Unauthenticated("missing user identity")
	}

	user, err := d.GetByExternalID(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, errcode.ErrNotFound) {
		return database.User{}, err
	}

	user = database.User{ExternalID: externalID, Role: database.RoleUser}
	// 并发首访时以唯一索引兜底，冲突后回读
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(&user)
	if result.Error != nil {
		return database.User{}, errcode.Internal(fmt.Errorf("create user: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return d.GetByExternalID(ctx, externalID)
	}
	d.logger.Info("local user created", slog.Uint64("user_id", uint64(user.ID)), slog.String("external_id", externalID))
	return user, nil
}

// Get 按本地 ID 查询用户。
func (d *Directory) Get(ctx context.Context, id uint) (database.User, error) {
	var user database.User
	if err := d.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return database.User{}, translate(err, "user")
	}
	return user, nil
}

// GetByExternalID 按身份提供方 ID 查询用户。
func (d *Directory) GetByExternalID(ctx context.Context, externalID string) (database.User, error) {
	var user database.User
	if err := d.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error; err != nil {
		return database.User{}, translate(err, "user")
	}
	return user, nil
}

// Page 表示用户分页结果。
type Page struct {
	Users []database.User `json:"users"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Pages int             `json:"pages"`
}

// List 按创建时间倒序分页列出用户。
func (d *Directory) List(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	var total int64
	if err := d.db.WithContext(ctx).Model(&database.User{}).Count(&total).Error; err != nil {
		return Page{}, errcode.Internal(fmt.Errorf("count users: %w", err))
	}
	var list []database.User
	if err := d.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&list).Error; err != nil {
		return Page{}, errcode.Internal(fmt.Errorf("list users: %w", err))
	}
	return Page{Users: list, Total: total, Page: page, Pages: int((total + pageSize - 1) / pageSize)}, nil
}

// NeedsReconcile 判断本地资料是否缺失或过期。
func (d *Directory) NeedsReconcile(user database.User) bool {
	if d.profiles == nil {
		return false
	}
	if strings.TrimSpace(user.Name) == "" || strings.TrimSpace(user.Email) == "" {
		return true
	}
	return user.LastSyncedAt == nil || d.now().Sub(*user.LastSyncedAt) > d.reconcileAfter
}

// Reconcile 从身份提供方拉取资料并写回差异。
func (d *Directory) Reconcile(ctx context.Context, user database.User) (database.User, error) {
	if d.profiles == nil {
		return user, nil
	}
	profile, err := d.profiles.FetchProfile(ctx, user.ExternalID)
	if err != nil {
		return user, err
	}

	now := d.now()
	updates := map[string]any{"last_synced_at": now}
	if profile.Name != "" && profile.Name != user.Name {
		updates["name"] = profile.Name
		user.Name = profile.Name
	}
	if profile.Email != "" && profile.Email != user.Email {
		updates["email"] = profile.Email
		user.Email = profile.Email
	}
	if err := d.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return user, errcode.Internal(fmt.Errorf("update profile: %w", err))
	}
	user.LastSyncedAt = &now
	return user, nil
}

// Touch 更新最近活跃时间，每小时最多写一次。
func (d *Directory) Touch(ctx context.Context, user database.User) error {
	now := d.now()
	if user.LastSeenAt != nil && now.Sub(*user.LastSeenAt) < touchInterval {
		return nil
	}
	if err := d.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", user.ID).
		Update("last_seen_at", now).Error; err != nil {
		return errcode.Internal(fmt.Errorf("touch user: %w", err))
	}
	return nil
}

// SetRole 修改用户角色。
func (d *Directory) SetRole(ctx context.Context, id uint, role database.Role) (database.User, error) {
	if !role.Valid() {
		return database.User{}, errcode.Validation("role must be USER or ADMIN")
	}
	user, err := d.Get(ctx, id)
	if err != nil {
		return database.User{}, err
	}
	if err := d.db.WithContext(ctx).Model(&user).Update("role", role).Error; err != nil {
		return database.User{}, errcode.Internal(fmt.Errorf("set role: %w", err))
	}
	user.Role = role
	return user, nil
}

// IsAdmin 判断用户是否为管理员。
func (d *Directory) IsAdmin(ctx context.Context, id uint) (bool, error) {
	user, err := d.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == database.RoleAdmin, nil
}

func translate(err error, resource string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errcode.NotFound(resource)
	}
	return errcode.Internal(err)
}
