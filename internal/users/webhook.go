package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// ApplyWebhook 应用身份提供方推送的用户生命周期事件，未知事件直接忽略。
func (d *Directory) ApplyWebhook(ctx context.Context, event auth.WebhookEvent) error {
	externalID := strings.TrimSpace(event.Data.ID)
	if externalID == "" {
		return errcode.Validation("event is missing user id")
	}

	switch event.Type {
	case auth.EventUserCreated, auth.EventUserUpdated:
		return d.upsertProfile(ctx, event.Data.Profile())
	case auth.EventUserDeleted:
		return d.deleteCascade(ctx, externalID)
	default:
		d.logger.Debug("webhook event ignored", slog.String("type", event.Type))
		return nil
	}
}

func (d *Directory) upsertProfile(ctx context.Context, profile auth.Profile) error {
	now := d.now()
	user := database.User{
		ExternalID:   profile.ExternalID,
		Name:         profile.Name,
		Email:        profile.Email,
		Role:         database.RoleUser,
		LastSyncedAt: &now,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "last_synced_at", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return errcode.Internal(fmt.Errorf("upsert user: %w", err))
	}
	return nil
}

// deleteCascade 在一个事务内删除用户及其全部简历、照片操作、照片与评论。
func (d *Directory) deleteCascade(ctx context.Context, externalID string) error {
	user, err := d.GetByExternalID(ctx, externalID)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindNotFound {
			return nil
		}
		return err
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		opIDs := tx.Unscoped().Model(&database.PhotoOperation{}).Select("id").Where("user_id = ?", user.ID)
		if err := tx.Unscoped().Where("operation_id IN (?)", opIDs).Delete(&database.Photo{}).Error; err != nil {
			return fmt.Errorf("delete photos: %w", err)
		}
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&database.PhotoOperation{}).Error; err != nil {
			return fmt.Errorf("delete photo operations: %w", err)
		}
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&database.CV{}).Error; err != nil {
			return fmt.Errorf("delete cvs: %w", err)
		}
		if err := tx.Where("author_id = ?", user.ID).Delete(&database.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Unscoped().Delete(&database.User{}, user.ID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return errcode.Internal(err)
	}
	d.logger.Info("local user deleted", slog.Uint64("user_id", uint64(user.ID)), slog.String("external_id", externalID))
	return nil
}
