package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/metrics"
	"cvforge/internal/storage"
)

var openStatuses = []database.PhotoStatus{database.PhotoStatusPending, database.PhotoStatusProcessing}

// PhotoView 为照片的对外表示。
type PhotoView struct {
	ID        uint               `json:"id"`
	Type      database.PhotoType `json:"type"`
	URL       string             `json:"url"`
	Metadata  datatypes.JSON     `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// UserSummary 为管理端列表附带的用户信息。
type UserSummary struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OperationView 将操作下的照片按原图与生成图分组。
type OperationView struct {
	ID           uint                 `json:"id"`
	UserID       uint                 `json:"user_id"`
	User         *UserSummary         `json:"user,omitempty"`
	Status       database.PhotoStatus `json:"status"`
	Style        string               `json:"style"`
	Cancellable  bool                 `json:"cancellable"`
	Notes        string               `json:"notes,omitempty"`
	FailureCount int                  `json:"failure_count"`
	LastError    string               `json:"last_error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CancelledAt  *time.Time           `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	Deleted      bool                 `json:"deleted,omitempty"`
	Original     []PhotoView          `json:"original"`
	Generated    []PhotoView          `json:"generated"`
}

// NewOperationView 构造视图；user 非空时附带用户信息。
func NewOperationView(op database.PhotoOperation, user *database.User) OperationView {
	view := OperationView{
		ID:           op.ID,
		UserID:       op.UserID,
		Status:       op.Status,
		Style:        op.Style,
		Cancellable:  op.Cancellable,
		Notes:        op.Notes,
		FailureCount: op.FailureCount,
		LastError:    op.LastError,
		CreatedAt:    op.CreatedAt,
		UpdatedAt:    op.UpdatedAt,
		CancelledAt:  op.CancelledAt,
		CompletedAt:  op.CompletedAt,
		Deleted:      op.DeletedAt.Valid,
		Original:     []PhotoView{},
		Generated:    []PhotoView{},
	}
	if user != nil && user.ID != 0 {
		view.User = &UserSummary{ID: user.ID, Name: user.Name, Email: user.Email}
	}
	for _, p := range op.Photos {
		pv := PhotoView{ID: p.ID, Type: p.Type, URL: p.URL, Metadata: p.Metadata, CreatedAt: p.CreatedAt}
		if p.Type == database.PhotoTypeAIGenerated {
			view.Generated = append(view.Generated, pv)
		} else {
			view.Original = append(view.Original, pv)
		}
	}
	return view
}

// Pending 返回用户最近一个 PENDING 或 PROCESSING 的操作及其原图。
func (w *Workflow) Pending(ctx context.Context, userID uint) (database.PhotoOperation, error) {
	var op database.PhotoOperation
	err := w.db.WithContext(ctx).
		Preload("Photos", "type = ?", database.PhotoTypeOriginal).
		Where("user_id = ? AND status IN ?", userID, openStatuses).
		Order("created_at DESC, id DESC").
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.PhotoOperation{}, errcode.NotFound("pending photo operation")
		}
		return database.PhotoOperation{}, errcode.Internal(err)
	}
	return op, nil
}

// ListForUser 返回用户全部未取消的操作，最新在前。
func (w *Workflow) ListForUser(ctx context.Context, userID uint) ([]database.PhotoOperation, error) {
	var ops []database.PhotoOperation
	err := w.db.WithContext(ctx).
		Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&ops).Error
	if err != nil {
		return nil, errcode.Internal(err)
	}
	return ops, nil
}

// AdminFilter 过滤管理端列表。
type AdminFilter struct {
	UserID           uint
	Status           database.PhotoStatus
	IncludeCancelled bool
}

// AdminList 返回按过滤条件筛选的操作视图，最新在前。
func (w *Workflow) AdminList(ctx context.Context, filter AdminFilter) ([]OperationView, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errcode.Validation(fmt.Sprintf("unknown status %q", filter.Status))
	}
	query := w.db.WithContext(ctx).Model(&database.PhotoOperation{})
	if filter.IncludeCancelled || filter.Status == database.PhotoStatusCancelled {
		query = query.Unscoped().
			Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Unscoped().Order("id ASC") })
	} else {
		query = query.Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
	}
	query = query.Preload("User")
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var ops []database.PhotoOperation
	if err := query.Order("created_at DESC, id DESC").Find(&ops).Error; err != nil {
		return nil, errcode.Internal(err)
	}
	views := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, NewOperationView(op, &op.User))
	}
	return views, nil
}

// AdminGet 返回单个操作视图，包括已取消的墓碑。
func (w *Workflow) AdminGet(ctx context.Context, operationID uint) (OperationView, error) {
	op, err := w.loadUnscoped(ctx, operationID)
	if err != nil {
		return OperationView{}, err
	}
	return NewOperationView(op, &op.User), nil
}

// AdminSetStatus 强制设置状态。非 PENDING 状态同时关闭取消窗口；取消窗口不会被重新打开。
func (w *Workflow) AdminSetStatus(ctx context.Context, operationID uint, status database.PhotoStatus) (database.PhotoOperation, error) {
	if !status.Valid() {
		return database.PhotoOperation{}, errcode.Validation(fmt.Sprintf("unknown status %q", status))
	}
	op, err := w.loadUnscoped(ctx, operationID)
	if err != nil {
		return database.PhotoOperation{}, err
	}

	now := w.now()
	updates := map[string]any{"status": status}
	if status != database.PhotoStatusPending {
		updates["cancellable"] = false
	}
	switch status {
	case database.PhotoStatusCompleted, database.PhotoStatusCompletedPartial:
		updates["completed_at"] = now
	case database.PhotoStatusCancelled:
		updates["cancelled_at"] = now
	}
	if err := w.db.WithContext(ctx).Unscoped().Model(&database.PhotoOperation{}).Where("id = ?", op.ID).Updates(updates).Error; err != nil {
		return database.PhotoOperation{}, errcode.Internal(fmt.Errorf("set status: %w", err))
	}
	if op, err = w.loadUnscoped(ctx, operationID); err != nil {
		return database.PhotoOperation{}, err
	}

	w.logger.Info("photo operation status set by admin",
		slog.Uint64("operation_id", uint64(op.ID)),
		slog.String("status", string(status)),
	)
	metrics.IncPhotoTransition(string(status))
	w.notify(ctx, op)
	return op, nil
}

// AdminSetNotes 覆盖管理员备注。
func (w *Workflow) AdminSetNotes(ctx context.Context, operationID uint, notes string) (database.PhotoOperation, error) {
	op, err := w.loadUnscoped(ctx, operationID)
	if err != nil {
		return database.PhotoOperation{}, err
	}
	if err := w.db.WithContext(ctx).Unscoped().Model(&op).Update("notes", notes).Error; err != nil {
		return database.PhotoOperation{}, errcode.Internal(fmt.Errorf("set notes: %w", err))
	}
	op.Notes = notes
	return op, nil
}

// AdminDelete 物理删除操作及其照片，随后尽力清理对象存储中的文件。
func (w *Workflow) AdminDelete(ctx context.Context, operationID uint) error {
	op, err := w.loadUnscoped(ctx, operationID)
	if err != nil {
		return err
	}
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("operation_id = ?", op.ID).Delete(&database.Photo{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&database.PhotoOperation{}, op.ID).Error
	})
	if err != nil {
		return errcode.Internal(fmt.Errorf("delete photo operation: %w", err))
	}

	log := w.logger.With(slog.Uint64("operation_id", uint64(op.ID)))
	log.Info("photo operation deleted by admin", slog.Int("photos", len(op.Photos)))
	if w.objects == nil {
		return nil
	}
	for _, p := range op.Photos {
		if p.ObjectKey == "" {
			continue
		}
		if err := w.objects.Delete(ctx, p.ObjectKey); err != nil {
			log.Warn("delete photo object failed", slog.String("object_key", p.ObjectKey), slog.Any("error", err))
		}
	}
	return nil
}

// AttachInput 描述管理员手动上传的处理结果。
type AttachInput struct {
	URL       string         `json:"url"`
	ObjectKey string         `json:"object_key"`
	Metadata  map[string]any `json:"metadata"`
}

// AdminAttachProcessed 将处理结果挂到用户最近一个 PENDING 或 PROCESSING 的操作下。
func (w *Workflow) AdminAttachProcessed(ctx context.Context, userID uint, in AttachInput) (database.Photo, error) {
	if !isAbsoluteHTTPURL(in.URL) {
		return database.Photo{}, errcode.Validation("url must be an absolute http(s) url")
	}
	if in.ObjectKey != "" && !storage.IsValidGeneratedKey(userID, in.ObjectKey) {
		return database.Photo{}, errcode.Validation("object_key must be a generated image of this user")
	}
	var op database.PhotoOperation
	err := w.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, openStatuses).
		Order("created_at DESC, id DESC").
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Photo{}, errcode.NotFound("open photo operation")
		}
		return database.Photo{}, errcode.Internal(err)
	}

	meta := map[string]any{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["attached_by_admin"] = true
	key := in.ObjectKey
	if key == "" && w.objects != nil {
		if derived, ok := w.objects.ObjectKeyFromURL(in.URL); ok {
			key = derived
		}
	}
	photo := database.Photo{
		OperationID: op.ID,
		Type:        database.PhotoTypeAIGenerated,
		URL:         in.URL,
		ObjectKey:   key,
		Metadata:    jsonMetadata(meta),
	}
	if err := w.db.WithContext(ctx).Create(&photo).Error; err != nil {
		return database.Photo{}, errcode.Internal(fmt.Errorf("attach photo: %w", err))
	}
	w.logger.Info("processed photo attached by admin",
		slog.Uint64("operation_id", uint64(op.ID)),
		slog.Uint64("photo_id", uint64(photo.ID)),
	)
	metrics.IncGeneratedPhoto()
	w.notify(ctx, op)
	return photo, nil
}

func (w *Workflow) loadUnscoped(ctx context.Context, operationID uint) (database.PhotoOperation, error) {
	var op database.PhotoOperation
	err := w.db.WithContext(ctx).Unscoped().
		Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Unscoped().Order("id ASC") }).
		Preload("User").
		First(&op, operationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.PhotoOperation{}, errcode.NotFound("photo operation")
		}
		return database.PhotoOperation{}, errcode.Internal(err)
	}
	return op, nil
}
