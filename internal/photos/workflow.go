// Package photos 实现照片操作的生命周期：提交、AI 处理、取消、超时与管理端干预。
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/metrics"
	"cvforge/internal/storage"
)

// NotificationType 为推送给前端的消息类型。
const NotificationType = "photo_operation"

const (
	defaultCancelWindow = 30 * time.Minute
	defaultPrompt       = "Transform this photo into a polished professional headshot suitable for a CV. Keep the person's identity and facial features unchanged."
)

// Styles 为允许提交的风格。
var Styles = []string{"professional", "corporate", "casual", "creative", "studio"}

// Generator 调用图像模型生成一张结果图并返回其地址。
type Generator interface {
	Generate(ctx context.Context, imageURL, prompt string) (string, error)
}

// Mirror 将模型输出转存到自有存储，返回公开地址与对象键。
type Mirror interface {
	Store(ctx context.Context, userID uint, sourceURL string) (string, string, error)
}

// Notifier 向用户推送操作状态变化。
type Notifier interface {
	Publish(ctx context.Context, userID uint, n Notification) error
}

// Scheduler 投递异步处理与取消窗口到期任务。
type Scheduler interface {
	ScheduleProcess(ctx context.Context, operationID uint) (string, error)
	ScheduleCancelWindowExpiry(ctx context.Context, operationID uint, at time.Time) error
}

// ObjectStore 是清理与识别自有对象所需的存储能力。
type ObjectStore interface {
	Delete(ctx context.Context, objectKey string) error
	ObjectKeyFromURL(rawURL string) (string, bool)
}

// Notification 是通过 Redis Pub/Sub 转发给前端的消息，字段名与前端解析保持一致。
type Notification struct {
	Type        string               `json:"type"`
	OperationID uint                 `json:"operation_id"`
	Status      database.PhotoStatus `json:"status"`
	Cancellable bool                 `json:"cancellable"`
}

// Config 调整流程参数。
type Config struct {
	Prompt          string
	Concurrency     int
	CancelWindow    time.Duration
	DailyLimit      int
	MaxPerOperation int
}

// Workflow 编排照片操作的全部状态迁移。
type Workflow struct {
	db        *gorm.DB
	generator Generator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mirror    Mirror
	notifier  Notifier
	scheduler Scheduler
	objects   ObjectStore
	counter   Counter
}

// Option 注入可选依赖。
type Option func(*Workflow)

func WithMirror(m Mirror) Option             { return func(w *Workflow) { w.mirror = m } }
func WithNotifier(n Notifier) Option         { return func(w *Workflow) { w.notifier = n } }
func WithScheduler(s Scheduler) Option       { return func(w *Workflow) { w.scheduler = s } }
func WithObjectStore(o ObjectStore) Option   { return func(w *Workflow) { w.objects = o } }
func WithRateCounter(c Counter) Option       { return func(w *Workflow) { w.counter = c } }
func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

// NewWorkflow 构造 Workflow。
func NewWorkflow(db *gorm.DB, generator Generator, cfg Config, logger *slog.Logger, opts ...Option) *Workflow {
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = defaultCancelWindow
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = defaultPrompt
	}
	w := &Workflow{
		db:        db,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubmitInput 为提交参数。
type SubmitInput struct {
	PhotoURLs []string `json:"photo_urls"`
	Style     string   `json:"style"`
}

// Submit 创建 PENDING 且可取消的操作，并为每个地址创建一张 ORIGINAL 照片。
func (w *Workflow) Submit(ctx context.Context, userID uint, in SubmitInput) (database.PhotoOperation, error) {
	urls := make([]string, 0, len(in.PhotoURLs))
	for _, raw := range in.PhotoURLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return database.PhotoOperation{}, errcode.Validation("at least one photo is required")
	}
	if w.cfg.MaxPerOperation > 0 && len(urls) > w.cfg.MaxPerOperation {
		return database.PhotoOperation{}, errcode.Validation(fmt.Sprintf("at most %d photos per operation", w.cfg.MaxPerOperation))
	}
	for _, raw := range urls {
		if !isAbsoluteHTTPURL(raw) {
			return database.PhotoOperation{}, errcode.Validation(fmt.Sprintf("invalid photo url %q", raw))
		}
		// 指向本 Bucket 的地址只能引用调用者自己上传的素材
		if w.objects != nil {
			if key, ok := w.objects.ObjectKeyFromURL(raw); ok && !storage.IsValidUserAssetKey(userID, key) {
				return database.PhotoOperation{}, errcode.Validation(fmt.Sprintf("photo %q is not an upload of this user", raw))
			}
		}
	}
	style := strings.ToLower(strings.TrimSpace(in.Style))
	if !slices.Contains(Styles, style) {
		return database.PhotoOperation{}, errcode.Validation(fmt.Sprintf("style must be one of %s", strings.Join(Styles, ", ")))
	}

	var users int64
	if err := w.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Count(&users).Error; err != nil {
		return database.PhotoOperation{}, errcode.Internal(fmt.Errorf("check user: %w", err))
	}
	if users == 0 {
		return database.PhotoOperation{}, errcode.NotFound("user")
	}

	now := w.now()
	if err := w.checkDailyLimit(ctx, userID, now); err != nil {
		return database.PhotoOperation{}, err
	}

	op := database.PhotoOperation{
		Model:       gorm.Model{CreatedAt: now, UpdatedAt: now},
		UserID:      userID,
		Status:      database.PhotoStatusPending,
		Style:       style,
		Cancellable: true,
	}
	for i, raw := range urls {
		photo := database.Photo{
			Model:    gorm.Model{CreatedAt: now, UpdatedAt: now},
			Type:     database.PhotoTypeOriginal,
			URL:      raw,
			Metadata: jsonMetadata(map[string]any{"style": style, "position": i}),
		}
		if w.objects != nil {
			if key, ok := w.objects.ObjectKeyFromURL(raw); ok {
				photo.ObjectKey = key
			}
		}
		op.Photos = append(op.Photos, photo)
	}

	if err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&op).Error
	}); err != nil {
		return database.PhotoOperation{}, errcode.Internal(fmt.Errorf("create photo operation: %w", err))
	}

	log := w.logger.With(slog.Uint64("operation_id", uint64(op.ID)), slog.Uint64("user_id", uint64(userID)))
	log.Info("photo operation submitted", slog.Int("photos", len(op.Photos)), slog.String("style", style))
	metrics.IncPhotoTransition(string(op.Status))

	if w.scheduler != nil {
		if err := w.scheduler.ScheduleCancelWindowExpiry(ctx, op.ID, op.CreatedAt.Add(w.cfg.CancelWindow)); err != nil {
			log.Warn("schedule cancel window expiry failed", slog.Any("error", err))
		}
	}
	w.notify(ctx, op)
	return op, nil
}

// Cancel 在取消窗口内取消 PENDING 操作：置为 CANCELLED 后与照片一起软删除。
func (w *Workflow) Cancel(ctx context.Context, userID, operationID uint) error {
	op, err := w.ownedOperation(ctx, userID, operationID)
	if err != nil {
		return err
	}

	now := w.now()
	if op.Status != database.PhotoStatusPending || !op.Cancellable {
		return errcode.InvalidState("operation can no longer be cancelled")
	}
	if now.Sub(op.CreatedAt) > w.cfg.CancelWindow {
		return errcode.InvalidState("cancel window has elapsed")
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.PhotoOperation{}).
			Where("id = ? AND user_id = ? AND status = ? AND cancellable = ?", op.ID, userID, database.PhotoStatusPending, true).
			Updates(map[string]any{
				"status":       database.PhotoStatusCancelled,
				"cancellable":  false,
				"cancelled_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}
		if err := tx.Where("operation_id = ?", op.ID).Delete(&database.Photo{}).Error; err != nil {
			return fmt.Errorf("tombstone photos: %w", err)
		}
		if err := tx.Delete(&database.PhotoOperation{}, op.ID).Error; err != nil {
			return fmt.Errorf("tombstone operation: %w", err)
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		return errcode.InvalidState("operation can no longer be cancelled")
	}
	if err != nil {
		return errcode.Internal(fmt.Errorf("cancel photo operation: %w", err))
	}

	w.logger.Info("photo operation cancelled", slog.Uint64("operation_id", uint64(op.ID)), slog.Uint64("user_id", uint64(userID)))
	op.Status = database.PhotoStatusCancelled
	op.Cancellable = false
	metrics.IncPhotoTransition(string(op.Status))
	w.notify(ctx, op)
	return nil
}

// ExpireCancelWindow 关闭 userID 名下操作的取消窗口，不改变状态，可重复调用。
// 距创建未满取消窗口时返回 InvalidState。
func (w *Workflow) ExpireCancelWindow(ctx context.Context, userID, operationID uint) error {
	op, err := w.ownedOperation(ctx, userID, operationID)
	if err != nil {
		return err
	}
	if w.now().Sub(op.CreatedAt) < w.cfg.CancelWindow {
		return errcode.InvalidState("cancel window has not elapsed yet")
	}
	return w.ExpireCancelWindowByID(ctx, operationID)
}

// ExpireCancelWindowByID 供 Worker 与内部接口调用。
func (w *Workflow) ExpireCancelWindowByID(ctx context.Context, operationID uint) error {
	res := w.db.WithContext(ctx).Model(&database.PhotoOperation{}).
		Where("id = ?", operationID).
		Update("cancellable", false)
	if res.Error != nil {
		return errcode.Internal(fmt.Errorf("expire cancel window: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := w.db.WithContext(ctx).Model(&database.PhotoOperation{}).Where("id = ?", operationID).Count(&count).Error; err != nil {
			return errcode.Internal(err)
		}
		if count == 0 {
			return errcode.NotFound("photo operation")
		}
	}
	return nil
}

var errLostRace = errors.New("operation changed concurrently")

func (w *Workflow) ownedOperation(ctx context.Context, userID, operationID uint) (database.PhotoOperation, error) {
	var op database.PhotoOperation
	err := w.db.WithContext(ctx).Where("id = ? AND user_id = ?", operationID, userID).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.PhotoOperation{}, errcode.NotFound("photo operation")
		}
		return database.PhotoOperation{}, errcode.Internal(fmt.Errorf("load photo operation: %w", err))
	}
	return op, nil
}

func (w *Workflow) notify(ctx context.Context, op database.PhotoOperation) {
	if w.notifier == nil {
		return
	}
	n := Notification{Type: NotificationType, OperationID: op.ID, Status: op.Status, Cancellable: op.Cancellable}
	if err := w.notifier.Publish(ctx, op.UserID, n); err != nil {
		w.logger.Warn("publish photo notification failed",
			slog.Uint64("operation_id", uint64(op.ID)),
			slog.Any("error", err),
		)
	}
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func jsonMetadata(v map[string]any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
