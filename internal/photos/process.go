package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/metrics"
	"cvforge/internal/observability"
)

// Result 汇总一次处理的结果。
type Result struct {
	Operation database.PhotoOperation `json:"operation"`
	Generated int                     `json:"generated"`
	Failed    int                     `json:"failed"`
}

var errNotProcessing = errors.New("operation is no longer processing")

// Process 同步处理 userID 名下的 PENDING 操作。
func (w *Workflow) Process(ctx context.Context, userID, operationID uint) (Result, error) {
	if _, err := w.ownedOperation(ctx, userID, operationID); err != nil {
		return Result{}, err
	}
	return w.ProcessByID(ctx, operationID)
}

// Enqueue 校验操作仍为 PENDING 后投递异步处理任务，返回任务 ID。
func (w *Workflow) Enqueue(ctx context.Context, userID, operationID uint) (string, error) {
	op, err := w.ownedOperation(ctx, userID, operationID)
	if err != nil {
		return "", err
	}
	if op.Status != database.PhotoStatusPending {
		return "", errcode.InvalidState(fmt.Sprintf("operation is %s", op.Status))
	}
	if w.scheduler == nil {
		return "", errcode.Internal(errors.New("async processing is not configured"))
	}
	taskID, err := w.scheduler.ScheduleProcess(ctx, op.ID)
	if err != nil {
		return "", errcode.Internal(err)
	}
	w.logger.Info("photo operation enqueued", slog.Uint64("operation_id", uint64(op.ID)), slog.String("task_id", taskID))
	return taskID, nil
}

// ProcessByID 将 PENDING 操作迁移为 PROCESSING，逐张调用模型后写入终态。
// 每张成功的结果立即落库；模型调用失败不重试。全部失败时返回 Upstream 错误。
func (w *Workflow) ProcessByID(ctx context.Context, operationID uint) (Result, error) {
	span, ctx := observability.NewSpan(ctx, "photos.process")
	defer span.End()
	span.AddAttributes(attribute.Int64("photo_operation.id", int64(operationID)))

	res := w.db.WithContext(ctx).Model(&database.PhotoOperation{}).
		Where("id = ? AND status = ?", operationID, database.PhotoStatusPending).
		Updates(map[string]any{"status": database.PhotoStatusProcessing, "cancellable": false})
	if res.Error != nil {
		return Result{}, errcode.Internal(fmt.Errorf("start processing: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		var current database.PhotoOperation
		if err := w.db.WithContext(ctx).First(&current, operationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Result{}, errcode.NotFound("photo operation")
			}
			return Result{}, errcode.Internal(err)
		}
		return Result{}, errcode.InvalidState(fmt.Sprintf("operation is %s", current.Status))
	}

	var op database.PhotoOperation
	if err := w.db.WithContext(ctx).
		Preload("Photos", "type = ?", database.PhotoTypeOriginal).
		First(&op, operationID).Error; err != nil {
		return Result{}, errcode.Internal(fmt.Errorf("load operation: %w", err))
	}
	log := w.logger.With(slog.Uint64("operation_id", uint64(op.ID)), slog.Uint64("user_id", uint64(op.UserID)))
	log.Info("photo operation processing", slog.Int("originals", len(op.Photos)))
	metrics.IncPhotoTransition(string(op.Status))
	w.notify(ctx, op)

	prompt := fmt.Sprintf("%s Style: %s.", w.cfg.Prompt, op.Style)
	outcomes := make([]error, len(op.Photos))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i, original := range op.Photos {
		g.Go(func() error {
			outcomes[i] = w.generateOne(ctx, op, original, prompt)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{}
	var lastErr error
	for i, err := range outcomes {
		if err == nil {
			result.Generated++
			continue
		}
		result.Failed++
		lastErr = err
		log.Warn("photo generation failed", slog.Uint64("photo_id", uint64(op.Photos[i].ID)), slog.Any("error", err))
	}
	if len(op.Photos) == 0 {
		lastErr = errors.New("operation has no original photos")
	}

	status := database.PhotoStatusCompleted
	switch {
	case result.Generated == 0:
		status = database.PhotoStatusFailed
	case result.Failed > 0:
		status = database.PhotoStatusCompletedPartial
	}

	updates := map[string]any{
		"status":        status,
		"failure_count": result.Failed,
		"last_error":    "",
	}
	if lastErr != nil {
		updates["last_error"] = lastErr.Error()
	}
	if status != database.PhotoStatusFailed {
		updates["completed_at"] = w.now()
	}
	// 终态写入不随请求取消
	persistCtx := context.WithoutCancel(ctx)
	finish := w.db.WithContext(persistCtx).Model(&database.PhotoOperation{}).
		Where("id = ? AND status = ?", op.ID, database.PhotoStatusProcessing).
		Updates(updates)
	if finish.Error != nil {
		return Result{}, errcode.Internal(fmt.Errorf("finish processing: %w", finish.Error))
	}
	if finish.RowsAffected == 0 {
		log.Warn("photo operation status changed during processing; keeping current status")
	} else {
		metrics.IncPhotoTransition(string(status))
	}

	if err := w.db.WithContext(persistCtx).Preload("Photos").First(&result.Operation, op.ID).Error; err != nil {
		return Result{}, errcode.Internal(fmt.Errorf("reload operation: %w", err))
	}
	log.Info("photo operation finished",
		slog.String("status", string(result.Operation.Status)),
		slog.Int("generated", result.Generated),
		slog.Int("failed", result.Failed),
	)
	w.notify(persistCtx, result.Operation)

	if status == database.PhotoStatusFailed {
		span.SetError(lastErr)
		return result, errcode.Upstream("image model", lastErr)
	}
	return result, nil
}

func (w *Workflow) generateOne(ctx context.Context, op database.PhotoOperation, original database.Photo, prompt string) error {
	output, err := w.generator.Generate(ctx, original.URL, prompt)
	if err != nil {
		return err
	}
	publicURL, key := output, ""
	if w.mirror != nil {
		mirrored, objectKey, err := w.mirror.Store(ctx, op.UserID, output)
		if err != nil {
			w.logger.Warn("mirror generated photo failed; keeping model url",
				slog.Uint64("operation_id", uint64(op.ID)),
				slog.Any("error", err),
			)
		} else {
			publicURL, key = mirrored, objectKey
		}
	}

	now := w.now()
	photo := database.Photo{
		Model:       gorm.Model{CreatedAt: now, UpdatedAt: now},
		OperationID: op.ID,
		Type:        database.PhotoTypeAIGenerated,
		URL:         publicURL,
		ObjectKey:   key,
		Metadata: jsonMetadata(map[string]any{
			"source_photo_id": original.ID,
			"style":           op.Style,
			"model_output":    output,
			"generated_at":    now.UTC().Format(time.RFC3339),
		}),
	}
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&database.PhotoOperation{}).
			Where("id = ? AND status = ?", op.ID, database.PhotoStatusProcessing).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errNotProcessing
		}
		return tx.Create(&photo).Error
	})
	if err != nil {
		return fmt.Errorf("persist generated photo: %w", err)
	}
	metrics.IncGeneratedPhoto()
	return nil
}
