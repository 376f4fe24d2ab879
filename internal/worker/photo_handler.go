package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"cvforge/internal/errcode"
	"cvforge/internal/photos"
	"cvforge/internal/tasks"
)

// PhotoProcessor 是 Worker 需要的照片流程能力。
type PhotoProcessor interface {
	ProcessByID(ctx context.Context, operationID uint) (photos.Result, error)
	ExpireCancelWindowByID(ctx context.Context, operationID uint) error
}

// PhotoTaskHandler 消费照片处理与取消窗口到期任务。
type PhotoTaskHandler struct {
	workflow PhotoProcessor
	logger   *slog.Logger
}

// NewPhotoTaskHandler 创建任务处理器。
func NewPhotoTaskHandler(workflow PhotoProcessor, logger *slog.Logger) *PhotoTaskHandler {
	return &PhotoTaskHandler{workflow: workflow, logger: logger}
}

// Register 将处理函数挂到 mux。
func (h *PhotoTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypePhotoProcess, h.HandleProcess)
	mux.HandleFunc(tasks.TypePhotoCancelWindow, h.HandleCancelWindow)
}

// HandleProcess 执行 AI 处理。操作已不在 PENDING 时跳过；模型失败不重试。
func (h *PhotoTaskHandler) HandleProcess(ctx context.Context, t *asynq.Task) error {
	payload, log, err := h.parse(t)
	if err != nil {
		return err
	}
	ctx = tasks.WithCorrelationID(ctx, payload.CorrelationID)
	log.Info("starting photo processing task")

	result, err := h.workflow.ProcessByID(ctx, payload.OperationID)
	switch {
	case errors.Is(err, errcode.ErrNotFound), errors.Is(err, errcode.ErrInvalidState):
		log.Warn("photo operation not processable, skipping task", slog.Any("error", err))
		return nil
	case errors.Is(err, errcode.ErrUpstream):
		log.Error("photo generation failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	case err != nil:
		log.Error("photo processing task failed", slog.Any("error", err))
		return err
	}

	log.Info("photo processing task completed",
		slog.String("status", string(result.Operation.Status)),
		slog.Int("generated", result.Generated),
		slog.Int("failed", result.Failed),
	)
	return nil
}

// HandleCancelWindow 关闭取消窗口；操作已被删除时视为完成。
func (h *PhotoTaskHandler) HandleCancelWindow(ctx context.Context, t *asynq.Task) error {
	payload, log, err := h.parse(t)
	if err != nil {
		return err
	}
	ctx = tasks.WithCorrelationID(ctx, payload.CorrelationID)

	err = h.workflow.ExpireCancelWindowByID(ctx, payload.OperationID)
	if errors.Is(err, errcode.ErrNotFound) {
		log.Info("photo operation gone, skipping cancel window expiry")
		return nil
	}
	if err != nil {
		log.Error("expire cancel window failed", slog.Any("error", err))
		return err
	}
	log.Info("cancel window expired")
	return nil
}

func (h *PhotoTaskHandler) parse(t *asynq.Task) (tasks.PhotoOperationPayload, *slog.Logger, error) {
	payload, err := tasks.ParsePhotoOperationPayload(t)
	if err != nil {
		h.logger.Error("unmarshal task payload failed", slog.String("task_type", t.Type()), slog.Any("error", err))
		return payload, h.logger, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := h.logger.With(
		slog.String("task_type", t.Type()),
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("operation_id", uint64(payload.OperationID)),
	)
	return payload, log, nil
}
