package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer 是 asynq.Client 的子集，便于测试替换。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler 将照片流程的后续动作投递到 asynq。
type Scheduler struct {
	client Enqueuer
}

// NewScheduler 构造 Scheduler。
func NewScheduler(client Enqueuer) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleProcess 立即投递 AI 处理任务。模型调用不自动重试。
func (s *Scheduler) ScheduleProcess(ctx context.Context, operationID uint) (string, error) {
	task, err := NewPhotoProcessTask(operationID, CorrelationID(ctx))
	if err != nil {
		return "", fmt.Errorf("build process task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Timeout(15*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue process task: %w", err)
	}
	return info.ID, nil
}

// ScheduleCancelWindowExpiry 在 at 时刻关闭操作的取消窗口。
func (s *Scheduler) ScheduleCancelWindowExpiry(ctx context.Context, operationID uint, at time.Time) error {
	task, err := NewPhotoCancelWindowTask(operationID, CorrelationID(ctx))
	if err != nil {
		return fmt.Errorf("build cancel-window task: %w", err)
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.ProcessAt(at), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue cancel-window task: %w", err)
	}
	return nil
}

type correlationKey struct{}

// WithCorrelationID 将 Correlation ID 放入 ctx，随任务负载传递给 Worker。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 取出 ctx 中的 Correlation ID。
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
