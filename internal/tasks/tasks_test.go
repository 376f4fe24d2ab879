package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestSchedulerEnqueuesPhotoTasks(t *testing.T) {
	rec := &recordingEnqueuer{}
	s := NewScheduler(rec)
	ctx := WithCorrelationID(context.Background(), "corr-1")

	id, err := s.ScheduleProcess(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	at := time.Now().Add(30 * time.Minute)
	require.NoError(t, s.ScheduleCancelWindowExpiry(ctx, 12, at))

	require.Len(t, rec.tasks, 2)
	assert.Equal(t, TypePhotoProcess, rec.tasks[0].Type())
	assert.Equal(t, TypePhotoCancelWindow, rec.tasks[1].Type())

	payload, err := ParsePhotoOperationPayload(rec.tasks[1])
	require.NoError(t, err)
	assert.Equal(t, PhotoOperationPayload{OperationID: 12, CorrelationID: "corr-1"}, payload)

	var processAt time.Time
	for _, opt := range rec.opts[1] {
		if opt.Type() == asynq.ProcessAtOpt {
			processAt = opt.Value().(time.Time)
		}
	}
	assert.True(t, processAt.Equal(at))
}
