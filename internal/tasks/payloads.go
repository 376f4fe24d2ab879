package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePhotoProcess      = "photo:process"
	TypePhotoCancelWindow = "photo:cancel-window"
)

// PhotoOperationPayload 描述照片操作类任务所需的最小信息。
type PhotoOperationPayload struct {
	OperationID   uint   `json:"operation_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPhotoProcessTask 构造异步 AI 处理任务。
func NewPhotoProcessTask(operationID uint, correlationID string) (*asynq.Task, error) {
	return newPhotoTask(TypePhotoProcess, operationID, correlationID)
}

// NewPhotoCancelWindowTask 构造取消窗口到期任务。
func NewPhotoCancelWindowTask(operationID uint, correlationID string) (*asynq.Task, error) {
	return newPhotoTask(TypePhotoCancelWindow, operationID, correlationID)
}

func newPhotoTask(taskType string, operationID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PhotoOperationPayload{
		OperationID:   operationID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}

// ParsePhotoOperationPayload 解析任务负载。
func ParsePhotoOperationPayload(t *asynq.Task) (PhotoOperationPayload, error) {
	var payload PhotoOperationPayload
	err := json.Unmarshal(t.Payload(), &payload)
	return payload, err
}
