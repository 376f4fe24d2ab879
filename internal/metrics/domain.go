package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	photoOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "photos",
			Name:      "operation_transitions_total",
			Help:      "照片操作进入各状态的次数。",
		},
		[]string{"status"},
	)

	generatedPhotosTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "photos",
			Name:      "generated_total",
			Help:      "成功生成并落库的 AI 照片数。",
		},
	)

	imageModelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvforge",
			Subsystem: "image_model",
			Name:      "call_duration_seconds",
			Help:      "图像模型调用耗时（秒）。",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"outcome"},
	)
)

// IncPhotoTransition 记录照片操作进入 status。
func IncPhotoTransition(status string) {
	photoOperationsTotal.WithLabelValues(status).Inc()
}

// IncGeneratedPhoto 记录一张生成结果。
func IncGeneratedPhoto() {
	generatedPhotosTotal.Inc()
}

// ObserveImageModelCall 记录一次模型调用。
func ObserveImageModelCall(outcome string, d time.Duration) {
	imageModelDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
