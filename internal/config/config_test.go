package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
	t.Setenv("AUTH_JWT_PUBLIC_KEY", "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 30*time.Minute, cfg.Photos.CancelWindow)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ReconcileAfter)
	assert.Equal(t, 4, cfg.ImageModel.Concurrency)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Photos.AsyncProcessing)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("PHOTOS_CANCEL_WINDOW", "45m")
	t.Setenv("PHOTOS_ASYNC_PROCESSING", "true")
	t.Setenv("AUTH_AUTHORIZED_PARTIES", "https://app.example.com, https://admin.example.com")
	t.Setenv("AUTH_WEBHOOK_SECRET", "whsec_c2VjcmV0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 45*time.Minute, cfg.Photos.CancelWindow)
	assert.True(t, cfg.Photos.AsyncProcessing)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Auth.AuthorizedParties)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing public key", map[string]string{"AUTH_JWT_PUBLIC_KEY": ""}},
		{"bad webhook secret", map[string]string{"AUTH_WEBHOOK_SECRET": "plain"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"bad tracing exporter", map[string]string{"TRACING_EXPORTER": "zipkin"}},
		{"zero concurrency", map[string]string{"IMAGE_MODEL_CONCURRENCY": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", " c ", ""}))
	assert.Empty(t, splitList(nil))
}
