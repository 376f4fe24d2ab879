package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"cvforge/internal/errcode"
	"cvforge/internal/security"
	"cvforge/internal/storage"
)

const maxMirrorBytes = 20 << 20

// Uploader 是镜像所需的对象存储写入能力。
type Uploader interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
}

// Mirror 将模型输出下载后转存到对象存储，避免依赖上游的临时链接。
type Mirror struct {
	httpClient *http.Client
	store      Uploader
	validate   func(string) error
}

// NewMirror 使用 SSRF 防护客户端构造 Mirror。
func NewMirror(httpClient *http.Client, store Uploader) *Mirror {
	return &Mirror{httpClient: httpClient, store: store, validate: security.ValidateURL}
}

// Store 下载 sourceURL 并上传到 generated/<userID>/ 下，返回公开地址与对象键。
func (m *Mirror) Store(ctx context.Context, userID uint, sourceURL string) (string, string, error) {
	if err := m.validate(sourceURL); err != nil {
		return "", "", errcode.Validation(fmt.Sprintf("output url rejected: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", errcode.Internal(fmt.Errorf("build mirror request: %w", err))
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", "", errcode.Upstream(serviceName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", errcode.Upstream(serviceName, fmt.Errorf("download output: status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return "", "", errcode.Upstream(serviceName, fmt.Errorf("read output: %w", err))
	}
	if len(data) > maxMirrorBytes {
		return "", "", errcode.Upstream(serviceName, fmt.Errorf("output exceeds %d bytes", maxMirrorBytes))
	}

	// 按内容判断类型，不采信上游的 Content-Type
	contentType := http.DetectContentType(data[:min(len(data), 512)])
	ext, ok := storage.ImageExtension(contentType)
	if !ok {
		return "", "", errcode.Upstream(serviceName, fmt.Errorf("unsupported output content type %q", contentType))
	}

	key := storage.GeneratedKey(userID, ext)
	publicURL, err := m.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", "", errcode.Internal(fmt.Errorf("upload mirrored output: %w", err))
	}
	return publicURL, key, nil
}
