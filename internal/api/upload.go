package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/errcode"
	"cvforge/internal/security"
	"cvforge/internal/storage"
)

const multipartOverhead = 1 << 20

// Uploader 为上传入口依赖的对象存储能力。
type Uploader interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

// VirusScanner 扫描上传流。
type VirusScanner interface {
	Scan(r io.Reader) error
}

// ImageIntake 接收 multipart 图片：校验大小与类型、病毒扫描后写入对象存储。
type ImageIntake struct {
	store    Uploader
	scanner  VirusScanner
	maxBytes int64
}

// NewImageIntake 构造 ImageIntake。
func NewImageIntake(store Uploader, scanner VirusScanner, maxBytes int64) *ImageIntake {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &ImageIntake{store: store, scanner: scanner, maxBytes: maxBytes}
}

type uploadedImage struct {
	URL       string `json:"url"`
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
	Filename  string `json:"-"`
}

// ParseForm 先限制请求体大小再解析 multipart 表单；已解析时直接返回。
// 读取其他表单字段前须先调用。
func (in *ImageIntake) ParseForm(c *gin.Context) error {
	if c.Request.MultipartForm != nil {
		return nil
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, in.maxBytes+multipartOverhead)
	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errcode.Validation("file too large")
		}
		return errcode.Validation("invalid multipart form")
	}
	return nil
}

// Receive 读取表单字段 file，keyFor 根据扩展名生成对象键。
func (in *ImageIntake) Receive(c *gin.Context, keyFor func(ext string) string) (uploadedImage, error) {
	if in.store == nil {
		return uploadedImage{}, errcode.Internal(errors.New("object storage is not configured"))
	}
	if err := in.ParseForm(c); err != nil {
		return uploadedImage{}, err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return uploadedImage{}, errcode.Validation("missing file")
	}
	if file.Size <= 0 {
		return uploadedImage{}, errcode.Validation("empty file")
	}
	if file.Size > in.maxBytes {
		return uploadedImage{}, errcode.Validation("file too large")
	}

	contentType, err := sniffContentType(file)
	if err != nil {
		return uploadedImage{}, errcode.Internal(fmt.Errorf("open upload: %w", err))
	}
	ext, ok := storage.ImageExtension(contentType)
	if !ok {
		return uploadedImage{}, errcode.Validation("unsupported image type")
	}

	if in.scanner != nil {
		reader, err := file.Open()
		if err != nil {
			return uploadedImage{}, errcode.Internal(fmt.Errorf("open upload: %w", err))
		}
		err = in.scanner.Scan(reader)
		reader.Close()
		switch {
		case errors.Is(err, security.ErrMalicious):
			middleware.LoggerFromContext(c).Warn("malicious upload rejected", slog.Any("error", err))
			return uploadedImage{}, errcode.Validation("malicious file detected")
		case err != nil:
			return uploadedImage{}, errcode.Upstream("virus scanner", err)
		}
	}

	reader, err := file.Open()
	if err != nil {
		return uploadedImage{}, errcode.Internal(fmt.Errorf("reopen upload: %w", err))
	}
	defer reader.Close()

	key := keyFor(ext)
	url, err := in.store.Upload(c.Request.Context(), key, reader, file.Size, contentType)
	if err != nil {
		return uploadedImage{}, errcode.Upstream("object storage", err)
	}
	return uploadedImage{URL: url, ObjectKey: key, Size: file.Size, Filename: file.Filename}, nil
}

// Discard 尽力删除已上传但未被引用的对象。
func (in *ImageIntake) Discard(c *gin.Context, img uploadedImage) {
	if err := in.store.Delete(c.Request.Context(), img.ObjectKey); err != nil {
		middleware.LoggerFromContext(c).Warn("discard upload failed",
			slog.String("object_key", img.ObjectKey),
			slog.Any("error", err),
		)
	}
}

// 以文件内容判断类型，不信任客户端声明的 Content-Type
func sniffContentType(file *multipart.FileHeader) (string, error) {
	reader, err := file.Open()
	if err != nil {
		return "", err
	}
	defer reader.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
