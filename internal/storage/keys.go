package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxObjectKeyLen = 200

// 允许的图片扩展名与对应的 Content-Type。
var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// ImageExtension 根据 Content-Type 返回扩展名。
func ImageExtension(contentType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/png":
		return ".png", true
	case "image/jpeg", "image/jpg":
		return ".jpg", true
	case "image/webp":
		return ".webp", true
	default:
		return "", false
	}
}

// ContentTypeForKey 返回对象键扩展名对应的 Content-Type。
func ContentTypeForKey(key string) (string, bool) {
	ct, ok := imageContentTypes[strings.ToLower(path.Ext(key))]
	return ct, ok
}

// UserAssetKey 生成用户上传原图的对象键。
func UserAssetKey(userID uint, ext string) string {
	return fmt.Sprintf("user-assets/%d/%s%s", userID, uuid.NewString(), ext)
}

// GeneratedKey 生成 AI 结果图的对象键。
func GeneratedKey(userID uint, ext string) string {
	return fmt.Sprintf("generated/%d/%s%s", userID, uuid.NewString(), ext)
}

// IsValidUserAssetKey 校验对象键属于 userID 且为受支持的图片。
func IsValidUserAssetKey(userID uint, key string) bool {
	return isValidKey(fmt.Sprintf("user-assets/%d/", userID), key)
}

// IsValidGeneratedKey 校验结果图对象键。
func IsValidGeneratedKey(userID uint, key string) bool {
	return isValidKey(fmt.Sprintf("generated/%d/", userID), key)
}

func isValidKey(prefix, key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > maxObjectKeyLen {
		return false
	}
	_, ok := ContentTypeForKey(strings.TrimSpace(key))
	return ok
}

// PublicURL 拼接对象的公开访问地址（path-style）。
func PublicURL(base *url.URL, bucket, objectKey string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + bucket + "/" + strings.TrimLeft(objectKey, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ObjectKeyFromURL 是 PublicURL 的逆过程，非本 Bucket 的地址返回 false。
func ObjectKeyFromURL(base *url.URL, bucket, rawURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || base == nil {
		return "", false
	}
	if !strings.EqualFold(parsed.Host, base.Host) || (parsed.Scheme != base.Scheme) {
		return "", false
	}
	prefix := strings.TrimRight(base.Path, "/") + "/" + bucket + "/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(parsed.Path, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
