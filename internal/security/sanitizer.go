// Package security 提供内容清洗、上传扫描与出站请求的 SSRF 防护。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer 持有博客正文与评论使用的两套 bluemonday 策略，可并发使用。
type Sanitizer struct {
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewSanitizer 构造 Sanitizer。
func NewSanitizer() *Sanitizer {
	ugc := bluemonday.UGCPolicy()
	ugc.RequireNoReferrerOnLinks(true)
	ugc.AddTargetBlankToFullyQualifiedLinks(true)
	return &Sanitizer{
		ugc:    ugc,
		strict: bluemonday.StrictPolicy(),
	}
}

// Post 清洗文章正文（Markdown 中允许内嵌安全 HTML）。
func (s *Sanitizer) Post(content string) string {
	return strings.TrimSpace(s.ugc.Sanitize(content))
}

// Text 去除全部标签，用于评论等纯文本。
func (s *Sanitizer) Text(content string) string {
	return strings.TrimSpace(s.strict.Sanitize(content))
}
