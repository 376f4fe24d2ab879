package security

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// ErrMalicious 表示上传文件未通过病毒扫描。
var ErrMalicious = errors.New("malicious file detected")

// Scanner 通过 clamd 扫描上传流。地址为空时跳过扫描。
type Scanner struct {
	addr string
}

// NewScanner 构造 Scanner。
func NewScanner(addr string) *Scanner {
	return &Scanner{addr: strings.TrimSpace(addr)}
}

// Enabled 报告是否配置了 clamd。
func (s *Scanner) Enabled() bool {
	return s != nil && s.addr != ""
}

// Scan 读取 r 并返回扫描结论。
func (s *Scanner) Scan(r io.Reader) error {
	if !s.Enabled() {
		return nil
	}
	client := clamd.NewClamd(s.addr)
	abort := make(chan bool)
	defer close(abort)

	results, err := client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			return fmt.Errorf("%w: %s", ErrMalicious, result.Description)
		default:
			return fmt.Errorf("clamd scan: %s %s", result.Status, result.Description)
		}
	}
	return nil
}
