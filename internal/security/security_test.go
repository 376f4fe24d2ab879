package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizerPost(t *testing.T) {
	s := NewSanitizer()
	out := s.Post(`# Title <script>alert(1)</script><a href="https://example.com" onclick="x()">link</a>`)
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, "# Title")
}

func TestSanitizerText(t *testing.T) {
	s := NewSanitizer()
	assert.Equal(t, "nice post", s.Text("  <b>nice</b> post<img src=x onerror=alert(1)> "))
}

func TestValidateURL(t *testing.T) {
	for _, ok := range []string{"https://cdn.example.com/a.png", "http://example.org/x"} {
		assert.NoError(t, ValidateURL(ok), ok)
	}
	for _, bad := range []string{"", "ftp://example.com/a", "/relative.png", "http://localhost/a", "http://127.0.0.1/a", "http://10.1.2.3/a", "http://169.254.169.254/latest"} {
		assert.Error(t, ValidateURL(bad), bad)
	}
}

func TestSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSafeClient(2 * time.Second)
	require.NotNil(t, client.Transport)
	_, err := client.Get(ts.URL)
	assert.Error(t, err)
}

func TestScannerDisabled(t *testing.T) {
	s := NewScanner("")
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Scan(strings.NewReader("anything")))
}
