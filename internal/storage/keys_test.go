package storage

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidUserAssetKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"user-assets/7/a.png", true},
		{"user-assets/7/a.JPEG", true},
		{"user-assets/7/a.webp", true},
		{"user-assets/8/a.png", false},
		{"user-assets/7/../8/a.png", false},
		{"user-assets/7//a.png", false},
		{"user-assets/7/a.gif", false},
		{"user-assets/7/" + strings.Repeat("a", 200) + ".png", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsValidUserAssetKey(7, tc.key), tc.key)
	}
}

func TestGeneratedKeyIsValid(t *testing.T) {
	key := GeneratedKey(3, ".jpg")
	assert.True(t, IsValidGeneratedKey(3, key))
	assert.False(t, IsValidGeneratedKey(4, key))
	assert.True(t, IsValidUserAssetKey(3, UserAssetKey(3, ".png")))
}

func TestPublicURLRoundTrip(t *testing.T) {
	base, err := url.Parse("https://cdn.example.com/media")
	require.NoError(t, err)

	u := PublicURL(base, "cvforge", "user-assets/1/x.png")
	assert.Equal(t, "https://cdn.example.com/media/cvforge/user-assets/1/x.png", u)

	key, ok := ObjectKeyFromURL(base, "cvforge", u)
	require.True(t, ok)
	assert.Equal(t, "user-assets/1/x.png", key)

	for _, foreign := range []string{
		"https://elsewhere.example.com/media/cvforge/a.png",
		"http://cdn.example.com/media/cvforge/a.png",
		"https://cdn.example.com/media/other/a.png",
		"https://cdn.example.com/media/cvforge/../secret.png",
		"::::",
	} {
		_, ok := ObjectKeyFromURL(base, "cvforge", foreign)
		assert.False(t, ok, foreign)
	}
}

func TestImageExtension(t *testing.T) {
	ext, ok := ImageExtension("image/jpeg; charset=binary")
	require.True(t, ok)
	assert.Equal(t, ".jpg", ext)

	_, ok = ImageExtension("application/pdf")
	assert.False(t, ok)
}

func TestIsNoSuchKey(t *testing.T) {
	assert.False(t, IsNoSuchKey(nil))
	assert.True(t, IsNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, IsNoSuchKey(errors.New("The specified key does not exist.")))
	assert.False(t, IsNoSuchKey(errors.New("connection refused")))
}
