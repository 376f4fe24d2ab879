package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Unauthenticated("no session"), http.StatusUnauthorized},
		{Unauthorized("admin only"), http.StatusForbidden},
		{Validation("title is required"), http.StatusBadRequest},
		{NotFound("cv"), http.StatusNotFound},
		{InvalidState("window closed"), http.StatusConflict},
		{RateLimited("slow down"), http.StatusTooManyRequests},
		{Upstream("image model", errors.New("boom")), http.StatusBadGateway},
		{Internal(errors.New("db down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load cv: %w", NotFound("cv"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestPublicMessage_HidesInternalDetail(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(Internal(errors.New("password=hunter2"))))
	assert.Equal(t, "internal error", PublicMessage(errors.New("raw")))
	assert.Equal(t, "cv not found", PublicMessage(NotFound("cv")))
}

func TestUpstreamUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := Upstream("identity provider", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "identity provider request failed: timeout", err.Error())
}
