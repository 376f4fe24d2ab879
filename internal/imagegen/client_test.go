package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/config"
	"cvforge/internal/errcode"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ImageModelConfig{
		BaseURL:      baseURL,
		Token:        "r8_test",
		Model:        "acme/headshot",
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
}

func TestGenerateImmediateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/acme/headshot/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))

		var body predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.test/in.jpg", body.Input.Image)
		assert.Equal(t, "studio portrait", body.Input.Prompt)

		_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":["","https://out.test/1.png"]}`)
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Generate(context.Background(), "https://cdn.test/in.jpg", "studio portrait")
	require.NoError(t, err)
	assert.Equal(t, "https://out.test/1.png", out)
}

func TestGeneratePollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			fmt.Fprintf(w, `{"id":"p1","status":"starting","urls":{"get":"%s/v1/predictions/p1"}}`, server.URL)
		case http.MethodGet:
			if polls.Add(1) < 3 {
				fmt.Fprintf(w, `{"id":"p1","status":"processing","urls":{"get":"%s/v1/predictions/p1"}}`, server.URL)
				return
			}
			_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":"https://out.test/2.png"}`)
		}
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Generate(context.Background(), "https://cdn.test/in.jpg", "p")
	require.NoError(t, err)
	assert.Equal(t, "https://out.test/2.png", out)
	assert.EqualValues(t, 3, polls.Load())
}

func TestGenerateFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"failed prediction": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"id":"p1","status":"failed","error":"nsfw"}`)
		},
		"http error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail":"bad input"}`)
		},
		"empty output": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":[]}`)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			_, err := newTestClient(server.URL).Generate(context.Background(), "https://cdn.test/in.jpg", "p")
			assert.ErrorIs(t, err, errcode.ErrUpstream)
		})
	}
}

func TestGenerateTimesOut(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"id":"p1","status":"processing","urls":{"get":"%s/v1/predictions/p1"}}`, server.URL)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.timeout = 100 * time.Millisecond
	_, err := client.Generate(context.Background(), "https://cdn.test/in.jpg", "p")
	assert.ErrorIs(t, err, errcode.ErrUpstream)
}

func TestGenerateRequiresConfiguration(t *testing.T) {
	_, err := NewClient(config.ImageModelConfig{}).Generate(context.Background(), "https://cdn.test/in.jpg", "p")
	assert.ErrorIs(t, err, errcode.ErrUpstream)
}
