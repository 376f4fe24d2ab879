// Package imagegen 调用外部图像生成模型（Replicate 风格的 predictions API）。
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cvforge/internal/config"
	"cvforge/internal/errcode"
	"cvforge/internal/metrics"
	"cvforge/internal/observability"
)

const serviceName = "image model"

// Prediction 状态。
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

// Client 提交预测并轮询直到终态。
type Client struct {
	baseURL      string
	token        string
	model        string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewClient 按配置构造客户端。
func NewClient(cfg config.ImageModelConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:        strings.TrimSpace(cfg.Token),
		model:        strings.Trim(strings.TrimSpace(cfg.Model), "/"),
		timeout:      timeout,
		pollInterval: poll,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type predictionRequest struct {
	Input predictionInput `json:"input"`
}

type predictionInput struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Generate 以 imageURL 为输入生成一张图片，返回结果地址。
func (c *Client) Generate(ctx context.Context, imageURL, prompt string) (string, error) {
	span, ctx := observability.NewSpan(ctx, "image_model.generate")
	defer span.End()
	span.AddAttributes(attribute.String("image_model.model", c.model))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	output, err := c.generate(ctx, imageURL, prompt)
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.SetError(err)
	}
	metrics.ObserveImageModelCall(outcome, time.Since(start))
	if err != nil {
		return "", errcode.Upstream(serviceName, err)
	}
	return output, nil
}

func (c *Client) generate(ctx context.Context, imageURL, prompt string) (string, error) {
	if c.baseURL == "" || c.model == "" {
		return "", errors.New("image model is not configured")
	}

	body, err := json.Marshal(predictionRequest{Input: predictionInput{Image: imageURL, Prompt: prompt}})
	if err != nil {
		return "", fmt.Errorf("encode prediction: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	pred, err := c.do(req)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch pred.Status {
		case statusSucceeded:
			return firstOutput(pred.Output)
		case statusFailed, statusCanceled:
			return "", fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error)
		}
		if pred.URLs.Get == "" {
			return "", fmt.Errorf("prediction %s has no poll url", pred.ID)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("prediction %s: %w", pred.ID, ctx.Err())
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pred.URLs.Get, nil)
		if err != nil {
			return "", fmt.Errorf("build poll request: %w", err)
		}
		if pred, err = c.do(req); err != nil {
			return "", err
		}
	}
}

func (c *Client) do(req *http.Request) (prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prediction{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return prediction{}, fmt.Errorf("read prediction: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return prediction{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return pred, nil
}

// firstOutput 兼容字符串或字符串数组形式的输出。
func firstOutput(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
		return strings.TrimSpace(single), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if s := strings.TrimSpace(item); s != "" {
				return s, nil
			}
		}
	}
	return "", errors.New("prediction returned no output")
}
