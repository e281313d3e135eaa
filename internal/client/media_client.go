package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/model"
)

// mediaClient is the shared HTTP plumbing for the image and video services
type mediaClient struct {
	service    string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// apiErrorBody is the explicit error payload both services may return
type apiErrorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newMediaClient(service string, cfg *config.MediaServiceConfig) mediaClient {
	return mediaClient{
		service: service,
		// per-call deadlines come from the caller's context
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     slog.Default().With("component", service+"_client"),
	}
}

// post sends a JSON body and decodes a JSON response, classifying failures
// into *model.UpstreamError so callers can decide whether to retry.
func (c *mediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.DebugContext(ctx, "request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "request failed", "url", req.URL.String(), "error", err)
		return &model.UpstreamError{Service: c.service, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.UpstreamError{Service: c.service, Retryable: true, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.DebugContext(ctx, "response", "status", resp.StatusCode, "url", req.URL.String(), "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.NewStatusError(c.service, resp.StatusCode, truncate(string(respBody), 512))
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != nil {
		return &model.UpstreamError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s: %s", apiErr.Error.Code, apiErr.Error.Message),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &model.UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *mediaClient) IsConfigured() bool {
	return c.baseURL != ""
}

// ImageClient calls the still-image generation service
type ImageClient struct {
	mediaClient
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspect_ratio"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON  string `json:"b64_json"`
		MimeType string `json:"mime_type"`
	} `json:"data"`
}

// NewImageClient creates a new image service client
func NewImageClient(cfg *config.MediaServiceConfig) *ImageClient {
	return &ImageClient{mediaClient: newMediaClient("image", cfg)}
}

// Generate renders a single image and returns its bytes and content type
func (c *ImageClient) Generate(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error) {
	var result imageResponse
	err := c.post(ctx, "/v1/images/generate", &imageRequest{
		Prompt:         prompt,
		AspectRatio:    aspectRatio,
		ResponseFormat: "b64_json",
	}, &result)
	if err != nil {
		return nil, "", err
	}

	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return nil, "", &model.UpstreamError{Service: c.service, Message: "no image in response"}
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return nil, "", &model.UpstreamError{Service: c.service, Err: fmt.Errorf("invalid image encoding: %w", err)}
	}

	contentType := result.Data[0].MimeType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return data, contentType, nil
}

// VideoClient calls the image-to-video animation service
type VideoClient struct {
	mediaClient
}

type animateRequest struct {
	ImageBase64 string             `json:"image_base64"`
	Motion      model.MotionParams `json:"motion"`
}

type animateResponse struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// NewVideoClient creates a new video service client
func NewVideoClient(cfg *config.MediaServiceConfig) *VideoClient {
	return &VideoClient{mediaClient: newMediaClient("video", cfg)}
}

// Animate turns a still image into a short clip
func (c *VideoClient) Animate(ctx context.Context, image []byte, motion model.MotionParams) (*model.VideoAsset, error) {
	if len(image) == 0 {
		return nil, errors.New("animate: empty image")
	}

	var result animateResponse
	err := c.post(ctx, "/v1/videos/animate", &animateRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Motion:      motion,
	}, &result)
	if err != nil {
		return nil, err
	}

	if result.URL == "" {
		return nil, &model.UpstreamError{Service: c.service, Message: "no video url in response"}
	}

	return &model.VideoAsset{
		URL:             result.URL,
		DurationSeconds: result.DurationSeconds,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
