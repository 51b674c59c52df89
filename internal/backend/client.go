// Package backend is the HTTP client for the prediction backend: synchronous
// predict, batch job upload, status and results, and the model catalogue.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"ui-annotator/internal/models"
)

// DefaultTimeout bounds each request unless the caller's context is shorter.
const DefaultTimeout = 60 * time.Second

var (
	ErrTimeout           = errors.New("request timeout")
	ErrMalformedResponse = errors.New("malformed response from backend")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// TokenSource issues the bearer token sent with every request.
type TokenSource interface {
	Token() (string, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	tokens  TokenSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict runs synchronous detection on one image. Coordinates in the
// response are normalized to models.NormalizedScale.
func (c *Client) Predict(ctx context.Context, filename string, data []byte, model string) (*models.PredictionResponse, error) {
	body, contentType, err := multipartBody(filename, data, map[string]string{"model_name": model})
	if err != nil {
		return nil, err
	}
	var out models.PredictionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/predict", body, contentType, &out); err != nil {
		return nil, err
	}
	if out.Annotations == nil {
		return nil, fmt.Errorf("%w: missing annotations", ErrMalformedResponse)
	}
	return &out, nil
}

// Upload submits one image as an asynchronous job.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, model string) (*models.JobSubmission, error) {
	fields := map[string]string{}
	if model != "" {
		fields["model_name"] = model
	}
	body, contentType, err := multipartBody(filename, data, fields)
	if err != nil {
		return nil, err
	}
	var out models.JobSubmission
	if err := c.do(ctx, http.MethodPost, "/api/v1/upload", body, contentType, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", ErrMalformedResponse)
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	var out models.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status/"+jobID, nil, "", &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}
	return &out, nil
}

// Result fetches a completed job. Coordinates are image pixels.
func (c *Client) Result(ctx context.Context, jobID string) (*models.JobResult, error) {
	var out models.JobResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/results/"+jobID, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Models(ctx context.Context) ([]models.ModelInfo, error) {
	var out models.ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/models", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp, raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func wrapTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("failed to call backend: %w", err)
}

func errorMessage(resp *http.Response, raw []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("Request failed: %s", resp.Status)
}

func multipartBody(filename string, data []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to copy file: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
