package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"revoice/internal/workflow"
)

// Client talks to a running revoiced instance over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a client for the daemon listening at baseURL. A bare
// host:port is accepted and normalized to http.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("api client: base url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	client := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// CreateSession uploads the source audio and optional reference voice,
// returning the new session.
func (c *Client) CreateSession(ctx context.Context, title, songPath, referencePath string) (*CreateSessionResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if title = strings.TrimSpace(title); title != "" {
		if err := writer.WriteField("title", title); err != nil {
			return nil, fmt.Errorf("api client: write title field: %w", err)
		}
	}
	if err := attachFile(writer, "song", songPath); err != nil {
		return nil, err
	}
	if referencePath != "" {
		if err := attachFile(writer, "reference_voice", referencePath); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("api client: finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions", body)
	if err != nil {
		return nil, fmt.Errorf("api client: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload CreateSessionResponse
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// UploadReference attaches or replaces the reference voice sample for an
// existing session.
func (c *Client) UploadReference(ctx context.Context, sessionID, referencePath string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := attachFile(writer, "reference_voice", referencePath); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("api client: finalize upload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/sessions/%s/reference", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("api client: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, nil)
}

// Sessions lists every session known to the daemon, newest first.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var payload SessionListResponse
	if err := c.get(ctx, "/api/sessions", &payload); err != nil {
		return nil, err
	}
	return payload.Sessions, nil
}

// Status fetches the snapshot for one session.
func (c *Client) Status(ctx context.Context, sessionID string) (*workflow.Status, error) {
	var payload StatusResponse
	path := fmt.Sprintf("/api/sessions/%s/status", url.PathEscape(sessionID))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Status, nil
}

// StartStage runs one stage synchronously and returns the post-run snapshot.
func (c *Client) StartStage(ctx context.Context, sessionID, stage string, params json.RawMessage) (*workflow.Status, error) {
	body, err := json.Marshal(StartStageRequest{Params: params})
	if err != nil {
		return nil, fmt.Errorf("api client: encode params: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/sessions/%s/stages/%s", c.baseURL, url.PathEscape(sessionID), url.PathEscape(stage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var payload StartStageResponse
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Status, nil
}

// ResetFrom rewinds a session to before the named stage.
func (c *Client) ResetFrom(ctx context.Context, sessionID, stage string) (*workflow.Status, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/reset?from=%s", c.baseURL, url.PathEscape(sessionID), url.QueryEscape(stage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("api client: build request: %w", err)
	}
	var payload StatusResponse
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Status, nil
}

// DeleteSession removes a session, its database rows, and its files.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("api client: build request: %w", err)
	}
	return c.do(req, nil)
}

// DownloadArtifact streams one stored artifact into destPath. When destPath
// is empty the server-provided file name is used in the working directory.
// The written path is returned.
func (c *Client) DownloadArtifact(ctx context.Context, sessionID, kind, destPath string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/artifacts/%s", c.baseURL, url.PathEscape(sessionID), url.PathEscape(kind))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("api client: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeErrorResponse(resp)
	}

	if destPath == "" {
		destPath = fileNameFromDisposition(resp.Header.Get("Content-Disposition"))
		if destPath == "" {
			destPath = kind
		}
	}
	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("api client: create %s: %w", destPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("api client: write %s: %w", destPath, err)
	}
	return destPath, nil
}

// Health fetches the daemon readiness report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("api client: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	defer resp.Body.Close()
	var payload HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("api client: decode health response: %w", err)
	}
	return &payload, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api client: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api client: decode response: %w", err)
	}
	return nil
}

// StatusError carries the HTTP status and error envelope of a failed request.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.StatusCode)
	}
	return e.Message
}

func decodeErrorResponse(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	var envelope ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil {
		statusErr.Message = envelope.Error
		statusErr.Kind = envelope.Kind
	}
	return statusErr
}

func attachFile(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("api client: open %s: %w", path, err)
	}
	defer file.Close()
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("api client: attach %s: %w", field, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("api client: read %s: %w", path, err)
	}
	return nil
}

func fileNameFromDisposition(header string) string {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if value, ok := strings.CutPrefix(part, "filename="); ok {
			return filepath.Base(strings.Trim(value, `"`))
		}
	}
	return ""
}
