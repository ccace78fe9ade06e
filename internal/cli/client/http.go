package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envAPIKey = "CHIMERA_API_KEY"
	envAPIURL = "CHIMERA_API_URL"

	defaultAPIURL = "http://localhost:8080"

	// maxEventBytes bounds one SSE data line
	maxEventBytes = 1 << 20
)

type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// streamClient has no overall timeout; streams end when the run does
	streamClient *http.Client
}

// NewAPIClientWithCmd creates an APIClient with config cascade: flag → env → global config → default.
// The API key may stay empty for servers running without static keys.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	_ = godotenv.Load()

	var flagKey, flagURL string
	if cmd != nil {
		flagKey, _ = cmd.Flags().GetString("api-key")
		flagURL, _ = cmd.Flags().GetString("api-url")
	}

	apiKey, baseURL, err := resolveCredentials(flagKey, flagURL)
	if err != nil {
		return nil, err
	}

	return NewAPIClientWithConfig(apiKey, baseURL), nil
}

// NewAPIClientWithConfig creates an APIClient with explicit config
func NewAPIClientWithConfig(apiKey, baseURL string) *APIClient {
	return &APIClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 10 * time.Minute},
		streamClient: &http.Client{},
	}
}

// APIResponse represents the standard API response format.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Get performs a GET request.
func (c *APIClient) Get(ctx context.Context, path string) (*APIResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *APIClient) Post(ctx context.Context, path string, body any) (*APIResponse, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body any) (*APIResponse, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return parseResponse(resp.StatusCode, respBody)
}

func parseResponse(status int, body []byte) (*APIResponse, error) {
	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if status >= 400 {
			return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Code: apiResp.Code, Message: apiResp.Error}
	}
	return &apiResp, nil
}

// Stream posts body and calls fn for every server-sent agent event until the
// stream ends, fn returns an error, or ctx is cancelled.
func (c *APIClient) Stream(ctx context.Context, path string, body any, fn func(domain.AgentEvent) error) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		_, err := parseResponse(resp.StatusCode, respBody)
		return err
	}
	return readEvents(resp.Body, fn)
}

// readEvents decodes "data:" lines; other SSE fields are ignored
func readEvents(r io.Reader, fn func(domain.AgentEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev domain.AgentEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fmt.Errorf("failed to parse event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

// UploadFile uploads a file to the given presigned URL.
func (c *APIClient) UploadFile(ctx context.Context, uploadURL, filePath, contentType string, onProgress ProgressFunc) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	pr := &progressReader{reader: file, total: stat.Size(), onProgress: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, pr)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ProgressFunc is a callback for reporting upload progress.
type ProgressFunc func(current, total int64)

// progressReader wraps an io.Reader and reports progress.
type progressReader struct {
	reader     io.Reader
	total      int64
	current    int64
	onProgress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.onProgress != nil {
		pr.onProgress(pr.current, pr.total)
	}
	return n, err
}
