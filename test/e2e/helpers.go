//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/testutil"
	"github.com/sashabaranov/go-openai"
)

const (
	e2eAPIKey     = "e2e-static-key"
	embeddingDims = 384
	stubAnswer    = "Ada Lovelace wrote the first published algorithm."
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	Postgres   *testutil.Postgres
	RustFS     *testutil.RustFS
	Redis      *miniredis.Miniredis
	LLM        *httptest.Server
	Daemon     *exec.Cmd
	ServerURL  string
	BinaryDir  string
	HTTPClient *http.Client
}

// SetupE2EEnv starts the backing services, builds the binaries and launches
// chimerad with an embedded worker
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}

	env.Postgres = testutil.StartPostgres(ctx, t)
	env.RustFS = testutil.StartRustFS(ctx, t)

	redis, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	env.Redis = redis
	env.LLM = httptest.NewServer(stubLLM())

	env.BuildBinaries()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	env.ServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	env.startDaemon(port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Daemon != nil && e.Daemon.Process != nil {
		_ = e.Daemon.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() {
			_ = e.Daemon.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			_ = e.Daemon.Process.Kill()
		}
	}
	if e.LLM != nil {
		e.LLM.Close()
	}
	if e.Redis != nil {
		e.Redis.Close()
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the chimera and chimerad binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "chimera-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	for _, name := range []string{"chimerad", "chimera"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, name), "./cmd/"+name)
		cmd.Dir = "../.."
		if out, err := cmd.CombinedOutput(); err != nil {
			e.T.Fatalf("failed to build %s: %v\n%s", name, err, out)
		}
	}
}

func (e *E2ETestEnv) startDaemon(port int) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "chimerad"), "serve", "--with-worker", "--concurrency", "2")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CHIMERA_PORT=%d", port),
		"CHIMERA_DATABASE_URL="+e.Postgres.URL(),
		"CHIMERA_VECTOR_BACKEND=pgvector",
		fmt.Sprintf("CHIMERA_VECTOR_DIMENSIONS=%d", embeddingDims),
		"CHIMERA_REDIS_ADDR="+e.Redis.Addr(),
		"CHIMERA_OPENAI_API_KEY=stub",
		"CHIMERA_OPENAI_BASE_URL="+e.LLM.URL+"/v1",
		"CHIMERA_EXTRACTION_RPS=100",
		"CHIMERA_S3_ENDPOINT="+e.RustFS.Endpoint(),
		"CHIMERA_S3_ACCESS_KEY_ID="+e.RustFS.AccessKey,
		"CHIMERA_S3_SECRET_ACCESS_KEY="+e.RustFS.SecretKey,
		"CHIMERA_S3_BUCKET=e2e-documents",
		"CHIMERA_API_KEYS="+e2eAPIKey,
	)
	var logs bytes.Buffer
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	if err := cmd.Start(); err != nil {
		e.T.Fatalf("failed to start chimerad: %v", err)
	}
	e.Daemon = cmd

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := e.HTTPClient.Get(e.ServerURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	e.T.Fatalf("chimerad did not become healthy:\n%s", logs.String())
}

// RunChimera runs the chimera CLI against the test daemon
func (e *E2ETestEnv) RunChimera(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "chimera"), args...)
	cmd.Dir = e.T.TempDir()
	cmd.Env = append(os.Environ(),
		"CHIMERA_API_KEY="+e2eAPIKey,
		"CHIMERA_API_URL="+e.ServerURL,
		"XDG_CONFIG_HOME="+cmd.Dir,
		"HOME="+cmd.Dir,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, apiKey)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body any, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, apiKey)
}

func (e *E2ETestEnv) newRequest(method, path string, body any, apiKey string) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (e *E2ETestEnv) doRequest(method, path string, body any, apiKey string) (*APIResponse, error) {
	req, err := e.newRequest(method, path, body, apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, nil
}

// StreamAgent runs an agent request and collects every event
func (e *E2ETestEnv) StreamAgent(req domain.AgentRequest) ([]domain.AgentEvent, error) {
	httpReq, err := e.newRequest(http.MethodPost, "/v1/agent/run", req, e2eAPIKey)
	if err != nil {
		return nil, err
	}
	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var events []domain.AgentEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev domain.AgentEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// UploadFile uploads content to a presigned URL
func (e *E2ETestEnv) UploadFile(uploadURL string, content []byte, contentType string) error {
	req, err := http.NewRequest(http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// WaitForRun polls a queued run until it reaches a terminal status
func (e *E2ETestEnv) WaitForRun(runID string, timeout time.Duration) (map[string]any, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/v1/runs/"+runID, e2eAPIKey)
		if err != nil {
			return nil, err
		}
		var run map[string]any
		if err := json.Unmarshal(resp.Data, &run); err != nil {
			return nil, err
		}
		switch run["status"] {
		case "succeeded", "failed":
			return run, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return nil, fmt.Errorf("run %s did not finish within %s", runID, timeout)
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stubLLM serves the OpenAI embeddings and chat endpoints. Embeddings are
// hashed bags of words so texts sharing words land near each other. JSON
// completions return an empty list and streamed completions a fixed answer.
func stubLLM() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
				Model string   `json:"model"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp := openai.EmbeddingResponse{Object: "list", Model: openai.EmbeddingModel(req.Model)}
			for i, text := range req.Input {
				resp.Data = append(resp.Data, openai.Embedding{Object: "embedding", Index: i, Embedding: hashEmbedding(text)})
			}
			writeJSON(w, resp)

		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req openai.ChatCompletionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if !req.Stream {
				writeJSON(w, openai.ChatCompletionResponse{
					Object: "chat.completion",
					Model:  req.Model,
					Choices: []openai.ChatCompletionChoice{{
						Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "[]"},
						FinishReason: openai.FinishReasonStop,
					}},
					Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
				})
				return
			}
			streamAnswer(w, req.Model)

		default:
			http.NotFound(w, r)
		}
	})
}

func streamAnswer(w http.ResponseWriter, model string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)

	send := func(chunk openai.ChatCompletionStreamResponse) {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, word := range strings.SplitAfter(stubAnswer, " ") {
		send(openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Model:  model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: word},
			}},
		})
	}
	send(openai.ChatCompletionStreamResponse{
		Object: "chat.completion.chunk",
		Model:  model,
		Usage:  &openai.Usage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func hashEmbedding(text string) []float32 {
	vec := make([]float32, embeddingDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%embeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
