package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLogin_StoresCredentials(t *testing.T) {
	useConfigDir(t, t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runAuthLogin(strings.NewReader(""), &out, "chimera-secret-key", "http://localhost:8080"))
	assert.Contains(t, out.String(), "Successfully logged in")

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "chimera-secret-key", config.APIKey)
	assert.Equal(t, "http://localhost:8080", config.APIURL)
}

func TestAuthLogin_PromptsForKey(t *testing.T) {
	useConfigDir(t, t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runAuthLogin(strings.NewReader("  typed-key  \n"), &out, "", "http://kb.internal"))
	assert.Contains(t, out.String(), "Enter API key:")

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "typed-key", config.APIKey)
}

func TestAuthLogin_EmptyKey(t *testing.T) {
	path := useConfigDir(t, t.TempDir())

	err := runAuthLogin(strings.NewReader("\n"), &bytes.Buffer{}, "", defaultAPIURL)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestAuthLogin_OverwritesExisting(t *testing.T) {
	useConfigDir(t, t.TempDir())
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: "old", APIURL: "http://old"}))

	require.NoError(t, runAuthLogin(strings.NewReader(""), &bytes.Buffer{}, "new", "http://new"))

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "new", config.APIKey)
	assert.Equal(t, "http://new", config.APIURL)
}

func TestWriteStatus(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeStatus(&out, SourceNone, "", "", false))
		assert.Contains(t, out.String(), "Not authenticated")
	})

	t.Run("masks key", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeStatus(&out, SourceEnv, "abcd1234567890wxyz", "http://env", false))
		assert.Contains(t, out.String(), "Source: env")
		assert.Contains(t, out.String(), "abcd...wxyz")
		assert.NotContains(t, out.String(), "1234567890")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeStatus(&out, SourceGlobalConfig, "abcd1234567890wxyz", "http://global", true))

		var status map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &status))
		assert.Equal(t, true, status["authenticated"])
		assert.Equal(t, "global_config", status["source"])
		assert.Equal(t, "abcd...wxyz", status["api_key"])
	})
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "abcd...wxyz", maskAPIKey("abcd1234wxyz"))
}

func TestVerifyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/runs", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`{"data":{"runs":[]}}`))
		case "Bearer no-runlog":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"sync run log not configured","code":"UNAVAILABLE"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key","code":"UNAUTHORIZED"}`))
		}
	}))
	defer server.Close()

	ctx := context.Background()
	assert.NoError(t, verifyKey(ctx, "good", server.URL))
	assert.NoError(t, verifyKey(ctx, "no-runlog", server.URL))

	err := verifyKey(ctx, "bad", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	assert.Error(t, verifyKey(ctx, "good", "http://127.0.0.1:1"))
}

func TestAuthLoginCmd_VerifiesBeforeSaving(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer server.Close()

	path := useConfigDir(t, t.TempDir())
	cmd := AuthLoginCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--key", "bad", "--url", server.URL})
	require.Error(t, cmd.Execute())
	assert.NoFileExists(t, path)

	cmd = AuthLoginCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--key", "bad", "--url", server.URL, "--no-verify"})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, path)
}
