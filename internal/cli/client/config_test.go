package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useConfigDir points the global config at dir for the duration of the test
func useConfigDir(t *testing.T, dir string) string {
	t.Helper()
	old := getConfigDirFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { getConfigDirFunc = old })
	return filepath.Join(dir, configFileName)
}

func writeGlobalConfig(t *testing.T, path string, cfg GlobalConfig) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv(envConfigDir, "")
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.True(t, strings.HasSuffix(dir, "chimera"))
}

func TestGetConfigDir_EnvOverride(t *testing.T) {
	want := t.TempDir()
	t.Setenv(envConfigDir, want)

	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, want, dir)

	path, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(want, "config.json"), path)
}

func TestGetConfigPath(t *testing.T) {
	path, err := GetConfigPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.True(t, strings.HasSuffix(path, "config.json"))
}

func TestLoadGlobalConfig_FileNotExists(t *testing.T) {
	useConfigDir(t, t.TempDir())

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestLoadGlobalConfig_ValidFile(t *testing.T) {
	path := useConfigDir(t, t.TempDir())
	writeGlobalConfig(t, path, GlobalConfig{APIKey: "chimera-local-key", APIURL: "http://localhost:8080"})

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "chimera-local-key", config.APIKey)
	assert.Equal(t, "http://localhost:8080", config.APIURL)
}

func TestLoadGlobalConfig_InvalidJSON(t *testing.T) {
	path := useConfigDir(t, t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("{invalid json}"), 0600))

	config, err := LoadGlobalConfig()
	assert.Nil(t, config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSaveGlobalConfig_CreatesDirectoryWithPrivateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chimera")
	path := useConfigDir(t, dir)

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: "k", APIURL: "http://localhost:8080"}))

	assert.DirExists(t, dir)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestSaveGlobalConfig_NilConfig(t *testing.T) {
	err := SaveGlobalConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestDeleteGlobalConfig(t *testing.T) {
	path := useConfigDir(t, t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	require.NoError(t, DeleteGlobalConfig())
	assert.NoFileExists(t, path)

	// deleting twice is fine
	require.NoError(t, DeleteGlobalConfig())
}

func TestGetCredentialSource(t *testing.T) {
	global := GlobalConfig{APIKey: "global-key", APIURL: "http://global:8080"}

	tests := []struct {
		name       string
		flagKey    string
		flagURL    string
		envKey     string
		envURL     string
		withGlobal bool
		wantSource CredentialSource
		wantKey    string
		wantURL    string
	}{
		{"flags win", "flag-key", "http://flag:8080", "env-key", "http://env:8080", true, SourceFlag, "flag-key", "http://flag:8080"},
		{"env over global", "", "", "env-key", "http://env:8080", true, SourceEnv, "env-key", "http://env:8080"},
		{"global config", "", "", "", "", true, SourceGlobalConfig, "global-key", "http://global:8080"},
		{"partial env falls through", "", "", "env-key", "", true, SourceGlobalConfig, "global-key", "http://global:8080"},
		{"nothing", "", "", "", "", false, SourceNone, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envAPIKey, tt.envKey)
			t.Setenv(envAPIURL, tt.envURL)
			path := useConfigDir(t, t.TempDir())
			if tt.withGlobal {
				writeGlobalConfig(t, path, global)
			}

			source, key, url := GetCredentialSource(tt.flagKey, tt.flagURL)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantURL, url)
		})
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Run("fields resolve independently", func(t *testing.T) {
		t.Setenv(envAPIKey, "env-key")
		t.Setenv(envAPIURL, "")
		path := useConfigDir(t, t.TempDir())
		writeGlobalConfig(t, path, GlobalConfig{APIKey: "global-key", APIURL: "http://global:8080"})

		key, url, err := resolveCredentials("", "")
		require.NoError(t, err)
		assert.Equal(t, "env-key", key)
		assert.Equal(t, "http://global:8080", url)
	})

	t.Run("defaults to local server without a key", func(t *testing.T) {
		t.Setenv(envAPIKey, "")
		t.Setenv(envAPIURL, "")
		useConfigDir(t, t.TempDir())

		key, url, err := resolveCredentials("", "")
		require.NoError(t, err)
		assert.Empty(t, key)
		assert.Equal(t, defaultAPIURL, url)
	})

	t.Run("broken global config is reported", func(t *testing.T) {
		t.Setenv(envAPIKey, "")
		t.Setenv(envAPIURL, "")
		path := useConfigDir(t, t.TempDir())
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

		_, _, err := resolveCredentials("flag-key", "")
		assert.Error(t, err)
	})
}
