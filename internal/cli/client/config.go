package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// envConfigDir relocates the credentials file, mostly for CI and tests
	envConfigDir   = "CHIMERA_CONFIG_DIR"
	configFileName = "config.json"
)

// GlobalConfig is what `chimera auth login` persists.
type GlobalConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

var getConfigDirFunc = configDir

func configDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, "chimera"), nil
}

// GetConfigDir returns the directory holding config.json.
func GetConfigDir() (string, error) {
	return getConfigDirFunc()
}

// GetConfigPath returns the full path to config.json.
func GetConfigPath() (string, error) {
	dir, err := getConfigDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadGlobalConfig returns nil without error when nobody has logged in yet.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveGlobalConfig replaces config.json atomically; the file is readable by the owner only.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, configFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DeleteGlobalConfig is a no-op when the file is already gone.
func DeleteGlobalConfig() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// CredentialSource names where a complete key/URL pair was found.
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// GetCredentialSource reports the first layer of flag, env and global config
// that supplies both a key and a URL.
func GetCredentialSource(flagAPIKey, flagAPIURL string) (CredentialSource, string, string) {
	if flagAPIKey != "" && flagAPIURL != "" {
		return SourceFlag, flagAPIKey, flagAPIURL
	}
	if key, url := os.Getenv(envAPIKey), os.Getenv(envAPIURL); key != "" && url != "" {
		return SourceEnv, key, url
	}
	if cfg, err := LoadGlobalConfig(); err == nil && cfg != nil && cfg.APIKey != "" && cfg.APIURL != "" {
		return SourceGlobalConfig, cfg.APIKey, cfg.APIURL
	}
	return SourceNone, "", ""
}

// resolveCredentials fills key and URL independently, each from the first
// layer that sets it, and falls back to the local server URL.
func resolveCredentials(flagAPIKey, flagAPIURL string) (string, string, error) {
	key, url := flagAPIKey, flagAPIURL
	if key == "" {
		key = os.Getenv(envAPIKey)
	}
	if url == "" {
		url = os.Getenv(envAPIURL)
	}

	if key == "" || url == "" {
		cfg, err := LoadGlobalConfig()
		if err != nil {
			return "", "", err
		}
		if cfg != nil {
			if key == "" {
				key = cfg.APIKey
			}
			if url == "" {
				url = cfg.APIURL
			}
		}
	}

	if url == "" {
		url = defaultAPIURL
	}
	return key, url, nil
}
