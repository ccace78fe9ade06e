package client

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/spf13/cobra"
)

// sourceFlags describe one data source on the command line
type sourceFlags struct {
	kbID       string
	sourceID   string
	sourceType string
	set        []string
	configJSON string
	file       string
	mimeType   string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kbID, "kb", "", "Knowledge base id (required)")
	cmd.Flags().StringVar(&f.sourceID, "source", "", "Data source id (required)")
	cmd.Flags().StringVarP(&f.sourceType, "type", "t", "", "Source type: text, file or feishu")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "Connector config entry key=value (repeatable)")
	cmd.Flags().StringVar(&f.configJSON, "config-json", "", "Connector config as a JSON object")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Upload a local document and sync it as a file source")
	cmd.Flags().StringVar(&f.mimeType, "mime-type", "", "Override the detected MIME type of --file")
	_ = cmd.MarkFlagRequired("kb")
	_ = cmd.MarkFlagRequired("source")
}

// config merges --config-json and --set, with --set taking precedence
func (f *sourceFlags) config() (map[string]any, error) {
	cfg := map[string]any{}
	if s := strings.TrimSpace(f.configJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &cfg); err != nil {
			return nil, fmt.Errorf("invalid --config-json: %w", err)
		}
	}
	for _, entry := range f.set {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", entry)
		}
		cfg[strings.TrimSpace(key)] = value
	}
	return cfg, nil
}

// buildSyncRequest resolves the flags into a request, uploading --file first
func buildSyncRequest(cmd *cobra.Command, api *APIClient, f *sourceFlags) (*domain.SyncRequest, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}

	sourceType := f.sourceType
	if f.file != "" {
		if sourceType != "" && sourceType != "file" {
			return nil, fmt.Errorf("--file cannot be combined with --type %s", sourceType)
		}
		sourceType = "file"
		uploaded, err := uploadDocument(cmd, api, f.kbID, f.file, f.mimeType)
		if err != nil {
			return nil, err
		}
		for k, v := range uploaded {
			cfg[k] = v
		}
	}
	if sourceType == "" {
		return nil, fmt.Errorf("--type is required unless --file is given")
	}

	return &domain.SyncRequest{
		KBID:       f.kbID,
		SourceID:   f.sourceID,
		SourceType: sourceType,
		Config:     cfg,
	}, nil
}

type initUploadResponse struct {
	StoragePath  string         `json:"storage_path"`
	UploadURL    string         `json:"upload_url"`
	SourceConfig map[string]any `json:"source_config"`
}

func uploadDocument(cmd *cobra.Command, api *APIClient, kbID, path, mimeType string) (map[string]any, error) {
	name := filepath.Base(path)
	if mimeType == "" {
		mimeType = detectMimeType(name)
	}

	resp, err := api.Post(cmd.Context(), "/v1/uploads", map[string]string{
		"kb_id":     kbID,
		"file_name": name,
		"mime_type": mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}
	var upload initUploadResponse
	if err := json.Unmarshal(resp.Data, &upload); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}

	if err := api.UploadFile(cmd.Context(), upload.UploadURL, path, mimeType, nil); err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %s to %s\n", name, upload.StoragePath)
	return upload.SourceConfig, nil
}

func detectMimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	case "":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// SyncCmd creates the sync command.
func SyncCmd() *cobra.Command {
	var f sourceFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a data source and wait for the result",
		Long: `Runs a data source sync on the server and waits for it to finish.

Examples:
  chimera sync --kb kb1 --source notes --type text --set content="Ada Lovelace wrote the first program."
  chimera sync --kb kb1 --source handbook --file ./handbook.md
  chimera sync --kb kb1 --source wiki --type feishu --set app_id=cli_x --set app_secret=s --set wiki_space_id=123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			req, err := buildSyncRequest(cmd, api, &f)
			if err != nil {
				return err
			}

			resp, err := api.Post(cmd.Context(), "/v1/sync", req)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			var result domain.SyncResult
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse sync result: %w", err)
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			writeSyncResult(cmd.OutOrStdout(), result)
			if !result.Success {
				return fmt.Errorf("sync did not succeed")
			}
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func writeSyncResult(out io.Writer, r domain.SyncResult) {
	status := "succeeded"
	if !r.Success {
		status = "failed"
	}
	fmt.Fprintf(out, "Sync %s in %dms\n", status, r.DurationMS)
	fmt.Fprintf(out, "  chunks:    %d (%d pages, %d skipped)\n", r.ChunksCount, r.PageCount, r.SkippedChunks)
	fmt.Fprintf(out, "  graph:     %d entities, %d relations\n", r.Entities, r.Relations)
	if r.VectorFailures > 0 || r.KnowledgeFailures > 0 {
		fmt.Fprintf(out, "  failures:  %d vector, %d knowledge\n", r.VectorFailures, r.KnowledgeFailures)
	}
	if r.ErrorMsg != "" {
		fmt.Fprintf(out, "  error:     %s\n", r.ErrorMsg)
	}
}
