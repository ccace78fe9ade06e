package connector

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/storage"
)

// ObjectGetter downloads stored documents
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (*storage.Object, error)
}

// FileConnector chunks a text document held in object storage:
// {"storage_path": "kbs/1/guide.md", "file_name": "guide.md"}
type FileConnector struct {
	req         domain.SyncRequest
	store       ObjectGetter
	storagePath string
	fileName    string
	cfg         ChunkConfig
}

// NewFileFactory returns the factory for the file source type
func NewFileFactory(store ObjectGetter, cfg ChunkConfig) Factory {
	return func(req domain.SyncRequest) (Connector, error) {
		storagePath := strings.TrimSpace(configString(req.Config, "storage_path"))
		if storagePath == "" {
			return nil, invalidConfig("file source requires storage_path")
		}
		fileName := configString(req.Config, "file_name")
		if fileName == "" {
			fileName = path.Base(storagePath)
		}
		return &FileConnector{
			req:         req,
			store:       store,
			storagePath: storagePath,
			fileName:    fileName,
			cfg:         cfg,
		}, nil
	}
}

func (c *FileConnector) Load(ctx context.Context) (<-chan domain.DocumentChunk, <-chan error) {
	return stream(ctx, func(ctx context.Context, emit emitFunc) error {
		obj, err := c.store.GetObject(ctx, c.storagePath)
		if err != nil {
			return fmt.Errorf("download %s: %w", c.storagePath, err)
		}
		if !isText(obj) {
			return domain.NewDomainErrorWithCause(domain.ErrCodeUnsupported, domain.ErrUnsupportedFormat.Message,
				fmt.Errorf("%s (%s) is not a text document", c.fileName, obj.ContentType))
		}

		extra := map[string]any{
			"source":            TypeFile,
			"file_path":         c.storagePath,
			domain.MetaFileName: c.fileName,
		}
		emitSegments(c.req, SplitDocument(string(obj.Body), c.cfg), extra, 0, emit)
		return nil
	})
}

func isText(obj *storage.Object) bool {
	ct := strings.ToLower(obj.ContentType)
	switch {
	case strings.HasPrefix(ct, "text/"), strings.Contains(ct, "json"), strings.Contains(ct, "markdown"):
		return utf8.Valid(obj.Body)
	case ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream":
		return utf8.Valid(obj.Body)
	default:
		return false
	}
}
