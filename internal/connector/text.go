package connector

import (
	"context"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// TextConnector chunks inline content carried in the sync config:
// {"content": "...", "file_name": "notes.md"}
type TextConnector struct {
	req      domain.SyncRequest
	content  string
	fileName string
	cfg      ChunkConfig
}

// NewTextFactory returns the factory for the text source type
func NewTextFactory(cfg ChunkConfig) Factory {
	return func(req domain.SyncRequest) (Connector, error) {
		content := configString(req.Config, "content")
		if strings.TrimSpace(content) == "" {
			return nil, invalidConfig("text source requires non-empty content")
		}
		return &TextConnector{
			req:      req,
			content:  content,
			fileName: configString(req.Config, "file_name"),
			cfg:      cfg,
		}, nil
	}
}

func (c *TextConnector) Load(ctx context.Context) (<-chan domain.DocumentChunk, <-chan error) {
	return stream(ctx, func(ctx context.Context, emit emitFunc) error {
		extra := map[string]any{"source": TypeText}
		if c.fileName != "" {
			extra[domain.MetaFileName] = c.fileName
		}
		emitSegments(c.req, SplitDocument(c.content, c.cfg), extra, 0, emit)
		return nil
	})
}

// emitSegments converts segments to chunks, numbering them from ordinal.
// It returns the next ordinal and false when the consumer went away.
func emitSegments(req domain.SyncRequest, segs []Segment, extra map[string]any, ordinal int, emit emitFunc) (int, bool) {
	for _, seg := range segs {
		meta := seg.Metadata()
		for k, v := range extra {
			meta[k] = v
		}
		meta[domain.MetaOrdinal] = ordinal
		ordinal++
		if !emit(domain.NewDocumentChunk(req.KBID, req.SourceID, seg.Content(), meta)) {
			return ordinal, false
		}
	}
	return ordinal, true
}
