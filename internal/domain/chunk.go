package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys carried on every DocumentChunk
const (
	MetaKBID        = "kb_id"
	MetaSourceID    = "source_id"
	MetaPageNumber  = "page_number"
	MetaBreadcrumb  = "breadcrumb"
	MetaContentHash = "content_hash"
	MetaLevel       = "level"
	MetaIsTable     = "is_table"
	MetaFileName    = "file_name"
	MetaOrdinal     = "chunk_index"
)

// KnowledgeStatus tracks whether graph extraction finished for a chunk
type KnowledgeStatus string

const (
	KnowledgeStatusPending   KnowledgeStatus = "pending"
	KnowledgeStatusCompleted KnowledgeStatus = "completed"
)

// IsValid reports whether s is a known status
func (s KnowledgeStatus) IsValid() bool {
	return s == KnowledgeStatusPending || s == KnowledgeStatusCompleted
}

// DocumentChunk is a bounded unit of parsed text plus its source metadata.
// Connectors produce them; the ingestion manager augments Metadata before indexing.
type DocumentChunk struct {
	Content  string
	Metadata map[string]any
}

// NewDocumentChunk creates a chunk stamped with kb and source ids
func NewDocumentChunk(kbID, sourceID, content string, meta map[string]any) DocumentChunk {
	m := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		m[k] = v
	}
	m[MetaKBID] = kbID
	m[MetaSourceID] = sourceID
	return DocumentChunk{Content: content, Metadata: m}
}

// MetaString returns a metadata value rendered as a string
func (c DocumentChunk) MetaString(key string) string {
	switch v := c.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// MetaInt returns an integer metadata value, or 0 when absent
func (c DocumentChunk) MetaInt(key string) int {
	switch v := c.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// MetaBool returns a boolean metadata value
func (c DocumentChunk) MetaBool(key string) bool {
	switch v := c.Metadata[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

var chunkNamespace = uuid.MustParse("6f2b1f0e-3a51-4c5e-9d3b-6a2f8f0c7e11")

// ChunkPointID derives the vector record id for a chunk. The same content at the
// same position of the same source always maps to the same id, so re-syncs overwrite
// rather than duplicate.
func ChunkPointID(kbID, sourceID string, fp Fingerprint, ordinal int) string {
	key := kbID + "/" + sourceID + "/" + string(fp) + "/" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Fingerprint is the hex content hash used as the unit of idempotence
type Fingerprint string

// Short returns the first 8 characters for logging
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}
