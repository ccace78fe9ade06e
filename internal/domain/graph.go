package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
)

// Entity is a graph vertex keyed by a vid derived from its normalized name
type Entity struct {
	VID         string `json:"vid"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Relation is a directed edge between two entity vids
type Relation struct {
	SrcVID      string  `json:"src_vid"`
	DstVID      string  `json:"dst_vid"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Key identifies a relation for exact-repeat deduplication
func (r Relation) Key() string {
	return r.SrcVID + "\x00" + r.DstVID + "\x00" + r.Description
}

// ChunkMentionLink ties an entity to the chunk it was extracted from
type ChunkMentionLink struct {
	EntityVID string  `json:"entity_vid"`
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
}

// ExtractedEntity is NER output before a vid is assigned
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ExtractedRelation is Relation stage output, keyed by entity names
type ExtractedRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Subgraph is the raw node/edge view streamed to clients
type Subgraph struct {
	Nodes []Entity   `json:"nodes"`
	Edges []Relation `json:"edges"`
}

// NormalizeEntityName folds case, trims punctuation at the edges and collapses spaces
func NormalizeEntityName(name string) string {
	trimmed := strings.TrimFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
}

// EntityVID returns the stable vertex id for an entity name, or "" for blank names
func EntityVID(name string) string {
	norm := NormalizeEntityName(name)
	if norm == "" {
		return ""
	}
	sum := sha1.Sum([]byte(norm))
	return "e_" + hex.EncodeToString(sum[:])[:24]
}
