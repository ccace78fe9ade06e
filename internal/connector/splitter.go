package connector

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// ChunkConfig controls how document text is cut into chunks.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1200,
		MinChars:  400,
		Overlap:   200,
		MaxChunks: 2000,
	}
}

// Segment is one chunk of a document with its structural position
type Segment struct {
	Text       string
	Breadcrumb string
	Level      int
	Page       int
	IsTable    bool
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

type heading struct {
	level int
	title string
}

type splitter struct {
	cfg      ChunkConfig
	stack    []heading
	page     int
	body     []string
	table    []string
	segments []Segment
}

// SplitDocument cuts markdown-like text into segments. Headings build the
// breadcrumb, form feeds advance the page number and runs of pipe-delimited
// lines become standalone table segments.
func SplitDocument(text string, cfg ChunkConfig) []Segment {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	s := &splitter{cfg: cfg, page: 1}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		pages := strings.Split(line, "\f")
		for i, part := range pages {
			if i > 0 {
				s.flush()
				s.page++
			}
			s.line(part)
		}
		if s.full() {
			break
		}
	}
	s.flush()

	if cfg.MaxChunks > 0 && len(s.segments) > cfg.MaxChunks {
		s.segments = s.segments[:cfg.MaxChunks]
	}
	return s.segments
}

func (s *splitter) full() bool {
	return s.cfg.MaxChunks > 0 && len(s.segments) >= s.cfg.MaxChunks
}

func (s *splitter) line(line string) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "|") {
		s.flushBody()
		s.table = append(s.table, trimmed)
		return
	}
	s.flushTable()

	if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
		s.flushBody()
		level := len(m[1])
		for len(s.stack) > 0 && s.stack[len(s.stack)-1].level >= level {
			s.stack = s.stack[:len(s.stack)-1]
		}
		s.stack = append(s.stack, heading{level: level, title: strings.TrimSpace(m[2])})
		return
	}
	s.body = append(s.body, line)
}

func (s *splitter) flush() {
	s.flushBody()
	s.flushTable()
}

func (s *splitter) flushBody() {
	if len(s.body) == 0 {
		return
	}
	text := strings.Join(s.body, "\n")
	s.body = s.body[:0]
	for _, c := range chunkText(text, s.cfg) {
		s.segments = append(s.segments, s.segment(c, false))
	}
}

func (s *splitter) flushTable() {
	if len(s.table) == 0 {
		return
	}
	s.segments = append(s.segments, s.segment(strings.Join(s.table, "\n"), true))
	s.table = s.table[:0]
}

func (s *splitter) segment(text string, table bool) Segment {
	titles := make([]string, len(s.stack))
	for i, h := range s.stack {
		titles[i] = h.title
	}
	return Segment{
		Text:       text,
		Breadcrumb: strings.Join(titles, " > "),
		Level:      len(s.stack),
		Page:       s.page,
		IsTable:    table,
	}
}

// Content returns the chunk text prefixed with its position
func (seg Segment) Content() string {
	if seg.Breadcrumb == "" {
		return seg.Text
	}
	return "[" + seg.Breadcrumb + "]\n" + seg.Text
}

// Metadata returns the structural metadata fields for the segment
func (seg Segment) Metadata() map[string]any {
	meta := map[string]any{
		domain.MetaPageNumber: seg.Page,
		domain.MetaLevel:      seg.Level,
	}
	if seg.Breadcrumb != "" {
		meta[domain.MetaBreadcrumb] = seg.Breadcrumb
	}
	if seg.IsTable {
		meta[domain.MetaIsTable] = true
	}
	return meta
}

func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	chunks := make([]string, 0, 8)
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		// prefer cutting on whitespace, but never before MinChars
		if end < len(runes) {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = end - cfg.Overlap
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// fixedSegments cuts text into consecutive pieces of size runes with no overlap
func fixedSegments(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}
