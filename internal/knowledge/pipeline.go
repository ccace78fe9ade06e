// Package knowledge runs the per-chunk extraction pipeline:
// NER, relation extraction, resolution and graph persistence.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/agents"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/graphindex"
	"github.com/cloo-solutions/chimera/internal/logging"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"go.uber.org/zap"
)

const (
	// MinTextLength is the shortest chunk text worth extracting from, in runes
	MinTextLength = 20
	// TableEntityType tags the entity injected for table chunks
	TableEntityType = "Table_Object"

	maxReferenceLookups   = 10
	tableDescriptionRunes = 200
	defaultRelationWeight = 1.0
)

// Stage names, also used as metric labels
const (
	StageNER        = "ner"
	StageRelation   = "relation"
	StageTable      = "table"
	StageReferences = "references"
	StageResolution = "resolution"
	StagePersist    = "persist"
)

// EntityExtractor finds entities in chunk text
type EntityExtractor interface {
	Extract(ctx context.Context, text, breadcrumb string) ([]domain.ExtractedEntity, error)
}

// RelationExtractor finds relations between already extracted entities
type RelationExtractor interface {
	Extract(ctx context.Context, text string, entities []domain.ExtractedEntity) ([]domain.ExtractedRelation, error)
}

// Resolver merges near-duplicate entities. It never fails; on error it returns its input.
type Resolver interface {
	Resolve(ctx context.Context, frag agents.Fragment, references []domain.Entity) agents.Fragment
}

// Agents bundles the extraction stages
type Agents struct {
	NER        EntityExtractor
	Relation   RelationExtractor
	Resolution Resolver
}

// ChunkInput is one indexed chunk waiting for extraction
type ChunkInput struct {
	ID    string
	Chunk domain.DocumentChunk
}

// Result describes what one pipeline run wrote
type Result struct {
	ChunkID   string
	Skipped   bool
	Entities  int
	Relations int
}

// BatchResult aggregates a RunBatch call
type BatchResult struct {
	Completed []string
	Failed    int
	Entities  int
	Relations int
}

// state is threaded through every step of one run
type state struct {
	input      ChunkInput
	entities   []domain.ExtractedEntity
	relations  []domain.ExtractedRelation
	references []domain.Entity
	resolved   agents.Fragment
	result     Result
}

type step struct {
	name string
	run  func(ctx context.Context, s *state) error
}

// Pipeline turns chunk text into graph entities, relations and mention links
type Pipeline struct {
	agents  Agents
	graph   graphindex.Client
	logger  *zap.Logger
	metrics *metrics.Collector
	steps   []step
}

func NewPipeline(a Agents, graph graphindex.Client, logger *zap.Logger, m *metrics.Collector) *Pipeline {
	if graph == nil {
		graph = graphindex.Null{}
	}
	p := &Pipeline{
		agents:  a,
		graph:   graph,
		logger:  logging.OrNop(logger).With(zap.String("component", "knowledge")),
		metrics: m,
	}
	p.steps = []step{
		{StageNER, p.extractEntities},
		{StageRelation, p.extractRelations},
		{StageTable, p.injectTable},
		{StageReferences, p.fetchReferences},
		{StageResolution, p.resolve},
		{StagePersist, p.persist},
	}
	return p
}

// Available reports whether extraction results have anywhere to go
func (p *Pipeline) Available() bool {
	return p.graph.Available()
}

// Run processes a single chunk. Text shorter than MinTextLength returns a
// skipped result with no side effects.
func (p *Pipeline) Run(ctx context.Context, in ChunkInput) (Result, error) {
	if !p.graph.Available() {
		return Result{ChunkID: in.ID}, domain.ErrGraphUnavailable
	}
	s := &state{input: in, result: Result{ChunkID: in.ID}}
	if len([]rune(strings.TrimSpace(in.Chunk.Content))) < MinTextLength {
		s.result.Skipped = true
		return s.result, nil
	}

	for _, st := range p.steps {
		start := time.Now()
		err := st.run(ctx, s)
		p.metrics.ObserveStage(st.name, time.Since(start))
		if err != nil {
			return s.result, fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return s.result, nil
}

// RunBatch processes chunks one after another so later chunks see entities
// written by earlier ones. A failed chunk is logged and left out of Completed.
func (p *Pipeline) RunBatch(ctx context.Context, inputs []ChunkInput) BatchResult {
	var out BatchResult
	if len(inputs) == 0 {
		return out
	}

	ctx, span := telemetry.StartSpan(ctx, "knowledge.batch", telemetry.SpanAttributes{
		KBID:     inputs[0].Chunk.MetaString(domain.MetaKBID),
		SourceID: inputs[0].Chunk.MetaString(domain.MetaSourceID),
		Stage:    "knowledge",
	})
	defer span.End()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			out.Failed += len(inputs) - len(out.Completed) - out.Failed
			break
		}
		res, err := p.Run(ctx, in)
		if err != nil {
			out.Failed++
			p.logger.Warn("knowledge extraction failed, chunk stays pending",
				zap.String("chunk_id", in.ID), zap.Error(err))
			if !errors.Is(err, domain.ErrGraphUnavailable) {
				span.SetError(err)
			}
			continue
		}
		out.Completed = append(out.Completed, res.ChunkID)
		out.Entities += res.Entities
		out.Relations += res.Relations
	}
	span.SetData("completed", len(out.Completed))
	return out
}

func (p *Pipeline) extractEntities(ctx context.Context, s *state) error {
	entities, err := p.agents.NER.Extract(ctx, s.input.Chunk.Content, s.input.Chunk.MetaString(domain.MetaBreadcrumb))
	if err != nil {
		return err
	}
	s.entities = entities
	return nil
}

func (p *Pipeline) extractRelations(ctx context.Context, s *state) error {
	if len(s.entities) == 0 {
		return nil
	}
	relations, err := p.agents.Relation.Extract(ctx, s.input.Chunk.Content, s.entities)
	if err != nil {
		return err
	}
	s.relations = relations
	return nil
}

// injectTable adds an entity standing for the table itself
func (p *Pipeline) injectTable(ctx context.Context, s *state) error {
	if !s.input.Chunk.MetaBool(domain.MetaIsTable) {
		return nil
	}
	s.entities = append([]domain.ExtractedEntity{{
		Name:        tableName(s.input),
		Type:        TableEntityType,
		Description: truncateRunes(strings.TrimSpace(s.input.Chunk.Content), tableDescriptionRunes),
	}}, s.entities...)
	return nil
}

func (p *Pipeline) fetchReferences(ctx context.Context, s *state) error {
	seen := make(map[string]bool)
	for i, e := range s.entities {
		if i >= maxReferenceLookups {
			break
		}
		found, err := p.graph.SearchEntities(ctx, e.Name, 1)
		if err != nil {
			p.logger.Debug("reference lookup failed", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		for _, ref := range found {
			if ref.VID == "" || seen[ref.VID] {
				continue
			}
			seen[ref.VID] = true
			s.references = append(s.references, ref)
		}
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, s *state) error {
	frag := agents.Fragment{Entities: s.entities, Relations: s.relations}
	if p.agents.Resolution == nil {
		s.resolved = frag
		return nil
	}
	s.resolved = p.agents.Resolution.Resolve(ctx, frag, s.references)
	return nil
}

// persist always writes the chunk vertex, so a chunk marked completed has one
// even when nothing was extracted from it.
func (p *Pipeline) persist(ctx context.Context, s *state) error {
	entities := dedupEntities(s.resolved.Entities)
	if len(entities) == 0 {
		return p.linkChunk(ctx, s, nil)
	}

	known := make(map[string]bool, len(entities)+len(s.references))
	vids := make([]string, 0, len(entities))
	for _, e := range entities {
		known[e.VID] = true
		vids = append(vids, e.VID)
	}
	for _, r := range s.references {
		known[r.VID] = true
	}
	relations := buildRelations(s.resolved.Relations, known)

	if err := p.graph.UpsertEntities(ctx, entities); err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	if len(relations) > 0 {
		if err := p.graph.UpsertRelations(ctx, relations); err != nil {
			return fmt.Errorf("upsert relations: %w", err)
		}
	}
	if err := p.linkChunk(ctx, s, vids); err != nil {
		return err
	}

	s.result.Entities = len(entities)
	s.result.Relations = len(relations)
	return nil
}

func (p *Pipeline) linkChunk(ctx context.Context, s *state, vids []string) error {
	chunk := s.input.Chunk
	meta := graphindex.ChunkMeta{
		KBID:       chunk.MetaString(domain.MetaKBID),
		SourceID:   chunk.MetaString(domain.MetaSourceID),
		PageNumber: chunk.MetaInt(domain.MetaPageNumber),
		Breadcrumb: chunk.MetaString(domain.MetaBreadcrumb),
	}
	if err := p.graph.UpsertChunkLink(ctx, s.input.ID, vids, meta); err != nil {
		return fmt.Errorf("upsert chunk link: %w", err)
	}
	return nil
}

// dedupEntities assigns vids and keeps the first occurrence of each
func dedupEntities(in []domain.ExtractedEntity) []domain.Entity {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Entity, 0, len(in))
	for _, e := range in {
		vid := domain.EntityVID(e.Name)
		if vid == "" || seen[vid] {
			continue
		}
		seen[vid] = true
		out = append(out, domain.Entity{
			VID:         vid,
			Name:        strings.TrimSpace(e.Name),
			Type:        e.Type,
			Description: e.Description,
		})
	}
	return out
}

// buildRelations keeps relations whose endpoints both resolve to known vids
func buildRelations(in []domain.ExtractedRelation, known map[string]bool) []domain.Relation {
	seen := make(map[string]bool, len(in))
	var out []domain.Relation
	for _, r := range in {
		src, dst := domain.EntityVID(r.Source), domain.EntityVID(r.Target)
		if src == "" || dst == "" || !known[src] || !known[dst] {
			continue
		}
		rel := domain.Relation{
			SrcVID:      src,
			DstVID:      dst,
			Description: strings.TrimSpace(r.Label),
			Weight:      defaultRelationWeight,
		}
		if seen[rel.Key()] {
			continue
		}
		seen[rel.Key()] = true
		out = append(out, rel)
	}
	return out
}

func tableName(in ChunkInput) string {
	chunk := in.Chunk
	if crumb := chunk.MetaString(domain.MetaBreadcrumb); crumb != "" {
		parts := strings.Split(crumb, ">")
		if last := strings.TrimSpace(parts[len(parts)-1]); last != "" {
			return "Table: " + last
		}
	}
	if file := chunk.MetaString(domain.MetaFileName); file != "" {
		name := strings.TrimSuffix(path.Base(file), path.Ext(file))
		if page := chunk.MetaInt(domain.MetaPageNumber); page > 0 {
			return fmt.Sprintf("Table: %s p%d", name, page)
		}
		return "Table: " + name
	}
	id := in.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Table " + id
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
