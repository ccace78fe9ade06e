// Package ingest drives a data source sync: it pulls chunks from a connector,
// indexes their vectors in batches and feeds knowledge extraction in smaller,
// independent batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/connector"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/fingerprint"
	"github.com/cloo-solutions/chimera/internal/knowledge"
	"github.com/cloo-solutions/chimera/internal/logging"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"github.com/cloo-solutions/chimera/internal/vectorindex"
	"go.uber.org/zap"
)

// Progress statuses
const (
	StatusStarted          = "started"
	StatusVectorFlushed    = "vector_flushed"
	StatusKnowledgeFlushed = "knowledge_flushed"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

// ErrNoProgress fails a sync in which every chunk write failed
var ErrNoProgress = errors.New("no chunk was indexed")

// ConnectorSource builds connectors for sync requests
type ConnectorSource interface {
	New(req domain.SyncRequest) (connector.Connector, error)
}

// Embedder encodes chunk text
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeRunner extracts graph knowledge for indexed chunks
type KnowledgeRunner interface {
	Available() bool
	RunBatch(ctx context.Context, inputs []knowledge.ChunkInput) knowledge.BatchResult
}

// Config tunes batching and timeouts
type Config struct {
	VectorBatchSize    int
	KnowledgeBatchSize int
	IndexTimeout       time.Duration
	ProgressBuffer     int
}

// DefaultConfig returns the batch sizes used when none are configured
func DefaultConfig() Config {
	return Config{
		VectorBatchSize:    10,
		KnowledgeBatchSize: 1,
		IndexTimeout:       10 * time.Second,
		ProgressBuffer:     16,
	}
}

// ReconcileResult reports a sweep over stale pending chunks
type ReconcileResult struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
}

// Manager runs syncs. It is safe for concurrent use by several workers.
type Manager struct {
	connectors   ConnectorSource
	embedder     Embedder
	index        vectorindex.Index
	fingerprints *fingerprint.Store
	knowledge    KnowledgeRunner
	cfg          Config
	logger       *zap.Logger
	metrics      *metrics.Collector
}

func NewManager(
	connectors ConnectorSource,
	embedder Embedder,
	index vectorindex.Index,
	kr KnowledgeRunner,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Collector,
) *Manager {
	def := DefaultConfig()
	if cfg.VectorBatchSize <= 0 {
		cfg.VectorBatchSize = def.VectorBatchSize
	}
	if cfg.KnowledgeBatchSize <= 0 {
		cfg.KnowledgeBatchSize = def.KnowledgeBatchSize
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = def.IndexTimeout
	}
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = def.ProgressBuffer
	}
	return &Manager{
		connectors:   connectors,
		embedder:     embedder,
		index:        index,
		fingerprints: fingerprint.NewStore(index),
		knowledge:    kr,
		cfg:          cfg,
		logger:       logging.OrNop(logger).With(zap.String("component", "ingest")),
		metrics:      m,
	}
}

// Sync starts a sync and returns its progress stream. The stream ends with
// exactly one event whose Done flag is set and which carries the result.
// Unknown source types and invalid requests fail before anything starts.
func (m *Manager) Sync(ctx context.Context, req domain.SyncRequest) (<-chan domain.SyncProgress, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	conn, err := m.connectors.New(req)
	if err != nil {
		return nil, err
	}

	progress := make(chan domain.SyncProgress, m.cfg.ProgressBuffer)
	go func() {
		defer close(progress)
		r := m.newRun(req, progress)
		result := r.execute(ctx, conn)
		m.metrics.SyncFinished(result.Success)
		final := domain.SyncProgress{
			Chunks: result.ChunksCount,
			Status: finalStatus(result),
			Done:   true,
			Result: &result,
		}
		// a consumer that cancelled and walked away must not leak this goroutine
		select {
		case progress <- final:
		default:
			select {
			case progress <- final:
			case <-ctx.Done():
			}
		}
	}()
	return progress, nil
}

// SyncAll runs a sync to completion and returns its result
func (m *Manager) SyncAll(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error) {
	progress, err := m.Sync(ctx, req)
	if err != nil {
		return domain.SyncResult{Success: false, ErrorMsg: err.Error()}, err
	}
	var result domain.SyncResult
	for p := range progress {
		if p.Done && p.Result != nil {
			result = *p.Result
		}
	}
	return result, nil
}

// Reconcile re-runs extraction for up to limit chunks of kbID still pending,
// for instance after a crash between the vector flush and the status update.
func (m *Manager) Reconcile(ctx context.Context, kbID string, limit int) (ReconcileResult, error) {
	var out ReconcileResult
	if m.knowledge == nil || !m.knowledge.Available() {
		return out, domain.ErrGraphUnavailable
	}
	if limit <= 0 {
		limit = 100
	}

	listCtx, cancel := context.WithTimeout(ctx, m.cfg.IndexTimeout)
	points, err := m.index.ListPending(listCtx, kbID, limit)
	cancel()
	if err != nil {
		return out, fmt.Errorf("list pending chunks: %w", err)
	}
	out.Scanned = len(points)

	for start := 0; start < len(points); start += m.cfg.KnowledgeBatchSize {
		end := min(start+m.cfg.KnowledgeBatchSize, len(points))
		inputs := make([]knowledge.ChunkInput, 0, end-start)
		for _, p := range points[start:end] {
			inputs = append(inputs, knowledge.ChunkInput{
				ID:    p.ID,
				Chunk: domain.NewDocumentChunk(p.KBID, p.SourceID, p.Content, p.Metadata),
			})
		}
		res := m.knowledge.RunBatch(ctx, inputs)
		out.Failed += res.Failed
		out.Entities += res.Entities
		out.Relations += res.Relations
		if err := m.markCompleted(ctx, res.Completed); err != nil {
			out.Failed += len(res.Completed)
			continue
		}
		out.Completed += len(res.Completed)
	}

	m.logger.Info("reconcile finished",
		zap.String("kb_id", kbID),
		zap.Int("scanned", out.Scanned),
		zap.Int("completed", out.Completed),
		zap.Int("failed", out.Failed))
	return out, nil
}

func (m *Manager) markCompleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.IndexTimeout)
	defer cancel()
	if err := m.fingerprints.MarkCompleted(ctx, ids); err != nil {
		m.metrics.FlushFailed(metrics.FlushStatus)
		m.logger.Error("marking chunks completed failed", zap.Int("chunks", len(ids)), zap.Error(err))
		return err
	}
	return nil
}

func finalStatus(r domain.SyncResult) string {
	if r.Success {
		return StatusCompleted
	}
	return StatusFailed
}

// run holds the state of one sync
type run struct {
	m        *Manager
	req      domain.SyncRequest
	logger   *zap.Logger
	progress chan<- domain.SyncProgress

	vectorBatch    []vectorindex.Point
	knowledgeBatch []knowledge.ChunkInput
	// ids whose vector flush failed; their extraction would dangle
	vectorFailed map[string]bool
	// fingerprints already handled in this sync
	seen   map[domain.Fingerprint]bool
	pages  map[string]bool
	// chunks that reached the index or needed no write
	settled int
	result  domain.SyncResult
}

func (m *Manager) newRun(req domain.SyncRequest, progress chan<- domain.SyncProgress) *run {
	return &run{
		m:   m,
		req: req,
		logger: m.logger.With(
			zap.String("kb_id", req.KBID),
			zap.String("source_id", req.SourceID),
			zap.String("source_type", req.SourceType)),
		progress:     progress,
		vectorFailed: make(map[string]bool),
		seen:         make(map[domain.Fingerprint]bool),
		pages:        make(map[string]bool),
	}
}

func (r *run) execute(ctx context.Context, conn connector.Connector) domain.SyncResult {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "ingest.sync", telemetry.SpanAttributes{
		KBID: r.req.KBID, SourceID: r.req.SourceID, Stage: "sync",
	})
	defer span.End()

	r.logger.Info("sync started")
	r.emit(ctx, StatusStarted)

	chunks, errs := conn.Load(ctx)
	ordinal := 0
	for chunk := range chunks {
		r.handle(ctx, chunk, ordinal)
		ordinal++
	}

	err := <-errs
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.result.Success = false
		r.result.ErrorMsg = err.Error()
		r.result.PageCount = len(r.pages)
		r.result.DurationMS = time.Since(start).Milliseconds()
		span.SetError(err)
		r.logger.Error("sync failed", zap.Int("chunks", r.result.ChunksCount), zap.Error(err))
		return r.result
	}

	r.flushVectors(ctx)
	r.flushKnowledge(ctx)

	r.result.PageCount = len(r.pages)
	r.result.DurationMS = time.Since(start).Milliseconds()
	if r.stalled() {
		err := fmt.Errorf("%w: %d vector and %d knowledge failures over %d chunks",
			ErrNoProgress, r.result.VectorFailures, r.result.KnowledgeFailures, r.result.ChunksCount)
		r.result.ErrorMsg = err.Error()
		span.SetError(err)
		r.logger.Error("sync made no progress", zap.Int("chunks", r.result.ChunksCount), zap.Error(err))
		return r.result
	}
	r.result.Success = true
	span.SetData("chunks", r.result.ChunksCount)
	r.logger.Info("sync finished",
		zap.Int("chunks", r.result.ChunksCount),
		zap.Int("pages", r.result.PageCount),
		zap.Int("skipped", r.result.SkippedChunks),
		zap.Int("vector_failures", r.result.VectorFailures),
		zap.Int("knowledge_failures", r.result.KnowledgeFailures),
		zap.Int("entities", r.result.Entities),
		zap.Int64("duration_ms", r.result.DurationMS))
	return r.result
}

// stalled is true when chunks arrived and every one of them failed
func (r *run) stalled() bool {
	failures := r.result.VectorFailures + r.result.KnowledgeFailures
	return r.result.ChunksCount > 0 && r.settled == 0 && failures > 0
}

func (r *run) handle(ctx context.Context, chunk domain.DocumentChunk, ordinal int) {
	content := strings.TrimSpace(chunk.Content)
	if content == "" {
		return
	}
	r.result.ChunksCount++
	r.m.metrics.ChunkProcessed(r.req.SourceType)
	r.pages[chunk.MetaString(domain.MetaFileName)+"#"+strconv.Itoa(max(chunk.MetaInt(domain.MetaPageNumber), 1))] = true

	if _, ok := chunk.Metadata[domain.MetaOrdinal]; ok {
		ordinal = chunk.MetaInt(domain.MetaOrdinal)
	}
	fp := fingerprint.Compute(content)
	if r.seen[fp] {
		r.result.SkippedChunks++
		r.m.metrics.ChunkSkipped("duplicate")
		return
	}
	r.seen[fp] = true
	chunk = withMeta(chunk, r.req, fp)

	lookupCtx, cancel := context.WithTimeout(ctx, r.m.cfg.IndexTimeout)
	lookup, err := r.m.fingerprints.Lookup(lookupCtx, r.req.KBID, fp)
	cancel()
	if err != nil {
		r.logger.Warn("fingerprint lookup failed, treating chunk as new", zap.String("hash", fp.Short()), zap.Error(err))
		lookup = fingerprint.Lookup{}
	}

	pointID := lookup.PointID
	if lookup.Indexed {
		r.m.metrics.ChunkSkipped("vector")
	} else {
		pointID = domain.ChunkPointID(r.req.KBID, r.req.SourceID, fp, ordinal)
		r.vectorBatch = append(r.vectorBatch, vectorindex.Point{
			ID:       pointID,
			Content:  chunk.Content,
			KBID:     r.req.KBID,
			SourceID: r.req.SourceID,
			Hash:     fp,
			Status:   domain.KnowledgeStatusPending,
			Metadata: chunk.Metadata,
		})
	}

	switch {
	case lookup.Completed:
		r.result.SkippedChunks++
		r.settled++
		r.m.metrics.ChunkSkipped("knowledge")
	case r.m.knowledge != nil && r.m.knowledge.Available():
		r.knowledgeBatch = append(r.knowledgeBatch, knowledge.ChunkInput{ID: pointID, Chunk: chunk})
	}

	if len(r.vectorBatch) >= r.m.cfg.VectorBatchSize {
		r.flushVectors(ctx)
	}
	if len(r.knowledgeBatch) >= r.m.cfg.KnowledgeBatchSize {
		// the chunk records must exist before the graph links to them
		r.flushVectors(ctx)
		r.flushKnowledge(ctx)
	}
}

func (r *run) flushVectors(ctx context.Context) {
	if len(r.vectorBatch) == 0 {
		return
	}
	batch := r.vectorBatch
	r.vectorBatch = nil

	if err := r.writeVectors(ctx, batch); err != nil {
		r.result.VectorFailures += len(batch)
		for _, p := range batch {
			r.vectorFailed[p.ID] = true
		}
		r.m.metrics.FlushFailed(metrics.FlushVector)
		r.logger.Error("vector batch flush failed, continuing", zap.Int("chunks", len(batch)), zap.Error(err))
		return
	}
	r.settled += len(batch)
	r.emit(ctx, StatusVectorFlushed)
}

func (r *run) writeVectors(ctx context.Context, batch []vectorindex.Point) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.Content
	}
	vectors, err := r.m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	points := make([]vectorindex.Point, len(batch))
	for i, p := range batch {
		p.Vector = vectors[i]
		points[i] = p
	}

	ctx, cancel := context.WithTimeout(ctx, r.m.cfg.IndexTimeout)
	defer cancel()
	if err := r.m.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func (r *run) flushKnowledge(ctx context.Context) {
	if len(r.knowledgeBatch) == 0 {
		return
	}
	batch := make([]knowledge.ChunkInput, 0, len(r.knowledgeBatch))
	for _, in := range r.knowledgeBatch {
		if r.vectorFailed[in.ID] {
			r.result.KnowledgeFailures++
			continue
		}
		batch = append(batch, in)
	}
	r.knowledgeBatch = nil
	if len(batch) == 0 {
		return
	}

	res := r.m.knowledge.RunBatch(ctx, batch)
	r.result.KnowledgeFailures += res.Failed
	r.result.Entities += res.Entities
	r.result.Relations += res.Relations
	if res.Failed > 0 {
		r.m.metrics.FlushFailed(metrics.FlushKnowledge)
	}
	if err := r.m.markCompleted(ctx, res.Completed); err != nil {
		r.result.KnowledgeFailures += len(res.Completed)
		return
	}
	r.settled += len(res.Completed)
	r.emit(ctx, StatusKnowledgeFlushed)
}

// emit publishes intermediate progress, blocking while the buffer is full
func (r *run) emit(ctx context.Context, status string) {
	select {
	case r.progress <- domain.SyncProgress{Chunks: r.result.ChunksCount, Status: status}:
	case <-ctx.Done():
	}
}

// withMeta copies chunk metadata and stamps ids and the content hash
func withMeta(chunk domain.DocumentChunk, req domain.SyncRequest, fp domain.Fingerprint) domain.DocumentChunk {
	meta := make(map[string]any, len(chunk.Metadata)+3)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta[domain.MetaKBID] = req.KBID
	meta[domain.MetaSourceID] = req.SourceID
	meta[domain.MetaContentHash] = string(fp)
	return domain.DocumentChunk{Content: chunk.Content, Metadata: meta}
}

// IsConfigError reports whether err should fail a job without retrying
func IsConfigError(err error) bool {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == domain.ErrCodeUnsupported || de.Code == domain.ErrCodeValidation
}
