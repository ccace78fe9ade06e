package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/graphindex"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"github.com/cloo-solutions/chimera/internal/vectorindex"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultVectorLimit = 25
	DefaultTopK        = 7

	// facts come from direct neighbours only
	subgraphDepth = 1

	channelVector = "vector"
	channelGraph  = "graph"
)

// QueryEmbedder turns a query into a vector
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the read side of a vector backend
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, kbIDs []string, limit int) ([]vectorindex.Hit, error)
}

type Config struct {
	VectorLimit  int
	TopK         int
	IndexTimeout time.Duration
	GraphTimeout time.Duration
	// Consecutive graph failures before the breaker opens
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		VectorLimit:     DefaultVectorLimit,
		TopK:            DefaultTopK,
		IndexTimeout:    10 * time.Second,
		GraphTimeout:    5 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: 30 * time.Second,
	}
}

// Result is the fused evidence for one query
type Result struct {
	Candidates    []domain.Candidate
	Facts         []string
	Subgraph      *domain.Subgraph
	GraphDegraded bool
}

// graphResult is what the graph channel contributes
type graphResult struct {
	scores   map[string]float64
	facts    []string
	subgraph *domain.Subgraph
}

// Engine runs the vector and graph channels concurrently and fuses them with Skyline
type Engine struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	graph    graphindex.Client
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewEngine(embedder QueryEmbedder, vectors VectorSearcher, graph graphindex.Client, cfg Config, logger *zap.Logger, m *metrics.Collector) *Engine {
	if graph == nil {
		graph = graphindex.Null{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = def.VectorLimit
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = def.IndexTimeout
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = def.GraphTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	logger = logger.With(zap.String("component", "retrieval"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-retrieval",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
		breaker:  breaker,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// GraphAvailable reports whether a graph backend is configured
func (e *Engine) GraphAvailable() bool {
	return e.graph.Available()
}

// Retrieve embeds query, searches both channels and returns the skyline of the
// vector hits re-scored by graph evidence. Only a vector channel failure is an
// error; a slow or failing graph channel yields a vector-only result.
func (e *Engine) Retrieve(ctx context.Context, query string, entities []string, kbIDs []string) (*Result, error) {
	if len(kbIDs) == 0 {
		return nil, vectorindex.ErrNoKnowledgeBase
	}
	ctx, span := telemetry.StartSpan(ctx, "retrieval", telemetry.SpanAttributes{Stage: "retrieve"})
	defer span.End()

	var hits []vectorindex.Hit
	var graph graphResult
	degraded := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer func() { e.metrics.ObserveRetrieval(channelVector, time.Since(start)) }()

		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		searchCtx, cancel := context.WithTimeout(gctx, e.cfg.IndexTimeout)
		defer cancel()
		hits, err = e.vectors.Search(searchCtx, vec, kbIDs, e.cfg.VectorLimit)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	})
	if e.graph.Available() && len(entities) > 0 {
		g.Go(func() error {
			start := time.Now()
			defer func() { e.metrics.ObserveRetrieval(channelGraph, time.Since(start)) }()

			res, err := e.graphChannel(ctx, entities, kbIDs)
			if err != nil {
				degraded = true
				e.metrics.GraphDegraded()
				e.logger.Warn("graph channel degraded, using vector results only",
					zap.Strings("entities", entities), zap.Error(err))
				return nil
			}
			graph = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, h.Candidate())
	}
	fused := Skyline(candidates, graph.scores, e.cfg.TopK)
	span.SetData("candidates", len(candidates))
	span.SetData("selected", len(fused))

	e.logger.Debug("retrieval done",
		zap.Int("vector_hits", len(hits)),
		zap.Int("graph_scored", len(graph.scores)),
		zap.Int("selected", len(fused)),
		zap.Bool("graph_degraded", degraded))

	return &Result{
		Candidates:    fused,
		Facts:         graph.facts,
		Subgraph:      graph.subgraph,
		GraphDegraded: degraded,
	}, nil
}

// graphChannel runs the three graph reads behind the breaker. It takes the
// request context, not the errgroup one, so a vector failure never trips it.
func (e *Engine) graphChannel(ctx context.Context, entities, kbIDs []string) (graphResult, error) {
	out, err := e.breaker.Execute(func() (any, error) {
		gctx, cancel := context.WithTimeout(ctx, e.cfg.GraphTimeout)
		defer cancel()

		scores, err := e.graph.ChunkScores(gctx, entities, kbIDs)
		if err != nil {
			return nil, fmt.Errorf("chunk scores: %w", err)
		}
		facts, err := e.graph.RetrieveSubgraph(gctx, entities, subgraphDepth)
		if err != nil {
			return nil, fmt.Errorf("retrieve subgraph: %w", err)
		}
		sub, err := e.graph.Subgraph(gctx, entities)
		if err != nil {
			return nil, fmt.Errorf("subgraph: %w", err)
		}
		return graphResult{scores: scores, facts: facts, subgraph: sub}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return graphResult{}, fmt.Errorf("graph breaker open: %w", err)
		}
		return graphResult{}, err
	}
	return out.(graphResult), nil
}
