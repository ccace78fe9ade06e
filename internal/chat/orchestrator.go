// Package chat runs the question answering flow over the knowledge base and
// reports it as a stream of typed agent events.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/agents"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/llm"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"github.com/cloo-solutions/chimera/internal/retrieval"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"go.uber.org/zap"
)

// Orchestration stages, in order
const (
	StageQueryAnalysis = "query_analysis"
	StageRetrieve      = "retrieve"
	StageContextFusion = "context_fusion"
	StageGenerate      = "generate"
)

const (
	eventBuffer = 32

	// NoContextMessage replaces the context when nothing relevant was retrieved
	NoContextMessage = "No relevant information was found in the knowledge base."
)

var errStreamTruncated = errors.New("answer stream ended without a terminal event")

// EntityAnalyzer names the entities a question is about
type EntityAnalyzer interface {
	Entities(ctx context.Context, query string) []string
}

// Retriever returns fused evidence for a query
type Retriever interface {
	Retrieve(ctx context.Context, query string, entities []string, kbIDs []string) (*retrieval.Result, error)
}

// Generator streams a chat completion
type Generator interface {
	StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamEvent, error)
}

type Config struct {
	GenerationTimeout time.Duration
}

// Orchestrator drives query_analysis, retrieve, context_fusion and generate for
// one request at a time. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	analyzer  EntityAnalyzer
	retriever Retriever
	generator Generator
	synthesis *agents.Prompt
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func NewOrchestrator(analyzer EntityAnalyzer, retriever Retriever, generator Generator, prompts *agents.Prompts, cfg Config, logger *zap.Logger, m *metrics.Collector) (*Orchestrator, error) {
	synthesis, err := prompts.Get(agents.PromptSynthesis)
	if err != nil {
		return nil, err
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		analyzer:  analyzer,
		retriever: retriever,
		generator: generator,
		synthesis: synthesis,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "chat")),
		metrics:   m,
	}, nil
}

// Run starts an agent run. The returned channel always ends with exactly one
// summary event and is then closed. Cancelling ctx stops delta emission and
// the summary reports final_status "cancelled".
func (o *Orchestrator) Run(ctx context.Context, req domain.AgentRequest) <-chan domain.AgentEvent {
	out := make(chan domain.AgentEvent, eventBuffer)
	r := &run{o: o, ctx: ctx, out: out, started: time.Now(), status: domain.FinalStatusSuccess}
	go func() {
		defer close(out)
		r.execute(req)
		r.finish()
	}()
	return out
}

type run struct {
	o       *Orchestrator
	ctx     context.Context
	out     chan<- domain.AgentEvent
	started time.Time
	status  string
	usage   llm.Usage
}

func (r *run) execute(req domain.AgentRequest) {
	if err := req.Validate(); err != nil {
		r.fail(err)
		return
	}
	log := r.o.logger.With(zap.Strings("kb_ids", req.KBIDs))

	entities := r.o.analyzer.Entities(r.ctx, req.Query)
	r.thought(StageQueryAnalysis, "Searching for entities: "+strings.Join(entities, ", "))

	res, err := r.o.retriever.Retrieve(r.ctx, req.Query, entities, req.KBIDs)
	if err != nil {
		log.Error("retrieval failed", zap.Error(err))
		r.fail(fmt.Errorf("retrieval failed: %w", err))
		return
	}
	msg := fmt.Sprintf("Found %d evidence passages and %d graph facts", len(res.Candidates), len(res.Facts))
	if res.GraphDegraded {
		msg += " (graph unavailable, using document search only)"
	}
	r.thought(StageRetrieve, msg)

	if res.Subgraph != nil && len(res.Subgraph.Nodes) > 0 {
		if !r.emit(domain.AgentEvent{Type: domain.EventSubgraph, Subgraph: res.Subgraph}) {
			return
		}
	}
	for _, c := range res.Candidates {
		ref := &domain.Reference{
			ChunkID:    c.ID,
			SourceID:   c.SourceID,
			FileName:   c.FileName,
			PageNumber: c.PageNumber,
			Content:    c.Content,
			Score:      c.VectorScore,
		}
		if !r.emit(domain.AgentEvent{Type: domain.EventReference, Reference: ref}) {
			return
		}
	}

	fused := BuildContext(res.Facts, res.Candidates)
	r.thought(StageContextFusion, fmt.Sprintf("Assembled context from %d passages", len(res.Candidates)))

	messages, err := r.o.messages(fused, req)
	if err != nil {
		r.fail(err)
		return
	}
	r.thought(StageGenerate, "Generating answer")
	r.generate(messages)
}

func (r *run) generate(messages []llm.Message) {
	ctx, span := telemetry.StartSpan(r.ctx, "generation", telemetry.SpanAttributes{Stage: StageGenerate})
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.o.cfg.GenerationTimeout)
	defer cancel()

	stream, err := r.o.generator.StreamChat(ctx, messages)
	if err != nil {
		span.SetError(err)
		r.fail(fmt.Errorf("generation failed: %w", err))
		return
	}
	terminated := false
	for ev := range stream {
		if ev.Done {
			terminated = true
			r.usage = ev.Usage
			if ev.Err != nil {
				span.SetError(ev.Err)
				r.fail(fmt.Errorf("generation failed: %w", ev.Err))
			}
			continue
		}
		if ev.Delta == "" {
			continue
		}
		if !r.emit(domain.AgentEvent{Type: domain.EventDelta, Delta: ev.Delta}) {
			cancel()
			// drain so the producer can exit
			for range stream {
			}
			return
		}
	}
	if !terminated {
		err := errStreamTruncated
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", llm.ErrGenerationTimeout, ctx.Err())
		}
		span.SetError(err)
		r.fail(fmt.Errorf("generation failed: %w", err))
	}
}

func (r *run) thought(stage, message string) {
	r.emit(domain.AgentEvent{Type: domain.EventThought, Thought: &domain.Thought{Stage: stage, Message: message}})
}

// fail emits an error event and marks the run failed, unless the caller is gone
func (r *run) fail(err error) {
	if r.ctx.Err() != nil {
		r.status = domain.FinalStatusCancelled
		return
	}
	r.status = domain.FinalStatusError
	telemetry.CaptureError(r.ctx, err)
	r.emit(domain.AgentEvent{Type: domain.EventError, Error: err.Error()})
}

// emit delivers ev unless ctx is cancelled first
func (r *run) emit(ev domain.AgentEvent) bool {
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		r.status = domain.FinalStatusCancelled
		return false
	}
}

func (r *run) finish() {
	if r.ctx.Err() != nil && r.status == domain.FinalStatusSuccess {
		r.status = domain.FinalStatusCancelled
	}
	summary := &domain.RunSummary{
		PromptTokens:     r.usage.PromptTokens,
		CompletionTokens: r.usage.CompletionTokens,
		TotalTokens:      r.usage.TotalTokens,
		TotalDurationMS:  time.Since(r.started).Milliseconds(),
		FinalStatus:      r.status,
	}
	r.o.metrics.AgentRun(summary.FinalStatus, summary.PromptTokens, summary.CompletionTokens)
	r.o.logger.Info("agent run finished",
		zap.String("final_status", summary.FinalStatus),
		zap.Int("total_tokens", summary.TotalTokens),
		zap.Int64("duration_ms", summary.TotalDurationMS))

	ev := domain.AgentEvent{Type: domain.EventSummary, Summary: summary}
	select {
	case r.out <- ev:
		return
	default:
	}
	select {
	case r.out <- ev:
	case <-r.ctx.Done():
	}
}

func (o *Orchestrator) messages(fused string, req domain.AgentRequest) ([]llm.Message, error) {
	system, user, err := o.synthesis.Render(struct {
		Context string
		Query   string
	}{fused, req.Query})
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	for _, h := range req.History {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	return append(messages, llm.Message{Role: "user", Content: user}), nil
}
