package agents

import (
	"context"

	"github.com/cloo-solutions/chimera/internal/domain"
	"go.uber.org/zap"
)

// QueryAnalysis extracts the entity names a question is about
type QueryAnalysis struct {
	base
}

func NewQueryAnalysis(completer Completer, prompts *Prompts, logger *zap.Logger) (*QueryAnalysis, error) {
	b, err := newBase("query_analysis", completer, prompts, PromptQueryAnalysis, logger)
	if err != nil {
		return nil, err
	}
	return &QueryAnalysis{base: b}, nil
}

// Entities returns entity names in query, or the query itself when none are found
func (a *QueryAnalysis) Entities(ctx context.Context, query string) []string {
	out, err := a.ask(ctx, struct{ Text string }{query})
	if err != nil {
		a.logger.Warn("query analysis failed, using raw query", zap.Error(err))
		return []string{query}
	}

	var names []string
	seen := make(map[string]bool)
	for _, e := range decodeEntities(out) {
		norm := domain.NormalizeEntityName(e.Name)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		names = append(names, e.Name)
	}
	if len(names) == 0 {
		return []string{query}
	}
	return names
}
