// Package agents wraps generative model calls that turn text into structured
// JSON. Agents are stateless and safe for concurrent use.
package agents

import (
	"context"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/llm"
	"go.uber.org/zap"
)

// Completer is the model call the agents depend on
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (string, llm.Usage, error)
}

type base struct {
	name   string
	llm    Completer
	prompt *Prompt
	logger *zap.Logger
}

func newBase(name string, completer Completer, prompts *Prompts, promptName string, logger *zap.Logger) (base, error) {
	prompt, err := prompts.Get(promptName)
	if err != nil {
		return base{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		name:   name,
		llm:    completer,
		prompt: prompt,
		logger: logger.With(zap.String("component", "agent"), zap.String("agent", name)),
	}, nil
}

// ask renders the prompt, calls the model and leniently parses the answer.
// Only the model call itself can fail; unparseable output yields an empty list.
func (b base) ask(ctx context.Context, vars any) (any, error) {
	system, user, err := b.prompt.Render(vars)
	if err != nil {
		return nil, err
	}
	text, _, err := b.llm.CompleteJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}
	out := ParseJSON(text)
	if list, ok := out.([]any); ok && len(list) == 0 && strings.TrimSpace(text) != "[]" {
		b.logger.Debug("model output had no usable json", zap.Int("chars", len(text)))
	}
	return out, nil
}

// decodeEntities pulls entity objects out of a parsed answer, dropping nameless ones
func decodeEntities(v any) []domain.ExtractedEntity {
	var out []domain.ExtractedEntity
	for _, item := range listField(v, "entities") {
		var e domain.ExtractedEntity
		if !remarshal(item, &e) {
			continue
		}
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// relationJSON tolerates the field spellings models commonly use
type relationJSON struct {
	Source        string `json:"source"`
	Src           string `json:"src"`
	SrcName       string `json:"src_name"`
	Target        string `json:"target"`
	Dst           string `json:"dst"`
	DstName       string `json:"dst_name"`
	Label         string `json:"label"`
	Relation      string `json:"relation"`
	RelationLabel string `json:"relation_label"`
	Description   string `json:"description"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func decodeRelations(v any) []domain.ExtractedRelation {
	var out []domain.ExtractedRelation
	for _, item := range listField(v, "relations") {
		var r relationJSON
		if !remarshal(item, &r) {
			continue
		}
		rel := domain.ExtractedRelation{
			Source: firstNonEmpty(r.Source, r.Src, r.SrcName),
			Target: firstNonEmpty(r.Target, r.Dst, r.DstName),
			Label:  firstNonEmpty(r.Label, r.Relation, r.RelationLabel, r.Description),
		}
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		if rel.Label == "" {
			rel.Label = "related to"
		}
		out = append(out, rel)
	}
	return out
}
