package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
	"go.uber.org/zap"
)

// Fragment is the entity and relation set of one chunk
type Fragment struct {
	Entities  []domain.ExtractedEntity   `json:"entities"`
	Relations []domain.ExtractedRelation `json:"relations"`
}

type resolvedEntity struct {
	domain.ExtractedEntity
	Aliases []string `json:"aliases"`
}

// Resolution merges near-duplicate entities and re-points relations
type Resolution struct {
	base
}

func NewResolution(completer Completer, prompts *Prompts, logger *zap.Logger) (*Resolution, error) {
	b, err := newBase("resolution", completer, prompts, PromptResolution, logger)
	if err != nil {
		return nil, err
	}
	return &Resolution{base: b}, nil
}

// Resolve cleans frag against optional reference entities already in the graph.
// When the model call fails or returns nothing usable the input is kept.
// The result is always canonicalized by normalized name.
func (a *Resolution) Resolve(ctx context.Context, frag Fragment, references []domain.Entity) Fragment {
	if len(frag.Entities) == 0 {
		return frag
	}

	graphData, err := json.Marshal(frag)
	if err != nil {
		return canonicalize(frag, nil, references)
	}

	out, err := a.ask(ctx, struct {
		GraphData  string
		References []domain.Entity
	}{string(graphData), references})
	if err != nil {
		a.logger.Warn("resolution failed, keeping unresolved input", zap.Error(err))
		return canonicalize(frag, nil, references)
	}

	var resolved []resolvedEntity
	for _, item := range listField(out, "entities") {
		var e resolvedEntity
		if remarshal(item, &e) && strings.TrimSpace(e.Name) != "" {
			e.Name = strings.TrimSpace(e.Name)
			resolved = append(resolved, e)
		}
	}
	if len(resolved) == 0 {
		a.logger.Debug("resolution returned no entities, keeping unresolved input")
		return canonicalize(frag, nil, references)
	}

	aliases := make(map[string]string)
	result := Fragment{Relations: frag.Relations}
	if obj, ok := out.(map[string]any); ok {
		if _, present := obj["relations"]; present {
			result.Relations = decodeRelations(out)
		}
	}
	for _, e := range resolved {
		result.Entities = append(result.Entities, e.ExtractedEntity)
		for _, alias := range e.Aliases {
			if norm := domain.NormalizeEntityName(alias); norm != "" {
				aliases[norm] = e.Name
			}
		}
	}
	return canonicalize(result, aliases, references)
}

// canonicalize merges entities sharing a normalized name or alias (first
// occurrence wins, blanks filled from later ones), rewrites relation endpoints
// to canonical names and drops exact repeats and self loops.
func canonicalize(frag Fragment, aliases map[string]string, references []domain.Entity) Fragment {
	refNames := make(map[string]string, len(references))
	for _, r := range references {
		refNames[domain.NormalizeEntityName(r.Name)] = r.Name
	}

	canonical := func(name string) string {
		norm := domain.NormalizeEntityName(name)
		if target, ok := aliases[norm]; ok {
			norm = domain.NormalizeEntityName(target)
			name = target
		}
		if ref, ok := refNames[norm]; ok {
			return ref
		}
		return name
	}

	index := make(map[string]int)
	var out Fragment
	for _, e := range frag.Entities {
		e.Name = canonical(e.Name)
		norm := domain.NormalizeEntityName(e.Name)
		if norm == "" {
			continue
		}
		if i, ok := index[norm]; ok {
			if out.Entities[i].Type == "" {
				out.Entities[i].Type = e.Type
			}
			if out.Entities[i].Description == "" {
				out.Entities[i].Description = e.Description
			}
			continue
		}
		index[norm] = len(out.Entities)
		out.Entities = append(out.Entities, e)
	}

	seen := make(map[string]bool)
	for _, r := range frag.Relations {
		r.Source = canonical(r.Source)
		r.Target = canonical(r.Target)
		src, dst := domain.NormalizeEntityName(r.Source), domain.NormalizeEntityName(r.Target)
		if src == "" || dst == "" || src == dst {
			continue
		}
		if i, ok := index[src]; ok {
			r.Source = out.Entities[i].Name
		}
		if i, ok := index[dst]; ok {
			r.Target = out.Entities[i].Name
		}
		key := src + "\x00" + dst + "\x00" + r.Label
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Relations = append(out.Relations, r)
	}
	return out
}
