package agents

import (
	"context"

	"github.com/cloo-solutions/chimera/internal/domain"
	"go.uber.org/zap"
)

// NER extracts entities from chunk text
type NER struct {
	base
}

func NewNER(completer Completer, prompts *Prompts, logger *zap.Logger) (*NER, error) {
	b, err := newBase("ner", completer, prompts, PromptNER, logger)
	if err != nil {
		return nil, err
	}
	return &NER{base: b}, nil
}

// Extract returns the entities found in text. breadcrumb is the optional
// heading path of the chunk.
func (a *NER) Extract(ctx context.Context, text, breadcrumb string) ([]domain.ExtractedEntity, error) {
	out, err := a.ask(ctx, struct {
		Text       string
		Breadcrumb string
	}{text, breadcrumb})
	if err != nil {
		return nil, err
	}
	return decodeEntities(out), nil
}

// Relation extracts relations between already found entities
type Relation struct {
	base
}

func NewRelation(completer Completer, prompts *Prompts, logger *zap.Logger) (*Relation, error) {
	b, err := newBase("relation", completer, prompts, PromptRelation, logger)
	if err != nil {
		return nil, err
	}
	return &Relation{base: b}, nil
}

// Extract returns relations stated in text. No model call is made without entities.
func (a *Relation) Extract(ctx context.Context, text string, entities []domain.ExtractedEntity) ([]domain.ExtractedRelation, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	out, err := a.ask(ctx, struct {
		Text     string
		Entities []domain.ExtractedEntity
	}{text, entities})
	if err != nil {
		return nil, err
	}
	return decodeRelations(out), nil
}
