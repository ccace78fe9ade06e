package agents

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/cloo-solutions/chimera/internal/domain"
	"gopkg.in/yaml.v3"
)

// Prompt names
const (
	PromptNER           = "ner"
	PromptRelation      = "relation"
	PromptResolution    = "resolution"
	PromptQueryAnalysis = "query_analysis"
	PromptSynthesis     = "synthesis"
)

//go:embed prompts/*.yaml
var defaultPrompts embed.FS

// Prompt is a system/user template pair
type Prompt struct {
	Name   string
	system *template.Template
	user   *template.Template
}

type promptFile struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Render executes both templates with vars
func (p *Prompt) Render(vars any) (system, user string, err error) {
	var sb, ub bytes.Buffer
	if err := p.system.Execute(&sb, vars); err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", p.Name, err)
	}
	if err := p.user.Execute(&ub, vars); err != nil {
		return "", "", fmt.Errorf("render %s user prompt: %w", p.Name, err)
	}
	return sb.String(), ub.String(), nil
}

// Prompts holds every parsed prompt by name
type Prompts struct {
	byName map[string]*Prompt
}

// LoadPrompts reads the named prompts. A file in overrideDir wins over the
// embedded default of the same name.
func LoadPrompts(overrideDir string, names ...string) (*Prompts, error) {
	if len(names) == 0 {
		names = []string{PromptNER, PromptRelation, PromptResolution, PromptQueryAnalysis, PromptSynthesis}
	}
	p := &Prompts{byName: make(map[string]*Prompt, len(names))}
	for _, name := range names {
		raw, err := readPrompt(overrideDir, name)
		if err != nil {
			return nil, err
		}
		prompt, err := parsePrompt(name, raw)
		if err != nil {
			return nil, err
		}
		p.byName[name] = prompt
	}
	return p, nil
}

// Get returns a loaded prompt or ErrMissingPrompt
func (p *Prompts) Get(name string) (*Prompt, error) {
	if prompt, ok := p.byName[name]; ok {
		return prompt, nil
	}
	return nil, missingPrompt(name, nil)
}

func readPrompt(overrideDir, name string) ([]byte, error) {
	file := name + ".yaml"
	if overrideDir != "" {
		raw, err := os.ReadFile(filepath.Join(overrideDir, file))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, missingPrompt(name, err)
		}
	}
	raw, err := defaultPrompts.ReadFile("prompts/" + file)
	if err != nil {
		return nil, missingPrompt(name, err)
	}
	return raw, nil
}

func parsePrompt(name string, raw []byte) (*Prompt, error) {
	var f promptFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, missingPrompt(name, err)
	}
	if f.System == "" || f.User == "" {
		return nil, missingPrompt(name, errors.New("system and user templates are required"))
	}
	system, err := template.New(name + ".system").Parse(f.System)
	if err != nil {
		return nil, missingPrompt(name, err)
	}
	user, err := template.New(name + ".user").Parse(f.User)
	if err != nil {
		return nil, missingPrompt(name, err)
	}
	return &Prompt{Name: name, system: system, user: user}, nil
}

func missingPrompt(name string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("prompt %q not loaded", name)
	} else {
		cause = fmt.Errorf("prompt %q: %w", name, cause)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeUnsupported, domain.ErrMissingPrompt.Message, cause)
}
