package chat

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
)

const (
	factsHeading    = "Knowledge graph facts:"
	evidenceHeading = "Evidence:"
)

// BuildContext formats graph facts and evidence passages for the synthesis
// prompt. Either section is left out when empty.
func BuildContext(facts []string, docs []domain.Candidate) string {
	var sections []string
	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString(factsHeading)
		for _, f := range facts {
			b.WriteString("\n- ")
			b.WriteString(f)
		}
		sections = append(sections, b.String())
	}
	if len(docs) > 0 {
		parts := make([]string, len(docs))
		for i, d := range docs {
			parts[i] = fmt.Sprintf("Evidence[%d] (source: %s, page: %s)\n%s", i+1, sourceName(d), pageLabel(d), d.Content)
		}
		sections = append(sections, evidenceHeading+"\n"+strings.Join(parts, "\n\n"))
	}
	if len(sections) == 0 {
		return NoContextMessage
	}
	return strings.Join(sections, "\n\n")
}

func sourceName(d domain.Candidate) string {
	if d.FileName != "" {
		return d.FileName
	}
	if d.SourceID != "" {
		return d.SourceID
	}
	return "unknown"
}

func pageLabel(d domain.Candidate) string {
	if d.PageNumber <= 0 {
		return "?"
	}
	return fmt.Sprint(d.PageNumber)
}
