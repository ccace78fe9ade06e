package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/spf13/cobra"
)

// AskCmd creates the ask command, which streams an agent run.
func AskCmd() *cobra.Command {
	var (
		kbIDs   []string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask a question against one or more knowledge bases",
		Long: `Streams an answer grounded in the given knowledge bases.

The answer is written to stdout as it arrives. References used for the
answer are listed afterwards. Use --verbose to see orchestration stages on
stderr, or --output to print every event as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")

			req := domain.AgentRequest{
				Query: strings.Join(args, " "),
				KBIDs: kbIDs,
			}
			r := &answerRenderer{
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				verbose: verbose,
				json:    outputJSON,
			}
			if err := api.Stream(cmd.Context(), "/v1/agent/run", req, r.handle); err != nil {
				return err
			}
			return r.finish()
		},
	}

	cmd.Flags().StringSliceVar(&kbIDs, "kb", nil, "Knowledge base ids to search (repeatable, required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print orchestration stages to stderr")
	_ = cmd.MarkFlagRequired("kb")
	return cmd
}

// answerRenderer prints agent events as they arrive
type answerRenderer struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool
	json    bool

	refs    []domain.Reference
	summary *domain.RunSummary
	errMsg  string
	wrote   bool
}

func (r *answerRenderer) handle(ev domain.AgentEvent) error {
	if r.json {
		if ev.Type == domain.EventSummary {
			r.summary = ev.Summary
		}
		return printJSON(r.out, ev)
	}

	switch ev.Type {
	case domain.EventThought:
		if r.verbose && ev.Thought != nil {
			fmt.Fprintf(r.errOut, "[%s] %s\n", ev.Thought.Stage, ev.Thought.Message)
		}
	case domain.EventDelta:
		r.wrote = true
		fmt.Fprint(r.out, ev.Delta)
	case domain.EventReference:
		if ev.Reference != nil {
			r.refs = append(r.refs, *ev.Reference)
		}
	case domain.EventSubgraph:
		if r.verbose && ev.Subgraph != nil {
			fmt.Fprintf(r.errOut, "[graph] %d entities, %d relations\n", len(ev.Subgraph.Nodes), len(ev.Subgraph.Edges))
		}
	case domain.EventError:
		r.errMsg = ev.Error
	case domain.EventSummary:
		r.summary = ev.Summary
	}
	return nil
}

func (r *answerRenderer) finish() error {
	if r.json {
		return r.status()
	}
	if r.wrote {
		fmt.Fprintln(r.out)
	}

	if len(r.refs) > 0 {
		fmt.Fprintf(r.out, "\nReferences:\n")
		for i, ref := range r.refs {
			label := ref.SourceID
			if ref.FileName != "" {
				label = ref.FileName
			}
			if ref.PageNumber > 0 {
				label = fmt.Sprintf("%s p.%d", label, ref.PageNumber)
			}
			fmt.Fprintf(r.out, "  [%d] %s (%.2f)\n", i+1, label, ref.Score)
		}
	}

	if r.verbose && r.summary != nil {
		fmt.Fprintf(r.errOut, "[done] %s in %dms, %d tokens\n",
			r.summary.FinalStatus, r.summary.TotalDurationMS, r.summary.TotalTokens)
	}
	return r.status()
}

func (r *answerRenderer) status() error {
	if r.summary == nil {
		return fmt.Errorf("stream ended without a summary")
	}
	if r.summary.FinalStatus == domain.FinalStatusSuccess {
		return nil
	}
	if r.errMsg != "" {
		return fmt.Errorf("agent run %s: %s", r.summary.FinalStatus, r.errMsg)
	}
	return fmt.Errorf("agent run %s", r.summary.FinalStatus)
}
