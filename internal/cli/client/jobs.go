package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type enqueueResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// runView mirrors the run resource returned by the server
type runView struct {
	ID          string `json:"id"`
	KBID        string `json:"kb_id"`
	SourceID    string `json:"source_id"`
	SourceType  string `json:"source_type"`
	Status      string `json:"status"`
	ChunksCount int    `json:"chunks_count"`
	PageCount   int    `json:"page_count"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// EnqueueCmd creates the enqueue command.
func EnqueueCmd() *cobra.Command {
	var f sourceFlags

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a data source sync for a worker",
		Long:  "Queues a sync job and prints the id of its run. Follow it with 'chimera run <id>'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			req, err := buildSyncRequest(cmd, api, &f)
			if err != nil {
				return err
			}

			resp, err := api.Post(cmd.Context(), "/v1/jobs", req)
			if err != nil {
				return fmt.Errorf("enqueue failed: %w", err)
			}
			var queued enqueueResponse
			if err := json.Unmarshal(resp.Data, &queued); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), queued)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued run %s\n", queued.RunID)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

// RunCmd creates the run command, which shows one run or lists recent runs.
func RunCmd() *cobra.Command {
	var (
		kbID  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "run [run-id]",
		Short: "Show sync runs",
		Long:  "Shows one sync run by id, or the most recent runs of a knowledge base with --kb.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && kbID == "" {
				return fmt.Errorf("pass a run id or --kb")
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			outputJSON, _ := cmd.Flags().GetBool("output")

			if len(args) == 1 {
				resp, err := api.Get(cmd.Context(), "/v1/runs/"+url.PathEscape(args[0]))
				if err != nil {
					return err
				}
				var run runView
				if err := json.Unmarshal(resp.Data, &run); err != nil {
					return fmt.Errorf("failed to parse run: %w", err)
				}
				if outputJSON {
					return printJSON(cmd.OutOrStdout(), run)
				}
				writeRun(cmd.OutOrStdout(), run)
				return nil
			}

			q := url.Values{"kb_id": {kbID}, "limit": {strconv.Itoa(limit)}}
			resp, err := api.Get(cmd.Context(), "/v1/runs?"+q.Encode())
			if err != nil {
				return err
			}
			var list struct {
				Runs []runView `json:"runs"`
			}
			if err := json.Unmarshal(resp.Data, &list); err != nil {
				return fmt.Errorf("failed to parse runs: %w", err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), list.Runs)
			}
			if len(list.Runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}
			for _, run := range list.Runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %-7s %-20s %5d chunks  %s\n",
					run.ID, run.Status, run.SourceType, run.SourceID, run.ChunksCount, run.CreatedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kbID, "kb", "", "List recent runs of this knowledge base")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func writeRun(out io.Writer, run runView) {
	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  status:   %s\n", run.Status)
	fmt.Fprintf(out, "  source:   %s/%s (%s)\n", run.KBID, run.SourceID, run.SourceType)
	fmt.Fprintf(out, "  chunks:   %d (%d pages)\n", run.ChunksCount, run.PageCount)
	fmt.Fprintf(out, "  created:  %s\n", run.CreatedAt)
	if run.FinishedAt != "" {
		fmt.Fprintf(out, "  finished: %s\n", run.FinishedAt)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "  error:    %s\n", run.Error)
	}
}
