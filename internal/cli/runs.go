package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/me/os3/pkg/model"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		state  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				st, ok := model.ParseRunState(state)
				if !ok {
					return fmt.Errorf("unknown state %q (want running, completed or aborted)", state)
				}
				q.Set("state", st.String())
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/api/v1/runs/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			var runs []model.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-10s  %-8s  %-30s  %s\n", "ID", "STATE", "SWITCHES", "APPS", "CREATED")
			fmt.Fprintf(out, "%-40s  %-10s  %-8s  %-30s  %s\n", "--", "-----", "--------", "----", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s  %-10s  %-8s  %-30s  %s\n",
					r.ID, r.State, humanize.Comma(int64(r.Switches)),
					truncate(strings.Join(r.Apps, ","), 30), humanize.Time(r.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (running, completed, aborted)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum runs to list (server default 20)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many runs")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its final task table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := url.PathEscape(args[0])
			resp, err := client.Get(cmd.Context(), "/api/v1/runs/"+id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			var run model.Run
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			resp, err = client.Get(cmd.Context(), "/api/v1/runs/"+id+"/events")
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			var events []model.Event
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			printReport(cmd.OutOrStdout(), &run, events)
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <run-id>",
		Short: "List the scheduling events of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/runs/"+url.PathEscape(args[0])+"/events")
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			var events []model.Event
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s  %-9s  %-4s  %-4s  %-5s  %s\n", "SEQ", "KIND", "FROM", "TO", "CODE", "TIME")
			fmt.Fprintf(out, "%-5s  %-9s  %-4s  %-4s  %-5s  %s\n", "---", "----", "----", "--", "----", "----")
			for _, ev := range events {
				code := "-"
				if ev.Kind == model.EventExit {
					code = strconv.Itoa(ev.Code)
				}
				fmt.Fprintf(out, "%-5d  %-9s  %-4s  %-4s  %-5s  %sµs\n",
					ev.Seq, ev.Kind, slot(ev.From), slot(ev.To), code, humanize.Comma(int64(ev.TimeUS)))
			}
			return nil
		},
	}
}

func slot(i int) string {
	if i < 0 {
		return "-"
	}
	return strconv.Itoa(i)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
