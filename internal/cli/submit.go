package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/pkg/model"
	"github.com/spf13/cobra"
)

// submitResult mirrors the server's POST /runs payload.
type submitResult struct {
	Run             *model.Run    `json:"run"`
	Events          []model.Event `json:"events"`
	Output          string        `json:"output"`
	OutputTruncated bool          `json:"output_truncated"`
}

func newSubmitCmd() *cobra.Command {
	var appFlags []string

	cmd := &cobra.Command{
		Use:   "submit [manifest.yaml]",
		Short: "Run applications on the server and record the run there",
		Long: `Sends the application list to the server, which boots the kernel and
records the run. Script files are read locally and sent inline.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := kernelConfig(args, appFlags)
			if err != nil {
				return err
			}
			apps, err := inlineScripts(cfg.Apps)
			if err != nil {
				return err
			}

			resp, err := client.Post(cmd.Context(), "/api/v1/runs/", map[string]any{"apps": apps})
			if err != nil {
				return fmt.Errorf("submit run: %w", err)
			}
			var res submitResult
			if err := json.Unmarshal(resp.Data, &res); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if res.Run == nil {
				return fmt.Errorf("submit run: empty response (request %s)", resp.RequestID)
			}

			fmt.Fprint(cmd.OutOrStdout(), res.Output)
			if res.OutputTruncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "(output truncated by server)")
			}
			printReport(cmd.ErrOrStderr(), res.Run, res.Events)
			if res.Run.State != model.RunStateCompleted {
				return fmt.Errorf("run %s %s: %s", res.Run.ID, res.Run.State, res.Run.HaltReason)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&appFlags, "app", nil, "Application to load: builtin:<name>[,arg...] or script:<path>[,arg...] (repeatable)")
	return cmd
}

// inlineScripts replaces script_file references with their contents.
func inlineScripts(apps []config.AppSpec) ([]config.AppSpec, error) {
	out := make([]config.AppSpec, len(apps))
	for i, app := range apps {
		if app.ScriptFile != "" {
			data, err := os.ReadFile(app.ScriptFile)
			if err != nil {
				return nil, fmt.Errorf("read script %s: %w", app.ScriptFile, err)
			}
			app.Script = string(data)
			app.ScriptFile = ""
		}
		out[i] = app
	}
	return out, nil
}
