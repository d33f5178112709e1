package cli

import (
	"fmt"

	"github.com/me/os3/internal/loader"
	"github.com/spf13/cobra"
)

func newAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List builtin applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s  %s\n", "NAME", "DESCRIPTION")
			fmt.Fprintf(out, "%-12s  %s\n", "----", "-----------")
			for _, b := range loader.DefaultRegistry().List() {
				fmt.Fprintf(out, "%-12s  %s\n", b.Name, b.Description)
			}
			return nil
		},
	}
	return cmd
}
