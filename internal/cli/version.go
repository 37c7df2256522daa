package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildVersion is set with -ldflags "-X packager/internal/cli.buildVersion=...".
var buildVersion = ""

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the packager version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := buildVersion
			if v == "" {
				v = "(devel)"
				if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
					v = info.Main.Version
				}
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), "version", map[string]string{"version": v})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packager %s\n", v)
			return nil
		},
	}
}
