package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"packager/internal/installer"
	"packager/internal/tui"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local copy of the package index",
	}
	cmd.AddCommand(newCacheUpdateCmd())
	cmd.AddCommand(newCacheListCmd())
	return cmd
}

func newCacheUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Fetch the package index from the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			in, err := e.installer(installer.Options{})
			if err != nil {
				return err
			}

			var status *tui.StatusWriter
			if outputMode(cmd) == tui.ModeTUI {
				status = tui.NewStatusWriter(cmd.ErrOrStderr(), "Fetching "+in.Cache.RepoURL)
			}
			resp := in.Run(commandContext(cmd), installer.Request{Cache: installer.CacheOpUpdate, Activate: installer.ActOn})
			if status != nil {
				status.Stop()
			}
			return writeResponse(cmd, resp)
		},
	}
}

type cachedVersion struct {
	Package string `json:"package"`
	Version string `json:"version"`
	Suffix  string `json:"suffix"`
	File    string `json:"file"`
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [PACKAGE]",
		Short: "List the versions known to the local index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			in, err := e.installer(installer.Options{})
			if err != nil {
				return err
			}
			idx, err := in.Cache.LoadIndex()
			if err != nil {
				return err
			}

			var names []string
			if len(args) == 1 {
				names = args
			} else {
				for name := range idx.Packages {
					names = append(names, name)
				}
				sort.Strings(names)
			}
			var rows []cachedVersion
			for _, name := range names {
				for _, v := range idx.Versions(name) {
					entry, _ := idx.Lookup(name, v.String())
					rows = append(rows, cachedVersion{Package: name, Version: v.String(), Suffix: entry.Suffix, File: entry.File})
				}
			}

			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), "cache list", rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tVERSION\tSUFFIX\tFILE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Package, r.Version, r.Suffix, r.File)
			}
			return w.Flush()
		},
	}
}
