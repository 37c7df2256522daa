package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"packager/internal/installer"
	"packager/internal/pkgref"
	"packager/internal/service"
	"packager/internal/tui"
	"packager/pkg/version"
)

var statusService string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show installed service versions, the active one and package references",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().StringVar(&statusService, "service", "", "Only show this service")
	return cmd
}

type statusRow struct {
	service.Entry
	// Refs lists the service directories linking to the entry's package.
	Refs []string `json:"refs"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	in, err := e.installer(installer.Options{})
	if err != nil {
		return err
	}

	entries, err := in.Linker.List(statusService)
	if err != nil {
		return err
	}
	rows := make([]statusRow, 0, len(entries))
	refs := map[string][]string{}
	for _, entry := range entries {
		row := statusRow{Entry: entry, Refs: []string{}}
		if entry.Package != "" {
			users, seen := refs[entry.Package]
			if !seen {
				users = countRefs(in, entry.Package)
				refs[entry.Package] = users
			}
			row.Refs = users
		}
		rows = append(rows, row)
	}

	switch outputMode(cmd) {
	case tui.ModeJSON:
		return writeJSON(cmd.OutOrStdout(), "status", rows)
	case tui.ModeTUI:
		fmt.Fprintln(cmd.OutOrStdout(), statusTable(rows))
	default:
		writeStatusTable(cmd, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No service directories in %s\n", in.Layout.ServiceDir)
	}
	return nil
}

func countRefs(in *installer.Installer, pkgDir string) []string {
	name, suffix, ok := version.SplitDir(pkgDir)
	if !ok {
		return []string{}
	}
	users, err := in.Linker.CountRefs(pkgref.Ref{Package: name, Suffix: suffix})
	if err != nil || users == nil {
		return []string{}
	}
	return users
}

func statusOf(row statusRow) string {
	switch {
	case row.Problem != "":
		return tui.StatusFailed
	case row.Active:
		return tui.StatusActive
	}
	return tui.StatusInactive
}

func writeStatusTable(cmd *cobra.Command, rows []statusRow) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tVERSION\tSUFFIX\tSTATUS\tPACKAGE\tREFS")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			row.Service,
			tui.NonEmptyOrDash(row.Version),
			row.Suffix,
			statusOf(row),
			tui.NonEmptyOrDash(row.Package),
			len(row.Refs),
		)
	}
	w.Flush()

	for _, row := range rows {
		if row.Problem != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", row.Dir, row.Problem)
		}
	}
}

func statusTable(rows []statusRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SERVICE", "VERSION", "SUFFIX", "STATUS", "PACKAGE", "REFS").
		StyleFunc(func(r, c int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case r == table.HeaderRow:
				return tui.HeaderStyle.Padding(0, 1)
			case c == 3 && r < len(rows):
				return tui.StatusStyle(statusOf(rows[r])).Padding(0, 1)
			}
			return style
		})
	for _, row := range rows {
		t.Row(
			row.Service,
			tui.NonEmptyOrDash(row.Version),
			row.Suffix,
			statusOf(row),
			tui.NonEmptyOrDash(row.Package),
			strconv.Itoa(len(row.Refs)),
		)
	}
	return t.Render()
}
