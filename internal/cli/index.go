package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"packager/internal/errs"
	"packager/internal/indexer"
	"packager/internal/tui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain a repository index",
	}
	cmd.AddCommand(newIndexCreateCmd())
	return cmd
}

func newIndexCreateCmd() *cobra.Command {
	var dir string
	var workers int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or refresh the index of a directory of package archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			table, err := e.cfg.GuessTable()
			if err != nil {
				return errs.New(errs.ErrConfig, "load version table").At(e.cfg.Versions.File).Wrap(err)
			}
			opts := indexer.Options{Table: table, Workers: workers, Logger: e.logger}

			ctx, cancel := context.WithCancel(commandContext(cmd))
			defer cancel()

			var report indexer.Report
			mode := outputMode(cmd)
			if mode == tui.ModeTUI {
				model := tui.NewProgressModel("Indexing "+dir, "Indexing", tui.IndexColumns)
				model.OnCancel(cancel)
				err = tui.RunWithWork(cmd.OutOrStdout(), model, func(send func(tea.Msg)) error {
					opts.Progress = tui.NewIndexReporter(send)
					var buildErr error
					_, report, buildErr = indexer.Build(ctx, dir, opts)
					return buildErr
				})
			} else {
				_, report, err = indexer.Build(ctx, dir, opts)
			}
			if err != nil {
				return err
			}

			switch mode {
			case tui.ModeJSON:
				return writeJSON(cmd.OutOrStdout(), "index", indexJSON(report))
			case tui.ModePlain:
				writeIndexTable(cmd, report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kept: %d, Added: %d, Skipped: %d, Dropped: %d\n",
				len(report.Kept), len(report.Added), len(report.Skipped), len(report.Dropped))
			if !report.Written {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", report.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory holding the archives")
	cmd.Flags().IntVar(&workers, "workers", 0, "Archives inspected in parallel (default 4 per CPU)")
	return cmd
}

func writeIndexTable(cmd *cobra.Command, report indexer.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHIVE\tSTATUS\tPACKAGE\tVERSION\tSOURCE")
	row := func(fields map[string]string) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fields["ARCHIVE"], fields["STATUS"], fields["PACKAGE"], fields["VERSION"], fields["SOURCE"])
	}
	for _, res := range report.Kept {
		row(tui.IndexFields(res, tui.StatusKept))
	}
	for _, res := range report.Added {
		row(tui.IndexFields(res, tui.StatusIndexed))
	}
	for _, res := range report.Skipped {
		row(tui.IndexFields(res, tui.StatusIndexed))
	}
	w.Flush()

	if len(report.Skipped) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Skipped:")
		for _, res := range report.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %v\n", res.File, res.Err)
		}
	}
}

type indexedFile struct {
	File    string `json:"file"`
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type indexReport struct {
	Path    string        `json:"path"`
	Written bool          `json:"written"`
	Kept    []indexedFile `json:"kept"`
	Added   []indexedFile `json:"added"`
	Skipped []indexedFile `json:"skipped"`
	Dropped []string      `json:"dropped"`
}

func indexJSON(report indexer.Report) indexReport {
	convert := func(in []indexer.FileResult) []indexedFile {
		out := make([]indexedFile, 0, len(in))
		for _, res := range in {
			f := indexedFile{File: res.File, Package: res.Package, Version: res.Version, Suffix: res.Suffix}
			if res.Source != 0 {
				f.Source = res.Source.String()
			}
			if res.Err != nil {
				f.Error = res.Err.Error()
				f.Code = errs.Code(res.Err)
			}
			out = append(out, f)
		}
		return out
	}
	dropped := report.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	return indexReport{
		Path:    report.Path,
		Written: report.Written,
		Kept:    convert(report.Kept),
		Added:   convert(report.Added),
		Skipped: convert(report.Skipped),
		Dropped: dropped,
	}
}
