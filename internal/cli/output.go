package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"packager/internal/installer"
	"packager/internal/tui"
)

func writeJSON(w io.Writer, what string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s json: %w", what, err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// writeResponse prints resp as JSON or as one summary line. A failed
// response is returned as errReported once printed.
func writeResponse(cmd *cobra.Command, resp installer.Response) error {
	if outputJSON {
		if err := writeJSON(cmd.OutOrStdout(), "response", resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), summarize(resp))
	}
	if resp.Failed {
		if !outputJSON {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", resp.Msg, resp.Exception)
		}
		return errReported
	}
	return nil
}

func summarize(resp installer.Response) string {
	status := tui.StatusOK
	switch {
	case resp.Failed:
		status = tui.StatusFailed
	case resp.Changed:
		status = tui.StatusChanged
	}
	subject := tui.NonEmptyOrDash(firstNonEmpty(resp.Service, resp.Name))
	line := fmt.Sprintf("%s: %s", status, subject)
	if resp.PackageVersion != "" {
		line += " " + resp.PackageVersion
	}
	if resp.Suffix != "" && resp.Suffix != resp.PackageVersion {
		line += " (suffix " + resp.Suffix + ")"
	}
	return line
}
