package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"packager/internal/errs"
	"packager/internal/installer"
	"packager/internal/tui"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run REQUEST_FILE",
		Short: "Execute one JSON or YAML request and print the response as JSON",
		Long: "Execute one request document, as sent by automation callers, and print the\n" +
			"response as JSON. Use - to read the request from stdin. The command fails\n" +
			"when the response reports a failure.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			var resp installer.Response
			req, err := installer.ParseRequest(data)
			if err != nil {
				resp = installer.Response{
					Failed:    true,
					Msg:       "Invalid request",
					Exception: err.Error(),
					Category:  string(errs.CategoryOf(err)),
					Code:      errs.Code(err),
					RunID:     e.runID,
				}
			} else {
				in, err := e.installer(installer.Options{})
				if err != nil {
					return err
				}
				resp = in.Run(commandContext(cmd), req)
			}

			if err := writeJSON(cmd.OutOrStdout(), "response", resp); err != nil {
				return err
			}
			if resp.Failed {
				return errReported
			}
			return nil
		},
	}
}

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply PLAN_FILE",
		Short: "Execute an ordered list of requests, stopping at the first failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			reqs, err := installer.ParsePlan(data)
			if err != nil {
				return err
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			in, err := e.installer(installer.Options{})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(commandContext(cmd))
			defer cancel()
			var responses []installer.Response
			apply := func(report *tui.PlanReporter) {
				for i, req := range reqs {
					if ctx.Err() != nil {
						return
					}
					if report != nil {
						report.Start(i)
					}
					resp := in.Run(ctx, req)
					responses = append(responses, resp)
					if report != nil {
						report.Complete(i, resp)
					}
					if resp.Failed {
						return
					}
				}
			}

			mode := outputMode(cmd)
			if mode == tui.ModeTUI {
				model := tui.NewProgressModel(args[0], "Applying", tui.PlanColumns)
				model.OnCancel(cancel)
				err := tui.RunWithWork(cmd.OutOrStdout(), model, func(send func(tea.Msg)) error {
					report := tui.NewPlanReporter(send)
					for i, req := range reqs {
						report.Pending(i, req)
					}
					apply(report)
					return nil
				})
				if err != nil {
					return err
				}
			} else {
				apply(nil)
			}

			if mode == tui.ModeJSON {
				if err := writeJSON(cmd.OutOrStdout(), "plan", responses); err != nil {
					return err
				}
			} else if mode == tui.ModePlain {
				writePlanTable(cmd.OutOrStdout(), reqs, responses)
			}

			if n := len(responses); n > 0 && responses[n-1].Failed {
				last := responses[n-1]
				if mode != tui.ModeJSON {
					fmt.Fprintf(cmd.ErrOrStderr(), "request %d: %s: %s\n", n, last.Msg, last.Exception)
				}
				return errReported
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		},
	}
}

func writePlanTable(out io.Writer, reqs []installer.Request, responses []installer.Response) {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "#\tREQUEST\tSTATUS\tVERSION\tDETAIL")
	for i, req := range reqs {
		fields := map[string]string{"STATUS": tui.StatusPending, "VERSION": "-", "DETAIL": "-"}
		if i < len(responses) {
			fields = tui.PlanFields(responses[i])
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, req.String(), fields["STATUS"], fields["VERSION"], fields["DETAIL"])
	}
	w.Flush()
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.ErrInvalidRequest, "read request").At(path).Wrap(err)
	}
	return data, nil
}
