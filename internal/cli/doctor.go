package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"packager/internal/config"
	"packager/internal/errs"
	"packager/internal/installer"
	"packager/internal/paths"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check host configuration, stores, cached index and activation pointers",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
}

type healthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Summary string `json:"summary"`
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	path := config.ResolvePath(configPath)
	cfg, cfgErr := config.Load(path)
	checks := []healthCheck{checkConfig(path, cfg, cfgErr)}
	if cfgErr != nil || checks[0].Status == "error" {
		return writeDoctorResult(cmd, checks)
	}

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	in, err := e.installer(installer.Options{})
	if err != nil {
		checks = append(checks, healthCheck{Name: "Installer", Status: "error", Summary: err.Error()})
		return writeDoctorResult(cmd, checks)
	}

	checks = append(checks,
		checkStore("Packages", in.Layout.PackageDir),
		checkStore("Services", in.Layout.ServiceDir),
		checkStore("Cache", in.Layout.CacheDir),
		checkIndex(in),
		checkPointers(in),
	)
	return writeDoctorResult(cmd, checks)
}

func checkConfig(path string, cfg config.Config, err error) healthCheck {
	if err != nil {
		return healthCheck{Name: "Config", Status: "error", Summary: err.Error()}
	}
	results := cfg.Validate()
	switch {
	case config.HasErrors(results):
		return healthCheck{Name: "Config", Status: "error", Summary: results[0].Message}
	case len(results) > 0:
		return healthCheck{Name: "Config", Status: "warning", Summary: results[0].Message}
	}
	return healthCheck{Name: "Config", Status: "ok", Summary: path}
}

func checkStore(name, dir string) healthCheck {
	ok, err := paths.DirExists(dir)
	switch {
	case err != nil:
		return healthCheck{Name: name, Status: "error", Summary: err.Error()}
	case !ok:
		return healthCheck{Name: name, Status: "warning", Summary: dir + " is missing or not a directory"}
	}
	probe, err := os.CreateTemp(dir, ".packager-doctor-")
	if err != nil {
		return healthCheck{Name: name, Status: "error", Summary: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return healthCheck{Name: name, Status: "ok", Summary: dir}
}

func checkIndex(in *installer.Installer) healthCheck {
	idx, err := in.Cache.LoadIndex()
	switch {
	case errors.Is(err, errs.ErrIndexMissing):
		return healthCheck{Name: "Index", Status: "warning", Summary: "no cached index; run \"packager cache update\""}
	case err != nil:
		return healthCheck{Name: "Index", Status: "error", Summary: err.Error()}
	}
	versions := 0
	for _, v := range idx.Packages {
		versions += len(v)
	}
	return healthCheck{Name: "Index", Status: "ok", Summary: fmt.Sprintf("%d packages, %d versions", len(idx.Packages), versions)}
}

// checkPointers verifies every activation pointer in the service store
// resolves to a version directory.
func checkPointers(in *installer.Installer) healthCheck {
	dirents, err := os.ReadDir(in.Layout.ServiceDir)
	if errors.Is(err, os.ErrNotExist) {
		return healthCheck{Name: "Pointers", Status: "ok", Summary: "no services"}
	}
	if err != nil {
		return healthCheck{Name: "Pointers", Status: "error", Summary: err.Error()}
	}
	var bad []string
	active := 0
	for _, d := range dirents {
		if d.Type()&os.ModeSymlink == 0 {
			continue
		}
		if _, ok, err := in.Services.ActiveVersion(d.Name()); err != nil {
			bad = append(bad, filepath.Join(in.Layout.ServiceDir, d.Name()))
		} else if ok {
			active++
		}
	}
	if len(bad) > 0 {
		return healthCheck{Name: "Pointers", Status: "error", Summary: "inconsistent: " + joinComma(bad)}
	}
	return healthCheck{Name: "Pointers", Status: "ok", Summary: fmt.Sprintf("%d active services", active)}
}

func writeDoctorResult(cmd *cobra.Command, checks []healthCheck) error {
	failed := false
	for _, c := range checks {
		failed = failed || c.Status == "error"
	}
	if outputJSON {
		if err := writeJSON(cmd.OutOrStdout(), "doctor", checks); err != nil {
			return err
		}
	} else {
		bold := lipgloss.NewStyle().Bold(true).Inline(true)
		green := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Inline(true)
		yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Inline(true)
		red := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Inline(true)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, bold.Render("HOST HEALTH"))
		for _, c := range checks {
			var statusStr string
			switch c.Status {
			case "ok":
				statusStr = green.Render("OK")
			case "warning":
				statusStr = yellow.Render("WARN")
			case "error":
				statusStr = red.Render("ERROR")
			}
			fmt.Fprintf(out, "  %-10s %s    %s\n", c.Name+":", statusStr, c.Summary)
		}
	}
	if failed {
		return errReported
	}
	return nil
}

func joinComma(items []string) string {
	if len(items) == 0 {
		return ""
	}
	result := items[0]
	for _, item := range items[1:] {
		result += ", " + item
	}
	return result
}
