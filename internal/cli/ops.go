package cli

import (
	"github.com/spf13/cobra"

	"packager/internal/errs"
	"packager/internal/installer"
	"packager/internal/pkgref"
)

type opFlags struct {
	service  string
	version  string
	suffix   string
	pkg      string
	group    string
	modeBits string
	noAct    bool
}

func newInstallCmd() *cobra.Command {
	var f opFlags
	cmd := &cobra.Command{
		Use:   "install PACKAGE",
		Short: "Download, expand and link a package version, then activate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act := installer.ActOn
			if f.noAct {
				act = installer.ActOff
			}
			req := installer.Request{
				State:         installer.StatePresent,
				Name:          args[0],
				Service:       firstNonEmpty(f.service, args[0]),
				Version:       f.version,
				Suffix:        f.suffix,
				Activate:      act,
				Group:         f.group,
				ExtraModeBits: f.modeBits,
			}
			return runRequest(cmd, req)
		},
	}
	cmd.Flags().StringVar(&f.service, "service", "", "Service slot to link (default: the package name)")
	cmd.Flags().StringVar(&f.version, "version", "", "Version to install, or \"latest\" (default latest)")
	cmd.Flags().StringVar(&f.suffix, "suffix", "", "Archive suffix to install")
	cmd.Flags().StringVar(&f.group, "group", "", "Group owning the extracted files (default install.group)")
	cmd.Flags().StringVar(&f.modeBits, "mode-bits", "", "Octal permission bits added to extracted files (default install.extra_mode_bits)")
	cmd.Flags().BoolVar(&f.noAct, "no-activate", false, "Install without switching the active version")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var f opFlags
	cmd := &cobra.Command{
		Use:   "uninstall PACKAGE",
		Short: "Remove a service version, and its package once nothing links to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := installer.Request{
				State:    installer.StateAbsent,
				Name:     args[0],
				Service:  f.service,
				Version:  f.version,
				Suffix:   f.suffix,
				Activate: installer.ActOn,
			}
			return runRequest(cmd, req)
		},
	}
	cmd.Flags().StringVar(&f.service, "service", "", "Service slot to remove")
	cmd.Flags().StringVar(&f.version, "version", "", "Version to remove (default: the active or latest version)")
	cmd.Flags().StringVar(&f.suffix, "suffix", "", "Suffix of the version to remove")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func newActivateCmd() *cobra.Command {
	var f opFlags
	cmd := &cobra.Command{
		Use:   "activate SERVICE",
		Short: "Point a service at an installed version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := installer.Request{
				Name:     f.pkg,
				Service:  args[0],
				Version:  f.version,
				Suffix:   f.suffix,
				Activate: installer.ActOn,
			}
			return runRequest(cmd, req)
		},
	}
	cmd.Flags().StringVar(&f.pkg, "package", "", "Package the service runs")
	cmd.Flags().StringVar(&f.version, "version", "", "Version to activate")
	cmd.Flags().StringVar(&f.suffix, "suffix", "", "Suffix of the version to activate")
	_ = cmd.MarkFlagRequired("package")
	cmd.MarkFlagsOneRequired("version", "suffix")
	cmd.MarkFlagsMutuallyExclusive("version", "suffix")
	return cmd
}

func newDeactivateCmd() *cobra.Command {
	var f opFlags
	cmd := &cobra.Command{
		Use:   "deactivate SERVICE",
		Short: "Remove a service's activation pointer",
		Args:  cobra.ExactArgs(1),
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

			ref, err := pkgref.New("", args[0], f.version)
			if err != nil {
				return errs.New(errs.ErrInvalidRequest, "parse version").Wrap(err)
			}
			resp := installer.Response{Service: args[0], Group: in.Group, RunID: e.runID}
			if current, ok, err := in.Services.ActiveVersion(args[0]); err != nil {
				return err
			} else if ok {
				resp.PackageVersion = current.String()
			}
			res, err := in.Deactivate(commandContext(cmd), ref)
			if err != nil {
				return err
			}
			resp.Changed = res.Changed
			return writeResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&f.version, "version", "", "Only deactivate when this version is active")
	return cmd
}

// runRequest executes req and writes the response; a failed response
// makes the command fail.
func runRequest(cmd *cobra.Command, req installer.Request) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	in, err := e.installer(installer.Options{})
	if err != nil {
		return err
	}
	return writeResponse(cmd, in.Run(commandContext(cmd), req))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
