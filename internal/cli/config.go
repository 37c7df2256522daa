package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"packager/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the host configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration in YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report problems",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	if len(data) == 0 || data[len(data)-1] != '\n' {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	results := cfg.Validate()
	if outputJSON {
		if results == nil {
			results = []config.ValidationResult{}
		}
		if err := writeJSON(cmd.OutOrStdout(), "validation", results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Level, r.Message)
		}
		if len(results) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		}
	}
	if config.HasErrors(results) {
		return errReported
	}
	return nil
}
