// internal/cli/info.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [package]",
	Short: "Show information about a package",
	Long:  `Resolve a package name and report its installer technology.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	m, done, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer done()

	pkg, err := m.Resolve(args[0])
	if err != nil {
		return err
	}
	kind, err := m.GetInstallerType(cmd.Context(), pkg.ID)
	if err != nil {
		return fmt.Errorf("getting installer type: %w", err)
	}
	if kind == "" {
		kind = "unknown"
	}

	// Display info
	fmt.Fprintf(out, "Package: %s\n", pkg.ID)
	if pkg.DisplayName != "" {
		fmt.Fprintf(out, "Name: %s\n", pkg.DisplayName)
	}
	if pkg.Source != "" {
		fmt.Fprintf(out, "Source: %s\n", pkg.Source)
	}
	fmt.Fprintf(out, "Installer Type: %s\n", kind)
	return nil
}
