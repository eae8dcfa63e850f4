// internal/cli/uninstall.go
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arc-language/winpkg"
	"github.com/arc-language/winpkg/pkg/core"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall [package...]",
	Aliases: []string{"remove"},
	Short:   "Uninstall one or more packages",
	Long: `Uninstall packages with winget and confirm they are gone.

Examples:
  winpkg uninstall Git.Git
  winpkg uninstall git vlc`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUninstall,
}

func runUninstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	m, done, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer done()

	failed := 0
	for _, arg := range args {
		ref, err := core.ParsePackageRef(arg)
		if err != nil || ref.Version != "" {
			fmt.Fprintf(out, "✗ invalid package %q\n", arg)
			failed++
			continue
		}

		fmt.Fprintf(out, "\nUninstalling %s...\n", ref)
		res, err := m.Uninstall(ctx, ref.Identity(), progressPrinter(out))
		if err != nil {
			if winpkg.IsCancelled(err) {
				fmt.Fprintln(out, color.YellowString("! Cancelled %s", ref))
			}
			return fmt.Errorf("uninstall %s: %w", ref, err)
		}
		if !report(out, ref.String(), res) {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d packages failed", failed, len(args))
	}
	return nil
}
