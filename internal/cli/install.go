// internal/cli/install.go
package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arc-language/winpkg"
	"github.com/arc-language/winpkg/pkg/core"
)

var (
	installVersion string
	installSource  string
)

var installCmd = &cobra.Command{
	Use:   "install [package...]",
	Short: "Install one or more packages",
	Long: `Install packages with winget. A package is a winget identifier or an
alias from the registry directory, optionally qualified as source:id@version.

Examples:
  winpkg install Git.Git
  winpkg install git --version=2.44.0
  winpkg install msstore:9NBLGGH4NNS1 Mozilla.Firefox`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installVersion, "version", "", "specific version to install")
	installCmd.Flags().StringVar(&installSource, "source", "", "winget source to install from")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	m, done, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer done()

	if !m.EnsureReady(ctx) {
		fmt.Fprintln(out, color.YellowString("winget was not found; run 'winpkg bootstrap install' first"))
	}

	failed := 0
	for _, arg := range args {
		ref, err := core.ParsePackageRef(arg)
		if err != nil {
			fmt.Fprintln(out, color.RedString("✗ %v", err))
			failed++
			continue
		}
		if ref.Version == "" {
			ref.Version = installVersion
		}
		if ref.Source == "" {
			ref.Source = installSource
		}

		fmt.Fprintf(out, "\nInstalling %s...\n", ref)
		res, err := m.Install(ctx, ref.Identity(), ref.Options(), progressPrinter(out))
		if err != nil {
			if winpkg.IsCancelled(err) {
				fmt.Fprintln(out, color.YellowString("! Cancelled %s", ref))
			}
			return fmt.Errorf("install %s: %w", ref, err)
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

// progressPrinter prints each new status line with its percentage.
func progressPrinter(out io.Writer) winpkg.ProgressCallback {
	var (
		mu   sync.Mutex
		last string
	)
	return func(p winpkg.Progress) {
		if p.Status == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if p.Status == last {
			return
		}
		last = p.Status
		fmt.Fprintf(out, "  [%3.0f%%] %s\n", p.Percent, p.Status)
	}
}

// report prints the outcome of one operation and reports success.
func report(out io.Writer, name string, res winpkg.OperationResult) bool {
	if !res.Success {
		fmt.Fprintln(out, color.RedString("✗ Failed %s: %s (%s)", name, res.Message, res.FailureReason))
		return false
	}
	fmt.Fprintln(out, color.GreenString("✓ %s", res.Message))
	return true
}
