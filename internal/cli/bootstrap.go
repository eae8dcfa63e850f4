// internal/cli/bootstrap.go
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arc-language/winpkg"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Manage the App Installer that provides winget",
}

var bootstrapEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Check that winget is usable and warm up the native API",
	RunE: bootstrapStep("winget is ready", winpkg.ErrNotReady, func(cmd *cobra.Command, m *winpkg.Manager) bool {
		return m.EnsureReady(cmd.Context())
	}),
}

var bootstrapInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register or install the App Installer",
	RunE: bootstrapStep("App Installer installed", errors.New("App Installer installation failed"), func(cmd *cobra.Command, m *winpkg.Manager) bool {
		return m.Bootstrap(cmd.Context())
	}),
}

var bootstrapUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the App Installer with the bundled winget",
	RunE: bootstrapStep("App Installer is up to date", errors.New("App Installer upgrade failed"), func(cmd *cobra.Command, m *winpkg.Manager) bool {
		return m.Upgrade(cmd.Context())
	}),
}

var bootstrapStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the host, winget and native API state",
	RunE:  runBootstrapStatus,
}

func init() {
	bootstrapCmd.AddCommand(bootstrapEnsureCmd)
	bootstrapCmd.AddCommand(bootstrapInstallCmd)
	bootstrapCmd.AddCommand(bootstrapUpgradeCmd)
	bootstrapCmd.AddCommand(bootstrapStatusCmd)
}

func bootstrapStep(okMsg string, failErr error, step func(*cobra.Command, *winpkg.Manager) bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		if !step(cmd, m) {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			return failErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓ %s", okMsg))
		return nil
	}
}

func runBootstrapStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	m, done, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer done()

	st, err := m.Status(cmd.Context())
	if st != nil {
		printStatus(out, st)
	}
	return err
}

func printStatus(out io.Writer, st *winpkg.Status) {
	if st.Platform != nil {
		fmt.Fprintf(out, "Platform: %s\n", st.Platform)
	}
	if st.Executable == "" {
		fmt.Fprintf(out, "winget: %s\n", color.RedString("not found"))
	} else {
		fmt.Fprintf(out, "winget: %s", st.Executable)
		if st.Version != "" {
			fmt.Fprintf(out, " (v%s)", st.Version)
		}
		fmt.Fprintln(out)
	}

	native := color.YellowString("not initialized")
	switch {
	case st.Native.TimedOut:
		native = color.RedString("timed out")
	case st.Native.Initialized:
		native = color.GreenString("ready")
	}
	fmt.Fprintf(out, "Native API: %s (attempts: %d)\n", native, st.Native.Attempts)
}
