// internal/cli/list.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listAliases bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long:  `List the identifiers of every package winget reports as installed.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listAliases, "aliases", false, "list registry aliases instead")
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	m, done, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer done()

	if listAliases {
		names, err := m.Aliases()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintf(out, "  %s\n", name)
		}
		return nil
	}

	ids, err := m.DetectInstalled(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting installed packages: %w", err)
	}

	fmt.Fprintf(out, "Installed packages (%d):\n", ids.Len())
	for _, id := range ids.IDs() {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}
