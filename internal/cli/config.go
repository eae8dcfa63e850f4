// internal/cli/config.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-language/winpkg/pkg/core"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration, flags included, to a file",
	Long: `Write the effective configuration to path, or to the --config file when
no path is given. Values from flags and environment variables are included.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = core.DefaultConfigPath()
		}
		if err := core.SaveConfig(config, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSaveCmd)
}
