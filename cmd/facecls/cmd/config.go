package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/facecls/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging defaults, the config file,
FACECLS_ environment variables and flags. The output is a valid facecls.yaml.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(GetConfig())
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathsCmd = &cobra.Command{
	Use:          "paths",
	Short:        "List the directories searched for facecls.yaml",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if used := configLoader.GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nUsing: %s\n", used)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathsCmd)
}
