package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/facecls/internal/labels"
)

// labelsCmd prints the class dictionary without opening the model.
var labelsCmd = &cobra.Command{
	Use:          "labels",
	Short:        "Print the class dictionary",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()
		path := cfg.ToArtifactsConfig().Paths().Labels
		dict, err := labels.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load class dictionary %s: %w", path, err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(dict.Map())
		}
		for _, index := range dict.Indices() {
			name, _ := dict.Name(index)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", index, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
	labelsCmd.Flags().Bool("json", false, "print the dictionary as JSON")
}
