package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/facecls/internal/batch"
	"github.com/MeKo-Tech/facecls/internal/service"
)

// classifyCmd represents the classify command.
var classifyCmd = &cobra.Command{
	Use:   "classify [images or directories...]",
	Short: "Classify the faces in image files",
	Long: `Classify every face with two visible eyes in one or more images.

Directories are expanded to the supported images they contain
(JPEG, PNG, GIF, BMP, TIFF, WebP). Use --base64 to classify an encoded
image or data URI instead of files.

Examples:
  facecls classify photo.jpg
  facecls classify ./photos --recursive --workers 4 --format csv
  facecls classify --base64 "data:image/png;base64,iVBORw0..."`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		encoded, _ := cmd.Flags().GetString("base64")
		if len(args) == 0 && encoded == "" {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		svc, loader, err := openService(cfg)
		if err != nil {
			return fmt.Errorf("failed to load artifacts: %w", err)
		}
		defer func() { _ = loader.Close() }()

		out, closeOut, err := outputWriter(cmd)
		if err != nil {
			return err
		}
		defer closeOut()

		if encoded != "" {
			results, err := svc.Classify(service.Input{Base64: encoded})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		bcfg := batch.Config{}
		bcfg.Workers, _ = cmd.Flags().GetInt("workers")
		bcfg.Recursive, _ = cmd.Flags().GetBool("recursive")
		bcfg.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
		bcfg.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
		bcfg.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
		if !quiet && (len(args) > 1 || isDir(args[0])) {
			bcfg.Progress = cmd.ErrOrStderr()
		}

		res, err := batch.Process(cmd.Context(), svc, args, bcfg)
		if err != nil {
			return err
		}

		text, err := res.FormatResults(outputFormat(cmd, cfg.Output.Format))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, text+"\n"); err != nil {
			return err
		}

		if stats, _ := cmd.Flags().GetBool("stats"); stats && !quiet {
			res.PrintStats(cmd.ErrOrStderr())
		}
		if n := res.Failed(); n > 0 {
			return fmt.Errorf("%d of %d images failed", n, len(res.Items))
		}
		return nil
	},
}

// outputFormat returns --format when given, else the configured format.
func outputFormat(cmd *cobra.Command, configured string) string {
	if cmd.Flags().Changed("format") || configured == "" {
		format, _ := cmd.Flags().GetString("format")
		return format
	}
	return configured
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// outputWriter returns the --output file or the command's stdout.
func outputWriter(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: output path is a CLI argument
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringP("format", "f", "json", "output format (json, text, csv)")
	classifyCmd.Flags().StringP("output", "o", "", "write results to a file instead of stdout")
	classifyCmd.Flags().String("base64", "", "classify a base64 image or data URI")
	classifyCmd.Flags().IntP("workers", "w", runtime.NumCPU(), "number of images classified concurrently")
	classifyCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	classifyCmd.Flags().StringSlice("include", nil, "only classify files matching these glob patterns")
	classifyCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	classifyCmd.Flags().Bool("continue-on-error", false, "keep going when an image fails")
	classifyCmd.Flags().Bool("stats", false, "print processing statistics to stderr")
	classifyCmd.Flags().BoolP("quiet", "q", false, "suppress progress and statistics")
}
