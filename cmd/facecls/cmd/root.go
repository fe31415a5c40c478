package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/config"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration, loaded after flag parsing.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string

	// artifactOptions customizes how artifacts are opened. Tests swap the
	// model and detector openers.
	artifactOptions []artifacts.Option
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "facecls",
	Short: "Face classification with Haar wavelet features",
	Long: `facecls finds faces with two visible eyes in an image, turns each face into a
Haar wavelet feature vector and classifies it with a pre-trained model.

Examples:
  facecls classify photo.jpg
  facecls classify ./photos --recursive --format csv
  facecls features photo.jpg --format csv
  facecls serve --port 8080`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if v, _ := cmd.PersistentFlags().GetBool("version"); v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/facecls, /etc/facecls)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("artifacts-dir", artifacts.DefaultDir,
		"directory containing class_dictionary.json, the model and the cascades (env FACECLS_ARTIFACTS_DIR)")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("artifacts_dir", rootCmd.PersistentFlags().Lookup("artifacts-dir"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		setupLogging(cmd, globalConfig)
		return nil
	}
}

// initConfig reads the config file, FACECLS_ variables and bound flags.
func initConfig() error {
	configLoader = config.NewLoader()

	cfg, err := configLoader.LoadWithFile(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	globalConfig = cfg
	return nil
}

// setupLogging installs a JSON slog handler on stderr so that stdout stays
// reserved for command output.
func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			cfg := config.DefaultConfig()
			return &cfg
		}
	}
	return globalConfig
}

// openService loads the artifacts named by cfg and builds a Service over
// them. The caller closes the returned loader.
func openService(cfg *config.Config) (*service.Service, *artifacts.Loader, error) {
	loader := artifacts.NewLoader(cfg.ToArtifactsConfig(), artifactOptions...)
	svc, err := buildService(loader, cfg)
	if err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	return svc, loader, nil
}
