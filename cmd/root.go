/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information
var (
	gitSHA1  = "unknown"
	gitDirty = "unknown"
)

// SetVersionInfo sets the version information from main
func SetVersionInfo(sha, dirty string) {
	gitSHA1 = sha
	gitDirty = dirty
}

func printVersion(command string) {
	fmt.Printf("mako-benchmark %s\n", command)
	fmt.Printf("Git Commit: %s", gitSHA1)
	if gitDirty != "0" && gitDirty != "unknown" {
		fmt.Printf(" (dirty)")
	}
	fmt.Printf("\n")
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including git commit hash",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("")
	},
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mako-benchmark",
	Short: "Transactional key-value benchmark driven by operation mixes",
	Long: `mako-benchmark populates a transactional key-value store with a fixed keyspace and
then runs paced transactions built from an operation mix such as "g9u1" (nine reads and
one read-modify-write per transaction) against it, reporting throughput, conflicts,
retries and per-operation latency.

Options can be given as flags, in a config file (--config) or as MAKO_* environment
variables, e.g. MAKO_TEST_DURATION=60s.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// Check for --version flag
		if version, _ := cmd.Flags().GetBool("version"); version {
			printVersion("")
			return
		}
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (yaml, toml or json) with option values keyed by flag name")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.String("log-format", "console", "Log format: console or json")

	viper.SetEnvPrefix("MAKO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags makes every flag of cmd readable through viper so that config
// file and environment values apply when the flag is not set explicitly.
func bindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	return loadConfigFile(viper.GetString("config"))
}

func loadConfigFile(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "expanding config path")
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "config file %q", path)
	}
	if info.IsDir() {
		return errors.Newf("config file %q is a directory", path)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %q", path)
	}
	return nil
}

// newLogger builds the structured event logger from --verbose and --log-format.
func newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if viper.GetBool("verbose") {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	switch format := viper.GetString("log-format"); format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	default:
		return nil, errors.Newf("invalid log format %q, must be console or json", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
