package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/TFMV/codeclean/internal/clean"
	"github.com/TFMV/codeclean/internal/logging"
	"github.com/TFMV/codeclean/internal/suppress"
	"github.com/TFMV/codeclean/internal/walk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "0.1.0"

// verboseEnv is the environment variable that turns on per-command echo.
const verboseEnv = "LOG"

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the codeclean command. Each command gets its own
// configuration, so it can be executed more than once in a process.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "codeclean [options] [path]",
		Short: "Clean build artifacts of every project below a directory",
		Long: `codeclean walks a directory tree (the current directory by default), recognizes
project roots by their marker files and runs each project's own clean command:

  Cargo.toml    cargo clean --manifest-path <file>
  Makefile      make clean
  build.ninja   ninja clean
  gradlew       ./gradlew clean
  .git          git gc
  package.json  removes the sibling node_modules directory

Commands run in parallel, at most --jobs at a time. Set LOG=1 to echo every command.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := ""
			if len(args) > 0 {
				root = args[0]
			} else {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get current directory: %w", err)
				}
				root = wd
			}
			return runClean(cmd, v, root)
		},
	}

	// Flags
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.codeclean.yaml)")
	rootCmd.Flags().IntP("jobs", "j", clean.DefaultJobs, "Maximum number of clean commands running at once")
	rootCmd.Flags().String("log-level", "error", "Internal log level (error|warn|info|debug)")
	rootCmd.Flags().StringSlice("ignore", walk.DefaultIgnore, "Directory names never descended into (comma-separated); node_modules is always skipped")
	rootCmd.Flags().StringSlice("suppress", suppress.DefaultRules, "Diagnostics of failed commands that are not reported (comma-separated substrings)")
	rootCmd.Flags().Bool("include-hidden", false, "Descend into hidden directories")

	// Bind flags to viper
	v.BindPFlag("jobs", rootCmd.Flags().Lookup("jobs"))
	v.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	v.BindPFlag("ignore", rootCmd.Flags().Lookup("ignore"))
	v.BindPFlag("suppress", rootCmd.Flags().Lookup("suppress"))
	v.BindPFlag("include-hidden", rootCmd.Flags().Lookup("include-hidden"))

	v.BindEnv("log", verboseEnv)
	v.SetEnvPrefix("CODECLEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return rootCmd
}

// initConfig reads in config file if set or present in the home directory.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory, no config file.
		return nil
	}

	// Search config in home directory with name ".codeclean" (without extension).
	v.AddConfigPath(home)
	v.SetConfigType("yaml")
	v.SetConfigName(".codeclean")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func runClean(cmd *cobra.Command, v *viper.Viper, root string) error {
	jobs := v.GetInt("jobs")
	if jobs < 1 {
		return fmt.Errorf("invalid jobs value: %d (must be at least 1)", jobs)
	}

	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	logger := logging.New(level)
	defer logger.Sync()

	if file := v.ConfigFileUsed(); file != "" {
		logger.Info("using config file", zap.String("file", file))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = clean.Run(ctx, root, clean.Options{
		Jobs:          jobs,
		Verbose:       verboseEnabled(v.GetString("log")),
		Ignore:        v.GetStringSlice("ignore"),
		IncludeHidden: v.GetBool("include-hidden"),
		Suppress:      v.GetStringSlice("suppress"),
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
		Logger:        logger,
	})
	return err
}

// verboseEnabled accepts "1" and "true"; anything else keeps output terse.
func verboseEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true":
		return true
	default:
		return false
	}
}
