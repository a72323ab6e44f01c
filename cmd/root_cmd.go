// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xataio/relnorm/cmd/config"
	"github.com/xataio/relnorm/internal/profiling"
	"github.com/xataio/relnorm/pkg/otel"
)

// Version is the relnorm version
var (
	Version = "development"
	Env     string
)

func Prepare() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relnorm",
		Short:        "relnorm extracts json documents into load packages and normalizes them into relational tables",
		SilenceUsage: true,
		Version:      version(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			return nil
		},
	}

	// keys already carry the RELNORM_ prefix, so no env prefix is set
	viper.AutomaticEnv()

	// Flag definition

	// root cmd
	rootCmd.PersistentFlags().StringP("config", "c", "", ".env or .yaml config file to use with relnorm if any")
	rootCmd.PersistentFlags().String("log-level", "info", "log level for the application. One of trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().Bool("log-json", false, "Whether to write the logs as json instead of the console format")
	rootCmd.PersistentFlags().String("storage-dir", "", "Directory holding the load packages and, unless configured otherwise, the schemas. Defaults to .relnorm")

	// extract cmd
	inputFlags(extractCmd)

	// normalize cmd
	normalizeCmd.Flags().String("load-id", "", "Load to normalize. Defaults to the most recent load")
	normalizeCmd.Flags().Uint("workers", 0, "Number of workers normalizing the extracted files of a schema in parallel")
	normalizeCmd.Flags().Bool("progress", false, "Whether to show a progress bar while normalizing")
	normalizeCmd.Flags().Bool("profile", false, "Whether to produce CPU and memory profile files")

	// run cmd
	inputFlags(runCmd)
	runCmd.Flags().Uint("workers", 0, "Number of workers normalizing the extracted files of a schema in parallel")
	runCmd.Flags().Bool("progress", false, "Whether to show progress bars while extracting and normalizing")
	runCmd.Flags().Bool("profile", false, "Whether to produce CPU and memory profile files")

	// status cmd
	statusCmd.Flags().Bool("json", false, "Output the status in JSON format")

	// validate cmd
	// validate schema cmd
	validateSchemaCmd.Flags().StringP("file", "f", "", "Path to a schema yaml file to validate")
	validateSchemaCmd.Flags().Bool("json", false, "Output the validation status in JSON format")
	validateCmd.AddCommand(validateSchemaCmd)
	// validate config cmd
	validateConfigCmd.Flags().Bool("json", false, "Output the validation status in JSON format")
	validateCmd.AddCommand(validateConfigCmd)

	// Flag binding for root cmd
	rootFlagBinding(rootCmd)

	// register subcommands
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	return rootCmd
}

// Execute executes the root command.
func Execute() error {
	cmd := Prepare()
	return cmd.Execute()
}

func inputFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("input", "i", nil, "Json (one document per file) or jsonl (one document per line) files to extract. Use - to read a json document from stdin")
	cmd.Flags().StringP("resource", "r", "", "Resource receiving the items of the input files. Can be omitted when a single resource is configured")
	cmd.Flags().String("items-path", "", "Dotted path of the items list inside each document, overriding the resource configuration")
}

func withSignalWatcher(fn func(ctx context.Context) error) func(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		<-sigc
		cancel()
	}()

	return func(cmd *cobra.Command, args []string) error {
		defer cancel()
		return fn(ctx)
	}
}

func withProfiling(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) (err error) {
	return func(cmd *cobra.Command, args []string) (err error) {
		if !boolFlag(cmd.Flags(), "profile") {
			return fn(cmd, args)
		}

		profile, err := profiling.Start("")
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, profile.Stop())
		}()

		return fn(cmd, args)
	}
}

// boolFlag reports whether the bool flag is set to true. Unknown flags are
// false.
func boolFlag(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Value.String() == "true"
}

func rootFlagBinding(cmd *cobra.Command) {
	viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("RELNORM_LOG_LEVEL", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("RELNORM_LOG_JSON", cmd.PersistentFlags().Lookup("log-json"))
	// the flag takes precedence over both the yaml and the env configuration
	viper.BindPFlag("pipeline.storage_dir", cmd.PersistentFlags().Lookup("storage-dir"))
	viper.BindPFlag("RELNORM_STORAGE_DIR", cmd.PersistentFlags().Lookup("storage-dir"))
}

func version() string {
	if Env != "" {
		return Env + " (" + Version + ")"
	}
	return Version
}

func newInstrumentationProvider() (otel.InstrumentationProvider, error) {
	cfg, err := config.ParseInstrumentationConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing instrumentation config: %w", err)
	}

	p, err := otel.NewInstrumentationProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialisating instrumentation provider: %w", err)
	}
	return p, nil
}
