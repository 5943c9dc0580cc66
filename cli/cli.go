// Package cli implements the dicomstore command line: a storage SCP, a
// storage SCU, a verification SCU and an index listing.
//
//	dicomstore storescp [--address :11112] [--ae-title STORESCP] [--storage-dir DIR]
//	dicomstore storescu --address HOST:PORT [--called-ae AE] FILE|DIR...
//	dicomstore echoscu --address HOST:PORT [--called-ae AE]
//	dicomstore index [--index PATH]
//
// Every command reads --config (YAML or TOML) and lets flags override it.
// storescu exits 0 when every object was stored, 2 when only some were and 1
// otherwise.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstore/config"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootOptions are the persistent flags of every command.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// BuildCLI creates the root command with all subcommands.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dicomstore",
		Short:         "DICOM storage SCP and SCU",
		Long:          "dicomstore receives DICOM objects over the network into a directory and sends files to remote storage SCPs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML or TOML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(buildStoreSCPCommand(opts))
	root.AddCommand(buildStoreSCUCommand(opts))
	root.AddCommand(buildEchoSCUCommand(opts))
	root.AddCommand(buildIndexCommand(opts))
	return root
}

// Execute runs the command line with os.Args and returns the exit code.
func Execute() int {
	return run(BuildCLI(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(stderr, "Error:", err)

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return ExitFailure
}

// loadConfig reads the config file, or the defaults when none is given, and
// applies the logging flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

// setup loads the configuration, lets apply override it from flags and
// builds the logger.
func (o *rootOptions) setup(cmd *cobra.Command, apply func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
