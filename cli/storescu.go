package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/client"
	"github.com/caio-sobreiro/dicomstore/config"
)

// scuFlags are the connection flags shared by storescu and echoscu.
type scuFlags struct {
	address   string
	calledAE  string
	callingAE string
}

func (f *scuFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Remote SCP address host:port")
	cmd.Flags().StringVar(&f.calledAE, "called-ae", "", "AE title of the remote SCP")
	cmd.Flags().StringVar(&f.callingAE, "calling-ae", "", "AE title of this SCU")
}

func (f *scuFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("address") {
		cfg.SCU.Address = f.address
	}
	if cmd.Flags().Changed("called-ae") {
		cfg.SCU.CalledAETitle = f.calledAE
	}
	if cmd.Flags().Changed("calling-ae") {
		cfg.SCU.AETitle = f.callingAE
	}
}

// clientConfig maps the SCU section onto the client package.
func clientConfig(cfg *config.Config, logger *slog.Logger) (client.Config, error) {
	tlsConfig, err := cfg.TLS.Client()
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		CallingAETitle:                 cfg.SCU.AETitle,
		CalledAETitle:                  cfg.SCU.CalledAETitle,
		MaxPDULength:                   cfg.SCU.MaxPDULength,
		ConnectTimeout:                 cfg.SCU.ConnectTimeout,
		Timeouts:                       association.Timeouts{Release: cfg.SCU.ReleaseTimeout},
		TLSConfig:                      tlsConfig,
		Logger:                         logger,
		SeparateTransferSyntaxContexts: cfg.SCU.SeparateTransferSyntaxContexts,
		Concurrency:                    cfg.SCU.Concurrency,
	}, nil
}

func buildStoreSCUCommand(opts *rootOptions) *cobra.Command {
	var (
		flags    scuFlags
		separate bool
	)

	cmd := &cobra.Command{
		Use:   "storescu FILE|DIR...",
		Short: "Send DICOM Part 10 files to a storage SCP",
		Long: `Send DICOM Part 10 files over one association. Directories are walked
recursively. One presentation context is proposed per SOP class, or per SOP
class and transfer syntax with --separate-contexts.

Exit status is 0 when every object was stored, 2 when some were and 1 when
none were.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd, func(cfg *config.Config) {
				flags.apply(cmd, cfg)
				if cmd.Flags().Changed("separate-contexts") {
					cfg.SCU.SeparateTransferSyntaxContexts = separate
				}
			})
			if err != nil {
				return err
			}

			paths, err := collectFiles(args)
			if err != nil {
				return err
			}
			return runStoreSCU(cmd.Context(), cmd.OutOrStdout(), cfg, logger, paths)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&separate, "separate-contexts", false, "Propose one presentation context per SOP class and transfer syntax")
	return cmd
}

func runStoreSCU(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, paths []string) error {
	clientCfg, err := clientConfig(cfg, logger)
	if err != nil {
		return err
	}

	objects := make([]client.Object, len(paths))
	for i, path := range paths {
		objects[i] = client.FileObject(path)
	}

	result, err := client.NewStorageSCU(clientCfg).Send(ctx, cfg.SCU.Address, objects)
	if result != nil {
		printSendResult(out, result)
	}
	if err != nil {
		return &exitError{code: ExitFailure, err: err}
	}

	sent := result.Count(client.OutcomeSent)
	switch {
	case result.AllSent():
		return nil
	case sent > 0:
		return &exitError{
			code: ExitPartial,
			err:  fmt.Errorf("%d of %d objects not stored: %w", len(result.Files)-sent, len(result.Files), result.Err()),
		}
	default:
		return &exitError{code: ExitFailure, err: fmt.Errorf("no objects stored: %w", result.Err())}
	}
}

func printSendResult(out io.Writer, result *client.SendResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tOUTCOME\tSTATUS\tCONTEXT")
	for _, f := range result.Files {
		fmt.Fprintf(w, "%s\t%s\t0x%04X\t%d\n", f.Name, f.Outcome, f.Status, f.ContextID)
	}
	_ = w.Flush()
}

// collectFiles expands directories into the regular files below them. Files
// named directly are kept in argument order.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to send")
	}
	return paths, nil
}
