package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstore/config"
	"github.com/caio-sobreiro/dicomstore/storage"
)

func buildIndexCommand(opts *rootOptions) *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "List the objects recorded in the storage index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.setup(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("index") {
					cfg.SCP.IndexPath = indexPath
				}
			})
			if err != nil {
				return err
			}
			if cfg.SCP.IndexPath == "" {
				return fmt.Errorf("no index configured (set scp.index_path or --index)")
			}

			index, err := storage.OpenIndex(cfg.SCP.IndexPath)
			if err != nil {
				return err
			}
			defer index.Close()

			records, err := index.List()
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "Path to the index database")
	return cmd
}

func printRecords(out io.Writer, records []storage.Record) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOP INSTANCE UID\tSOP CLASS UID\tCALLING AE\tSIZE\tRECEIVED\tPATH")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.SOPInstanceUID, r.SOPClassUID, r.CallingAETitle, r.Size,
			r.ReceivedAt.Format(time.RFC3339), r.Path)
	}
	fmt.Fprintf(w, "%d objects\n", len(records))
	_ = w.Flush()
}
