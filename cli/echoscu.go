package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomstore/client"
	"github.com/caio-sobreiro/dicomstore/config"
	"github.com/caio-sobreiro/dicomstore/types"
)

func buildEchoSCUCommand(opts *rootOptions) *cobra.Command {
	var flags scuFlags

	cmd := &cobra.Command{
		Use:   "echoscu",
		Short: "Verify connectivity to a remote SCP with C-ECHO",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd, func(cfg *config.Config) {
				flags.apply(cmd, cfg)
			})
			if err != nil {
				return err
			}
			clientCfg, err := clientConfig(cfg, logger)
			if err != nil {
				return err
			}

			rsp, err := client.Echo(cmd.Context(), cfg.SCU.Address, clientCfg)
			if err != nil {
				return err
			}
			class := types.ClassifyStatus(rsp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s@%s: status 0x%04X (%s)\n",
				cfg.SCU.CalledAETitle, cfg.SCU.Address, rsp.Status, class)
			if class != types.StatusClassSuccess {
				return fmt.Errorf("C-ECHO returned status 0x%04X", rsp.Status)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
