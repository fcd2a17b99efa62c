package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/absmach/flock/pkg/sdk"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var fsdk sdk.SDK

func SetFlockSDK(s sdk.SDK) {
	fsdk = s
}

func NewFederationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "federation [status|history|clients|checkpoint]",
		Short: "Federation inspection",
		Long:  `Inspect the coordinator's run state, round history, clients and checkpoints.`,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Run status",
		Long:  `Show the coordinator's current run state.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			st, err := fsdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Round history",
		Long:  `Show the per-round records of the run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			hist, err := fsdk.History()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, hist)
		},
	}

	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "List clients",
		Long:  `List the connected training clients.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.Clients(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint <round>",
		Short: "View checkpoint",
		Long:  `Fetch the global parameters saved after the given round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cp, err := fsdk.Checkpoint(round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, cp)
		},
	}

	clientsCmd.Flags().Uint64VarP(&defOffset, "offset", "o", defOffset, "Offset into the client list")
	clientsCmd.Flags().Uint64VarP(&defLimit, "limit", "l", defLimit, "Maximum number of clients to list")

	cmd.AddCommand(statusCmd)
	cmd.AddCommand(historyCmd)
	cmd.AddCommand(clientsCmd)
	cmd.AddCommand(checkpointCmd)

	return cmd
}
