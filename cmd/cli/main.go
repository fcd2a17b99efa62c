package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/absmach/flock/cli"
	"github.com/absmach/flock/pkg/sdk"
)

var (
	coordinatorURL  = "http://localhost:9090"
	tlsVerification = false
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flock-cli",
		Short: "Flock CLI",
		Long:  `Flock CLI is a command line interface for inspecting a flock coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetFlockSDK(s)
		},
	}

	rootCmd.PersistentFlags().StringVarP(
		&coordinatorURL,
		"coordinator-url",
		"u",
		coordinatorURL,
		"Coordinator HTTP API URL",
	)

	federationCmd := cli.NewFederationCmd()

	rootCmd.AddCommand(federationCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
