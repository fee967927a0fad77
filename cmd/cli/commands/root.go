// Package commands implements the clipforge CLI subcommands
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// flag names
const (
	flagServerAddress = "server-address"
)

// environment variable names
const (
	envServerAddress = "CLIPFORGE_SERVER_ADDRESS"
)

// DefaultBaseURL is the API address used when neither flag nor env is set
const DefaultBaseURL = "http://localhost:8080"

var (
	// apiClient is the shared API client instance
	apiClient *Client
	// serverAddress holds the target API server address. Flag parsing sets this.
	serverAddress string
)

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", DefaultBaseURL, "Address of the clipforge API server (env: CLIPFORGE_SERVER_ADDRESS)")

	RootCmd.AddCommand(GetJobsCmd())
	RootCmd.AddCommand(GetInstanceCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "clipforge",
	Short: "clipforge CLI - a command line interface for the clipforge API",
	Long:  `clipforge CLI is a command line tool for submitting and managing video cut and upscale jobs through the clipforge API.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed(flagServerAddress) {
			if envAddr := os.Getenv(envServerAddress); envAddr != "" {
				serverAddress = envAddr
			}
		}
		if serverAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		apiClient = NewClient(serverAddress)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}
