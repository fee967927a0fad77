package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// GetInstanceCmd returns the instance command group
func GetInstanceCmd() *cobra.Command {
	return instanceCmd
}

func init() {
	instanceCmd.AddCommand(instanceStatusCmd)
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Inspect the rented GPU instance",
}

var instanceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the GPU instance's status and slot usage",
	RunE: func(_ *cobra.Command, _ []string) error {
		data, err := apiClient.GetInstance(context.Background())
		if err != nil {
			return fmt.Errorf("error fetching instance status: %w", err)
		}
		return prettyPrint(data)
	},
}
