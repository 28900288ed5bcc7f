package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Subscriber insight service",
	Long:  `Consolidates behavioral signals, classifies premium demand trends and runs campaign simulations`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
