package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flocklab/flocknet/aqm"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available AQM strategies",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Println("Available strategies:")
		for _, name := range aqm.List() {
			fmt.Printf("  %s\n", name)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
