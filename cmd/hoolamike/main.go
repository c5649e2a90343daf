package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "hoolamike",
	Short: "Installs Wabbajack-compatible modlists onto a Linux host",
	Run: func(command *cobra.Command, arguments []string) {
		command.Help()
	},
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(installCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(2)
	}
}
