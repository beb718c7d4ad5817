package main

import (
	"os"

	"github.com/spf13/cobra"

	"raptorcast/cmd/receiver"
	"raptorcast/cmd/sender"
	"raptorcast/cmd/simulate"
)

var rootCmd = &cobra.Command{
	Use:   "raptorcast",
	Short: "Fountain-coded block transfer over UDP with carrier-sense access",
}

func init() {
	rootCmd.AddCommand(sender.SenderCmd)
	rootCmd.AddCommand(receiver.ReceiverCmd)
	rootCmd.AddCommand(simulate.SimulateCmd)
}

func main() {
	// cobra уже напечатал ошибку и usage
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
