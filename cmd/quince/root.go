package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is the main command for the 'quince' binary.
var RootCmd = &cobra.Command{
	Use:   "quince",
	Short: "quince is a QUIC transport engine client and server",
	Long:  "quince is a QUIC transport engine client and server",
}

func init() {
	RootCmd.AddCommand(clientCmd)
	RootCmd.AddCommand(serverCmd)
}

func parseLogLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
