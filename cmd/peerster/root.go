package main

import (
	"os"

	"github.com/spf13/cobra"

	"rmeyers/peerster/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "peerster",
	Short: "Peer-to-peer gossip node",
	Long:  `A peer-to-peer node exchanging chat, routes, files and DHT membership over UDP gossip.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}
