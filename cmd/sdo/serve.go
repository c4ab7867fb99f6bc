package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samsamfire/gosdo/pkg/network"
	"github.com/samsamfire/gosdo/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var edsPath string

var serveCmd = &cobra.Command{
	Use:   "serve <node-id>",
	Short: "Serve an object dictionary until interrupted",
	Long: `Serve exposes an object dictionary through an SDO server with the given
node id. Without --eds a default dictionary is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeId, err := parseNodeId(args[0])
		if err != nil {
			return err
		}
		dict := od.DefaultForNode(nodeId)
		if edsPath != "" {
			dict, err = od.Parse(edsPath, nodeId)
			if err != nil {
				return fmt.Errorf("failed to load %v: %w", edsPath, err)
			}
		}
		return withNetwork(cmd, func(ctx context.Context, net *network.Network) error {
			if err := net.Serve(nodeId, dict); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log.Infof("serving node x%x on %v %v, %d entries", nodeId, cfg.Bus.Interface, cfg.Bus.Channel, len(dict.Indexes()))
			<-ctx.Done()
			log.Info("stopping")
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&edsPath, "eds", "", "EDS file describing the served dictionary")
	rootCmd.AddCommand(serveCmd)
}
