package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/samsamfire/gosdo/internal/output"
	"github.com/samsamfire/gosdo/pkg/config"
	"github.com/samsamfire/gosdo/pkg/network"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	canInterface string
	channel      string
	bitrate      int
	timeout      time.Duration
	logLevel     string

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	formatter output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "sdo",
	Short: "Access CANopen object dictionaries over SDO",
	Long: `sdo reads and writes entries of remote CANopen nodes using expedited
and segmented SDO transfers. It can also serve a local object dictionary
so that other clients on the bus can access it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		} else {
			cfg = config.Default()
		}

		// Flags take precedence over the config file
		flags := cmd.Flags()
		if flags.Changed("interface") {
			cfg.Bus.Interface = canInterface
		}
		if flags.Changed("channel") {
			cfg.Bus.Channel = channel
		}
		if flags.Changed("bitrate") {
			cfg.Bus.Bitrate = bitrate
		}
		if flags.Changed("timeout") {
			if timeout <= 0 {
				return fmt.Errorf("invalid timeout %v", timeout)
			}
			cfg.SDO.Timeout = timeout
		}
		if flags.Changed("log-level") {
			cfg.Log.Level, err = log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
		}
		log.SetLevel(cfg.Log.Level)
		log.SetOutput(cmd.ErrOrStderr())

		formatter, err = output.NewFormatter(outputFormat)
		return err
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Connect to the configured bus and run fn
func withNetwork(cmd *cobra.Command, fn func(ctx context.Context, net *network.Network) error) error {
	net := network.NewNetwork(nil)
	net.SetTimeout(cfg.SDO.Timeout)
	net.SetSendTimeout(cfg.SDO.SendTimeout)
	if err := net.Connect(cfg.Bus.Interface, cfg.Bus.Channel, cfg.Bus.Bitrate); err != nil {
		return fmt.Errorf("failed to connect to %v %v: %w", cfg.Bus.Interface, cfg.Bus.Channel, err)
	}
	defer net.Disconnect()
	return fn(cmd.Context(), net)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "ini configuration file")
	flags.StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, yaml")
	flags.StringVarP(&canInterface, "interface", "i", config.DefaultInterface, "CAN interface type e.g. socketcan, socketcanv2, virtual")
	flags.StringVarP(&channel, "channel", "c", config.DefaultChannel, "CAN channel e.g. can0, vcan0")
	flags.IntVarP(&bitrate, "bitrate", "b", config.DefaultBitrate, "CAN bitrate")
	flags.DurationVar(&timeout, "timeout", 0, "SDO response timeout (default from config)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
