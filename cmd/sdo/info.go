package main

import (
	"context"
	"fmt"

	"github.com/samsamfire/gosdo/pkg/network"
	"github.com/spf13/cobra"
)

type nodeInfo struct {
	Node            uint8  `json:"node" yaml:"node"`
	DeviceType      string `json:"device_type" yaml:"device_type"`
	VendorId        string `json:"vendor_id" yaml:"vendor_id"`
	ProductCode     string `json:"product_code" yaml:"product_code"`
	RevisionNumber  string `json:"revision_number" yaml:"revision_number"`
	SerialNumber    string `json:"serial_number" yaml:"serial_number"`
	DeviceName      string `json:"device_name" yaml:"device_name"`
	HardwareVersion string `json:"hardware_version" yaml:"hardware_version"`
	SoftwareVersion string `json:"software_version" yaml:"software_version"`
}

var infoCmd = &cobra.Command{
	Use:   "info <node-id>",
	Short: "Show identity and manufacturer information of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeId, err := parseNodeId(args[0])
		if err != nil {
			return err
		}
		return withNetwork(cmd, func(ctx context.Context, net *network.Network) error {
			configurator := net.Configurator(nodeId)
			identity, err := configurator.ReadIdentity(ctx)
			if err != nil {
				return fmt.Errorf("failed to read identity: %w", err)
			}
			deviceType, _ := configurator.ReadDeviceType(ctx)
			manufacturer := configurator.ReadManufacturerInformation(ctx)
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(nodeInfo{
				Node:            nodeId,
				DeviceType:      fmt.Sprintf("0x%08X", deviceType),
				VendorId:        fmt.Sprintf("0x%08X", identity.VendorId),
				ProductCode:     fmt.Sprintf("0x%08X", identity.ProductCode),
				RevisionNumber:  fmt.Sprintf("0x%08X", identity.RevisionNumber),
				SerialNumber:    fmt.Sprintf("0x%08X", identity.SerialNumber),
				DeviceName:      manufacturer.ManufacturerDeviceName,
				HardwareVersion: manufacturer.ManufacturerHardwareVersion,
				SoftwareVersion: manufacturer.ManufacturerSoftwareVersion,
			}))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
