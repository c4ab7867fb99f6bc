package main

import (
	"context"
	"fmt"

	"github.com/samsamfire/gosdo/pkg/network"
	"github.com/spf13/cobra"
)

var writeType string

var writeCmd = &cobra.Command{
	Use:   "write <node-id> <index> <subindex> <value>",
	Short: "Write an entry of a remote node",
	Example: `  sdo write 0x10 0x1017 0 1000 --type u16
  sdo write 0x10 0x2000 0 deadbeef`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeId, index, subindex, err := parseAddress(args[:3])
		if err != nil {
			return err
		}
		dataType, err := parseDataType(writeType)
		if err != nil {
			return err
		}
		data, err := encodeValue(args[3], dataType)
		if err != nil {
			return fmt.Errorf("invalid %v value %q: %w", writeType, args[3], err)
		}
		return withNetwork(cmd, func(ctx context.Context, net *network.Network) error {
			if err := net.Write(ctx, nodeId, index, subindex, data); err != nil {
				return fmt.Errorf("failed to write x%x:x%x: %w", index, subindex, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(newEntryOutput(nodeId, index, subindex, writeType, args[3])))
			return nil
		})
	},
}

func init() {
	writeCmd.Flags().StringVarP(&writeType, "type", "t", "raw", "value type: "+typeNames())
	rootCmd.AddCommand(writeCmd)
}
