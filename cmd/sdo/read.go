package main

import (
	"context"
	"fmt"

	"github.com/samsamfire/gosdo/pkg/network"
	"github.com/spf13/cobra"
)

var readType string

var readCmd = &cobra.Command{
	Use:   "read <node-id> <index> <subindex>",
	Short: "Read an entry of a remote node",
	Example: `  sdo read 0x10 0x1008 0 --type string
  sdo -i virtual -c test read 16 0x2002 0 -t u32 -o json`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeId, index, subindex, err := parseAddress(args)
		if err != nil {
			return err
		}
		dataType, err := parseDataType(readType)
		if err != nil {
			return err
		}
		return withNetwork(cmd, func(ctx context.Context, net *network.Network) error {
			var data []byte
			if size := dataTypeSize(dataType); size > 0 {
				data, err = net.ReadSized(ctx, nodeId, index, subindex, size)
			} else {
				data, err = net.Read(ctx, nodeId, index, subindex)
			}
			if err != nil {
				return fmt.Errorf("failed to read x%x:x%x: %w", index, subindex, err)
			}
			value, err := decodeValue(data, dataType)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(newEntryOutput(nodeId, index, subindex, readType, value)))
			return nil
		})
	},
}

func init() {
	readCmd.Flags().StringVarP(&readType, "type", "t", "raw", "value type: "+typeNames())
	rootCmd.AddCommand(readCmd)
}
