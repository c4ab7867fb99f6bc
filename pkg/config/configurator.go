package config

import "context"

// SDOClient is the subset of blocking SDO accesses needed for configuring a node
type SDOClient interface {
	Read(ctx context.Context, nodeId uint8, index uint16, subindex uint8) ([]byte, error)
	ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error)
	ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error)
	ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error)
	ReadString(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (string, error)
	WriteUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value uint16) error
}

// NodeConfigurator provides helper methods for
// reading / updating CANopen reserved configuration objects
// i.e. objects between 0x1000 and 0x2000.
// No EDS files need to be loaded for configuring these parameters
type NodeConfigurator struct {
	client SDOClient
	nodeId uint8
}

// Create a new [NodeConfigurator] for given ID and SDO client
func NewNodeConfigurator(nodeId uint8, client SDOClient) *NodeConfigurator {
	return &NodeConfigurator{client: client, nodeId: nodeId}
}
