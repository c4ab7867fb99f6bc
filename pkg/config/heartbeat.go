package config

import "context"

// Read a nodes heartbeat period and returns it in milliseconds
func (config *NodeConfigurator) ReadHeartbeatPeriod(ctx context.Context) (uint16, error) {
	return config.client.ReadUint16(ctx, config.nodeId, EntryProducerHeartbeat, 0)
}

// Update a nodes heartbeat period in milliseconds
func (config *NodeConfigurator) WriteHeartbeatPeriod(ctx context.Context, periodMs uint16) error {
	return config.client.WriteUint16(ctx, config.nodeId, EntryProducerHeartbeat, 0, periodMs)
}
