package config

import "context"

const (
	EntryDeviceType         uint16 = 0x1000
	EntryErrorRegister      uint16 = 0x1001
	EntryDeviceName         uint16 = 0x1008
	EntryHardwareVersion    uint16 = 0x1009
	EntrySoftwareVersion    uint16 = 0x100A
	EntryProducerHeartbeat  uint16 = 0x1017
	EntryIdentity           uint16 = 0x1018
	EntrySDOServerParameter uint16 = 0x1200
)

type Identity struct {
	VendorId       uint32 `json:"vendor_id" yaml:"vendor_id"`
	ProductCode    uint32 `json:"product_code" yaml:"product_code"`
	RevisionNumber uint32 `json:"revision_number" yaml:"revision_number"`
	SerialNumber   uint32 `json:"serial_number" yaml:"serial_number"`
}

type ManufacturerInformation struct {
	ManufacturerDeviceName      string `json:"device_name" yaml:"device_name"`
	ManufacturerHardwareVersion string `json:"hardware_version" yaml:"hardware_version"`
	ManufacturerSoftwareVersion string `json:"software_version" yaml:"software_version"`
}

// COB-IDs used by the default SDO server of a node
type SDOServerParameter struct {
	CobIdClientToServer uint32 `json:"cob_id_rx" yaml:"cob_id_rx"`
	CobIdServerToClient uint32 `json:"cob_id_tx" yaml:"cob_id_tx"`
}

// Read identity object (0x1018, mandatory)
func (config *NodeConfigurator) ReadIdentity(ctx context.Context) (*Identity, error) {
	// Vendor ID is the only mandatory field
	vendorId, err := config.client.ReadUint32(ctx, config.nodeId, EntryIdentity, 1)
	if err != nil {
		return nil, err
	}
	productCode, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentity, 2)
	revisionNumber, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentity, 3)
	serialNumber, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentity, 4)
	return &Identity{
		VendorId:       vendorId,
		ProductCode:    productCode,
		RevisionNumber: revisionNumber,
		SerialNumber:   serialNumber,
	}, nil
}

func (config *NodeConfigurator) ReadDeviceType(ctx context.Context) (uint32, error) {
	return config.client.ReadUint32(ctx, config.nodeId, EntryDeviceType, 0)
}

func (config *NodeConfigurator) ReadErrorRegister(ctx context.Context) (uint8, error) {
	return config.client.ReadUint8(ctx, config.nodeId, EntryErrorRegister, 0)
}

// Read manufacturer device name
func (config *NodeConfigurator) ReadManufacturerDeviceName(ctx context.Context) (string, error) {
	return config.client.ReadString(ctx, config.nodeId, EntryDeviceName, 0)
}

// Read Manufacturer hardware version
func (config *NodeConfigurator) ReadManufacturerHardwareVersion(ctx context.Context) (string, error) {
	return config.client.ReadString(ctx, config.nodeId, EntryHardwareVersion, 0)
}

// Read manufacturer software version
func (config *NodeConfigurator) ReadManufacturerSoftwareVersion(ctx context.Context) (string, error) {
	return config.client.ReadString(ctx, config.nodeId, EntrySoftwareVersion, 0)
}

// Read manufacturer objects (0x1008,0x1009,0x100A, these are all optional)
func (config *NodeConfigurator) ReadManufacturerInformation(ctx context.Context) ManufacturerInformation {
	info := ManufacturerInformation{}
	info.ManufacturerDeviceName, _ = config.ReadManufacturerDeviceName(ctx)
	info.ManufacturerHardwareVersion, _ = config.ReadManufacturerHardwareVersion(ctx)
	info.ManufacturerSoftwareVersion, _ = config.ReadManufacturerSoftwareVersion(ctx)
	return info
}

// Read the first SDO server parameter (0x1200)
func (config *NodeConfigurator) ReadSDOServerParameter(ctx context.Context) (*SDOServerParameter, error) {
	rx, err := config.client.ReadUint32(ctx, config.nodeId, EntrySDOServerParameter, 1)
	if err != nil {
		return nil, err
	}
	tx, err := config.client.ReadUint32(ctx, config.nodeId, EntrySDOServerParameter, 2)
	if err != nil {
		return nil, err
	}
	return &SDOServerParameter{CobIdClientToServer: rx, CobIdServerToClient: tx}, nil
}
