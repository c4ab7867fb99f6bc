package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
)

// Run a single transfer on the client of nodeId and wait for its outcome.
// Cancelling ctx aborts the transfer on the bus.
func (network *Network) transfer(ctx context.Context, nodeId uint8, req sdo.TransferRequest) ([]byte, error) {
	remote, err := network.client(nodeId)
	if err != nil {
		return nil, err
	}
	closed := network.done()
	select {
	case remote.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, canopen.ErrNotConnected
	}
	defer func() { <-remote.lock }()

	network.mu.Lock()
	req.Timeout = network.timeout
	network.mu.Unlock()

	results := make(chan sdo.Result, 1)
	req.OnDone = func(_ *sdo.Client, result sdo.Result) {
		result.Data = bytes.Clone(result.Data)
		results <- result
	}
	network.loop.Post(func() {
		if err := remote.client.Start(req); err != nil {
			results <- sdo.Result{Direction: req.Direction, Address: req.Address, Err: err}
		}
	})
	select {
	case result := <-results:
		return result.Data, result.Err
	case <-ctx.Done():
		// Posted before the lock is released, so it can only hit this transfer
		network.loop.Post(func() {
			remote.client.Abort(sdo.AbortGeneral)
		})
		return nil, ctx.Err()
	case <-closed:
		return nil, canopen.ErrNotConnected
	}
}

// Read an entry from a remote node, of any size
func (network *Network) Read(ctx context.Context, nodeId uint8, index uint16, subindex uint8) ([]byte, error) {
	return network.transfer(ctx, nodeId, sdo.TransferRequest{
		Direction: sdo.Upload,
		Address:   sdo.Address{Index: index, Subindex: subindex},
	})
}

// Read an entry from a remote node, the server must send exactly size bytes
func (network *Network) ReadSized(ctx context.Context, nodeId uint8, index uint16, subindex uint8, size uint32) ([]byte, error) {
	data, err := network.transfer(ctx, nodeId, sdo.TransferRequest{
		Direction: sdo.Upload,
		Address:   sdo.Address{Index: index, Subindex: subindex},
		SizeHint:  size,
	})
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) != size {
		return nil, fmt.Errorf("%w: expected %v bytes, got %v", canopen.ErrRxMsgLength, size, len(data))
	}
	return data, nil
}

// Write data to an entry of a remote node
func (network *Network) Write(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte) error {
	_, err := network.transfer(ctx, nodeId, sdo.TransferRequest{
		Direction: sdo.Download,
		Address:   sdo.Address{Index: index, Subindex: subindex},
		Data:      data,
	})
	return err
}

func (network *Network) ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	data, err := network.ReadSized(ctx, nodeId, index, subindex, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (network *Network) ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	data, err := network.ReadSized(ctx, nodeId, index, subindex, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (network *Network) ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	data, err := network.ReadSized(ctx, nodeId, index, subindex, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (network *Network) ReadUint64(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint64, error) {
	data, err := network.ReadSized(ctx, nodeId, index, subindex, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Read a string entry, trailing null bytes are removed
func (network *Network) ReadString(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (string, error) {
	data, err := network.Read(ctx, nodeId, index, subindex)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(data, "\x00")), nil
}

func (network *Network) WriteUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value uint8) error {
	return network.Write(ctx, nodeId, index, subindex, []byte{value})
}

func (network *Network) WriteUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value uint16) error {
	return network.Write(ctx, nodeId, index, subindex, binary.LittleEndian.AppendUint16(nil, value))
}

func (network *Network) WriteUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value uint32) error {
	return network.Write(ctx, nodeId, index, subindex, binary.LittleEndian.AppendUint32(nil, value))
}

func (network *Network) WriteUint64(ctx context.Context, nodeId uint8, index uint16, subindex uint8, value uint64) error {
	return network.Write(ctx, nodeId, index, subindex, binary.LittleEndian.AppendUint64(nil, value))
}

// Server hooks giving access to an object dictionary
type dictionaryHandler struct {
	od *od.ObjectDictionary
}

func (handler *dictionaryHandler) onInit(_ *sdo.Server, transfer *sdo.ServerTransfer) error {
	address := transfer.Address()
	variable, err := handler.od.Variable(address.Index, address.Subindex)
	if err != nil {
		return odAbort(err)
	}
	if transfer.Direction() == sdo.Upload {
		data, err := variable.Read()
		if err != nil {
			return odAbort(err)
		}
		_, err = transfer.Write(data)
		return err
	}
	if variable.Attribute&od.AttributeSdoW == 0 {
		return sdo.AbortReadOnly
	}
	// Fail early if the announced size cannot fit
	if size, indicated := transfer.Size(); indicated && variable.Attribute&od.AttributeStr == 0 {
		return odAbort(od.CheckSize(int(size), variable.DataType))
	}
	return nil
}

func (handler *dictionaryHandler) onDone(_ *sdo.Server, transfer *sdo.ServerTransfer) error {
	if transfer.Direction() == sdo.Upload {
		return nil
	}
	address := transfer.Address()
	return odAbort(handler.od.Write(address.Index, address.Subindex, transfer.Data()))
}

// Convert an object dictionary error to the matching abort code
func odAbort(err error) error {
	if err == nil {
		return nil
	}
	var odr od.ODR
	if errors.As(err, &odr) {
		return sdo.ConvertOdToSdoAbort(odr)
	}
	return err
}
