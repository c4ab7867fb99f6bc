package network

import (
	"context"
	"testing"
	"time"

	canopen "github.com/samsamfire/gosdo"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/can/virtual"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
	"github.com/stretchr/testify/assert"
)

const NODE_ID_TEST uint8 = 0x30

func CreateNetworkEmptyTest(t *testing.T, channel string) *Network {
	canBus, err := can.NewBus("virtual", channel, 0)
	assert.Nil(t, err)
	network := NewNetwork(canBus)
	if err := network.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { network.Disconnect() })
	return network
}

// Server network serving the default dictionary and a client network on the same channel
func CreateNetworkTest(t *testing.T, channel string) (server *Network, client *Network) {
	server = CreateNetworkEmptyTest(t, channel)
	assert.Nil(t, server.Serve(NODE_ID_TEST, od.DefaultForNode(NODE_ID_TEST)))
	client = CreateNetworkEmptyTest(t, channel)
	return server, client
}

func TestConnectArgs(t *testing.T) {
	network := NewNetwork(nil)
	assert.NotNil(t, network.Connect())
	assert.NotNil(t, network.Connect(1, "x", 0))
	assert.NotNil(t, network.Connect("unknown", "x", 0))
	assert.Nil(t, network.Connect("virtual", "connect", 0))
	_, ok := network.Bus().(*virtual.Bus)
	assert.True(t, ok)
	// Connecting twice is a no-op
	assert.Nil(t, network.Connect())
	assert.Nil(t, network.Disconnect())
	assert.Nil(t, network.Disconnect())
}

func TestReadWhileDisconnected(t *testing.T) {
	canBus, _ := can.NewBus("virtual", "disconnected", 0)
	network := NewNetwork(canBus)
	_, err := network.Read(context.Background(), NODE_ID_TEST, 0x1000, 0)
	assert.Equal(t, canopen.ErrNotConnected, err)
}

func TestServeConflict(t *testing.T) {
	network := CreateNetworkEmptyTest(t, "conflict")
	assert.Nil(t, network.Serve(NODE_ID_TEST, od.Default()))
	assert.Equal(t, ErrIdConflict, network.Serve(NODE_ID_TEST, od.Default()))
	assert.Equal(t, canopen.ErrIllegalArgument, network.Serve(0x31, nil))
	assert.NotNil(t, network.Serve(0, od.Default()))
	assert.Nil(t, network.Unserve(NODE_ID_TEST))
	assert.Equal(t, ErrNotServed, network.Unserve(NODE_ID_TEST))
	assert.Nil(t, network.Serve(NODE_ID_TEST, od.Default()))
}

func TestUnserve(t *testing.T) {
	server, client := CreateNetworkTest(t, "unserve")
	client.SetTimeout(50 * time.Millisecond)
	ctx := context.Background()
	_, err := client.Read(ctx, NODE_ID_TEST, 0x1000, 0)
	assert.Nil(t, err)
	assert.Nil(t, server.Unserve(NODE_ID_TEST))
	_, err = client.Read(ctx, NODE_ID_TEST, 0x1000, 0)
	assert.ErrorIs(t, err, sdo.ErrTimeout)
}

func TestServeAndReadLocal(t *testing.T) {
	canBus, _ := can.NewBus("virtual", "local", 0)
	canBus.(*virtual.Bus).SetReceiveOwn(true)
	network := NewNetwork(canBus)
	assert.Nil(t, network.Connect())
	defer network.Disconnect()
	assert.Nil(t, network.Serve(NODE_ID_TEST, od.Default()))
	value, err := network.ReadUint32(context.Background(), NODE_ID_TEST, 0x2002, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x12345678, value)
}

func TestDisconnectUnblocks(t *testing.T) {
	// Nobody answers on this channel
	network := CreateNetworkEmptyTest(t, "unblock")
	network.SetTimeout(10 * time.Second)
	errs := make(chan error, 1)
	go func() {
		_, err := network.Read(context.Background(), NODE_ID_TEST, 0x1000, 0)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, network.Disconnect())
	select {
	case err := <-errs:
		assert.Equal(t, canopen.ErrNotConnected, err)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after disconnect")
	}
}
