// Package network ties a CAN bus, the event loop and the SDO engines together.
//
// Frames received from the bus are posted to a single loop goroutine which owns
// every client and server engine. Blocking helpers such as [Network.Read]
// are provided on top of the asynchronous client.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	canopen "github.com/samsamfire/gosdo"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/config"
	"github.com/samsamfire/gosdo/pkg/loop"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

var (
	ErrIdConflict = errors.New("id already exists on network, this will create conflicts")
	ErrNotServed  = errors.New("node is not served locally")
)

// A Network is the main object of this package
// It should be created before doing anything else.
// It runs the SDO servers of locally served nodes and
// the SDO clients used for accessing remote nodes.
type Network struct {
	*canopen.BusManager
	logger      *log.Logger
	loop        *loop.Loop
	mu          sync.Mutex
	cancel      context.CancelFunc
	closed      chan struct{}
	wgProcess   sync.WaitGroup
	clients     map[uint8]*remoteClient
	servers     map[uint8]*localServer
	timeout     time.Duration
	sendTimeout time.Duration
}

// Create a new Network using the given CAN bus
// bus may be nil, in which case [Network.Connect] creates one.
func NewNetwork(bus canopen.Bus) *Network {
	logger := log.StandardLogger()
	return &Network{
		BusManager:  canopen.NewBusManager(bus),
		logger:      logger,
		loop:        loop.New(logger, nil),
		clients:     map[uint8]*remoteClient{},
		servers:     map[uint8]*localServer{},
		timeout:     sdo.DefaultClientTimeout,
		sendTimeout: sdo.DefaultSendTimeout,
	}
}

// Use a specific logger for the network and the engines it creates.
// This should be called before [Network.Connect].
func (network *Network) SetLogger(logger *log.Logger) {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.logger = logger
	network.loop = loop.New(logger, nil)
}

// Per response timeout used by the blocking client helpers
func (network *Network) SetTimeout(timeout time.Duration) {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.timeout = timeout
}

// Deadline given to the bus for every frame sent by the engines.
// Only applies to engines created afterwards.
func (network *Network) SetSendTimeout(timeout time.Duration) {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.sendTimeout = timeout
}

// Connects to CAN bus, this should be called before anything else.
// Custom CAN backend is possible using a custom "Bus" interface.
// Otherwise it expects an interface name, channel and bitrate.
func (network *Network) Connect(args ...any) error {
	network.mu.Lock()
	defer network.mu.Unlock()
	if network.cancel != nil {
		return nil
	}
	bus := network.BusManager.Bus()
	if bus == nil {
		if len(args) < 3 {
			return errors.New("either provide custom backend, or provide interface, channel and bitrate")
		}
		canInterface, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("expecting string for interface got : %v", args[0])
		}
		channel, ok := args[1].(string)
		if !ok {
			return fmt.Errorf("expecting string for channel got : %v", args[1])
		}
		bitrate, ok := args[2].(int)
		if !ok {
			return fmt.Errorf("expecting int for bitrate got : %v", args[2])
		}
		var err error
		bus, err = can.NewBus(canInterface, channel, bitrate)
		if err != nil {
			return err
		}
		network.SetBus(bus)
	}
	if err := bus.Subscribe(network.BusManager); err != nil {
		return err
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	var ctx context.Context
	ctx, network.cancel = context.WithCancel(context.Background())
	network.closed = make(chan struct{})
	network.wgProcess.Add(1)
	go func() {
		defer network.wgProcess.Done()
		network.loop.Run(ctx)
	}()
	network.logger.WithField("service", "[NETWORK]").Infof("connected, bus %T", bus)
	return nil
}

// Stop processing and disconnect from the CAN bus.
// Blocking transfers in progress return [canopen.ErrNotConnected].
func (network *Network) Disconnect() error {
	network.mu.Lock()
	defer network.mu.Unlock()
	if network.cancel == nil {
		return nil
	}
	network.cancel()
	network.wgProcess.Wait()
	network.cancel = nil
	close(network.closed)

	// Loop is stopped, engines can be released from here
	for nodeId, client := range network.clients {
		network.Unsubscribe(client.client.RxCobId(), client)
		client.client.Destroy()
		delete(network.clients, nodeId)
	}
	for nodeId, server := range network.servers {
		network.Unsubscribe(server.server.RxCobId(), server)
		server.server.Destroy()
		delete(network.servers, nodeId)
	}
	return network.BusManager.Bus().Disconnect()
}

// Serve exposes dict through an SDO server with the given node id
func (network *Network) Serve(nodeId uint8, dict *od.ObjectDictionary) error {
	if dict == nil {
		return canopen.ErrIllegalArgument
	}
	network.mu.Lock()
	defer network.mu.Unlock()
	if _, ok := network.servers[nodeId]; ok {
		return ErrIdConflict
	}
	handler := &dictionaryHandler{od: dict}
	server, err := sdo.NewServer(network.BusManager, network.logger, nodeId, handler.onInit, handler.onDone)
	if err != nil {
		return err
	}
	server.SetSendTimeout(network.sendTimeout)
	server.SetClock(network.loop)
	local := &localServer{
		server: server,
		loop:   network.loop,
		logger: network.logger.WithFields(log.Fields{"service": "[NETWORK]", "node": nodeId}),
	}
	if err := network.Subscribe(server.RxCobId(), false, local); err != nil {
		return err
	}
	network.servers[nodeId] = local
	network.logger.WithField("service", "[NETWORK]").Infof("serving node x%x", nodeId)
	return nil
}

// Stop serving nodeId
func (network *Network) Unserve(nodeId uint8) error {
	network.mu.Lock()
	local, ok := network.servers[nodeId]
	if ok {
		delete(network.servers, nodeId)
	}
	network.mu.Unlock()
	if !ok {
		return ErrNotServed
	}
	network.Unsubscribe(local.server.RxCobId(), local)
	done := make(chan struct{})
	network.loop.Post(func() {
		local.server.Destroy()
		close(done)
	})
	select {
	case <-done:
	case <-network.done():
	}
	return nil
}

// Get or create the client used for accessing nodeId
func (network *Network) client(nodeId uint8) (*remoteClient, error) {
	network.mu.Lock()
	defer network.mu.Unlock()
	if network.cancel == nil {
		return nil, canopen.ErrNotConnected
	}
	if remote, ok := network.clients[nodeId]; ok {
		return remote, nil
	}
	client, err := sdo.NewClient(network.loop, network.BusManager, network.logger, nodeId)
	if err != nil {
		return nil, err
	}
	client.SetSendTimeout(network.sendTimeout)
	remote := &remoteClient{
		client: client,
		loop:   network.loop,
		lock:   make(chan struct{}, 1),
		logger: network.logger.WithFields(log.Fields{"service": "[NETWORK]", "server": nodeId}),
	}
	if err := network.Subscribe(client.RxCobId(), false, remote); err != nil {
		return nil, err
	}
	network.clients[nodeId] = remote
	return remote, nil
}

func (network *Network) done() <-chan struct{} {
	network.mu.Lock()
	defer network.mu.Unlock()
	if network.closed == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return network.closed
}

// Client side of a remote node, frames are handed to the loop
type remoteClient struct {
	client *sdo.Client
	loop   *loop.Loop
	lock   chan struct{} // one blocking transfer at a time
	logger *log.Entry
}

func (remote *remoteClient) Handle(frame canopen.Frame) {
	remote.loop.Post(func() {
		if err := remote.client.Feed(frame); err != nil {
			remote.logger.Debugf("[RX] %v", err)
		}
	})
}

type localServer struct {
	server *sdo.Server
	loop   *loop.Loop
	logger *log.Entry
}

func (local *localServer) Handle(frame canopen.Frame) {
	local.loop.Post(func() {
		if err := local.server.Feed(frame); err != nil {
			local.logger.Debugf("[RX] %v", err)
		}
	})
}

// Get a configurator for reading and writing reserved objects of a node
func (network *Network) Configurator(nodeId uint8) *config.NodeConfigurator {
	return config.NewNodeConfigurator(nodeId, network)
}
