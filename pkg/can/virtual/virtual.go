package virtual

import (
	"sync"
	"time"

	canopen "github.com/samsamfire/gosdo"
	can "github.com/samsamfire/gosdo/pkg/can"
	log "github.com/sirupsen/logrus"
)

// In process virtual CAN bus, primarily used for testing and demos.
// Every bus connected to the same channel name receives the frames
// sent by the others, in order.

const (
	DefaultQueueSize   = 1024
	DefaultSendTimeout = 10 * time.Millisecond
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

type channel struct {
	mu    sync.Mutex
	buses map[*Bus]struct{}
}

var (
	channelsMu sync.Mutex
	channels   = map[string]*channel{}
)

func getChannel(name string) *channel {
	channelsMu.Lock()
	defer channelsMu.Unlock()
	ch, ok := channels[name]
	if !ok {
		ch = &channel{buses: map[*Bus]struct{}{}}
		channels[name] = ch
	}
	return ch
}

// Buses currently attached to the channel, excluding from unless receiveOwn
func (ch *channel) targets(from *Bus, receiveOwn bool) []*Bus {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	targets := make([]*Bus, 0, len(ch.buses))
	for bus := range ch.buses {
		if bus != from || receiveOwn {
			targets = append(targets, bus)
		}
	}
	return targets
}

type Bus struct {
	logger       *log.Entry
	mu           sync.Mutex
	channelName  string
	channel      *channel
	rx           chan canopen.Frame
	receiveOwn   bool
	connected    bool
	framehandler canopen.FrameListener
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
}

func NewVirtualCanBus(channel string) (canopen.Bus, error) {
	return &Bus{
		logger:      log.WithFields(log.Fields{"service": "[VCAN]", "channel": channel}),
		channelName: channel,
		rx:          make(chan canopen.Frame, DefaultQueueSize),
	}, nil
}

// "Connect" attaches the bus to its channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.channel = getChannel(b.channelName)
	b.channel.mu.Lock()
	b.channel.buses[b] = struct{}{}
	b.channel.mu.Unlock()
	b.connected = true
	if b.framehandler != nil {
		b.startReception()
	}
	return nil
}

// "Disconnect" detaches from the channel and stops reception
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		close(b.stopChan)
		b.wg.Wait()
		b.isRunning = false
	}
	if b.connected {
		b.channel.mu.Lock()
		delete(b.channel.buses, b)
		b.channel.mu.Unlock()
		b.connected = false
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame canopen.Frame) error {
	return b.SendFrame(frame, time.Now().Add(DefaultSendTimeout))
}

// SendFrame queues frame on every other bus of the channel.
// If a receiver queue stays full until deadline, [canopen.ErrWouldBlock] is returned.
func (b *Bus) SendFrame(frame canopen.Frame, deadline time.Time) error {
	b.mu.Lock()
	connected := b.connected
	ch := b.channel
	receiveOwn := b.receiveOwn
	b.mu.Unlock()
	if !connected {
		return canopen.ErrNotConnected
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for _, target := range ch.targets(b, receiveOwn) {
		select {
		case target.rx <- frame:
			continue
		default:
		}
		if timer == nil {
			timer = time.NewTimer(time.Until(deadline))
		}
		select {
		case target.rx <- frame:
		case <-timer.C:
			b.logger.Warnf("rx queue full, dropping frame x%x", frame.ID)
			return canopen.ErrWouldBlock
		}
	}
	return nil
}

// ReceiveFrame waits for the next frame until deadline.
// It should not be used together with Subscribe.
func (b *Bus) ReceiveFrame(deadline time.Time) (canopen.Frame, error) {
	select {
	case frame := <-b.rx:
		return frame, nil
	default:
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case frame := <-b.rx:
		return frame, nil
	case <-timer.C:
		return canopen.Frame{}, canopen.ErrWouldBlock
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler canopen.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		close(b.stopChan)
		b.wg.Wait()
		b.isRunning = false
	}
	if b.connected {
		b.startReception()
	}
	return nil
}

// Must be called with lock held
func (b *Bus) startReception() {
	b.stopChan = make(chan struct{})
	b.isRunning = true
	b.wg.Add(1)
	go b.handleReception(b.stopChan, b.framehandler)
}

// Handle incoming traffic
func (b *Bus) handleReception(stop chan struct{}, framehandler canopen.FrameListener) {
	defer b.wg.Done()
	b.logger.Debug("starting reception")
	for {
		select {
		case <-stop:
			b.logger.Debug("exiting reception")
			return
		case frame := <-b.rx:
			framehandler.Handle(frame)
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
