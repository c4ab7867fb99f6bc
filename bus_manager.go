package canopen

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Bus manager is a wrapper around the CAN bus interface
// Used by the SDO stack to route received frames to the engine
// owning a given CAN identifier and to send frames with a deadline.
type BusManager struct {
	mu             sync.Mutex
	bus            Bus // Bus interface that can be adapted
	frameListeners map[uint32][]FrameListener
	txCount        uint64
	txErrors       uint64
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	listeners := bm.frameListeners[frame.ID]
	bm.mu.Unlock()
	// Listeners are called without the lock so that they may subscribe or send
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNotConnected
	}
	err := bus.Send(frame)
	bm.mu.Lock()
	bm.txCount++
	if err != nil {
		bm.txErrors++
	}
	bm.mu.Unlock()
	if err != nil {
		log.Warnf("[CAN] %v", err)
	}
	return err
}

// SendFrame implements [FrameSender].
// If the deadline has already elapsed the frame is not sent.
func (bm *BusManager) SendFrame(frame Frame, deadline time.Time) error {
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return ErrWouldBlock
	}
	return bm.Send(frame)
}

// Subscribe to a specific CAN ID
func (bm *BusManager) Subscribe(ident uint32, rtr bool, callback FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	if rtr {
		ident |= CanRtrFlag
	}
	// Verify that we are not adding the same one twice
	for _, listener := range bm.frameListeners[ident] {
		if listener == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	bm.frameListeners[ident] = append(bm.frameListeners[ident], callback)
	return nil
}

// Remove a listener previously added with [BusManager.Subscribe]
func (bm *BusManager) Unsubscribe(ident uint32, callback FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	listeners := bm.frameListeners[ident]
	for i, listener := range listeners {
		if listener == callback {
			bm.frameListeners[ident] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
	if len(bm.frameListeners[ident]) == 0 {
		delete(bm.frameListeners, ident)
	}
}

// Number of frames sent and number of failed sends
func (bm *BusManager) Stats() (sent uint64, failed uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.txCount, bm.txErrors
}

func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:            bus,
		frameListeners: make(map[uint32][]FrameListener),
	}
}
