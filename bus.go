package canopen

import "time"

const CanRtrFlag uint32 = 0x40000000
const CanSffMask uint32 = 0x000007FF

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Payload returns the bytes covered by DLC
func (f Frame) Payload() []byte {
	dlc := f.DLC
	if dlc > 8 {
		dlc = 8
	}
	return f.Data[:dlc]
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// FrameSender sends a single frame, giving up once deadline is reached.
// [ErrWouldBlock] is returned when the frame could not be queued in time,
// this is not fatal and the caller may retry or let its own timeout expire.
type FrameSender interface {
	SendFrame(frame Frame, deadline time.Time) error
}

// Transport is a deadline bounded frame reader / writer.
// ReceiveFrame returns [ErrWouldBlock] if nothing arrived before deadline.
type Transport interface {
	FrameSender
	ReceiveFrame(deadline time.Time) (Frame, error)
}
