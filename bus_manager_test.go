package canopen

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type frameRecorder struct {
	frames []Frame
}

func (r *frameRecorder) Handle(frame Frame) {
	r.frames = append(r.frames, frame)
}

type recordingBus struct {
	sent    []Frame
	sendErr error
	handler FrameListener
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error    { return nil }
func (b *recordingBus) Send(frame Frame) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, frame)
	return nil
}
func (b *recordingBus) Subscribe(callback FrameListener) error {
	b.handler = callback
	return nil
}

func TestBusManagerRouting(t *testing.T) {
	bm := NewBusManager(&recordingBus{})
	r1 := &frameRecorder{}
	r2 := &frameRecorder{}
	assert.Nil(t, bm.Subscribe(0x581, false, r1))
	assert.Nil(t, bm.Subscribe(0x581, false, r2))
	// Same listener twice is ignored
	assert.Nil(t, bm.Subscribe(0x581, false, r1))
	assert.Equal(t, ErrIllegalArgument, bm.Subscribe(0x582, false, nil))

	bm.Handle(NewFrame(0x581, 0, 8))
	bm.Handle(NewFrame(0x582, 0, 8))
	assert.Len(t, r1.frames, 1)
	assert.Len(t, r2.frames, 1)

	bm.Unsubscribe(0x581, r1)
	bm.Handle(NewFrame(0x581, 0, 8))
	assert.Len(t, r1.frames, 1)
	assert.Len(t, r2.frames, 2)
	bm.Unsubscribe(0x581, r2)
	bm.Handle(NewFrame(0x581, 0, 8))
	assert.Len(t, r2.frames, 2)
}

func TestBusManagerSend(t *testing.T) {
	bm := NewBusManager(nil)
	assert.Equal(t, ErrNotConnected, bm.Send(NewFrame(0x601, 0, 8)))

	bus := &recordingBus{}
	bm.SetBus(bus)
	assert.Equal(t, bus, bm.Bus())
	assert.Nil(t, bm.SendFrame(NewFrame(0x601, 0, 8), time.Now().Add(time.Second)))
	assert.Nil(t, bm.SendFrame(NewFrame(0x602, 0, 8), time.Time{}))
	assert.Equal(t, ErrWouldBlock, bm.SendFrame(NewFrame(0x603, 0, 8), time.Now().Add(-time.Millisecond)))
	assert.Len(t, bus.sent, 2)

	errBus := errors.New("bus off")
	bus.sendErr = errBus
	assert.Equal(t, errBus, bm.Send(NewFrame(0x601, 0, 8)))
	sent, failed := bm.Stats()
	assert.EqualValues(t, 3, sent)
	assert.EqualValues(t, 1, failed)
}

func TestFramePayload(t *testing.T) {
	frame := Frame{ID: 0x601, DLC: 3, Data: [8]byte{1, 2, 3, 4}}
	assert.Equal(t, []byte{1, 2, 3}, frame.Payload())
	frame.DLC = 15
	assert.Len(t, frame.Payload(), 8)
}
