//go:build linux

package socketcanv2

import (
	"net"
	"sync"
	"testing"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// A vcan0 interface should be up for most of these tests to run
// e.g. ip link add dev vcan0 type vcan && ip link set up vcan0

func skipWithoutVcan(t *testing.T) {
	if _, err := net.InterfaceByName("vcan0"); err != nil {
		t.Skip("vcan0 not available")
	}
}

func createSocketCanBus(t *testing.T) *SocketcanBus {
	sock, err := NewSocketCanBus("vcan0")
	assert.Nil(t, err)
	socketcanbus := sock.(*SocketcanBus)
	socketcanbus.Connect()
	return socketcanbus
}

type frameListener struct {
	mu     sync.Mutex
	frames []canopen.Frame
}

func (f *frameListener) Handle(frame canopen.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *frameListener) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestFrameLayout(t *testing.T) {
	frame := canopen.Frame{ID: 0x601, DLC: 8, Data: [8]byte{0x40, 0x00, 0x10, 0x00, 1, 2, 3, 4}}
	raw := encodeFrame(frame)
	assert.Equal(t, uint8(8), raw[4])
	assert.Equal(t, frame.Data[:], raw[8:])
	assert.Equal(t, frame, decodeFrame(raw))
}

func TestConnectDisconnect(t *testing.T) {
	skipWithoutVcan(t)
	sock := createSocketCanBus(t)
	defer sock.Close()
	for range 50 {
		assert.Nil(t, sock.Disconnect())
		assert.Nil(t, sock.Connect())
	}
	assert.Nil(t, sock.Disconnect())
	assert.Nil(t, sock.Disconnect())
}

func TestReceiveFrameDeadline(t *testing.T) {
	skipWithoutVcan(t)
	sock, err := NewSocketCanBus("vcan0")
	assert.Nil(t, err)
	bus := sock.(*SocketcanBus)
	defer bus.Close()
	_, err = bus.ReceiveFrame(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, canopen.ErrWouldBlock, err)

	assert.Nil(t, bus.SetReceiveOwn(true))
	assert.Nil(t, bus.SendFrame(canopen.NewFrame(0x601, 0, 8), time.Now().Add(time.Second)))
	frame, err := bus.ReceiveFrame(time.Now().Add(time.Second))
	assert.Nil(t, err)
	assert.EqualValues(t, 0x601, frame.ID)
}

func TestSendReceive(t *testing.T) {
	skipWithoutVcan(t)
	can0 := createSocketCanBus(t)
	can1 := createSocketCanBus(t)
	defer can0.Close()
	defer can1.Close()

	listener := &frameListener{}
	can1.Subscribe(listener)
	for range 100 {
		assert.Nil(t, can0.Send(canopen.NewFrame(0x100, 0, 8)))
	}
	assert.Eventually(t, func() bool { return listener.Len() == 100 }, time.Second, 10*time.Millisecond)
}

func TestFilterNoReception(t *testing.T) {
	skipWithoutVcan(t)
	can0 := createSocketCanBus(t)
	can1 := createSocketCanBus(t)
	defer can0.Close()
	defer can1.Close()

	listener := &frameListener{}
	can1.Subscribe(listener)
	err := can1.SetFilters([]unix.CanFilter{{Id: 0x50, Mask: 0x7FF}})
	assert.Nil(t, err)
	assert.Nil(t, can0.FixSendBuffer())
	for range 100 {
		can0.Send(canopen.NewFrame(0x100, 0, 8))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, listener.Len())
}
