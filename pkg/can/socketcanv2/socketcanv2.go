//go:build linux

package socketcanv2

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	canopen "github.com/samsamfire/gosdo"
	can "github.com/samsamfire/gosdo/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SocketCAN driver using raw syscalls. Reads and writes are non blocking
// and bounded by poll, so that every frame sent or received can be given a deadline.

const (
	SocketCANFrameSize = 16
	// Reception loop wakes up at least this often to check for disconnection
	DefaultRcvPollPeriod = 100 * time.Millisecond
	DefaultSendTimeout   = 10 * time.Millisecond
)

func init() {
	can.RegisterInterface("socketcanv2", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	fd         int
	channel    string
	rxCallback canopen.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Entry
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanBus(channel string) (canopen.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CAN socket : %v", canopen.ErrSyscall, err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: failed to bind to %v : %v", canopen.ErrSyscall, channel, err)
	}
	return &SocketcanBus{
		fd:      fd,
		channel: channel,
		logger:  log.WithFields(log.Fields{"service": "[SOCKETCAN]", "channel": channel}),
	}, nil
}

// "Connect" implementation of Bus interface
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
// The socket stays open, the bus can be connected again.
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	return nil
}

// Close the underlying socket
func (s *SocketcanBus) Close() error {
	s.Disconnect()
	return unix.Close(s.fd)
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame canopen.Frame) error {
	return s.SendFrame(frame, time.Now().Add(DefaultSendTimeout))
}

// SendFrame writes frame, waiting for the socket to become writable until deadline
func (s *SocketcanBus) SendFrame(frame canopen.Frame, deadline time.Time) error {
	raw := encodeFrame(frame)
	for {
		n, err := unix.Write(s.fd, raw[:])
		if err == nil {
			if n != SocketCANFrameSize {
				return fmt.Errorf("%w: short write %d", canopen.ErrSyscall, n)
			}
			return nil
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.ENOBUFS) && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("%w: %v", canopen.ErrSyscall, err)
		}
		if err := s.poll(unix.POLLOUT, deadline); err != nil {
			return err
		}
	}
}

// ReceiveFrame reads one frame, waiting until deadline
func (s *SocketcanBus) ReceiveFrame(deadline time.Time) (canopen.Frame, error) {
	var raw [SocketCANFrameSize]byte
	for {
		n, err := unix.Read(s.fd, raw[:])
		if err == nil {
			if n != SocketCANFrameSize {
				return canopen.Frame{}, fmt.Errorf("%w: got %d bytes", canopen.ErrRxMsgLength, n)
			}
			return decodeFrame(raw), nil
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return canopen.Frame{}, fmt.Errorf("%w: %v", canopen.ErrSyscall, err)
		}
		if err := s.poll(unix.POLLIN, deadline); err != nil {
			return canopen.Frame{}, err
		}
	}
}

// Wait for events on the socket, [canopen.ErrWouldBlock] once deadline is reached
func (s *SocketcanBus) poll(events int16, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return canopen.ErrWouldBlock
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: poll : %v", canopen.ErrSyscall, err)
		}
		if n == 0 {
			return canopen.ErrWouldBlock
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return fmt.Errorf("%w: poll revents x%x", canopen.ErrSyscall, fds[0].Revents)
		}
		return nil
	}
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanBus) processIncoming(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("exiting CAN bus reception, closed")
			return
		default:
		}
		frame, err := s.ReceiveFrame(time.Now().Add(DefaultRcvPollPeriod))
		if errors.Is(err, canopen.ErrWouldBlock) {
			continue
		}
		if err != nil {
			s.logger.Errorf("exiting CAN bus reception : %v", err)
			return
		}
		s.mu.Lock()
		rxCallback := s.rxCallback
		s.mu.Unlock()
		if rxCallback != nil {
			rxCallback.Handle(frame)
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback canopen.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxCallback = rxCallback
	return nil
}

// Enable own reception on the bus. CAN be useful when testing for example
func (s *SocketcanBus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	s.logger.Infof("setting option 'CAN_RAW_RECV_OWN_MSGS' to %v", enabled)
	return unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// Add some filtering to CAN bus
func (s *SocketcanBus) SetFilters(filters []unix.CanFilter) error {
	s.logger.Infof("setting option 'CAN_RAW_FILTER' %v", filters)
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

// Shrink the socket send buffer so that a full tx queue is reported
// as EAGAIN right away instead of queueing frames in the kernel
func (s *SocketcanBus) FixSendBuffer() error {
	s.logger.Info("setting option 'SO_SNDBUF' to 0")
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 0)
}

// struct can_frame : id, len, pad, res0, len8_dlc, data
func encodeFrame(frame canopen.Frame) [SocketCANFrameSize]byte {
	var raw [SocketCANFrameSize]byte
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decodeFrame(raw [SocketCANFrameSize]byte) canopen.Frame {
	frame := canopen.Frame{
		ID:    binary.NativeEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:])
	return frame
}
