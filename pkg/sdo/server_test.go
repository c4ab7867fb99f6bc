package sdo

import (
	"errors"
	"testing"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/stretchr/testify/assert"
)

func newTestServer(t *testing.T, onInit ServerHook, onDone ServerHook) (*Server, *frameQueue) {
	queue := &frameQueue{}
	server, err := NewServer(queue, nil, NODE_ID_TEST, onInit, onDone)
	assert.Nil(t, err)
	return server, queue
}

func request(server *Server, cmd Command) canopen.Frame {
	frame := canopen.NewFrame(server.RxCobId(), 0, 8)
	frame.Data = Encode(cmd)
	return frame
}

func TestServerDuplicateSegment(t *testing.T) {
	var received []byte
	server, queue := newTestServer(t, nil, func(s *Server, transfer *ServerTransfer) error {
		received = append([]byte{}, transfer.Data()...)
		return nil
	})
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 14)})))
	assert.Equal(t, ServerAwaitDownloadSegments, server.State())

	first := request(server, DownloadSegmentRequest{Segment{Toggle: 0, Data: []byte("abcdefg")}})
	assert.Nil(t, server.Feed(first))
	assert.Len(t, queue.sent, 2)
	// Same segment again, dropped and not answered
	assert.ErrorIs(t, server.Feed(first), ErrToggleMismatch)
	assert.Len(t, queue.sent, 2)
	assert.Equal(t, ServerAwaitDownloadSegments, server.State())

	assert.Nil(t, server.Feed(request(server, DownloadSegmentRequest{Segment{Toggle: 1, Data: []byte("hijklmn"), Last: true}})))
	assert.Equal(t, []byte("abcdefghijklmn"), received)
	assert.Equal(t, uint8(0x30), queue.last().Data[0])
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerDuplicateUploadRequest(t *testing.T) {
	server, queue := newTestServer(t, func(s *Server, transfer *ServerTransfer) error {
		transfer.Write([]byte("0123456789"))
		return nil
	}, nil)
	assert.Nil(t, server.Feed(request(server, InitiateUploadRequest{Address: testAddress})))
	cmd, _ := DecodeResponse(queue.last().Data[:])
	assert.EqualValues(t, 10, cmd.(InitiateUploadResponse).Size)

	first := request(server, UploadSegmentRequest{Toggle: 0})
	assert.Nil(t, server.Feed(first))
	assert.ErrorIs(t, server.Feed(first), ErrToggleMismatch)
	assert.Len(t, queue.sent, 2)

	assert.Nil(t, server.Feed(request(server, UploadSegmentRequest{Toggle: 1})))
	cmd, _ = DecodeResponse(queue.last().Data[:])
	seg := cmd.(UploadSegmentResponse)
	assert.True(t, seg.Last)
	assert.Equal(t, []byte("789"), seg.Data)
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerAbortReceived(t *testing.T) {
	doneCalls := 0
	server, queue := newTestServer(t, nil, func(s *Server, transfer *ServerTransfer) error {
		doneCalls++
		return nil
	})
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 100)})))
	assert.Nil(t, server.Feed(request(server, AbortCommand{Address: testAddress, Code: AbortTimeout})))
	assert.Equal(t, ServerIdle, server.State())
	assert.Equal(t, 0, doneCalls)
	// Nothing sent back
	assert.Len(t, queue.sent, 1)

	// A new transfer can start
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{ExpeditedInitiate(testAddress, []byte{1})})))
	assert.Equal(t, 1, doneCalls)
}

func TestServerIgnoresWhileIdle(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	frame := canopen.NewFrame(server.RxCobId(), 0, 3)
	assert.Nil(t, server.Feed(frame))
	assert.Nil(t, server.Feed(request(server, DownloadSegmentRequest{})))
	assert.Nil(t, server.Feed(request(server, UploadSegmentRequest{})))
	assert.Nil(t, server.Feed(request(server, AbortCommand{Code: AbortGeneral})))
	blockRequest := canopen.NewFrame(server.RxCobId(), 0, 8)
	blockRequest.Data[0] = 0xC0
	assert.Nil(t, server.Feed(blockRequest))
	// Not our identifier
	other := request(server, InitiateUploadRequest{Address: testAddress})
	other.ID = 0x601
	assert.Nil(t, server.Feed(other))
	assert.Len(t, queue.sent, 0)
}

func TestServerUnexpectedWhileActive(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 20)})))
	err := server.Feed(request(server, UploadSegmentRequest{}))
	assert.ErrorIs(t, err, ErrProtocol)
	cmd, _ := DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortCommand{Address: testAddress, Code: AbortCmd}, cmd)
	assert.Equal(t, ServerIdle, server.State())

	// Garbled frame while active
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 20)})))
	garbled := canopen.NewFrame(server.RxCobId(), 0, 8)
	garbled.Data[0] = 0xE0
	assert.ErrorIs(t, server.Feed(garbled), ErrUnknownCommand)
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerInitiateWhileActive(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 20)})))
	err := server.Feed(request(server, InitiateUploadRequest{Address: testAddress}))
	assert.ErrorIs(t, err, ErrAlreadyActive)
	cmd, _ := DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortCmd, cmd.(AbortCommand).Code)
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerHookErrors(t *testing.T) {
	errCustom := errors.New("custom")
	server, queue := newTestServer(t, func(s *Server, transfer *ServerTransfer) error {
		if transfer.Address().Index == 0x1000 {
			return AbortReadOnly
		}
		return nil
	}, func(s *Server, transfer *ServerTransfer) error {
		return errCustom
	})
	err := server.Feed(request(server, InitiateDownloadRequest{ExpeditedInitiate(Address{Index: 0x1000}, []byte{1})}))
	assert.Equal(t, AbortReadOnly, err)
	cmd, _ := DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortReadOnly, cmd.(AbortCommand).Code)

	// Non abort errors are reported as general errors
	err = server.Feed(request(server, InitiateDownloadRequest{ExpeditedInitiate(testAddress, []byte{1})}))
	assert.ErrorIs(t, err, errCustom)
	cmd, _ = DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortGeneral, cmd.(AbortCommand).Code)
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerDownloadSizeMismatch(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 5)})))
	err := server.Feed(request(server, DownloadSegmentRequest{Segment{Data: []byte("abcdefg")}}))
	assert.ErrorIs(t, err, ErrProtocol)
	cmd, _ := DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortDataLong, cmd.(AbortCommand).Code)

	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 10)})))
	err = server.Feed(request(server, DownloadSegmentRequest{Segment{Data: []byte("abc"), Last: true}}))
	assert.ErrorIs(t, err, ErrProtocol)
	cmd, _ = DecodeResponse(queue.last().Data[:])
	assert.Equal(t, AbortDataShort, cmd.(AbortCommand).Code)
}

func TestServerTransportError(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	queue.err = canopen.ErrNotConnected
	err := server.Feed(request(server, InitiateUploadRequest{Address: testAddress}))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, canopen.ErrNotConnected)
	assert.Equal(t, ServerIdle, server.State())
}

func TestServerWouldBlock(t *testing.T) {
	server, queue := newTestServer(t, nil, nil)
	clock := &manualClock{now: time.Unix(1000, 0)}
	server.SetClock(clock)
	server.SetSendTimeout(5 * time.Millisecond)
	queue.err = canopen.ErrWouldBlock
	err := server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 20)}))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, canopen.ErrWouldBlock)
	assert.Equal(t, ServerIdle, server.State())
	assert.Equal(t, clock.now.Add(5*time.Millisecond), queue.deadline)
}

func TestServerDestroy(t *testing.T) {
	initCalls := 0
	server, queue := newTestServer(t, func(s *Server, transfer *ServerTransfer) error {
		initCalls++
		return nil
	}, nil)
	assert.Nil(t, server.Feed(request(server, InitiateDownloadRequest{SegmentedInitiate(testAddress, 20)})))
	server.Destroy()
	assert.Equal(t, ServerIdle, server.State())

	// Late frames are not answered
	sent := len(queue.sent)
	assert.Nil(t, server.Feed(request(server, InitiateUploadRequest{Address: testAddress})))
	assert.Nil(t, server.Feed(request(server, DownloadSegmentRequest{Segment{Data: []byte("abc")}})))
	assert.Len(t, queue.sent, sent)
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, ServerIdle, server.State())
}
