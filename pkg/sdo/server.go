package sdo

import (
	"errors"
	"fmt"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/internal/buffer"
	"github.com/samsamfire/gosdo/pkg/loop"
	log "github.com/sirupsen/logrus"
)

type ServerState uint8

const (
	ServerIdle ServerState = iota
	ServerAwaitDownloadSegments
	ServerAwaitUploadSegments
	ServerDone
	ServerAborted
)

func (s ServerState) String() string {
	switch s {
	case ServerIdle:
		return "idle"
	case ServerAwaitDownloadSegments:
		return "await download segments"
	case ServerAwaitUploadSegments:
		return "await upload segments"
	case ServerDone:
		return "done"
	case ServerAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ServerTransfer is the transfer handed to the server hooks.
// On upload the init hook writes the source bytes, on download
// the done hook reads the received bytes with Data.
type ServerTransfer struct {
	direction Direction
	address   Address
	buffer    *buffer.Buffer
}

func (t *ServerTransfer) Direction() Direction { return t.direction }
func (t *ServerTransfer) Address() Address     { return t.address }

// Bytes received so far, or staged for upload.
// Only valid for the duration of the hook.
func (t *ServerTransfer) Data() []byte {
	return t.buffer.Bytes()
}

func (t *ServerTransfer) Write(p []byte) (int, error) {
	return t.buffer.Write(p)
}

// Total size announced by the client, if any
func (t *ServerTransfer) Size() (uint32, bool) {
	return t.buffer.Size()
}

// ServerHook is called at the start and at the end of every transfer.
// Returning an [Abort] sends that code to the client, any other error
// is sent as [AbortGeneral].
type ServerHook func(server *Server, transfer *ServerTransfer) error

// Server answers the transfers initiated by a remote client.
// It has no timer of its own, an abandoned transfer is replaced
// by the next initiate once the client has aborted it.
type Server struct {
	logger      *log.Entry
	sender      canopen.FrameSender
	clock       loop.TimeProvider
	nodeId      uint8
	cobIdRx     uint32
	cobIdTx     uint32
	sendTimeout time.Duration
	onInit      ServerHook
	onDone      ServerHook

	state     ServerState
	transfer  ServerTransfer
	toggle    Toggle
	destroyed bool
}

// Create the SDO server of node nodeId
func NewServer(sender canopen.FrameSender, logger *log.Logger, nodeId uint8, onInit ServerHook, onDone ServerHook) (*Server, error) {
	if sender == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if nodeId < 1 || nodeId > 127 {
		return nil, fmt.Errorf("%w: node id %d", canopen.ErrIllegalArgument, nodeId)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		logger:      logger.WithFields(log.Fields{"service": "[SERVER]", "node": nodeId}),
		sender:      sender,
		clock:       loop.RealTimeProvider{},
		nodeId:      nodeId,
		cobIdRx:     ClientServiceId + uint32(nodeId),
		cobIdTx:     ServerServiceId + uint32(nodeId),
		sendTimeout: DefaultSendTimeout,
		onInit:      onInit,
		onDone:      onDone,
		transfer:    ServerTransfer{buffer: buffer.New(64)},
	}, nil
}

// CAN identifier of the requests this server accepts
func (s *Server) RxCobId() uint32 {
	return s.cobIdRx
}

func (s *Server) State() ServerState {
	return s.state
}

func (s *Server) SetSendTimeout(timeout time.Duration) {
	s.sendTimeout = timeout
}

// Clock used to compute send deadlines
func (s *Server) SetClock(clock loop.TimeProvider) {
	if clock != nil {
		s.clock = clock
	}
}

func (s *Server) active() bool {
	return s.state == ServerAwaitDownloadSegments || s.state == ServerAwaitUploadSegments
}

// Feed processes a frame received from the client
func (s *Server) Feed(frame canopen.Frame) error {
	if frame.ID != s.cobIdRx || s.destroyed {
		return nil
	}
	cmd, err := DecodeRequest(frame.Payload())
	if err != nil {
		if !s.active() {
			s.logger.Debugf("[RX] ignoring frame while idle : %v", err)
			return nil
		}
		return s.abortLocal(err, AbortCmd)
	}

	switch req := cmd.(type) {
	case AbortCommand:
		if s.active() {
			s.logger.WithFields(log.Fields{
				"index":    fmt.Sprintf("x%x", req.Address.Index),
				"subindex": fmt.Sprintf("x%x", req.Address.Subindex),
			}).Warnf("[RX] client abort : %v", req.Code)
			s.finish(ServerAborted)
		}
		return nil
	case InitiateDownloadRequest:
		if s.active() {
			return s.rejectInitiate()
		}
		return s.rxInitiateDownload(req)
	case InitiateUploadRequest:
		if s.active() {
			return s.rejectInitiate()
		}
		return s.rxInitiateUpload(req)
	case DownloadSegmentRequest:
		if s.state != ServerAwaitDownloadSegments {
			return s.unexpected(cmd)
		}
		return s.rxDownloadSegment(req)
	case UploadSegmentRequest:
		if s.state != ServerAwaitUploadSegments {
			return s.unexpected(cmd)
		}
		return s.rxUploadSegment(req)
	default:
		return s.unexpected(cmd)
	}
}

func (s *Server) rejectInitiate() error {
	s.logger.Warnf("[RX] initiate received while %v transfer of %v is active", s.transfer.direction, s.transfer.address)
	s.abortLocal(ErrProtocol, AbortCmd)
	return localAbortError(ErrAlreadyActive, AbortCmd)
}

func (s *Server) unexpected(cmd Command) error {
	if !s.active() {
		s.logger.Debugf("[RX] ignoring %T while idle", cmd)
		return nil
	}
	s.logger.Warnf("[RX] unexpected request %T while %v", cmd, s.state)
	return s.abortLocal(ErrProtocol, AbortCmd)
}

func (s *Server) begin(direction Direction, address Address, size uint32, sizeIndicated bool) error {
	s.transfer.direction = direction
	s.transfer.address = address
	s.transfer.buffer.Reset()
	if sizeIndicated {
		s.transfer.buffer.SetSize(size)
	}
	s.toggle = 0
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", address.Index),
		"subindex": fmt.Sprintf("x%x", address.Subindex),
	}).Debugf("[RX] initiate %v", direction)
	return s.callHook(s.onInit)
}

func (s *Server) callHook(hook ServerHook) error {
	if hook == nil {
		return nil
	}
	return hook(s, &s.transfer)
}

func (s *Server) rxInitiateDownload(req InitiateDownloadRequest) error {
	size := req.Size
	if req.Expedited {
		size = uint32(len(req.Data))
	}
	if err := s.begin(Download, req.Address, size, req.SizeIndicated); err != nil {
		return s.abortHook(err)
	}
	// Nothing written by the init hook is kept on download
	s.transfer.buffer.Reset()
	if req.SizeIndicated {
		s.transfer.buffer.SetSize(size)
	}
	resp := InitiateDownloadResponse{Address: req.Address}
	if req.Expedited {
		s.transfer.buffer.Write(req.Data)
		if err := s.callHook(s.onDone); err != nil {
			return s.abortHook(err)
		}
		if err := s.send(resp); err != nil {
			return s.abortLocal(err, AbortGeneral)
		}
		s.finish(ServerDone)
		return nil
	}
	if err := s.send(resp); err != nil {
		return s.abortLocal(err, AbortGeneral)
	}
	s.state = ServerAwaitDownloadSegments
	return nil
}

func (s *Server) rxDownloadSegment(req DownloadSegmentRequest) error {
	if req.Toggle != s.toggle {
		s.logger.Debugf("[RX] duplicate download segment, toggle %v", req.Toggle)
		return ErrToggleMismatch
	}
	buf := s.transfer.buffer
	buf.Write(req.Data)
	size, known := buf.Size()
	if known && uint32(buf.Len()) > size {
		return s.abortLocal(ErrProtocol, AbortDataLong)
	}
	resp := DownloadSegmentResponse{Toggle: s.toggle}
	if req.Last {
		if known && uint32(buf.Len()) < size {
			return s.abortLocal(ErrProtocol, AbortDataShort)
		}
		if err := s.callHook(s.onDone); err != nil {
			return s.abortHook(err)
		}
		if err := s.send(resp); err != nil {
			return s.abortLocal(err, AbortGeneral)
		}
		s.finish(ServerDone)
		return nil
	}
	if err := s.send(resp); err != nil {
		return s.abortLocal(err, AbortGeneral)
	}
	s.toggle = s.toggle.Flip()
	return nil
}

func (s *Server) rxInitiateUpload(req InitiateUploadRequest) error {
	if err := s.begin(Upload, req.Address, 0, false); err != nil {
		return s.abortHook(err)
	}
	buf := s.transfer.buffer
	size := buf.Len()
	buf.SetSize(uint32(size))
	if size > 0 && size <= ExpeditedMaxSize {
		if err := s.callHook(s.onDone); err != nil {
			return s.abortHook(err)
		}
		if err := s.send(InitiateUploadResponse{ExpeditedInitiate(req.Address, buf.Bytes())}); err != nil {
			return s.abortLocal(err, AbortGeneral)
		}
		s.finish(ServerDone)
		return nil
	}
	if err := s.send(InitiateUploadResponse{SegmentedInitiate(req.Address, uint32(size))}); err != nil {
		return s.abortLocal(err, AbortGeneral)
	}
	s.state = ServerAwaitUploadSegments
	return nil
}

func (s *Server) rxUploadSegment(req UploadSegmentRequest) error {
	if req.Toggle != s.toggle {
		s.logger.Debugf("[RX] duplicate upload segment request, toggle %v", req.Toggle)
		return ErrToggleMismatch
	}
	var chunk [SegmentMaxSize]byte
	n, _ := s.transfer.buffer.Read(chunk[:])
	last := s.transfer.buffer.Unread() == 0
	if last {
		if err := s.callHook(s.onDone); err != nil {
			return s.abortHook(err)
		}
	}
	resp := UploadSegmentResponse{Segment{Toggle: s.toggle, Data: chunk[:n], Last: last}}
	if err := s.send(resp); err != nil {
		return s.abortLocal(err, AbortGeneral)
	}
	if last {
		s.finish(ServerDone)
		return nil
	}
	s.toggle = s.toggle.Flip()
	return nil
}

// Abort because a hook refused the transfer, the hook error is returned as is
func (s *Server) abortHook(err error) error {
	code := abortFromError(err)
	s.logger.Warnf("transfer of %v refused : %v", s.transfer.address, err)
	s.sendAbort(code)
	s.finish(ServerAborted)
	return err
}

func (s *Server) abortLocal(kind error, code Abort) error {
	// Anything that is not a protocol violation comes from the transport
	if !errors.Is(kind, ErrProtocol) {
		kind = fmt.Errorf("%w: %w", ErrTransport, kind)
	}
	s.sendAbort(code)
	s.finish(ServerAborted)
	return localAbortError(kind, code)
}

func (s *Server) sendAbort(code Abort) {
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.transfer.address.Index),
		"subindex": fmt.Sprintf("x%x", s.transfer.address.Subindex),
	}).Warnf("[TX] server abort : %v", code)
	if err := s.send(AbortCommand{Address: s.transfer.address, Code: code}); err != nil {
		s.logger.Warnf("failed to send abort : %v", err)
	}
}

func (s *Server) finish(state ServerState) {
	s.state = state
	s.logger.Debugf("transfer of %v finished : %v", s.transfer.address, state)
	s.state = ServerIdle
}

// Destroy drops any transfer in progress and releases the buffer.
// Frames fed afterwards are ignored.
func (s *Server) Destroy() {
	s.transfer.buffer.Release()
	s.state = ServerIdle
	s.destroyed = true
}

// The server has no timer, any send error including [canopen.ErrWouldBlock]
// ends the transfer with an abort attempt.
func (s *Server) send(cmd Command) error {
	frame := canopen.NewFrame(s.cobIdTx, 0, 8)
	frame.Data = Encode(cmd)
	return s.sender.SendFrame(frame, s.clock.Now().Add(s.sendTimeout))
}
