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

const (
	ClientServiceId uint32 = 0x600 // Client to server, + node id
	ServerServiceId uint32 = 0x580 // Server to client, + node id

	DefaultClientTimeout = 1000 * time.Millisecond
	DefaultSendTimeout   = 10 * time.Millisecond
)

type ClientState uint8

const (
	ClientIdle ClientState = iota
	ClientAwaitInitiateResponse
	ClientDownloadSegment
	ClientUploadSegment
	ClientDone
	ClientAborted
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientAwaitInitiateResponse:
		return "await initiate response"
	case ClientDownloadSegment:
		return "download segment"
	case ClientUploadSegment:
		return "upload segment"
	case ClientDone:
		return "done"
	case ClientAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Outcome of a client transfer.
// For uploads Data holds the received bytes, for downloads the bytes sent.
// Data is only valid until the next call to [Client.Start].
type Result struct {
	Direction Direction
	Address   Address
	Data      []byte
	Err       error
}

type DoneFunc func(client *Client, result Result)

type TransferRequest struct {
	Direction Direction
	Address   Address
	Timeout   time.Duration // Per response timeout, 0 means [DefaultClientTimeout]
	Data      []byte        // Download only
	SizeHint  uint32        // Upload only, expected size or 0 if unknown
	OnDone    DoneFunc
}

// Client drives one upload or download at a time against a remote SDO server.
// All methods must be called from the goroutine running its [loop.Loop].
type Client struct {
	logger      *log.Entry
	loop        *loop.Loop
	sender      canopen.FrameSender
	nodeId      uint8
	cobIdTx     uint32
	cobIdRx     uint32
	sendTimeout time.Duration

	state     ClientState
	request   TransferRequest
	buffer    *buffer.Buffer
	toggle    Toggle
	expedited bool
	lastSent  bool
	timer     *loop.Timer
}

// Create a client for the SDO server of node nodeId
func NewClient(l *loop.Loop, sender canopen.FrameSender, logger *log.Logger, nodeId uint8) (*Client, error) {
	if l == nil || sender == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if nodeId < 1 || nodeId > 127 {
		return nil, fmt.Errorf("%w: node id %d", canopen.ErrIllegalArgument, nodeId)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		logger:      logger.WithFields(log.Fields{"service": "[CLIENT]", "server": nodeId}),
		loop:        l,
		sender:      sender,
		nodeId:      nodeId,
		cobIdTx:     ClientServiceId + uint32(nodeId),
		cobIdRx:     ServerServiceId + uint32(nodeId),
		sendTimeout: DefaultSendTimeout,
		buffer:      buffer.New(64),
	}, nil
}

// CAN identifier of the responses this client accepts
func (c *Client) RxCobId() uint32 {
	return c.cobIdRx
}

func (c *Client) State() ClientState {
	return c.state
}

// Deadline given to the transport for every frame sent
func (c *Client) SetSendTimeout(timeout time.Duration) {
	c.sendTimeout = timeout
}

func (c *Client) active() bool {
	switch c.state {
	case ClientAwaitInitiateResponse, ClientDownloadSegment, ClientUploadSegment:
		return true
	default:
		return false
	}
}

// Start a new transfer. OnDone will be called exactly once, unless
// the transfer is cancelled with [Client.Abort] or [Client.Destroy].
func (c *Client) Start(req TransferRequest) error {
	if c.active() {
		return ErrAlreadyActive
	}
	if req.Direction != Upload && req.Direction != Download {
		return fmt.Errorf("%w: invalid direction %v", canopen.ErrIllegalArgument, req.Direction)
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultClientTimeout
	}
	c.buffer.Reset()
	c.request = req
	c.toggle = 0
	c.expedited = false
	c.lastSent = false

	var cmd Command
	if req.Direction == Download {
		c.buffer.Write(req.Data)
		c.buffer.SetSize(uint32(len(req.Data)))
		if len(req.Data) > 0 && len(req.Data) <= ExpeditedMaxSize {
			c.expedited = true
			cmd = InitiateDownloadRequest{ExpeditedInitiate(req.Address, req.Data)}
		} else {
			cmd = InitiateDownloadRequest{SegmentedInitiate(req.Address, uint32(len(req.Data)))}
		}
	} else {
		if req.SizeHint > 0 {
			c.buffer.SetSize(req.SizeHint)
		}
		cmd = InitiateUploadRequest{Address: req.Address}
	}

	c.timer = c.loop.NewTimer(c)
	c.timer.SetDuration(req.Timeout)
	c.state = ClientAwaitInitiateResponse
	c.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", req.Address.Index),
		"subindex": fmt.Sprintf("x%x", req.Address.Subindex),
	}).Debugf("[TX] initiate %v, expedited : %v", req.Direction, c.expedited)

	if err := c.send(cmd); err != nil && !errors.Is(err, canopen.ErrWouldBlock) {
		c.releaseTimer()
		c.state = ClientIdle
		c.request = TransferRequest{}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.timer.Start()
	return nil
}

// Feed processes a frame received from the server.
// Frames with another identifier or received while idle are ignored.
func (c *Client) Feed(frame canopen.Frame) error {
	if frame.ID != c.cobIdRx {
		return nil
	}
	if !c.active() {
		c.logger.Debugf("[RX] dropping frame while %v : %x", c.state, frame.Payload())
		return nil
	}
	cmd, err := DecodeResponse(frame.Payload())
	if err != nil {
		return c.abortLocal(err, AbortCmd)
	}
	if abort, ok := cmd.(AbortCommand); ok {
		c.logger.WithFields(log.Fields{
			"index":    fmt.Sprintf("x%x", abort.Address.Index),
			"subindex": fmt.Sprintf("x%x", abort.Address.Subindex),
		}).Warnf("[RX] server abort : %v", abort.Code)
		c.complete(fmt.Errorf("%w: %w", ErrAbortReceived, abort.Code))
		return nil
	}

	switch c.state {
	case ClientAwaitInitiateResponse:
		if c.request.Direction == Download {
			return c.rxInitiateDownload(cmd)
		}
		return c.rxInitiateUpload(cmd)
	case ClientDownloadSegment:
		return c.rxDownloadSegment(cmd)
	case ClientUploadSegment:
		return c.rxUploadSegment(cmd)
	}
	return nil
}

func (c *Client) rxInitiateDownload(cmd Command) error {
	resp, ok := cmd.(InitiateDownloadResponse)
	if !ok {
		return c.unexpected(cmd)
	}
	if resp.Address != c.request.Address {
		return c.abortLocal(ErrProtocol, AbortParamIncompat)
	}
	if c.expedited {
		c.complete(nil)
		return nil
	}
	return c.txDownloadSegment()
}

func (c *Client) rxInitiateUpload(cmd Command) error {
	resp, ok := cmd.(InitiateUploadResponse)
	if !ok {
		return c.unexpected(cmd)
	}
	if resp.Address != c.request.Address {
		return c.abortLocal(ErrProtocol, AbortParamIncompat)
	}
	if resp.SizeIndicated {
		if err := c.checkSizeHint(resp.Size); err != nil {
			return err
		}
		c.buffer.SetSize(resp.Size)
	}
	if resp.Expedited {
		data := resp.Data
		// Without size indication all 4 bytes are carried, padding included
		if hint := c.request.SizeHint; !resp.SizeIndicated && hint > 0 {
			if hint > ExpeditedMaxSize {
				return c.checkSizeHint(uint32(len(data)))
			}
			data = data[:hint]
		}
		c.buffer.Write(data)
		c.complete(nil)
		return nil
	}
	c.logger.Debugf("[TX] upload segment request, toggle %v", c.toggle)
	return c.txAndRearm(UploadSegmentRequest{Toggle: c.toggle}, ClientUploadSegment)
}

// The server announced size must match the size hint given on start
func (c *Client) checkSizeHint(size uint32) error {
	hint := c.request.SizeHint
	switch {
	case hint == 0 || size == hint:
		return nil
	case size > hint:
		return c.abortLocal(ErrProtocol, AbortDataLong)
	default:
		return c.abortLocal(ErrProtocol, AbortDataShort)
	}
}

func (c *Client) rxDownloadSegment(cmd Command) error {
	resp, ok := cmd.(DownloadSegmentResponse)
	if !ok {
		return c.unexpected(cmd)
	}
	if resp.Toggle != c.toggle {
		c.logger.Debugf("[RX] duplicate download segment response, toggle %v", resp.Toggle)
		return ErrToggleMismatch
	}
	if c.lastSent {
		c.complete(nil)
		return nil
	}
	c.toggle = c.toggle.Flip()
	return c.txDownloadSegment()
}

// Send the next chunk of the download buffer
func (c *Client) txDownloadSegment() error {
	var chunk [SegmentMaxSize]byte
	n, _ := c.buffer.Read(chunk[:])
	c.lastSent = c.buffer.Unread() == 0
	c.logger.Debugf("[TX] download segment, toggle %v, %d bytes, last %v", c.toggle, n, c.lastSent)
	seg := DownloadSegmentRequest{Segment{Toggle: c.toggle, Data: chunk[:n], Last: c.lastSent}}
	return c.txAndRearm(seg, ClientDownloadSegment)
}

func (c *Client) rxUploadSegment(cmd Command) error {
	resp, ok := cmd.(UploadSegmentResponse)
	if !ok {
		return c.unexpected(cmd)
	}
	if resp.Toggle != c.toggle {
		c.logger.Debugf("[RX] duplicate upload segment, toggle %v", resp.Toggle)
		return ErrToggleMismatch
	}
	c.buffer.Write(resp.Data)
	size, known := c.buffer.Size()
	if known && uint32(c.buffer.Len()) > size {
		return c.abortLocal(ErrProtocol, AbortDataLong)
	}
	if resp.Last {
		if known && uint32(c.buffer.Len()) < size {
			return c.abortLocal(ErrProtocol, AbortDataShort)
		}
		c.complete(nil)
		return nil
	}
	c.toggle = c.toggle.Flip()
	return c.txAndRearm(UploadSegmentRequest{Toggle: c.toggle}, ClientUploadSegment)
}

// Send cmd, move to next and restart the response timeout
func (c *Client) txAndRearm(cmd Command, next ClientState) error {
	if err := c.send(cmd); err != nil && !errors.Is(err, canopen.ErrWouldBlock) {
		return c.abortLocal(fmt.Errorf("%w: %w", ErrTransport, err), AbortGeneral)
	}
	c.state = next
	c.timer.Start()
	return nil
}

func (c *Client) unexpected(cmd Command) error {
	c.logger.Warnf("[RX] unexpected response %T while %v", cmd, c.state)
	return c.abortLocal(ErrProtocol, AbortCmd)
}

// OnTimer implements [loop.Handler]
func (c *Client) OnTimer(id loop.TimerID) {
	if c.timer == nil || c.timer.ID() != id || !c.active() {
		return
	}
	c.logger.Warnf("no response from server after %v", c.request.Timeout)
	c.abortLocal(ErrTimeout, AbortTimeout)
}

// Send an abort to the server and complete the transfer with an error
func (c *Client) abortLocal(kind error, code Abort) error {
	err := localAbortError(kind, code)
	c.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", c.request.Address.Index),
		"subindex": fmt.Sprintf("x%x", c.request.Address.Subindex),
	}).Warnf("[TX] client abort : %v", code)
	if sendErr := c.send(AbortCommand{Address: c.request.Address, Code: code}); sendErr != nil {
		c.logger.Warnf("failed to send abort : %v", sendErr)
	}
	c.complete(err)
	return err
}

// Move to a terminal state, go back to idle then notify
func (c *Client) complete(err error) {
	c.releaseTimer()
	if err != nil {
		c.state = ClientAborted
	} else {
		c.state = ClientDone
	}
	c.logger.Debugf("transfer finished : %v", c.state)
	result := Result{
		Direction: c.request.Direction,
		Address:   c.request.Address,
		Data:      c.buffer.Bytes(),
		Err:       err,
	}
	onDone := c.request.OnDone
	c.request = TransferRequest{}
	c.state = ClientIdle
	if onDone != nil {
		onDone(c, result)
	}
}

// Abort cancels the active transfer and notifies the server.
// The completion callback is not called.
func (c *Client) Abort(code Abort) error {
	if !c.active() {
		return ErrNotActive
	}
	c.logger.Infof("cancelling transfer of %v : %v", c.request.Address, code)
	err := c.send(AbortCommand{Address: c.request.Address, Code: code})
	c.releaseTimer()
	c.buffer.Reset()
	c.request = TransferRequest{}
	c.state = ClientIdle
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Destroy stops any transfer without notifying and releases resources
func (c *Client) Destroy() {
	c.releaseTimer()
	c.buffer.Release()
	c.request = TransferRequest{}
	c.state = ClientIdle
}

func (c *Client) releaseTimer() {
	if c.timer != nil {
		c.timer.Release()
		c.timer = nil
	}
}

func (c *Client) send(cmd Command) error {
	frame := canopen.NewFrame(c.cobIdTx, 0, 8)
	frame.Data = Encode(cmd)
	return c.sender.SendFrame(frame, c.loop.Now().Add(c.sendTimeout))
}
