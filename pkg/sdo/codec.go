package sdo

import (
	"encoding/binary"
	"fmt"
)

// Command specifiers, bits 7..5 of the first byte.
// The same value has a different meaning depending on the direction.
const (
	ccsDownloadSegment  uint8 = 0
	ccsDownloadInitiate uint8 = 1
	ccsUploadInitiate   uint8 = 2
	ccsUploadSegment    uint8 = 3
	csAbort             uint8 = 4

	scsUploadSegment    uint8 = 0
	scsDownloadSegment  uint8 = 1
	scsUploadInitiate   uint8 = 2
	scsDownloadInitiate uint8 = 3
)

const (
	flagSizeIndicated uint8 = 1 << 0
	flagExpedited     uint8 = 1 << 1
	flagLastSegment   uint8 = 1 << 0
	flagToggle        uint8 = 1 << 4
)

const (
	// Max number of data bytes inside an expedited initiate frame
	ExpeditedMaxSize = 4
	// Max number of data bytes inside a segment frame
	SegmentMaxSize = 7
)

// Identifies the object dictionary entry being transferred
type Address struct {
	Index    uint16
	Subindex uint8
}

func (a Address) String() string {
	return fmt.Sprintf("x%x:x%x", a.Index, a.Subindex)
}

type Direction uint8

const (
	Upload   Direction = 1 // Data flows from server to client
	Download Direction = 2 // Data flows from client to server
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Toggle bit of segmented transfers
type Toggle uint8

func (t Toggle) Flip() Toggle {
	return t ^ 1
}

func toggleFromByte(b uint8) Toggle {
	return Toggle((b & flagToggle) >> 4)
}

func (t Toggle) bits() uint8 {
	return uint8(t&1) << 4
}

// Command is one of the SDO commands of the expedited and segmented protocols.
// The set is closed, see [DecodeRequest] and [DecodeResponse].
type Command interface {
	specifier() uint8
	encode(raw *[8]byte)
}

// Common part of initiate download requests and initiate upload responses
type Initiate struct {
	Address       Address
	Expedited     bool
	SizeIndicated bool
	Size          uint32 // Total size, for expedited this is len(Data)
	Data          []byte // Expedited only, 1 to 4 bytes
}

// Expedited initiate carrying data inline. Empty data cannot be expedited,
// a segmented initiate of size 0 is returned instead.
func ExpeditedInitiate(address Address, data []byte) Initiate {
	if len(data) == 0 {
		return SegmentedInitiate(address, 0)
	}
	if len(data) > ExpeditedMaxSize {
		data = data[:ExpeditedMaxSize]
	}
	return Initiate{
		Address:       address,
		Expedited:     true,
		SizeIndicated: true,
		Size:          uint32(len(data)),
		Data:          data,
	}
}

// Segmented initiate announcing the total size
func SegmentedInitiate(address Address, size uint32) Initiate {
	return Initiate{Address: address, SizeIndicated: true, Size: size}
}

func (i Initiate) encode(cs uint8, raw *[8]byte) {
	raw[0] = cs << 5
	putAddress(raw, i.Address)
	if i.Expedited {
		raw[0] |= flagExpedited
		n := copy(raw[4:], i.Data[:min(len(i.Data), ExpeditedMaxSize)])
		if i.SizeIndicated {
			raw[0] |= flagSizeIndicated | uint8(ExpeditedMaxSize-n)&0x03<<2
		}
		return
	}
	if i.SizeIndicated {
		raw[0] |= flagSizeIndicated
		binary.LittleEndian.PutUint32(raw[4:], i.Size)
	}
}

func decodeInitiate(raw []byte) Initiate {
	cmd := raw[0]
	i := Initiate{
		Address:       getAddress(raw),
		Expedited:     cmd&flagExpedited != 0,
		SizeIndicated: cmd&flagSizeIndicated != 0,
	}
	if !i.Expedited {
		if i.SizeIndicated {
			i.Size = binary.LittleEndian.Uint32(raw[4:8])
		}
		return i
	}
	count := ExpeditedMaxSize
	if i.SizeIndicated {
		count -= int(cmd>>2) & 0x03
	}
	i.Data = append([]byte(nil), raw[4:4+count]...)
	i.Size = uint32(count)
	return i
}

// Common part of download segment requests and upload segment responses
type Segment struct {
	Toggle Toggle
	Data   []byte // Up to 7 bytes
	Last   bool
}

func (s Segment) encode(cs uint8, raw *[8]byte) {
	n := copy(raw[1:], s.Data[:min(len(s.Data), SegmentMaxSize)])
	raw[0] = cs<<5 | s.Toggle.bits() | uint8(SegmentMaxSize-n)<<1
	if s.Last {
		raw[0] |= flagLastSegment
	}
}

func decodeSegment(raw []byte) Segment {
	cmd := raw[0]
	count := SegmentMaxSize - int(cmd>>1)&0x07
	return Segment{
		Toggle: toggleFromByte(cmd),
		Data:   append([]byte(nil), raw[1:1+count]...),
		Last:   cmd&flagLastSegment != 0,
	}
}

type InitiateDownloadRequest struct{ Initiate }

type InitiateDownloadResponse struct{ Address Address }

type InitiateUploadRequest struct{ Address Address }

type InitiateUploadResponse struct{ Initiate }

type DownloadSegmentRequest struct{ Segment }

type DownloadSegmentResponse struct{ Toggle Toggle }

type UploadSegmentRequest struct{ Toggle Toggle }

type UploadSegmentResponse struct{ Segment }

// Abort frame, valid in both directions
type AbortCommand struct {
	Address Address
	Code    Abort
}

func (InitiateDownloadRequest) specifier() uint8  { return ccsDownloadInitiate }
func (InitiateDownloadResponse) specifier() uint8 { return scsDownloadInitiate }
func (InitiateUploadRequest) specifier() uint8    { return ccsUploadInitiate }
func (InitiateUploadResponse) specifier() uint8   { return scsUploadInitiate }
func (DownloadSegmentRequest) specifier() uint8   { return ccsDownloadSegment }
func (DownloadSegmentResponse) specifier() uint8  { return scsDownloadSegment }
func (UploadSegmentRequest) specifier() uint8     { return ccsUploadSegment }
func (UploadSegmentResponse) specifier() uint8    { return scsUploadSegment }
func (AbortCommand) specifier() uint8             { return csAbort }

func (c InitiateDownloadRequest) encode(raw *[8]byte) { c.Initiate.encode(ccsDownloadInitiate, raw) }
func (c InitiateUploadResponse) encode(raw *[8]byte)  { c.Initiate.encode(scsUploadInitiate, raw) }
func (c DownloadSegmentRequest) encode(raw *[8]byte)  { c.Segment.encode(ccsDownloadSegment, raw) }
func (c UploadSegmentResponse) encode(raw *[8]byte)   { c.Segment.encode(scsUploadSegment, raw) }

func (c InitiateDownloadResponse) encode(raw *[8]byte) {
	raw[0] = scsDownloadInitiate << 5
	putAddress(raw, c.Address)
}

func (c InitiateUploadRequest) encode(raw *[8]byte) {
	raw[0] = ccsUploadInitiate << 5
	putAddress(raw, c.Address)
}

func (c DownloadSegmentResponse) encode(raw *[8]byte) {
	raw[0] = scsDownloadSegment<<5 | c.Toggle.bits()
}

func (c UploadSegmentRequest) encode(raw *[8]byte) {
	raw[0] = ccsUploadSegment<<5 | c.Toggle.bits()
}

func (c AbortCommand) encode(raw *[8]byte) {
	raw[0] = csAbort << 5
	putAddress(raw, c.Address)
	binary.LittleEndian.PutUint32(raw[4:], uint32(c.Code))
}

func putAddress(raw *[8]byte, a Address) {
	binary.LittleEndian.PutUint16(raw[1:3], a.Index)
	raw[3] = a.Subindex
}

func getAddress(raw []byte) Address {
	return Address{Index: binary.LittleEndian.Uint16(raw[1:3]), Subindex: raw[3]}
}

// Encode cmd into an 8 byte SDO payload, unused bytes are zero
func Encode(cmd Command) [8]byte {
	var raw [8]byte
	cmd.encode(&raw)
	return raw
}

func checkLength(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("%w: %w, got %d", ErrProtocol, ErrFrameLength, len(payload))
	}
	return nil
}

// DecodeRequest decodes a client to server payload
func DecodeRequest(payload []byte) (Command, error) {
	if err := checkLength(payload); err != nil {
		return nil, err
	}
	switch cs := payload[0] >> 5; cs {
	case ccsDownloadSegment:
		return DownloadSegmentRequest{decodeSegment(payload)}, nil
	case ccsDownloadInitiate:
		return InitiateDownloadRequest{decodeInitiate(payload)}, nil
	case ccsUploadInitiate:
		return InitiateUploadRequest{Address: getAddress(payload)}, nil
	case ccsUploadSegment:
		return UploadSegmentRequest{Toggle: toggleFromByte(payload[0])}, nil
	case csAbort:
		return decodeAbort(payload), nil
	default:
		return nil, fmt.Errorf("%w: %w x%x", ErrProtocol, ErrUnknownCommand, payload[0])
	}
}

// DecodeResponse decodes a server to client payload
func DecodeResponse(payload []byte) (Command, error) {
	if err := checkLength(payload); err != nil {
		return nil, err
	}
	switch cs := payload[0] >> 5; cs {
	case scsUploadSegment:
		return UploadSegmentResponse{decodeSegment(payload)}, nil
	case scsDownloadSegment:
		return DownloadSegmentResponse{Toggle: toggleFromByte(payload[0])}, nil
	case scsUploadInitiate:
		return InitiateUploadResponse{decodeInitiate(payload)}, nil
	case scsDownloadInitiate:
		return InitiateDownloadResponse{Address: getAddress(payload)}, nil
	case csAbort:
		return decodeAbort(payload), nil
	default:
		return nil, fmt.Errorf("%w: %w x%x", ErrProtocol, ErrUnknownCommand, payload[0])
	}
}

func decodeAbort(raw []byte) AbortCommand {
	return AbortCommand{
		Address: getAddress(raw),
		Code:    Abort(binary.LittleEndian.Uint32(raw[4:8])),
	}
}
