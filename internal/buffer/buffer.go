package buffer

import "io"

// Growable transfer buffer used by the SDO engines.
// Data is appended at the write cursor and can be drawn again from
// a separate read cursor, the written bytes stay available until Reset.
type Buffer struct {
	data      []byte
	readPos   int
	size      uint32
	sizeKnown bool
}

func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Reset truncates the buffer but keeps the allocated capacity
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.readPos = 0
	b.size = 0
	b.sizeKnown = false
}

// Release drops the underlying storage
func (b *Buffer) Release() {
	b.data = nil
	b.readPos = 0
	b.size = 0
	b.sizeKnown = false
}

// Write appends p, it never fails
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Read draws from the read cursor, returns io.EOF once everything written has been read
func (b *Buffer) Read(p []byte) (int, error) {
	if b.readPos >= len(b.data) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.readPos:])
	b.readPos += n
	return n, nil
}

// Bytes returns everything written so far, without copying.
// The slice is only valid until the next Reset or Write.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Number of bytes written
func (b *Buffer) Len() int {
	return len(b.data)
}

// Number of bytes not yet read
func (b *Buffer) Unread() int {
	return len(b.data) - b.readPos
}

// Number of bytes already read
func (b *Buffer) Consumed() int {
	return b.readPos
}

// Declare the expected total size of the transfer
func (b *Buffer) SetSize(size uint32) {
	b.size = size
	b.sizeKnown = true
}

// Declared total size, if any
func (b *Buffer) Size() (uint32, bool) {
	return b.size, b.sizeKnown
}
