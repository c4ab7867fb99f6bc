package buffer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWrite(t *testing.T) {
	b := New(4)
	n, err := b.Write([]byte{1, 2, 3, 4, 5})
	assert.Nil(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, b.Len())
	n, _ = b.Write(make([]byte, 500))
	assert.Equal(t, 500, n)
	assert.Equal(t, 505, b.Len())
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, b.Bytes()[:5])
}

func TestBufferRead(t *testing.T) {
	b := New(10)
	rx := make([]byte, 7)
	n, err := b.Read(rx)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	b.Write([]byte("0123456789"))
	n, err = b.Read(rx)
	assert.Nil(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "0123456", string(rx))
	assert.Equal(t, 3, b.Unread())
	n, err = b.Read(rx)
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "789", string(rx[:n]))
	_, err = b.Read(rx)
	assert.Equal(t, io.EOF, err)
	// Reading does not remove data from snapshot
	assert.Equal(t, "0123456789", string(b.Bytes()))
	assert.Equal(t, 10, b.Consumed())
}

func TestBufferResetKeepsCapacity(t *testing.T) {
	b := New(0)
	b.Write(make([]byte, 1000))
	b.SetSize(1000)
	capacity := cap(b.Bytes())
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Unread())
	assert.Equal(t, capacity, cap(b.Bytes()))
	_, known := b.Size()
	assert.False(t, known)
}

func TestBufferSize(t *testing.T) {
	b := New(0)
	size, known := b.Size()
	assert.False(t, known)
	assert.EqualValues(t, 0, size)
	b.SetSize(0)
	_, known = b.Size()
	assert.True(t, known)
	b.Release()
	assert.Nil(t, b.Bytes())
}
