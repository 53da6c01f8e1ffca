package velvet

import (
	"errors"
	"io"
)

// Buffer is an in-memory io.ReadWriteSeeker. Writing past the end pads the
// gap with zero bytes. The zero value is an empty buffer.
type Buffer struct {
	buf []byte
	pos int
}

// NewBuffer returns a Buffer positioned at the start of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{buf: data}
}

var errNegativePosition = errors.New("negative position")

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *Buffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.buf) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.pos:])
	b.pos += n
	return n, nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, ErrUnsupportedWhence
	}
	if pos < 0 {
		return 0, errNegativePosition
	}
	b.pos = int(pos)
	return pos, nil
}

// Size returns the number of bytes held.
func (b *Buffer) Size() int64 { return int64(len(b.buf)) }

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.buf }

// Reader returns an independent reader over the current contents.
func (b *Buffer) Reader() *Buffer { return &Buffer{buf: b.buf} }
