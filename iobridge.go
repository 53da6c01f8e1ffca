package velvet

import (
	"errors"
	"fmt"
	"io"
)

// Whence selects the reference point of an IOBridge seek. The values match
// the engine callback contract (SEEK_SET, SEEK_CUR, SEEK_END, AVSEEK_SIZE).
type Whence int

const (
	WhenceSet  Whence = 0
	WhenceCur  Whence = 1
	WhenceEnd  Whence = 2
	WhenceSize Whence = 0x10000

	whenceForce Whence = 0x20000 // hint bit, ignored
)

func (w Whence) String() string {
	switch w {
	case WhenceSet:
		return "set"
	case WhenceCur:
		return "cur"
	case WhenceEnd:
		return "end"
	case WhenceSize:
		return "size"
	default:
		return fmt.Sprintf("whence(%d)", int(w))
	}
}

// ioBufferSize is the size of the engine-side I/O buffer placed in front of
// a bridge.
const ioBufferSize = 32 * 1024

// maxEmptyReads bounds consecutive (0, nil) reads before an input is
// reported as stuck with io.ErrNoProgress.
const maxEmptyReads = 100

// Sizer is implemented by sources that know their total length without
// seeking.
type Sizer interface {
	Size() int64
}

// IOBridge adapts an application byte source or sink to the engine's
// pull/seek callback contract. A bridge is either an input (Pull reads) or
// an output (Pull writes).
//
// The first hard I/O failure is recorded and returned by Err; a pipeline
// that observes one is invalid.
type IOBridge struct {
	r io.Reader
	w io.Writer
	s io.Seeker

	err     error
	read    int64
	written int64
}

// NewInputBridge returns a bridge that pulls bytes from r.
func NewInputBridge(r io.ReadSeeker) *IOBridge {
	return &IOBridge{r: r, s: r}
}

// NewOutputBridge returns a bridge whose Pull writes to w.
func NewOutputBridge(w io.WriteSeeker) *IOBridge {
	return &IOBridge{w: w, s: w}
}

// Output reports whether the bridge writes.
func (b *IOBridge) Output() bool { return b.w != nil }

// Err returns the first I/O failure seen by the bridge.
func (b *IOBridge) Err() error { return b.err }

// BytesRead returns the number of bytes pulled from an input.
func (b *IOBridge) BytesRead() int64 { return b.read }

// BytesWritten returns the number of bytes written to an output.
func (b *IOBridge) BytesWritten() int64 { return b.written }

// Pull moves up to len(buf) bytes between the engine and the application
// stream. For inputs it returns 0 with a nil error at clean end of input;
// reads returning (0, nil) are retried, up to maxEmptyReads times. For
// outputs it writes all of buf.
func (b *IOBridge) Pull(buf []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.w != nil {
		n, err := b.w.Write(buf)
		b.written += int64(n)
		if err == nil && n < len(buf) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return n, b.fail("write", err)
		}
		return n, nil
	}

	for range maxEmptyReads {
		n, err := b.r.Read(buf)
		b.read += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, b.fail("read", err)
		}
		if n > 0 || err != nil {
			return n, nil
		}
	}
	return 0, b.fail("read", io.ErrNoProgress)
}

// Seek repositions the stream. WhenceSize returns the total length and
// leaves the cursor where it was. WhenceEnd is relative to the end.
func (b *IOBridge) Seek(offset int64, whence Whence) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.s == nil {
		return 0, fmt.Errorf("%w: stream is not seekable", ErrUnsupportedWhence)
	}

	var (
		pos int64
		err error
	)
	switch whence &^ whenceForce {
	case WhenceSize:
		return b.size()
	case WhenceSet:
		pos, err = b.s.Seek(offset, io.SeekStart)
	case WhenceCur:
		pos, err = b.s.Seek(offset, io.SeekCurrent)
	case WhenceEnd:
		pos, err = b.s.Seek(offset, io.SeekEnd)
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedWhence, whence)
	}
	if err != nil {
		return 0, b.fail("seek", err)
	}
	return pos, nil
}

func (b *IOBridge) size() (int64, error) {
	if s, ok := b.s.(Sizer); ok {
		return s.Size(), nil
	}
	cur, err := b.s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, b.fail("size", err)
	}
	end, err := b.s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, b.fail("size", err)
	}
	if _, err := b.s.Seek(cur, io.SeekStart); err != nil {
		return 0, b.fail("size", err)
	}
	return end, nil
}

func (b *IOBridge) fail(op string, err error) error {
	b.err = &IOError{Op: op, Err: err}
	return b.err
}

// Read implements io.Reader on top of Pull for pure-Go engines.
func (b *IOBridge) Read(p []byte) (int, error) {
	if b.w != nil {
		return 0, fmt.Errorf("%w: read from output bridge", ErrInvalidConfig)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.Pull(p)
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer on top of Pull for pure-Go engines.
func (b *IOBridge) Write(p []byte) (int, error) {
	if b.w == nil {
		return 0, fmt.Errorf("%w: write to input bridge", ErrInvalidConfig)
	}
	return b.Pull(p)
}

// Tell returns the current cursor position.
func (b *IOBridge) Tell() (int64, error) {
	return b.Seek(0, WhenceCur)
}
