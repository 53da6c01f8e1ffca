package velvet

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOBridge_PullInput(t *testing.T) {
	b := NewInputBridge(NewBuffer([]byte("hello world")))
	buf := make([]byte, 5)

	n, err := b.Pull(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	_, err = b.Seek(0, WhenceEnd)
	require.NoError(t, err)
	n, err = b.Pull(buf)
	require.NoError(t, err, "clean end of input is not an error")
	require.Zero(t, n)
	require.Equal(t, int64(5), b.BytesRead())
	require.False(t, b.Output())
}

func TestIOBridge_Seek(t *testing.T) {
	data := make([]byte, 100)
	tests := []struct {
		name   string
		start  int64
		offset int64
		whence Whence
		want   int64
	}{
		{"set", 10, 40, WhenceSet, 40},
		{"cur", 10, 5, WhenceCur, 15},
		{"end", 10, -20, WhenceEnd, 80},
		{"size", 10, 0, WhenceSize, 100},
		{"forced set", 10, 30, WhenceSet | whenceForce, 30},
		{"forced size", 10, 0, WhenceSize | whenceForce, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewInputBridge(NewBuffer(data))
			_, err := b.Seek(tt.start, WhenceSet)
			require.NoError(t, err)
			got, err := b.Seek(tt.offset, tt.whence)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// readSeeker hides the Size method of Buffer.
type readSeeker struct{ io.ReadSeeker }

func TestIOBridge_SizeRestoresCursor(t *testing.T) {
	b := NewInputBridge(readSeeker{NewBuffer(make([]byte, 64))})
	_, err := b.Seek(17, WhenceSet)
	require.NoError(t, err)

	size, err := b.Seek(0, WhenceSize)
	require.NoError(t, err)
	require.Equal(t, int64(64), size)

	pos, err := b.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(17), pos)
}

func TestIOBridge_UnknownWhence(t *testing.T) {
	b := NewInputBridge(NewBuffer(nil))
	_, err := b.Seek(0, Whence(7))
	require.ErrorIs(t, err, ErrUnsupportedWhence)
	require.NoError(t, b.Err(), "a rejected whence does not poison the bridge")
}

type failingWriter struct {
	n   int
	err error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.n += len(p)
	return len(p), nil
}

func (w *failingWriter) Seek(int64, int) (int64, error) { return int64(w.n), nil }

func TestIOBridge_OutputFailureIsSticky(t *testing.T) {
	w := &failingWriter{}
	b := NewOutputBridge(w)
	require.True(t, b.Output())

	n, err := b.Pull([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, int64(3), b.BytesWritten())

	boom := errors.New("disk full")
	w.err = boom
	_, err = b.Pull([]byte("def"))
	require.ErrorIs(t, err, boom)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "write", ioErr.Op)

	w.err = nil
	_, err = b.Pull([]byte("ghi"))
	require.ErrorIs(t, err, boom, "the first failure is kept")
	_, err = b.Seek(0, WhenceSet)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, b.Err(), boom)
}

func TestIOBridge_ReadWriteDirection(t *testing.T) {
	in := NewInputBridge(NewBuffer([]byte{1}))
	_, err := in.Write([]byte{1})
	require.ErrorIs(t, err, ErrInvalidConfig)

	out := NewOutputBridge(&Buffer{})
	_, err = out.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	p := make([]byte, 4)
	n, err := in.Read(p)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = in.Read(p)
	require.ErrorIs(t, err, io.EOF)
}

func TestBuffer_WritePastEndPadsWithZeros(t *testing.T) {
	var b Buffer
	_, err := b.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	_, err = b.Seek(6, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte{9})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 9}, b.Bytes())

	_, err = b.Seek(1, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte{7})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 7, 3, 0, 0, 0, 9}, b.Bytes())
	require.Equal(t, int64(7), b.Size())

	_, err = b.Seek(-1, io.SeekStart)
	require.Error(t, err)

	r := b.Reader()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, b.Bytes(), got)
}

// stallingReader returns (0, nil) for its first stalls reads.
type stallingReader struct {
	io.ReadSeeker
	stalls int
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if r.stalls > 0 {
		r.stalls--
		return 0, nil
	}
	return r.ReadSeeker.Read(p)
}

func TestIOBridge_EmptyReads(t *testing.T) {
	b := NewInputBridge(&stallingReader{ReadSeeker: NewBuffer([]byte("abc")), stalls: 3})
	p := make([]byte, 8)
	n, err := b.Read(p)
	require.NoError(t, err, "empty reads are not end of input")
	require.Equal(t, "abc", string(p[:n]))
	_, err = b.Read(p)
	require.ErrorIs(t, err, io.EOF)

	stuck := NewInputBridge(&stallingReader{ReadSeeker: NewBuffer([]byte("abc")), stalls: maxEmptyReads})
	_, err = stuck.Pull(p)
	require.ErrorIs(t, err, io.ErrNoProgress)
	require.ErrorIs(t, stuck.Err(), io.ErrNoProgress)
}
