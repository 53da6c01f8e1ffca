// Package mp4 marshals and parses the ISO-BMFF boxes of a progressive
// (non-fragmented) mp4/mov file.
package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// Errors.
var (
	ErrTruncated   = errors.New("truncated box")
	ErrInvalidSize = errors.New("invalid box size")
	ErrNotFound    = errors.New("box not found")
)

// BoxType is an ISO-BMFF box type.
type BoxType [4]byte

// Type returns the BoxType of a four character string.
func Type(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

func (t BoxType) String() string { return string(t[:]) }

// Box is a box that can be marshaled.
type Box interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled payload size in bytes, excluding the
	// header and children.
	Size() int

	// Marshal the payload to the writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a box with its children.
type Boxes struct {
	Box      Box
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := b.Box.Size() + 8
	for i := range b.Children {
		total += b.Children[i].Size()
	}
	return total
}

// Marshal the box including children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	writeHeader(w, uint32(b.Size()), b.Box.Type())
	if w.TryError != nil {
		return w.TryError
	}
	if err := b.Box.Marshal(w); err != nil {
		return err
	}
	for i := range b.Children {
		if err := b.Children[i].Marshal(w); err != nil {
			return err
		}
	}
	return w.TryError
}

// Bytes marshals the box tree into a new slice.
func (b *Boxes) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(b.Size())
	w := bitio.NewWriter(&buf)
	if err := b.Marshal(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSingleBox writes a box without children.
func WriteSingleBox(w *bitio.Writer, b Box) (int, error) {
	bs := Boxes{Box: b}
	return bs.Size(), bs.Marshal(w)
}

func writeHeader(w *bitio.Writer, size uint32, typ BoxType) {
	w.TryWriteBits(uint64(size), 32)
	w.TryWrite(typ[:])
}

// LargeHeaderSize is the size of a box header with a 64-bit size.
const LargeHeaderSize = 16

// LargeHeader returns a box header with a 64-bit size field. A mdat whose
// size is unknown when it starts is written with a placeholder and patched.
func LargeHeader(typ BoxType, size uint64) []byte {
	h := make([]byte, LargeHeaderSize)
	binary.BigEndian.PutUint32(h, 1)
	copy(h[4:], typ[:])
	binary.BigEndian.PutUint64(h[8:], size)
	return h
}

// Header is a parsed box header.
type Header struct {
	Type       BoxType
	Size       int64 // total size including the header; 0 extends to end of file
	HeaderSize int
}

// ReadHeader reads a box header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:8]); err != nil {
		return Header{}, err
	}
	h := Header{
		Size:       int64(binary.BigEndian.Uint32(b[:4])),
		HeaderSize: 8,
	}
	copy(h.Type[:], b[4:8])
	if h.Size == 1 {
		if _, err := io.ReadFull(r, b[8:16]); err != nil {
			return Header{}, fmt.Errorf("%w: %s large size", ErrTruncated, h.Type)
		}
		h.Size = int64(binary.BigEndian.Uint64(b[8:16]))
		h.HeaderSize = 16
	}
	if h.Size != 0 && h.Size < int64(h.HeaderSize) {
		return Header{}, fmt.Errorf("%w: %s size %d", ErrInvalidSize, h.Type, h.Size)
	}
	return h, nil
}

// Node is a parsed box with its payload.
type Node struct {
	Type    BoxType
	Payload []byte
}

// ParseBoxes splits b into consecutive boxes.
func ParseBoxes(b []byte) ([]Node, error) {
	var nodes []Node
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(b))
		}
		h, err := ReadHeader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		size := h.Size
		if size == 0 {
			size = int64(len(b))
		}
		if size > int64(len(b)) {
			return nil, fmt.Errorf("%w: %s size %d, %d available", ErrTruncated, h.Type, size, len(b))
		}
		nodes = append(nodes, Node{Type: h.Type, Payload: b[h.HeaderSize:size]})
		b = b[size:]
	}
	return nodes, nil
}

// Children parses the payload of a container box.
func (n Node) Children() ([]Node, error) {
	return ParseBoxes(n.Payload)
}

// Find returns the first box at path below nodes, descending through
// container boxes.
func Find(nodes []Node, path ...string) (Node, error) {
	for i, name := range path {
		var found *Node
		for j := range nodes {
			if nodes[j].Type == Type(name) {
				found = &nodes[j]
				break
			}
		}
		if found == nil {
			return Node{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if i == len(path)-1 {
			return *found, nil
		}
		var err error
		if nodes, err = found.Children(); err != nil {
			return Node{}, err
		}
	}
	return Node{}, ErrNotFound
}

// FindAll returns every direct child of type typ.
func FindAll(nodes []Node, typ string) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Type == Type(typ) {
			out = append(out, n)
		}
	}
	return out
}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	return uint32(b.Flags[0])<<16 | uint32(b.Flags[1])<<8 | uint32(b.Flags[2])
}

// MarshalField writes version and flags.
func (b *FullBox) MarshalField(w *bitio.Writer) {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
}

func (b *FullBox) unmarshalField(r *bitio.Reader) {
	b.Version = r.TryReadByte()
	r.TryRead(b.Flags[:])
}

// Container is a box that only holds children (moov, trak, mdia, ...).
type Container BoxType

// Type returns the BoxType.
func (c Container) Type() BoxType { return BoxType(c) }

// Size returns the marshaled size in bytes.
func (Container) Size() int { return 0 }

// Marshal writes nothing.
func (Container) Marshal(*bitio.Writer) error { return nil }

// Raw is a box with an opaque payload, for codec configuration records.
type Raw struct {
	BoxType BoxType
	Data    []byte
}

// Type returns the BoxType.
func (b *Raw) Type() BoxType { return b.BoxType }

// Size returns the marshaled size in bytes.
func (b *Raw) Size() int { return len(b.Data) }

// Marshal box to writer.
func (b *Raw) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

func newReader(payload []byte) *bitio.Reader {
	return bitio.NewReader(bytes.NewReader(payload))
}

func u16(r *bitio.Reader) uint16 { return uint16(r.TryReadBits(16)) }
func u32(r *bitio.Reader) uint32 { return uint32(r.TryReadBits(32)) }
func u64(r *bitio.Reader) uint64 { return r.TryReadBits(64) }

func w16(w *bitio.Writer, v uint16) { w.TryWriteBits(uint64(v), 16) }
func w32(w *bitio.Writer, v uint32) { w.TryWriteBits(uint64(v), 32) }
func w64(w *bitio.Writer, v uint64) { w.TryWriteBits(v, 64) }

func readErr(r *bitio.Reader, typ string) error {
	if r.TryError == nil {
		return nil
	}
	if errors.Is(r.TryError, io.EOF) || errors.Is(r.TryError, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncated, typ)
	}
	return fmt.Errorf("%s: %w", typ, r.TryError)
}
