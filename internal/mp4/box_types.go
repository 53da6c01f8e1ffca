package mp4

import (
	"bytes"

	"github.com/icza/bitio"
)

// Matrix is the identity transformation matrix of mvhd and tkhd.
var Matrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType { return Type("ftyp") }

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int { return 8 + 4*len(b.CompatibleBrands) }

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w32(w, b.MinorVersion)
	for _, c := range b.CompatibleBrands {
		w.TryWrite(c[:])
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Ftyp) Unmarshal(payload []byte) error {
	r := newReader(payload)
	r.TryRead(b.MajorBrand[:])
	b.MinorVersion = u32(r)
	b.CompatibleBrands = nil
	for i := 8; i+4 <= len(payload); i += 4 {
		var c [4]byte
		r.TryRead(c[:])
		b.CompatibleBrands = append(b.CompatibleBrands, c)
	}
	return readErr(r, "ftyp")
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	Timescale   uint32
	Duration    uint64
	Rate        int32 // 16.16
	Volume      int16 // 8.8
	Matrix      [9]int32
	NextTrackID uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType { return Type("mvhd") }

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.Version == 1 {
		return 112
	}
	return 100
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	if b.Version == 1 {
		w64(w, 0) // creation time
		w64(w, 0) // modification time
		w32(w, b.Timescale)
		w64(w, b.Duration)
	} else {
		w32(w, 0)
		w32(w, 0)
		w32(w, b.Timescale)
		w32(w, uint32(b.Duration))
	}
	w32(w, uint32(b.Rate))
	w16(w, uint16(b.Volume))
	w.TryWrite(make([]byte, 10))
	for _, m := range b.Matrix {
		w32(w, uint32(m))
	}
	w.TryWrite(make([]byte, 24))
	w32(w, b.NextTrackID)
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Mvhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	if b.Version == 1 {
		u64(r)
		u64(r)
		b.Timescale = u32(r)
		b.Duration = u64(r)
	} else {
		u32(r)
		u32(r)
		b.Timescale = u32(r)
		b.Duration = uint64(u32(r))
	}
	b.Rate = int32(u32(r))
	b.Volume = int16(u16(r))
	r.TryRead(make([]byte, 10))
	for i := range b.Matrix {
		b.Matrix[i] = int32(u32(r))
	}
	r.TryRead(make([]byte, 24))
	b.NextTrackID = u32(r)
	return readErr(r, "mvhd")
}

/*************************** tkhd ****************************/

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	TrackID        uint32
	Duration       uint64
	Layer          int16
	AlternateGroup int16
	Volume         int16
	Matrix         [9]int32
	Width          uint32 // 16.16
	Height         uint32 // 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType { return Type("tkhd") }

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.Version == 1 {
		return 96
	}
	return 84
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	if b.Version == 1 {
		w64(w, 0)
		w64(w, 0)
		w32(w, b.TrackID)
		w32(w, 0)
		w64(w, b.Duration)
	} else {
		w32(w, 0)
		w32(w, 0)
		w32(w, b.TrackID)
		w32(w, 0)
		w32(w, uint32(b.Duration))
	}
	w.TryWrite(make([]byte, 8))
	w16(w, uint16(b.Layer))
	w16(w, uint16(b.AlternateGroup))
	w16(w, uint16(b.Volume))
	w16(w, 0)
	for _, m := range b.Matrix {
		w32(w, uint32(m))
	}
	w32(w, b.Width)
	w32(w, b.Height)
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Tkhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	if b.Version == 1 {
		u64(r)
		u64(r)
		b.TrackID = u32(r)
		u32(r)
		b.Duration = u64(r)
	} else {
		u32(r)
		u32(r)
		b.TrackID = u32(r)
		u32(r)
		b.Duration = uint64(u32(r))
	}
	r.TryRead(make([]byte, 8))
	b.Layer = int16(u16(r))
	b.AlternateGroup = int16(u16(r))
	b.Volume = int16(u16(r))
	u16(r)
	for i := range b.Matrix {
		b.Matrix[i] = int32(u32(r))
	}
	b.Width = u32(r)
	b.Height = u32(r)
	return readErr(r, "tkhd")
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	Timescale uint32
	Duration  uint64
	Language  [3]byte // ISO-639-2/T, lower case
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType { return Type("mdhd") }

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.Version == 1 {
		return 36
	}
	return 24
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	if b.Version == 1 {
		w64(w, 0)
		w64(w, 0)
		w32(w, b.Timescale)
		w64(w, b.Duration)
	} else {
		w32(w, 0)
		w32(w, 0)
		w32(w, b.Timescale)
		w32(w, uint32(b.Duration))
	}
	w.TryWriteBool(false)
	for _, c := range b.Language {
		w.TryWriteBits(uint64(c-0x60), 5)
	}
	w16(w, 0)
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Mdhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	if b.Version == 1 {
		u64(r)
		u64(r)
		b.Timescale = u32(r)
		b.Duration = u64(r)
	} else {
		u32(r)
		u32(r)
		b.Timescale = u32(r)
		b.Duration = uint64(u32(r))
	}
	r.TryReadBool()
	for i := range b.Language {
		b.Language[i] = byte(r.TryReadBits(5)) + 0x60
	}
	u16(r)
	return readErr(r, "mdhd")
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	PreDefined  uint32
	HandlerType [4]byte
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType { return Type("hdlr") }

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int { return 25 + len(b.Name) }

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, b.PreDefined)
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12))
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

// Unmarshal parses the payload. The name is a C string in mp4 and a
// counted string in QuickTime files.
func (b *Hdlr) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	b.PreDefined = u32(r)
	r.TryRead(b.HandlerType[:])
	if err := readErr(r, "hdlr"); err != nil {
		return err
	}
	b.Name = ""
	if len(payload) <= 24 {
		return nil
	}
	name := payload[24:]
	if len(name) > 1 && name[0] < 0x20 && int(name[0]) == len(name)-1 {
		name = name[1:]
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	b.Name = string(name)
	return nil
}

/*************************** vmhd ****************************/

// Vmhd is ISOBMFF vmhd box type.
type Vmhd struct {
	FullBox
	Graphicsmode uint16
	Opcolor      [3]uint16
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType { return Type("vmhd") }

// Size returns the marshaled size in bytes.
func (*Vmhd) Size() int { return 12 }

// Marshal box to writer.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w16(w, b.Graphicsmode)
	for _, c := range b.Opcolor {
		w16(w, c)
	}
	return w.TryError
}

/*************************** dref ****************************/

// Dref is ISOBMFF dref box type.
type Dref struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType { return Type("dref") }

// Size returns the marshaled size in bytes.
func (*Dref) Size() int { return 8 }

// Marshal box to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, b.EntryCount)
	return w.TryError
}

/*************************** url ****************************/

// URL is ISOBMFF url box type. Flag 1 means the media is in this file.
type URL struct {
	FullBox
}

// Type returns the BoxType.
func (*URL) Type() BoxType { return Type("url ") }

// Size returns the marshaled size in bytes.
func (*URL) Size() int { return 4 }

// Marshal box to writer.
func (b *URL) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	return w.TryError
}

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type.
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType { return Type("stsd") }

// Size returns the marshaled size in bytes.
func (*Stsd) Size() int { return 8 }

// Marshal box to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, b.EntryCount)
	return w.TryError
}

// Entries parses the sample entries of a stsd payload.
func (b *Stsd) Entries(payload []byte) ([]Node, error) {
	if len(payload) < 8 {
		return nil, ErrTruncated
	}
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	b.EntryCount = u32(r)
	return ParseBoxes(payload[8:])
}

// VisualSampleEntryHeaderSize is the size of the fixed fields of a visual
// sample entry.
const VisualSampleEntryHeaderSize = 78

// VisualSampleEntry is a video sample description. Its type is the codec
// fourcc; configuration boxes (avcC, ...) are its children.
type VisualSampleEntry struct {
	Format             BoxType
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	Horizresolution    uint32
	Vertresolution     uint32
	FrameCount         uint16
	Compressorname     string // up to 31 bytes
	Depth              uint16
}

// Type returns the BoxType.
func (b *VisualSampleEntry) Type() BoxType { return b.Format }

// Size returns the marshaled size in bytes.
func (*VisualSampleEntry) Size() int { return VisualSampleEntryHeaderSize }

// Marshal box to writer.
func (b *VisualSampleEntry) Marshal(w *bitio.Writer) error {
	w.TryWrite(make([]byte, 6))
	w16(w, b.DataReferenceIndex)
	w.TryWrite(make([]byte, 16))
	w16(w, b.Width)
	w16(w, b.Height)
	w32(w, b.Horizresolution)
	w32(w, b.Vertresolution)
	w32(w, 0)
	w16(w, b.FrameCount)
	var name [32]byte
	n := copy(name[1:], b.Compressorname)
	name[0] = byte(n)
	w.TryWrite(name[:])
	w16(w, b.Depth)
	w16(w, 0xFFFF)
	return w.TryError
}

// Unmarshal parses the fixed fields and returns the child boxes.
func (b *VisualSampleEntry) Unmarshal(typ BoxType, payload []byte) ([]Node, error) {
	if len(payload) < VisualSampleEntryHeaderSize {
		return nil, ErrTruncated
	}
	b.Format = typ
	r := newReader(payload)
	r.TryRead(make([]byte, 6))
	b.DataReferenceIndex = u16(r)
	r.TryRead(make([]byte, 16))
	b.Width = u16(r)
	b.Height = u16(r)
	b.Horizresolution = u32(r)
	b.Vertresolution = u32(r)
	u32(r)
	b.FrameCount = u16(r)
	var name [32]byte
	r.TryRead(name[:])
	if n := int(name[0]); n < 32 {
		b.Compressorname = string(name[1 : 1+n])
	}
	b.Depth = u16(r)
	if err := readErr(r, typ.String()); err != nil {
		return nil, err
	}
	// QuickTime entries may end with a 4 byte zero terminator.
	rest := payload[VisualSampleEntryHeaderSize:]
	if len(rest) < 8 {
		return nil, nil
	}
	return ParseBoxes(rest)
}

/*************************** stts ****************************/

// SttsEntry is one run of equal sample durations.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// Type returns the BoxType.
func (*Stts) Type() BoxType { return Type("stts") }

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int { return 8 + 8*len(b.Entries) }

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w32(w, e.SampleCount)
		w32(w, e.SampleDelta)
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Stts) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	if int64(n)*8 > int64(len(payload)) {
		return ErrTruncated
	}
	b.Entries = make([]SttsEntry, n)
	for i := range b.Entries {
		b.Entries[i] = SttsEntry{SampleCount: u32(r), SampleDelta: u32(r)}
	}
	return readErr(r, "stts")
}

/*************************** ctts ****************************/

// CttsEntry is one run of equal composition offsets.
type CttsEntry struct {
	SampleCount  uint32
	SampleOffset int32
}

// Ctts is ISOBMFF ctts box type. Version 1 offsets are signed.
type Ctts struct {
	FullBox
	Entries []CttsEntry
}

// Type returns the BoxType.
func (*Ctts) Type() BoxType { return Type("ctts") }

// Size returns the marshaled size in bytes.
func (b *Ctts) Size() int { return 8 + 8*len(b.Entries) }

// Marshal box to writer.
func (b *Ctts) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w32(w, e.SampleCount)
		w32(w, uint32(e.SampleOffset))
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Ctts) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	if int64(n)*8 > int64(len(payload)) {
		return ErrTruncated
	}
	b.Entries = make([]CttsEntry, n)
	for i := range b.Entries {
		b.Entries[i] = CttsEntry{SampleCount: u32(r), SampleOffset: int32(u32(r))}
	}
	return readErr(r, "ctts")
}

/*************************** stss ****************************/

// Stss is ISOBMFF stss box type: the 1-based numbers of sync samples.
type Stss struct {
	FullBox
	SampleNumbers []uint32
}

// Type returns the BoxType.
func (*Stss) Type() BoxType { return Type("stss") }

// Size returns the marshaled size in bytes.
func (b *Stss) Size() int { return 8 + 4*len(b.SampleNumbers) }

// Marshal box to writer.
func (b *Stss) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		w32(w, n)
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Stss) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	if int64(n)*4 > int64(len(payload)) {
		return ErrTruncated
	}
	b.SampleNumbers = make([]uint32, n)
	for i := range b.SampleNumbers {
		b.SampleNumbers[i] = u32(r)
	}
	return readErr(r, "stss")
}

/*************************** stsc ****************************/

// StscEntry maps a run of chunks to their sample count.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType { return Type("stsc") }

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int { return 8 + 12*len(b.Entries) }

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w32(w, e.FirstChunk)
		w32(w, e.SamplesPerChunk)
		w32(w, e.SampleDescriptionIndex)
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Stsc) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	if int64(n)*12 > int64(len(payload)) {
		return ErrTruncated
	}
	b.Entries = make([]StscEntry, n)
	for i := range b.Entries {
		b.Entries[i] = StscEntry{FirstChunk: u32(r), SamplesPerChunk: u32(r), SampleDescriptionIndex: u32(r)}
	}
	return readErr(r, "stsc")
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type. A non-zero SampleSize applies to every
// sample and EntrySizes is empty.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType { return Type("stsz") }

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int { return 12 + 4*len(b.EntrySizes) }

// Marshal box to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, b.SampleSize)
	w32(w, b.SampleCount)
	for _, s := range b.EntrySizes {
		w32(w, s)
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Stsz) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	b.SampleSize = u32(r)
	b.SampleCount = u32(r)
	b.EntrySizes = nil
	if b.SampleSize == 0 {
		if int64(b.SampleCount)*4 > int64(len(payload)) {
			return ErrTruncated
		}
		b.EntrySizes = make([]uint32, b.SampleCount)
		for i := range b.EntrySizes {
			b.EntrySizes[i] = u32(r)
		}
	}
	return readErr(r, "stsz")
}

// SampleSizeAt returns the size of the 0-based sample i.
func (b *Stsz) SampleSizeAt(i int) uint32 {
	if b.SampleSize != 0 {
		return b.SampleSize
	}
	return b.EntrySizes[i]
}

/*************************** co64 / stco ****************************/

// Co64 is ISOBMFF co64 box type.
type Co64 struct {
	FullBox
	ChunkOffsets []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType { return Type("co64") }

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int { return 8 + 8*len(b.ChunkOffsets) }

// Marshal box to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.ChunkOffsets)))
	for _, o := range b.ChunkOffsets {
		w64(w, o)
	}
	return w.TryError
}

// Unmarshal parses a co64 payload, or a stco payload when wide is false.
func (b *Co64) Unmarshal(payload []byte, wide bool) error {
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	width := int64(4)
	if wide {
		width = 8
	}
	if int64(n)*width > int64(len(payload)) {
		return ErrTruncated
	}
	b.ChunkOffsets = make([]uint64, n)
	for i := range b.ChunkOffsets {
		if wide {
			b.ChunkOffsets[i] = u64(r)
		} else {
			b.ChunkOffsets[i] = uint64(u32(r))
		}
	}
	return readErr(r, "co64")
}

/*************************** meta ****************************/

// Meta is ISOBMFF meta box type.
type Meta struct {
	FullBox
}

// Type returns the BoxType.
func (*Meta) Type() BoxType { return Type("meta") }

// Size returns the marshaled size in bytes.
func (*Meta) Size() int { return 4 }

// Marshal box to writer.
func (b *Meta) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	return w.TryError
}

// Keys is the QuickTime metadata keys box (mdta namespace).
type Keys struct {
	FullBox
	Names []string
}

// Type returns the BoxType.
func (*Keys) Type() BoxType { return Type("keys") }

// Size returns the marshaled size in bytes.
func (b *Keys) Size() int {
	n := 8
	for _, k := range b.Names {
		n += 8 + len(k)
	}
	return n
}

// Marshal box to writer.
func (b *Keys) Marshal(w *bitio.Writer) error {
	b.FullBox.MarshalField(w)
	w32(w, uint32(len(b.Names)))
	for _, k := range b.Names {
		w32(w, uint32(8+len(k)))
		w.TryWrite([]byte("mdta"))
		w.TryWrite([]byte(k))
	}
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Keys) Unmarshal(payload []byte) error {
	if len(payload) < 8 {
		return ErrTruncated
	}
	r := newReader(payload)
	b.FullBox.unmarshalField(r)
	n := u32(r)
	b.Names = nil
	p := payload[8:]
	for range n {
		if len(p) < 8 {
			return ErrTruncated
		}
		size := int(uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]))
		if size < 8 || size > len(p) {
			return ErrInvalidSize
		}
		b.Names = append(b.Names, string(p[8:size]))
		p = p[size:]
	}
	return nil
}

// DataTypeUTF8 is the well-known type of a UTF-8 metadata value.
const DataTypeUTF8 = 1

// Data is a metadata value box.
type Data struct {
	DataType uint32
	Locale   uint32
	Value    []byte
}

// Type returns the BoxType.
func (*Data) Type() BoxType { return Type("data") }

// Size returns the marshaled size in bytes.
func (b *Data) Size() int { return 8 + len(b.Value) }

// Marshal box to writer.
func (b *Data) Marshal(w *bitio.Writer) error {
	w32(w, b.DataType)
	w32(w, b.Locale)
	w.TryWrite(b.Value)
	return w.TryError
}

// Unmarshal parses the payload.
func (b *Data) Unmarshal(payload []byte) error {
	if len(payload) < 8 {
		return ErrTruncated
	}
	r := newReader(payload)
	b.DataType = u32(r)
	b.Locale = u32(r)
	b.Value = payload[8:]
	return readErr(r, "data")
}
