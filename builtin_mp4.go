package velvet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/thesyncim/velvet/internal/mp4"
)

const (
	mp4MinTimescale = 10000
	mp4MovieScale   = 1000
	// Packets buffered for interleaving are written once the queue spans
	// more than this.
	mp4MaxInterleaveDelta = 10 * 1000 * 1000 * 1000 // ns
	defaultHandlerName    = "VideoHandler"
)

// mp4Track is one stream of the builtin muxer.
type mp4Track struct {
	codec     VideoCodec
	width     int
	height    int
	codecTB   TimeBase
	timescale uint32
	extradata []byte
	metadata  map[string]string

	samples  []mp4.Sample
	lastDur  int64 // duration of the last packet, stream time base
	lastDTS  int64
	received bool
}

func (t *mp4Track) tb() TimeBase { return TimeBase{Num: 1, Den: int64(t.timescale)} }

// mp4Timescale derives the media timescale from a codec time base the way
// common muxers do: the denominator doubled until it is fine enough.
func mp4Timescale(tb TimeBase) uint32 {
	ts := tb.Den
	if ts <= 0 {
		ts = 1
	}
	for ts < mp4MinTimescale {
		ts *= 2
	}
	return uint32(ts)
}

// builtinMuxer writes a progressive mp4/mov: ftyp, a single mdat whose size
// is patched at the trailer, then moov.
type builtinMuxer struct {
	out      *IOBridge
	format   string
	metadata map[string]string
	tracks   []*mp4Track

	headerDone  bool
	trailerDone bool
	mdatStart   int64
	pos         int64

	queue []*Packet
}

func newBuiltinMuxer(format string, out *IOBridge) (*builtinMuxer, error) {
	switch format {
	case "mp4", "mov":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if out == nil || !out.Output() {
		return nil, fmt.Errorf("%w: muxer needs an output bridge", ErrInvalidConfig)
	}
	return &builtinMuxer{out: out, format: format, metadata: map[string]string{}}, nil
}

func (m *builtinMuxer) GlobalHeader() bool { return true }

func (m *builtinMuxer) SetMetadata(key, value string) error {
	if m.headerDone {
		return fmt.Errorf("%w: metadata after header", ErrInvalidConfig)
	}
	m.metadata[key] = value
	return nil
}

func (m *builtinMuxer) AddStream(enc EncoderContext, metadata map[string]string) (int, error) {
	if m.headerDone {
		return 0, fmt.Errorf("%w: stream added after header", ErrInvalidConfig)
	}
	be, ok := enc.(*builtinEncoder)
	if !ok {
		return 0, fmt.Errorf("%w: builtin muxer needs a builtin encoder", ErrEngineMismatch)
	}
	t := &mp4Track{
		codec:     be.codec,
		width:     be.width,
		height:    be.height,
		codecTB:   be.tb,
		timescale: mp4Timescale(be.tb),
		extradata: enc.Extradata(),
		metadata:  copyMetadata(metadata),
	}
	m.tracks = append(m.tracks, t)
	return len(m.tracks) - 1, nil
}

func (m *builtinMuxer) WriteHeader() error {
	if m.headerDone {
		return fmt.Errorf("%w: header written twice", ErrInvalidConfig)
	}
	if len(m.tracks) == 0 {
		return fmt.Errorf("%w: no streams", ErrInvalidConfig)
	}
	ftyp := &mp4.Ftyp{
		MajorBrand:       [4]byte{'i', 's', 'o', 'm'},
		MinorVersion:     512,
		CompatibleBrands: [][4]byte{{'i', 's', 'o', 'm'}, {'i', 's', 'o', '2'}, {'m', 'p', '4', '1'}},
	}
	if m.format == "mov" {
		ftyp = &mp4.Ftyp{
			MajorBrand:       [4]byte{'q', 't', ' ', ' '},
			MinorVersion:     0x200,
			CompatibleBrands: [][4]byte{{'q', 't', ' ', ' '}},
		}
	}
	boxes := mp4.Boxes{Box: ftyp}
	b, err := boxes.Bytes()
	if err != nil {
		return err
	}
	if err := m.write(b); err != nil {
		return err
	}
	m.mdatStart = m.pos
	if err := m.write(mp4.LargeHeader(mp4.Type("mdat"), 0)); err != nil {
		return err
	}
	m.headerDone = true
	return nil
}

func (m *builtinMuxer) StreamTimeBase(index int) TimeBase {
	if index < 0 || index >= len(m.tracks) {
		return TimeBase{}
	}
	return m.tracks[index].tb()
}

func (m *builtinMuxer) write(b []byte) error {
	if _, err := m.out.Write(b); err != nil {
		return err
	}
	m.pos += int64(len(b))
	return nil
}

// WritePacket queues p and writes the queue in dts order while every
// stream has a packet pending.
func (m *builtinMuxer) WritePacket(p *Packet) error {
	if !m.headerDone || m.trailerDone {
		return fmt.Errorf("%w: packet outside header and trailer", ErrInvalidConfig)
	}
	if p == nil {
		return m.drain(true)
	}
	if p.StreamIndex < 0 || p.StreamIndex >= len(m.tracks) {
		return fmt.Errorf("%w: packet for stream %d", ErrStreamNotFound, p.StreamIndex)
	}
	q := &Packet{
		Data:        p.Data,
		PTS:         p.PTS,
		DTS:         p.DTS,
		Duration:    p.Duration,
		StreamIndex: p.StreamIndex,
		Key:         p.Key,
	}
	if q.DTS == NoPTS {
		q.DTS = q.PTS
	}
	if q.PTS == NoPTS {
		q.PTS = q.DTS
	}
	if q.DTS == NoPTS {
		return fmt.Errorf("%w: stream %d: packet without timestamps", ErrInvalidData, p.StreamIndex)
	}
	p.Data = nil

	i := sort.Search(len(m.queue), func(i int) bool { return m.before(q, m.queue[i]) })
	m.queue = append(m.queue, nil)
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = q
	return m.drain(false)
}

func (m *builtinMuxer) nanoDTS(p *Packet) int64 {
	return Rescale(p.DTS, m.tracks[p.StreamIndex].tb(), NanoTimeBase)
}

// before orders packets by dts across streams, stream index breaking ties.
func (m *builtinMuxer) before(a, b *Packet) bool {
	da, db := m.nanoDTS(a), m.nanoDTS(b)
	if da != db {
		return da < db
	}
	return a.StreamIndex < b.StreamIndex
}

func (m *builtinMuxer) drain(all bool) error {
	for len(m.queue) > 0 {
		if !all && !m.ready() {
			return nil
		}
		p := m.queue[0]
		m.queue = m.queue[1:]
		if err := m.writeSample(p); err != nil {
			return err
		}
	}
	return nil
}

// ready reports whether the head of the queue can be written.
func (m *builtinMuxer) ready() bool {
	if m.nanoDTS(m.queue[len(m.queue)-1])-m.nanoDTS(m.queue[0]) > mp4MaxInterleaveDelta {
		return true
	}
	pending := make([]bool, len(m.tracks))
	for _, p := range m.queue {
		pending[p.StreamIndex] = true
	}
	for _, ok := range pending {
		if !ok {
			return false
		}
	}
	return true
}

func (m *builtinMuxer) writeSample(p *Packet) error {
	t := m.tracks[p.StreamIndex]
	if t.received && p.DTS <= t.lastDTS {
		return fmt.Errorf("%w: stream %d: non monotonic dts %d after %d", ErrInvalidData, p.StreamIndex, p.DTS, t.lastDTS)
	}
	if len(p.Data) > int(^uint32(0)) {
		return fmt.Errorf("%w: stream %d: packet of %d bytes", ErrInvalidData, p.StreamIndex, len(p.Data))
	}
	off := m.pos
	if err := m.write(p.Data); err != nil {
		return err
	}
	t.samples = append(t.samples, mp4.Sample{
		Offset: off,
		Size:   uint32(len(p.Data)),
		DTS:    p.DTS,
		PTS:    p.PTS,
		Key:    p.Key,
	})
	t.received = true
	t.lastDTS = p.DTS
	if p.Duration > 0 {
		t.lastDur = p.Duration
	}
	return nil
}

func (m *builtinMuxer) WriteTrailer() error {
	if !m.headerDone {
		return fmt.Errorf("%w: trailer before header", ErrInvalidConfig)
	}
	if m.trailerDone {
		return nil
	}
	if err := m.drain(true); err != nil {
		return err
	}
	m.trailerDone = true

	end := m.pos
	if _, err := m.out.Seek(m.mdatStart+8, WhenceSet); err != nil {
		return err
	}
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(end-m.mdatStart))
	if _, err := m.out.Write(size[:]); err != nil {
		return err
	}
	if _, err := m.out.Seek(end, WhenceSet); err != nil {
		return err
	}

	moov := m.moov()
	b, err := moov.Bytes()
	if err != nil {
		return err
	}
	return m.write(b)
}

// finishDurations fills the sample durations from the dts deltas. The last
// sample keeps its packet duration, else the previous delta, else one frame.
func (t *mp4Track) finishDurations() int64 {
	var total int64
	for i := range t.samples {
		var d int64
		switch {
		case i+1 < len(t.samples):
			d = t.samples[i+1].DTS - t.samples[i].DTS
		case t.lastDur > 0:
			d = t.lastDur
		case i > 0:
			d = int64(t.samples[i-1].Duration)
		default:
			d = max(Rescale(1, t.codecTB, t.tb()), 1)
		}
		t.samples[i].Duration = uint32(d)
		total += d
	}
	return total
}

func (m *builtinMuxer) moov() mp4.Boxes {
	var movieDur uint64
	traks := make([]mp4.Boxes, 0, len(m.tracks))
	for i, t := range m.tracks {
		dur := t.finishDurations()
		md := uint64(Rescale(dur, t.tb(), TimeBase{Num: 1, Den: mp4MovieScale}))
		movieDur = max(movieDur, md)
		traks = append(traks, m.trak(i, t, uint64(dur), md))
	}

	mvhd := &mp4.Mvhd{
		Timescale:   mp4MovieScale,
		Duration:    movieDur,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      mp4.Matrix,
		NextTrackID: uint32(len(m.tracks) + 1),
	}
	if movieDur > uint64(^uint32(0)) {
		mvhd.Version = 1
	}
	moov := mp4.Boxes{Box: mp4.Container(mp4.Type("moov")), Children: []mp4.Boxes{{Box: mvhd}}}
	moov.Children = append(moov.Children, traks...)
	if udta, ok := mp4.MetadataBoxes(m.metadata); ok {
		moov.Children = append(moov.Children, udta)
	}
	return moov
}

func (m *builtinMuxer) trak(i int, t *mp4Track, mediaDur, movieDur uint64) mp4.Boxes {
	handler := t.metadata["handler_name"]
	if handler == "" {
		handler = defaultHandlerName
	}
	trackMD := copyMetadata(t.metadata)
	delete(trackMD, "handler_name")

	tkhd := &mp4.Tkhd{
		FullBox:  mp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:  uint32(i + 1),
		Duration: movieDur,
		Matrix:   mp4.Matrix,
		Width:    uint32(t.width) << 16,
		Height:   uint32(t.height) << 16,
	}
	mdhd := &mp4.Mdhd{
		Timescale: t.timescale,
		Duration:  mediaDur,
		Language:  [3]byte{'u', 'n', 'd'},
	}
	if movieDur > uint64(^uint32(0)) {
		tkhd.Version = 1
	}
	if mediaDur > uint64(^uint32(0)) {
		mdhd.Version = 1
	}

	entry := mp4.Boxes{Box: &mp4.VisualSampleEntry{
		Format:             mp4.Type(t.codec.FourCC()),
		DataReferenceIndex: 1,
		Width:              uint16(t.width),
		Height:             uint16(t.height),
		Horizresolution:    0x00480000,
		Vertresolution:     0x00480000,
		FrameCount:         1,
		Compressorname:     t.codec.String(),
		Depth:              24,
	}}
	if len(t.extradata) > 0 && t.codec == VideoCodecH264 {
		entry.Children = append(entry.Children, mp4.Boxes{Box: &mp4.Raw{BoxType: mp4.Type("avcC"), Data: t.extradata}})
	}

	trak := mp4.Boxes{
		Box: mp4.Container(mp4.Type("trak")),
		Children: []mp4.Boxes{
			{Box: tkhd},
			{
				Box: mp4.Container(mp4.Type("mdia")),
				Children: []mp4.Boxes{
					{Box: mdhd},
					{Box: &mp4.Hdlr{HandlerType: mp4.Type("vide"), Name: handler}},
					{
						Box: mp4.Container(mp4.Type("minf")),
						Children: []mp4.Boxes{
							{Box: &mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}},
							{
								Box: mp4.Container(mp4.Type("dinf")),
								Children: []mp4.Boxes{{
									Box:      &mp4.Dref{EntryCount: 1},
									Children: []mp4.Boxes{{Box: &mp4.URL{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}}},
								}},
							},
							mp4.SampleTable(entry, t.samples),
						},
					},
				},
			},
		},
	}
	if udta, ok := mp4.MetadataBoxes(trackMD); ok {
		trak.Children = append(trak.Children, udta)
	}
	return trak
}

func (m *builtinMuxer) Close() error {
	m.queue = nil
	m.tracks = nil
	return nil
}

// mp4Input is one track of the builtin demuxer.
type mp4Input struct {
	desc    StreamDescriptor
	samples []mp4.Sample
	next    int
}

// builtinDemuxer reads progressive mp4/mov files through an IOBridge.
// Packets are returned in file order.
type builtinDemuxer struct {
	in       *IOBridge
	tracks   []*mp4Input
	metadata map[string]string
}

func openBuiltinDemuxer(in *IOBridge) (*builtinDemuxer, error) {
	if in == nil || in.Output() {
		return nil, fmt.Errorf("%w: demuxer needs an input bridge", ErrInvalidConfig)
	}
	size, err := in.Seek(0, WhenceSize)
	if err != nil {
		return nil, err
	}
	moov, err := readMoov(in, size)
	if err != nil {
		return nil, err
	}
	d := &builtinDemuxer{in: in, metadata: map[string]string{}}
	if err := d.parseMoov(moov); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	for i, t := range d.tracks {
		for _, smp := range t.samples {
			if smp.Offset < 0 || smp.Offset > size-int64(smp.Size) {
				return nil, fmt.Errorf("%w: trak %d sample at %d+%d past end of input (%d)",
					ErrInvalidData, i, smp.Offset, smp.Size, size)
			}
		}
	}
	return d, nil
}

// readMoov walks the top level boxes and returns the moov payload. Boxes
// must fit in the size bytes of input.
func readMoov(in *IOBridge, size int64) ([]byte, error) {
	var pos int64
	first := true
	for {
		h, err := mp4.ReadHeader(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: no moov box", ErrUnsupportedFormat)
			}
			if first {
				return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
		if first {
			switch h.Type.String() {
			case "ftyp", "moov", "mdat", "free", "skip", "wide":
			default:
				return nil, fmt.Errorf("%w: leading box %q", ErrUnsupportedFormat, h.Type)
			}
			first = false
		}
		if h.Size > size-pos {
			return nil, fmt.Errorf("%w: box %q at %d overruns input", ErrInvalidData, h.Type, pos)
		}
		if h.Type == mp4.Type("moov") {
			if h.Size == 0 {
				return nil, fmt.Errorf("%w: unbounded moov", ErrInvalidData)
			}
			buf := make([]byte, h.Size-int64(h.HeaderSize))
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, fmt.Errorf("%w: moov: %w", ErrInvalidData, err)
			}
			return buf, nil
		}
		if h.Size == 0 {
			return nil, fmt.Errorf("%w: no moov box", ErrUnsupportedFormat)
		}
		pos += h.Size
		if _, err := in.Seek(pos, WhenceSet); err != nil {
			return nil, err
		}
	}
}

func (d *builtinDemuxer) parseMoov(payload []byte) error {
	nodes, err := mp4.ParseBoxes(payload)
	if err != nil {
		return err
	}
	if udta, err := mp4.Find(nodes, "udta"); err == nil {
		if d.metadata, err = mp4.ParseMetadata(udta); err != nil {
			return err
		}
	}
	for i, trak := range mp4.FindAll(nodes, "trak") {
		t, err := parseTrak(len(d.tracks), trak)
		if err != nil {
			return fmt.Errorf("trak %d: %w", i, err)
		}
		d.tracks = append(d.tracks, t)
	}
	return nil
}

func parseTrak(index int, trak mp4.Node) (*mp4Input, error) {
	children, err := trak.Children()
	if err != nil {
		return nil, err
	}
	var (
		tkhd mp4.Tkhd
		mdhd mp4.Mdhd
		hdlr mp4.Hdlr
	)
	node, err := mp4.Find(children, "tkhd")
	if err != nil {
		return nil, err
	}
	if err := tkhd.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	if node, err = mp4.Find(children, "mdia", "mdhd"); err != nil {
		return nil, err
	}
	if err := mdhd.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	if mdhd.Timescale == 0 {
		return nil, fmt.Errorf("zero timescale")
	}
	if node, err = mp4.Find(children, "mdia", "hdlr"); err != nil {
		return nil, err
	}
	if err := hdlr.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	stbl, err := mp4.Find(children, "mdia", "minf", "stbl")
	if err != nil {
		return nil, err
	}
	stblNodes, err := stbl.Children()
	if err != nil {
		return nil, err
	}
	samples, err := mp4.ParseSampleTable(stblNodes)
	if err != nil {
		return nil, err
	}

	t := &mp4Input{samples: samples}
	desc := &t.desc
	desc.Index = index
	desc.TimeBase = TimeBase{Num: 1, Den: int64(mdhd.Timescale)}
	desc.Frames = int64(len(samples))
	desc.Metadata = map[string]string{}
	if udta, err := mp4.Find(children, "udta"); err == nil {
		if desc.Metadata, err = mp4.ParseMetadata(udta); err != nil {
			return nil, err
		}
	}
	if hdlr.Name != "" {
		desc.Metadata["handler_name"] = hdlr.Name
	}

	var total, size int64
	for _, s := range samples {
		total += int64(s.Duration)
		size += int64(s.Size)
	}
	desc.Duration = int64(mdhd.Duration)
	if total > 0 {
		desc.Duration = total
	}

	switch hdlr.HandlerType {
	case mp4.Type("vide"):
		desc.Type = MediaTypeVideo
	case mp4.Type("soun"):
		desc.Type = MediaTypeAudio
	case mp4.Type("subt"), mp4.Type("text"), mp4.Type("sbtl"):
		desc.Type = MediaTypeSubtitle
	default:
		desc.Type = MediaTypeData
	}

	if desc.Type == MediaTypeVideo {
		desc.Name = hdlr.Name
		if desc.Name == "" || desc.Name == defaultHandlerName {
			desc.Name = fmt.Sprintf("video%d", index)
		}
		desc.Width = int(tkhd.Width >> 16)
		desc.Height = int(tkhd.Height >> 16)
		if err := describeSampleEntry(desc, stblNodes); err != nil {
			return nil, err
		}
		if total > 0 {
			desc.FrameRate = reduceRational(int64(len(samples))*int64(mdhd.Timescale), total)
		}
	}
	if total > 0 {
		desc.Bitrate = size * 8 * int64(mdhd.Timescale) / total
	}
	return t, nil
}

func describeSampleEntry(desc *StreamDescriptor, stbl []mp4.Node) error {
	node, err := mp4.Find(stbl, "stsd")
	if err != nil {
		return err
	}
	var stsd mp4.Stsd
	entries, err := stsd.Entries(node.Payload)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("empty stsd")
	}
	var vse mp4.VisualSampleEntry
	children, err := vse.Unmarshal(entries[0].Type, entries[0].Payload)
	if err != nil {
		return err
	}
	codec := videoCodecFromFourCC(vse.Format.String())
	desc.Codec = codec.String()
	if codec == VideoCodecUnknown {
		desc.Codec = vse.Format.String()
	}
	if vse.Width > 0 && vse.Height > 0 {
		desc.Width, desc.Height = int(vse.Width), int(vse.Height)
	}
	if avcC, err := mp4.Find(children, "avcC"); err == nil {
		desc.Extradata = append([]byte(nil), avcC.Payload...)
	}
	return nil
}

func reduceRational(num, den int64) Rational {
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return Rational{Num: num, Den: den}
	}
	return Rational{Num: num / a, Den: den / a}
}

func (d *builtinDemuxer) Streams() []StreamDescriptor {
	out := make([]StreamDescriptor, len(d.tracks))
	for i, t := range d.tracks {
		out[i] = t.desc
		out[i].Metadata = copyMetadata(t.desc.Metadata)
	}
	return out
}

func (d *builtinDemuxer) Metadata() map[string]string { return copyMetadata(d.metadata) }

// ReadPacket returns the pending sample with the lowest file offset.
func (d *builtinDemuxer) ReadPacket(p *Packet) error {
	var (
		best *mp4Input
		idx  int
	)
	for i, t := range d.tracks {
		if t.next >= len(t.samples) {
			continue
		}
		if best == nil || t.samples[t.next].Offset < best.samples[best.next].Offset {
			best, idx = t, i
		}
	}
	if best == nil {
		return ErrEndOfStream
	}
	s := best.samples[best.next]
	best.next++

	if _, err := d.in.Seek(s.Offset, WhenceSet); err != nil {
		return err
	}
	data := make([]byte, s.Size)
	if _, err := io.ReadFull(d.in, data); err != nil {
		if berr := d.in.Err(); berr != nil {
			return berr
		}
		return fmt.Errorf("%w: stream %d sample at %d: %w", ErrInvalidData, idx, s.Offset, err)
	}
	p.Data = data
	p.PTS = s.PTS
	p.DTS = s.DTS
	p.Duration = int64(s.Duration)
	p.Key = s.Key
	p.StreamIndex = idx
	return nil
}

// Seek positions streamIndex on its last keyframe with pts <= ts, or its
// first keyframe when there is none. The other tracks resume at the first
// sample whose dts is not before that keyframe. Samples are intra coded or
// indexed by stss, so forward and backward seeks resolve alike.
func (d *builtinDemuxer) Seek(streamIndex int, ts int64, _ bool) error {
	if streamIndex < 0 || streamIndex >= len(d.tracks) {
		return fmt.Errorf("%w: %d", ErrStreamNotFound, streamIndex)
	}
	t := d.tracks[streamIndex]
	pick, first := -1, -1
	for i, s := range t.samples {
		if !s.Key {
			continue
		}
		if first < 0 {
			first = i
		}
		if s.PTS > ts {
			break
		}
		pick = i
	}
	if pick < 0 {
		pick = max(first, 0)
	}
	t.next = pick

	var at int64
	if pick < len(t.samples) {
		at = Rescale(t.samples[pick].DTS, t.desc.TimeBase, NanoTimeBase)
	}
	for _, o := range d.tracks {
		if o == t {
			continue
		}
		target := Rescale(at, NanoTimeBase, o.desc.TimeBase)
		o.next = sort.Search(len(o.samples), func(i int) bool { return o.samples[i].DTS >= target })
	}
	return nil
}

// Close does not close the input.
func (d *builtinDemuxer) Close() error {
	d.tracks = nil
	return nil
}
