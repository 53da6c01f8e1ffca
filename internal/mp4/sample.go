package mp4

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Sample is one media sample of a track. Times are in the media timescale.
type Sample struct {
	Offset   int64
	Size     uint32
	DTS      int64
	PTS      int64
	Duration uint32
	Key      bool
}

// SampleTable builds a stbl box for samples, which must be in decode
// order. Consecutive samples that are contiguous in the file share a chunk.
func SampleTable(entry Boxes, samples []Sample) Boxes {
	var (
		stts    Stts
		ctts    = Ctts{FullBox: FullBox{Version: 1}}
		stss    Stss
		stsc    Stsc
		stsz    Stsz
		co64    Co64
		hasCtts bool
		allKey  = true
	)

	chunkSamples := 0
	closeChunk := func() {
		if chunkSamples == 0 {
			return
		}
		n := len(stsc.Entries)
		if n == 0 || stsc.Entries[n-1].SamplesPerChunk != uint32(chunkSamples) {
			stsc.Entries = append(stsc.Entries, StscEntry{
				FirstChunk:             uint32(len(co64.ChunkOffsets)),
				SamplesPerChunk:        uint32(chunkSamples),
				SampleDescriptionIndex: 1,
			})
		}
		chunkSamples = 0
	}

	uniform := len(samples) > 0
	for i, s := range samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.Duration {
			stts.Entries[n-1].SampleCount++
		} else {
			stts.Entries = append(stts.Entries, SttsEntry{SampleCount: 1, SampleDelta: s.Duration})
		}

		off := int32(s.PTS - s.DTS)
		if off != 0 {
			hasCtts = true
		}
		if n := len(ctts.Entries); n > 0 && ctts.Entries[n-1].SampleOffset == off {
			ctts.Entries[n-1].SampleCount++
		} else {
			ctts.Entries = append(ctts.Entries, CttsEntry{SampleCount: 1, SampleOffset: off})
		}

		if s.Key {
			stss.SampleNumbers = append(stss.SampleNumbers, uint32(i+1))
		} else {
			allKey = false
		}

		if i == 0 || samples[i-1].Offset+int64(samples[i-1].Size) != s.Offset {
			closeChunk()
			co64.ChunkOffsets = append(co64.ChunkOffsets, uint64(s.Offset))
		}
		chunkSamples++

		stsz.EntrySizes = append(stsz.EntrySizes, s.Size)
		if s.Size != samples[0].Size {
			uniform = false
		}
	}
	closeChunk()

	stsz.SampleCount = uint32(len(samples))
	if uniform {
		stsz.SampleSize = samples[0].Size
		stsz.EntrySizes = nil
	}

	stbl := Boxes{
		Box: Container(Type("stbl")),
		Children: []Boxes{
			{Box: &Stsd{EntryCount: 1}, Children: []Boxes{entry}},
			{Box: &stts},
		},
	}
	if hasCtts {
		stbl.Children = append(stbl.Children, Boxes{Box: &ctts})
	}
	if !allKey {
		stbl.Children = append(stbl.Children, Boxes{Box: &stss})
	}
	stbl.Children = append(stbl.Children,
		Boxes{Box: &stsc},
		Boxes{Box: &stsz},
		Boxes{Box: &co64},
	)
	return stbl
}

// ParseSampleTable reads the samples described by the children of a stbl
// box. Sample times start at 0.
func ParseSampleTable(stbl []Node) ([]Sample, error) {
	var (
		stts Stts
		ctts Ctts
		stss Stss
		stsc Stsc
		stsz Stsz
		co64 Co64
	)
	node, err := Find(stbl, "stts")
	if err != nil {
		return nil, err
	}
	if err := stts.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	node, err = Find(stbl, "stsz")
	if err != nil {
		return nil, err
	}
	if err := stsz.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	node, err = Find(stbl, "stsc")
	if err != nil {
		return nil, err
	}
	if err := stsc.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	if node, err = Find(stbl, "co64"); err == nil {
		err = co64.Unmarshal(node.Payload, true)
	} else if node, err = Find(stbl, "stco"); err == nil {
		err = co64.Unmarshal(node.Payload, false)
	}
	if err != nil {
		return nil, err
	}
	hasCtts := false
	if node, err := Find(stbl, "ctts"); err == nil {
		if err := ctts.Unmarshal(node.Payload); err != nil {
			return nil, err
		}
		hasCtts = true
	}
	hasStss := false
	if node, err := Find(stbl, "stss"); err == nil {
		if err := stss.Unmarshal(node.Payload); err != nil {
			return nil, err
		}
		hasStss = true
	}

	count := int(stsz.SampleCount)
	samples := make([]Sample, count)

	i := 0
	var dts int64
	for _, e := range stts.Entries {
		for range e.SampleCount {
			if i >= count {
				break
			}
			samples[i].DTS = dts
			samples[i].PTS = dts
			samples[i].Duration = e.SampleDelta
			dts += int64(e.SampleDelta)
			i++
		}
	}
	if i != count {
		return nil, fmt.Errorf("%w: stts covers %d of %d samples", ErrInvalidSize, i, count)
	}

	if hasCtts {
		i = 0
		for _, e := range ctts.Entries {
			for range e.SampleCount {
				if i >= count {
					break
				}
				samples[i].PTS = samples[i].DTS + int64(e.SampleOffset)
				i++
			}
		}
	}

	for i := range samples {
		samples[i].Size = stsz.SampleSizeAt(i)
		samples[i].Key = !hasStss
	}
	for _, n := range stss.SampleNumbers {
		if n >= 1 && int(n) <= count {
			samples[n-1].Key = true
		}
	}

	// chunk offsets
	i = 0
	for e, entry := range stsc.Entries {
		last := uint32(len(co64.ChunkOffsets))
		if e+1 < len(stsc.Entries) {
			last = stsc.Entries[e+1].FirstChunk - 1
		}
		for chunk := entry.FirstChunk; chunk <= last && chunk >= 1; chunk++ {
			if int(chunk) > len(co64.ChunkOffsets) {
				return nil, fmt.Errorf("%w: chunk %d of %d", ErrInvalidSize, chunk, len(co64.ChunkOffsets))
			}
			off := int64(co64.ChunkOffsets[chunk-1])
			for range entry.SamplesPerChunk {
				if i >= count {
					break
				}
				samples[i].Offset = off
				off += int64(samples[i].Size)
				i++
			}
		}
	}
	if i != count {
		return nil, fmt.Errorf("%w: chunks cover %d of %d samples", ErrInvalidSize, i, count)
	}
	return samples, nil
}

// MetadataBoxes returns a udta box holding md as mdta keyed metadata, or
// false when md is empty.
func MetadataBoxes(md map[string]string) (Boxes, bool) {
	if len(md) == 0 {
		return Boxes{}, false
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ilst := Boxes{Box: Container(Type("ilst"))}
	for i, k := range keys {
		var idx BoxType
		binary.BigEndian.PutUint32(idx[:], uint32(i+1))
		ilst.Children = append(ilst.Children, Boxes{
			Box:      Container(idx),
			Children: []Boxes{{Box: &Data{DataType: DataTypeUTF8, Value: []byte(md[k])}}},
		})
	}
	return Boxes{
		Box: Container(Type("udta")),
		Children: []Boxes{{
			Box: &Meta{},
			Children: []Boxes{
				{Box: &Hdlr{HandlerType: Type("mdta")}},
				{Box: &Keys{Names: keys}},
				ilst,
			},
		}},
	}, true
}

// ParseMetadata reads the mdta keyed metadata of a udta box. Unknown
// layouts yield an empty map.
func ParseMetadata(udta Node) (map[string]string, error) {
	md := map[string]string{}
	children, err := udta.Children()
	if err != nil {
		return nil, err
	}
	meta, err := Find(children, "meta")
	if err != nil {
		return md, nil
	}
	payload := meta.Payload
	// mp4 meta is a full box, QuickTime meta is not
	if len(payload) >= 8 && Type(string(payload[4:8])) != Type("hdlr") {
		payload = payload[4:]
	}
	items, err := ParseBoxes(payload)
	if err != nil {
		return nil, err
	}
	var keys Keys
	node, err := Find(items, "keys")
	if err != nil {
		return md, nil
	}
	if err := keys.Unmarshal(node.Payload); err != nil {
		return nil, err
	}
	ilst, err := Find(items, "ilst")
	if err != nil {
		return md, nil
	}
	entries, err := ilst.Children()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		idx := int(binary.BigEndian.Uint32(e.Type[:]))
		if idx < 1 || idx > len(keys.Names) {
			continue
		}
		values, err := e.Children()
		if err != nil {
			return nil, err
		}
		node, err := Find(values, "data")
		if err != nil {
			continue
		}
		var d Data
		if err := d.Unmarshal(node.Payload); err != nil {
			return nil, err
		}
		if d.DataType == DataTypeUTF8 {
			md[keys.Names[idx-1]] = string(d.Value)
		}
	}
	return md, nil
}
