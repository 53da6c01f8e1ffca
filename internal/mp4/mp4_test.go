package mp4

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, b Boxes) Node {
	t.Helper()
	raw, err := b.Bytes()
	require.NoError(t, err)
	require.Len(t, raw, b.Size())
	nodes, err := ParseBoxes(raw)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	return nodes[0]
}

func TestSampleTable_RoundTrip(t *testing.T) {
	entry := Boxes{Box: &VisualSampleEntry{Format: Type("jpeg"), DataReferenceIndex: 1, Width: 64, Height: 48}}
	tests := []struct {
		name    string
		samples []Sample
	}{
		{
			name: "reordered with sync samples",
			samples: []Sample{
				{Offset: 100, Size: 10, DTS: 0, PTS: 1024, Duration: 512, Key: true},
				{Offset: 110, Size: 20, DTS: 512, PTS: 512, Duration: 512},
				{Offset: 200, Size: 20, DTS: 1024, PTS: 1536, Duration: 512, Key: true},
				{Offset: 220, Size: 20, DTS: 1536, PTS: 2048, Duration: 256},
			},
		},
		{
			name: "intra only uniform size",
			samples: []Sample{
				{Offset: 48, Size: 6, DTS: 0, PTS: 0, Duration: 3000, Key: true},
				{Offset: 54, Size: 6, DTS: 3000, PTS: 3000, Duration: 3000, Key: true},
				{Offset: 90, Size: 6, DTS: 6000, PTS: 6000, Duration: 3000, Key: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stbl := parseOne(t, SampleTable(entry, tt.samples))
			require.Equal(t, Type("stbl"), stbl.Type)
			children, err := stbl.Children()
			require.NoError(t, err)

			got, err := ParseSampleTable(children)
			require.NoError(t, err)
			require.Equal(t, tt.samples, got)
		})
	}
}

func TestSampleTable_OmitsRedundantBoxes(t *testing.T) {
	entry := Boxes{Box: &VisualSampleEntry{Format: Type("I420")}}
	samples := []Sample{
		{Offset: 0, Size: 4, DTS: 0, PTS: 0, Duration: 1, Key: true},
		{Offset: 4, Size: 4, DTS: 1, PTS: 1, Duration: 1, Key: true},
	}
	children, err := parseOne(t, SampleTable(entry, samples)).Children()
	require.NoError(t, err)

	for _, typ := range []string{"ctts", "stss"} {
		_, err := Find(children, typ)
		require.ErrorIs(t, err, ErrNotFound, typ)
	}
	stsd, err := Find(children, "stsd")
	require.NoError(t, err)
	var s Stsd
	entries, err := s.Entries(stsd.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, Type("I420"), entries[0].Type)
}

func TestParseSampleTable_Inconsistent(t *testing.T) {
	entry := Boxes{Box: &VisualSampleEntry{Format: Type("jpeg")}}
	stbl := SampleTable(entry, []Sample{{Offset: 8, Size: 1, Duration: 1, Key: true}})
	// drop the chunk offsets
	stbl.Children = stbl.Children[:len(stbl.Children)-1]
	children, err := parseOne(t, stbl).Children()
	require.NoError(t, err)
	_, err = ParseSampleTable(children)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMetadata_RoundTrip(t *testing.T) {
	md := map[string]string{"title": "velvet", "encoder": "builtin", "comment": ""}
	udta, ok := MetadataBoxes(md)
	require.True(t, ok)

	got, err := ParseMetadata(parseOne(t, udta))
	require.NoError(t, err)
	require.Equal(t, md, got)

	_, ok = MetadataBoxes(nil)
	require.False(t, ok)

	empty, err := ParseMetadata(parseOne(t, Boxes{Box: Container(Type("udta"))}))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestReadHeader(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Header
		wantErr error
	}{
		{"compact", []byte{0, 0, 0, 16, 'f', 'r', 'e', 'e'}, Header{Type: Type("free"), Size: 16, HeaderSize: 8}, nil},
		{"large", LargeHeader(Type("mdat"), 1<<33), Header{Type: Type("mdat"), Size: 1 << 33, HeaderSize: LargeHeaderSize}, nil},
		{"to end of file", []byte{0, 0, 0, 0, 'm', 'd', 'a', 't'}, Header{Type: Type("mdat"), HeaderSize: 8}, nil},
		{"smaller than header", []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}, Header{}, ErrInvalidSize},
		{"truncated large size", []byte{0, 0, 0, 1, 'm', 'd', 'a', 't', 0, 0}, Header{}, ErrTruncated},
		{"empty", nil, Header{}, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ReadHeader(bytes.NewReader(tt.data))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, h)
		})
	}
}

func TestFind(t *testing.T) {
	tree := Boxes{
		Box: Container(Type("moov")),
		Children: []Boxes{
			{Box: &Mvhd{Timescale: 1000, Duration: 5000, Rate: 0x00010000, Volume: 0x0100, Matrix: Matrix, NextTrackID: 3}},
			{Box: Container(Type("trak")), Children: []Boxes{{Box: &Mdhd{Timescale: 15360, Language: [3]byte{'u', 'n', 'd'}}}}},
			{Box: Container(Type("trak")), Children: []Boxes{{Box: &Mdhd{Timescale: 12800, Language: [3]byte{'u', 'n', 'd'}}}}},
		},
	}
	children, err := parseOne(t, tree).Children()
	require.NoError(t, err)

	node, err := Find(children, "mvhd")
	require.NoError(t, err)
	var mvhd Mvhd
	require.NoError(t, mvhd.Unmarshal(node.Payload))
	require.Equal(t, uint32(1000), mvhd.Timescale)
	require.Equal(t, uint64(5000), mvhd.Duration)

	node, err = Find(children, "trak", "mdhd")
	require.NoError(t, err)
	var mdhd Mdhd
	require.NoError(t, mdhd.Unmarshal(node.Payload))
	require.Equal(t, uint32(15360), mdhd.Timescale, "first match wins")

	require.Len(t, FindAll(children, "trak"), 2)

	_, err = Find(children, "trak", "hdlr")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseBoxes_Truncated(t *testing.T) {
	_, err := ParseBoxes([]byte{0, 0, 0, 32, 'f', 'r', 'e', 'e', 1, 2})
	require.ErrorIs(t, err, ErrTruncated)
	_, err = ParseBoxes([]byte{0, 0, 0})
	require.ErrorIs(t, err, ErrTruncated)
}
