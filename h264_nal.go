package velvet

import (
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types
const (
	nalTypeSlice = 1
	nalTypeIDR   = 5
	nalTypeSEI   = 6
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeAUD   = 9
)

var startCode = []byte{0, 0, 0, 1}

// splitNALUnits returns the NAL units of an access unit in either Annex B
// (start codes) or AVCC (4-byte big-endian lengths) framing. The returned
// slices alias data.
func splitNALUnits(data []byte) [][]byte {
	if isAnnexB(data) {
		return splitAnnexB(data)
	}
	return splitAVCC(data)
}

func isAnnexB(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var n int
		switch {
		case data[i+2] == 1:
			n = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			n = 4
		default:
			continue
		}
		if start >= 0 && i > start {
			nalus = append(nalus, data[start:i])
		}
		start = i + n
		i += n - 1
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

func splitAVCC(data []byte) [][]byte {
	var nalus [][]byte
	for len(data) >= 4 {
		n := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if n <= 0 || n > len(data) {
			break
		}
		nalus = append(nalus, data[:n])
		data = data[n:]
	}
	return nalus
}

// joinAnnexB frames NAL units with 4-byte start codes.
func joinAnnexB(nalus ...[]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += len(startCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

// joinAVCC frames NAL units with 4-byte lengths.
func joinAVCC(nalus ...[]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

// parameterSets extracts SPS and PPS from codec extradata, which is either
// an AVCDecoderConfigurationRecord or Annex B parameter sets.
func parameterSets(extradata []byte) (sps, pps [][]byte, err error) {
	if len(extradata) == 0 {
		return nil, nil, nil
	}
	if extradata[0] != 1 {
		for _, n := range splitAnnexB(extradata) {
			switch n[0] & 0x1F {
			case nalTypeSPS:
				sps = append(sps, n)
			case nalTypePPS:
				pps = append(pps, n)
			}
		}
		return sps, pps, nil
	}

	if len(extradata) < 7 {
		return nil, nil, fmt.Errorf("%w: avcC record of %d bytes", ErrInvalidData, len(extradata))
	}
	b := extradata[5:]
	count := int(b[0] & 0x1F)
	b = b[1:]
	for range count {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated avcC sps", ErrInvalidData)
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+n {
			return nil, nil, fmt.Errorf("%w: truncated avcC sps", ErrInvalidData)
		}
		sps = append(sps, b[2:2+n])
		b = b[2+n:]
	}
	if len(b) < 1 {
		return sps, nil, nil
	}
	count = int(b[0])
	b = b[1:]
	for range count {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated avcC pps", ErrInvalidData)
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+n {
			return nil, nil, fmt.Errorf("%w: truncated avcC pps", ErrInvalidData)
		}
		pps = append(pps, b[2:2+n])
		b = b[2+n:]
	}
	return sps, pps, nil
}

// avcDecoderConfig builds an AVCDecoderConfigurationRecord with 4-byte NAL
// lengths.
func avcDecoderConfig(sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 || len(sps[0]) < 4 {
		return nil, fmt.Errorf("%w: missing sps", ErrInvalidData)
	}
	out := []byte{1, sps[0][1], sps[0][2], sps[0][3], 0xFF, 0xE0 | byte(len(sps))}
	for _, s := range sps {
		out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(pps)))
	for _, p := range pps {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// hasParameterSets reports whether an access unit carries its own SPS.
func hasParameterSets(nalus [][]byte) bool {
	for _, n := range nalus {
		if len(n) > 0 && n[0]&0x1F == nalTypeSPS {
			return true
		}
	}
	return false
}
