package ingest

// H.264 NAL unit types used by the ingest paths.
const (
	nalTypeIDR = 5
	nalTypeSPS = 7
	nalTypePPS = 8
)

var startCode = []byte{0, 0, 0, 1}

// splitAnnexB splits an Annex-B byte stream into NAL units without start
// codes. The returned slices alias data.
func splitAnnexB(data []byte) [][]byte {
	var nalUnits [][]byte
	start := -1

	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var sc int
		switch {
		case data[i+2] == 1:
			sc = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			sc = 4
		default:
			continue
		}
		if start >= 0 && i > start {
			nalUnits = append(nalUnits, data[start:i])
		}
		start = i + sc
		i += sc - 1
	}

	if start >= 0 && start < len(data) {
		nalUnits = append(nalUnits, data[start:])
	}
	return nalUnits
}

// containsIDR reports whether an Annex-B access unit carries an IDR slice.
func containsIDR(data []byte) bool {
	for _, nalu := range splitAnnexB(data) {
		if len(nalu) > 0 && nalu[0]&0x1F == nalTypeIDR {
			return true
		}
	}
	return false
}

// extractSPSPPS reads the first SPS and PPS from an
// AVCDecoderConfigurationRecord. Missing or truncated entries are nil.
func extractSPSPPS(record []byte) (sps, pps []byte) {
	if len(record) < 8 {
		return nil, nil
	}
	offset := 5
	numSPS := int(record[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(record); i++ {
		length := int(record[offset])<<8 | int(record[offset+1])
		offset += 2
		if offset+length > len(record) {
			return sps, nil
		}
		if sps == nil {
			sps = append([]byte(nil), record[offset:offset+length]...)
		}
		offset += length
	}

	if offset >= len(record) {
		return sps, nil
	}
	numPPS := int(record[offset])
	offset++

	for i := 0; i < numPPS && offset+2 <= len(record); i++ {
		length := int(record[offset])<<8 | int(record[offset+1])
		offset += 2
		if offset+length > len(record) {
			break
		}
		if pps == nil {
			pps = append([]byte(nil), record[offset:offset+length]...)
		}
		offset += length
	}
	return sps, pps
}

// splitAVCC splits 4-byte length-prefixed NAL units. Parsing stops at the
// first truncated or empty entry. The returned slices alias data.
func splitAVCC(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus
}

// buildAnnexB joins NAL units with 4-byte start codes. Parameter sets are
// prepended when given, so every keyframe can start a decoder.
func buildAnnexB(nalus [][]byte, sps, pps []byte) []byte {
	size := 0
	for _, nalu := range nalus {
		size += len(startCode) + len(nalu)
	}
	if sps != nil && pps != nil {
		size += 2*len(startCode) + len(sps) + len(pps)
	}

	out := make([]byte, 0, size)
	if sps != nil && pps != nil {
		out = append(out, startCode...)
		out = append(out, sps...)
		out = append(out, startCode...)
		out = append(out, pps...)
	}
	for _, nalu := range nalus {
		out = append(out, startCode...)
		out = append(out, nalu...)
	}
	return out
}
