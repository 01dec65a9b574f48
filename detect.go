package uvcout

// Classify detects the stream format of a single frame buffer.
// Rules are evaluated in order and the first match wins:
//   - fewer than 4 bytes: FormatUnknown
//   - JPEG SOI (FF D8) at the start and EOI (FF D9) at the end: FormatMJPEG
//   - 4-byte start code 00 00 00 01: FormatH264AVCC
//   - 3-byte start code 00 00 01: FormatH264AnnexB
//
// Only the first and last bytes are inspected; the buffer is assumed to hold
// one coalesced frame.
func Classify(data []byte) StreamFormat {
	if len(data) < 4 {
		return FormatUnknown
	}

	if isJPEGFrame(data) {
		return FormatMJPEG
	}

	switch startCodeLen(data) {
	case 4:
		return FormatH264AVCC
	case 3:
		return FormatH264AnnexB
	}

	return FormatUnknown
}

// isJPEGFrame checks the JPEG SOI marker at the start and the EOI marker at
// the end of the buffer.
func isJPEGFrame(data []byte) bool {
	n := len(data)
	if n < 4 {
		return false
	}
	return data[0] == 0xFF && data[1] == 0xD8 && data[n-2] == 0xFF && data[n-1] == 0xD9
}

// startCodeLen returns the length of the Annex-B start code at the start of
// data, or 0 if there is none.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (stream start, SPS/PPS, access unit start)
//   - 3-byte start code: 0x000001 (between NAL units)
func startCodeLen(data []byte) int {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return 4
	}
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return 3
	}
	return 0
}

// NALUnitType returns the H.264 nal_unit_type of the first NAL unit in an
// Annex-B buffer, or 0 if data does not start with a start code.
// Per ITU-T H.264 Section 7.3.1 the type is the low 5 bits of the header byte.
func NALUnitType(data []byte) byte {
	offset := startCodeLen(data)
	if offset == 0 || len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}
