package ingest

import (
	"bytes"
	"testing"
)

// avcRecord is an AVCDecoderConfigurationRecord with one 4-byte SPS and one
// 3-byte PPS.
var avcRecord = []byte{
	0x01, 0x64, 0x00, 0x1F, 0xFF, // version, profile, compat, level, length_size_minus_one
	0xE1,                   // numSPS = 1
	0x00, 0x04,             // SPS length
	0x67, 0x64, 0x00, 0x1F, // SPS
	0x01,             // numPPS = 1
	0x00, 0x03,       // PPS length
	0x68, 0xEB, 0xE3, // PPS
}

func TestExtractSPSPPS(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantSPS []byte
		wantPPS []byte
	}{
		{name: "empty", data: nil},
		{name: "too short", data: []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{
			name:    "sps and pps",
			data:    avcRecord,
			wantSPS: []byte{0x67, 0x64, 0x00, 0x1F},
			wantPPS: []byte{0x68, 0xEB, 0xE3},
		},
		{
			name:    "sps only",
			data:    []byte{0x01, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00, 0x02, 0x67, 0x64},
			wantSPS: []byte{0x67, 0x64},
		},
		{
			name: "truncated sps",
			data: []byte{0x01, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00, 0x09, 0x67, 0x64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sps, pps := extractSPSPPS(tt.data)
			if !bytes.Equal(sps, tt.wantSPS) {
				t.Errorf("sps = %x, want %x", sps, tt.wantSPS)
			}
			if !bytes.Equal(pps, tt.wantPPS) {
				t.Errorf("pps = %x, want %x", pps, tt.wantPPS)
			}
		})
	}
}

func TestExtractSPSPPSCopies(t *testing.T) {
	record := append([]byte(nil), avcRecord...)
	sps, _ := extractSPSPPS(record)
	record[8] = 0x00
	if sps[0] != 0x67 {
		t.Error("sps aliases the record")
	}
}

func TestSplitAVCC(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want [][]byte
	}{
		{name: "empty", data: nil},
		{
			name: "two units",
			data: []byte{0, 0, 0, 2, 0x65, 0x88, 0, 0, 0, 1, 0x41},
			want: [][]byte{{0x65, 0x88}, {0x41}},
		},
		{
			name: "truncated second unit",
			data: []byte{0, 0, 0, 1, 0x65, 0, 0, 0, 5, 0x41},
			want: [][]byte{{0x65}},
		},
		{
			name: "zero length stops",
			data: []byte{0, 0, 0, 0, 0, 0, 0, 1, 0x41},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAVCC(tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d units, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("unit %d = %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitAnnexB(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want [][]byte
	}{
		{name: "no start code", data: []byte{0x65, 0x88}},
		{
			name: "four byte start codes",
			data: []byte{0, 0, 0, 1, 0x67, 0x64, 0, 0, 0, 1, 0x68, 0xEB},
			want: [][]byte{{0x67, 0x64}, {0x68, 0xEB}},
		},
		{
			name: "mixed start codes",
			data: []byte{0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x65, 0x88, 0, 0, 1, 0x41},
			want: [][]byte{{0x09, 0xF0}, {0x65, 0x88}, {0x41}},
		},
		{
			name: "trailing start code",
			data: []byte{0, 0, 0, 1, 0x65, 0, 0, 0, 1},
			want: [][]byte{{0x65}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAnnexB(tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d units %x, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("unit %d = %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestContainsIDR(t *testing.T) {
	if !containsIDR([]byte{0, 0, 0, 1, 0x67, 0x64, 0, 0, 0, 1, 0x65, 0x88}) {
		t.Error("IDR access unit not detected")
	}
	if containsIDR([]byte{0, 0, 0, 1, 0x41, 0x9A}) {
		t.Error("non-IDR slice reported as IDR")
	}
}

func TestBuildAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x64}
	pps := []byte{0x68, 0xEB}
	nalus := [][]byte{{0x65, 0x88}}

	got := buildAnnexB(nalus, sps, pps)
	want := []byte{0, 0, 0, 1, 0x67, 0x64, 0, 0, 0, 1, 0x68, 0xEB, 0, 0, 0, 1, 0x65, 0x88}
	if !bytes.Equal(got, want) {
		t.Errorf("with parameter sets = %x, want %x", got, want)
	}

	got = buildAnnexB(nalus, nil, nil)
	want = []byte{0, 0, 0, 1, 0x65, 0x88}
	if !bytes.Equal(got, want) {
		t.Errorf("without parameter sets = %x, want %x", got, want)
	}
}
