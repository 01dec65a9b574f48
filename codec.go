package uvcout

import (
	"errors"
	"io"
	"unsafe"
)

// Common errors
var (
	// ErrNeedMore is returned by codecs that buffer internally and have no
	// output for the input seen so far.
	ErrNeedMore = errors.New("codec needs more input")

	// ErrPipelineFatal marks transcoder failures that make the pipeline
	// unusable for the rest of the stream.
	ErrPipelineFatal = errors.New("transcode pipeline failed")

	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotSupported      = errors.New("operation not supported")
	ErrCodecUnavailable  = errors.New("codec library not available")
	ErrClosed            = errors.New("closed")
)

// StreamFormat identifies the encoding of a frame buffer.
type StreamFormat int

const (
	FormatUnknown    StreamFormat = iota
	FormatMJPEG                   // JPEG images framed by SOI/EOI markers
	FormatH264AVCC                // H.264 units prefixed with a 4-byte start code
	FormatH264AnnexB              // H.264 units prefixed with a 3-byte start code
)

func (f StreamFormat) String() string {
	switch f {
	case FormatMJPEG:
		return "MJPEG"
	case FormatH264AVCC:
		return "H264-AVCC"
	case FormatH264AnnexB:
		return "H264-AnnexB"
	default:
		return "Unknown"
	}
}

// IsH264 reports whether f is one of the H.264 start-code variants.
func (f StreamFormat) IsH264() bool {
	return f == FormatH264AVCC || f == FormatH264AnnexB
}

// FourCC returns the V4L2 pixel format code for this format.
func (f StreamFormat) FourCC() FourCC {
	switch f {
	case FormatMJPEG:
		return FourCCMJPEG
	case FormatH264AVCC, FormatH264AnnexB:
		return FourCCH264
	default:
		return 0
	}
}

// FourCC is a V4L2 pixel format code.
type FourCC uint32

const (
	FourCCMJPEG FourCC = 0x47504A4D // 'MJPG'
	FourCCH264  FourCC = 0x34363248 // 'H264'
	FourCCYUYV  FourCC = 0x56595559 // 'YUYV'
)

func (c FourCC) String() string {
	b := [4]byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)}
	for _, ch := range b {
		if ch < 0x20 || ch > 0x7e {
			return "????"
		}
	}
	return string(b[:])
}

// PixelFormat represents raw picture layouts exchanged between codecs.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// Decoder turns compressed units into raw pictures.
//
// SendUnit feeds one compressed unit. ReceivePicture returns the next decoded
// picture or ErrNeedMore when the decoder is still buffering. The returned
// picture is owned by the decoder and valid until the next SendUnit.
type Decoder interface {
	io.Closer
	SendUnit(data []byte) error
	ReceivePicture() (*VideoFrame, error)
}

// Resetter is implemented by decoders that can drop buffered reference
// pictures and start over on the next unit.
type Resetter interface {
	Reset() error
}

// Encoder turns raw pictures into compressed units.
//
// ReceiveUnit returns ErrNeedMore when nothing is ready. The returned slice
// is owned by the encoder and may be overwritten by the next SendPicture.
type Encoder interface {
	io.Closer
	SendPicture(frame *VideoFrame) error
	ReceiveUnit() ([]byte, error)
}

// Converter scales and converts pictures between layouts. Configure may be
// called again to change source dimensions; it is expensive.
type Converter interface {
	Configure(srcWidth, srcHeight int, srcFormat PixelFormat, dstWidth, dstHeight int, dstFormat PixelFormat) error
	Convert(src *VideoFrame) (*VideoFrame, error)
}

// DecoderConfig configures a decoder.
type DecoderConfig struct {
	Format  StreamFormat // Input format (any H.264 variant selects the H.264 decoder)
	Threads int          // Decoder threads (0 = auto)
}

// EncoderConfig configures an encoder. Values are fixed for the lifetime of
// the encoder.
type EncoderConfig struct {
	Format  StreamFormat // Output format
	Width   int
	Height  int
	Quality int // JPEG quality 1-100
}

// CodecLibrary provides the codec capabilities used by the transcoder.
type CodecLibrary interface {
	// EnsureInitialized performs process-wide one-time setup. It is safe to
	// call repeatedly.
	EnsureInitialized() error
	NewDecoder(config DecoderConfig) (Decoder, error)
	NewEncoder(config EncoderConfig) (Encoder, error)
	NewConverter() (Converter, error)
}

// bufferAlignment matches the widest SIMD loads used by native codecs.
const bufferAlignment = 64

// AllocBuffer returns a zeroed slice of length size whose first byte is
// aligned to 64 bytes.
func AllocBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	raw := make([]byte, size+bufferAlignment-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % bufferAlignment); rem != 0 {
		off = bufferAlignment - rem
	}
	return raw[off : off+size : off+size]
}
