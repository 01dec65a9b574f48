// Core frame types used across the package.
package uvcout

// FrameFlags carries per-frame hints from the capture pipeline.
type FrameFlags uint32

const (
	FlagKeyframe FrameFlags = 1 << iota // Frame can be decoded independently
	FlagRestart                         // First frame after an upstream restart; resets the decoder
)

// Has returns true if all specified flags are set.
func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag == flag }

// InputFrame is one encoded frame handed to the output stage.
// Data is owned by the caller and must not be retained after OutputFrame
// returns.
type InputFrame struct {
	Data      []byte     // Encoded frame bytes
	Timestamp int64      // Capture timestamp in microseconds
	Flags     FrameFlags // Capture flags
}

// VideoFrame represents a raw picture.
// The Data slices may point to codec-owned memory. Callers must ensure the
// data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data (Y, U, V for I420)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Timestamp in microseconds
}

// I420Size returns the total buffer size needed for an I420 frame.
// Chroma planes round odd dimensions up.
func I420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + cw*ch*2
}

// chromaSize returns the dimensions of a 4:2:0 chroma plane.
func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// pictureBuffer is a reusable I420 picture backed by one aligned allocation.
type pictureBuffer struct {
	Y, U, V []byte

	Width   int
	Height  int
	StrideY int
	StrideC int
}

func newPictureBuffer(width, height int) *pictureBuffer {
	ySize := width * height
	cw, ch := chromaSize(width, height)
	cSize := cw * ch
	mem := AllocBuffer(I420Size(width, height))
	return &pictureBuffer{
		Y:       mem[:ySize:ySize],
		U:       mem[ySize : ySize+cSize : ySize+cSize],
		V:       mem[ySize+cSize:],
		Width:   width,
		Height:  height,
		StrideY: width,
		StrideC: cw,
	}
}

// fits reports whether the buffer already has the given dimensions.
func (b *pictureBuffer) fits(width, height int) bool {
	return b != nil && b.Width == width && b.Height == height
}

// frame returns a VideoFrame pointing at the buffer's planes.
// The returned frame is only valid while the buffer is not modified.
func (b *pictureBuffer) frame(timestamp int64) *VideoFrame {
	return &VideoFrame{
		Data:      [][]byte{b.Y, b.U, b.V},
		Stride:    []int{b.StrideY, b.StrideC, b.StrideC},
		Width:     b.Width,
		Height:    b.Height,
		Format:    PixelFormatI420,
		Timestamp: timestamp,
	}
}
