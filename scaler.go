package uvcout

import "fmt"

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeStretch:
		return "stretch"
	case ScaleModeFill:
		return "fill"
	default:
		return "unknown"
	}
}

// ParseScaleMode parses the config spelling of a scale mode.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch s {
	case "", "stretch":
		return ScaleModeStretch, nil
	case "fill":
		return ScaleModeFill, nil
	default:
		return 0, fmt.Errorf("%w: scale mode %q", ErrNotSupported, s)
	}
}

// VideoScaler scales I420 pictures. It implements Converter.
type VideoScaler struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode
	configured          bool

	// Pre-allocated output picture
	out *pictureBuffer
}

// NewVideoScaler creates an unconfigured scaler.
func NewVideoScaler(mode ScaleMode) *VideoScaler {
	return &VideoScaler{mode: mode}
}

// Configure implements Converter. Only I420 to I420 is supported.
func (s *VideoScaler) Configure(srcWidth, srcHeight int, srcFormat PixelFormat, dstWidth, dstHeight int, dstFormat PixelFormat) error {
	if srcFormat != PixelFormatI420 || dstFormat != PixelFormatI420 {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, srcFormat, dstFormat)
	}
	if srcWidth <= 0 || srcHeight <= 0 || dstWidth <= 0 || dstHeight <= 0 {
		return fmt.Errorf("invalid scaler dimensions %dx%d -> %dx%d", srcWidth, srcHeight, dstWidth, dstHeight)
	}

	s.srcWidth, s.srcHeight = srcWidth, srcHeight
	if !s.out.fits(dstWidth, dstHeight) {
		s.out = newPictureBuffer(dstWidth, dstHeight)
	}
	s.dstWidth, s.dstHeight = dstWidth, dstHeight
	s.configured = true
	return nil
}

// Convert implements Converter. The returned picture is owned by the scaler
// and valid until the next Convert call.
func (s *VideoScaler) Convert(frame *VideoFrame) (*VideoFrame, error) {
	if !s.configured {
		return nil, fmt.Errorf("scaler not configured")
	}
	if frame.Width != s.srcWidth || frame.Height != s.srcHeight {
		return nil, fmt.Errorf("picture %dx%d does not match configured source %dx%d",
			frame.Width, frame.Height, s.srcWidth, s.srcHeight)
	}
	if len(frame.Data) < 3 || len(frame.Stride) < 3 {
		return nil, fmt.Errorf("%w: expected 3 planes", ErrUnsupportedFormat)
	}
	if frame.Width == s.dstWidth && frame.Height == s.dstHeight {
		// No scaling needed
		return frame, nil
	}

	// Calculate source region based on scale mode
	srcX, srcY, srcW, srcH := s.calculateSourceRegion(frame.Width, frame.Height)

	scalePlane(frame.Data[0], frame.Stride[0], srcX, srcY, srcW, srcH,
		s.out.Y, s.out.StrideY, s.dstWidth, s.dstHeight)

	// Chroma planes are half resolution, rounded up for odd sizes
	cx, cy := srcX/2, srcY/2
	cw, ch := (srcX+srcW+1)/2-cx, (srcY+srcH+1)/2-cy
	dcw, dch := chromaSize(s.dstWidth, s.dstHeight)
	scalePlane(frame.Data[1], frame.Stride[1], cx, cy, cw, ch,
		s.out.U, s.out.StrideC, dcw, dch)
	scalePlane(frame.Data[2], frame.Stride[2], cx, cy, cw, ch,
		s.out.V, s.out.StrideC, dcw, dch)

	return s.out.frame(frame.Timestamp), nil
}

// calculateSourceRegion determines what region of the source to use based on scale mode.
func (s *VideoScaler) calculateSourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}

	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)

	if srcAspect > dstAspect {
		// Source is wider, crop horizontally
		newW := int(float64(srcH)*dstAspect) &^ 1
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	} else if srcAspect < dstAspect {
		// Source is taller, crop vertically
		newH := int(float64(srcW)/dstAspect) &^ 1
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// scalePlane scales a single plane using bilinear interpolation.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		yWeight := srcYFP & 0xFFFF

		y0 := (srcYFP >> 16) + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}
		row0 := src[y0*srcStride:]
		row1 := src[y1*srcStride:]
		out := dst[y*dstStride : y*dstStride+dstW]

		for x := range out {
			srcXFP := x * xRatio
			xWeight := srcXFP & 0xFFFF

			x0 := (srcXFP >> 16) + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			top := (int(row0[x0])*(0x10000-xWeight) + int(row0[x1])*xWeight) >> 16
			bottom := (int(row1[x0])*(0x10000-xWeight) + int(row1[x1])*xWeight) >> 16
			out[x] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}
