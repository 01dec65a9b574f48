package uvcout

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultJPEGQuality is used when EncoderConfig.Quality is out of range.
const DefaultJPEGQuality = 85

// JPEGEncoder encodes I420 pictures as baseline JPEG images, one image per
// picture. It implements Encoder.
type JPEGEncoder struct {
	config  EncoderConfig
	opts    jpeg.Options
	buf     bytes.Buffer
	pending bool
	closed  bool
}

// NewJPEGEncoder creates a JPEG encoder for pictures of the configured size.
func NewJPEGEncoder(config EncoderConfig) (*JPEGEncoder, error) {
	if config.Format != FormatMJPEG {
		return nil, fmt.Errorf("%w: jpeg encoder cannot produce %s", ErrUnsupportedFormat, config.Format)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid encoder dimensions %dx%d", config.Width, config.Height)
	}

	quality := config.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	config.Quality = quality

	enc := &JPEGEncoder{
		config: config,
		opts:   jpeg.Options{Quality: quality},
	}
	enc.buf.Grow(config.Width * config.Height / 4)
	return enc, nil
}

// SendPicture implements Encoder.
func (e *JPEGEncoder) SendPicture(frame *VideoFrame) error {
	if e.closed {
		return ErrClosed
	}
	if frame.Format != PixelFormatI420 || len(frame.Data) < 3 || len(frame.Stride) < 3 {
		return fmt.Errorf("%w: jpeg encoder needs I420 input", ErrUnsupportedFormat)
	}
	if frame.Stride[1] != frame.Stride[2] {
		return fmt.Errorf("%w: chroma strides differ (%d, %d)", ErrUnsupportedFormat, frame.Stride[1], frame.Stride[2])
	}
	if frame.Width != e.config.Width || frame.Height != e.config.Height {
		return fmt.Errorf("picture %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.config.Width, e.config.Height)
	}
	if err := checkI420Planes(frame); err != nil {
		return err
	}

	// I420 planes map directly onto a 4:2:0 YCbCr image.
	img := &image.YCbCr{
		Y:              frame.Data[0],
		Cb:             frame.Data[1],
		Cr:             frame.Data[2],
		YStride:        frame.Stride[0],
		CStride:        frame.Stride[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, frame.Width, frame.Height),
	}

	e.buf.Reset()
	e.pending = false
	if err := jpeg.Encode(&e.buf, img, &e.opts); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	e.pending = true
	return nil
}

// ReceiveUnit implements Encoder.
func (e *JPEGEncoder) ReceiveUnit() ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if !e.pending {
		return nil, ErrNeedMore
	}
	e.pending = false
	return e.buf.Bytes(), nil
}

// Config returns the encoder configuration.
func (e *JPEGEncoder) Config() EncoderConfig {
	return e.config
}

// Close implements Encoder.
func (e *JPEGEncoder) Close() error {
	e.closed = true
	e.pending = false
	e.buf = bytes.Buffer{}
	return nil
}

// checkI420Planes verifies the planes cover the picture so the encoder never
// reads past a plane.
func checkI420Planes(frame *VideoFrame) error {
	cw, ch := chromaSize(frame.Width, frame.Height)
	planes := [3]struct{ w, h int }{{frame.Width, frame.Height}, {cw, ch}, {cw, ch}}
	for i, p := range planes {
		stride := frame.Stride[i]
		if stride < p.w || len(frame.Data[i]) < stride*(p.h-1)+p.w {
			return fmt.Errorf("plane %d too small for %dx%d picture (stride %d, %d bytes)",
				i, frame.Width, frame.Height, stride, len(frame.Data[i]))
		}
	}
	return nil
}
