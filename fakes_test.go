package uvcout

import (
	"errors"
	"fmt"
)

var (
	errFakeIO      = errors.New("simulated I/O error")
	errFakeCorrupt = errors.New("corrupt bitstream")
)

// corruptMarker as the byte after the start code makes the fake decoder
// reject a unit.
const corruptMarker = 0xEE

// eventLog records teardown order across fakes.
type eventLog struct {
	events []string
}

func (l *eventLog) add(event string) {
	if l != nil {
		l.events = append(l.events, event)
	}
}

func (l *eventLog) index(event string) int {
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

// fakeSink records writes in memory.
type fakeSink struct {
	path string
	log  *eventLog

	configureErr error
	width        int
	height       int
	format       FourCC

	writeErr   error // Returned by every write while set
	shortWrite int   // Bytes withheld from every write while set

	writes [][]byte
	closed int
}

func (s *fakeSink) Configure(width, height int, format FourCC) error {
	if s.configureErr != nil {
		return s.configureErr
	}
	s.width, s.height, s.format = width, height, format
	return nil
}

func (s *fakeSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p) - s.shortWrite
	if n < 0 {
		n = 0
	}
	s.writes = append(s.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

func (s *fakeSink) Close() error {
	s.closed++
	s.log.add("sink closed")
	return nil
}

func (s *fakeSink) Path() string { return s.path }

func (s *fakeSink) opener() SinkOpener {
	return func(path string) (Sink, error) {
		s.path = path
		return s, nil
	}
}

// fakeCodecs is a CodecLibrary whose codecs emit small synthetic units.
type fakeCodecs struct {
	log *eventLog

	initErr    error
	decoderErr error
	encoderErr error

	// Decoder behavior
	warmup    int // Units swallowed before the first picture
	picWidth  int
	picHeight int

	// Converter and encoder behavior
	configureErr error
	encodeErr    error
	resetErr     error

	inits    int
	builds   int
	decoders []*fakeDecoder
	encoders []*fakeEncoder
	converts []*fakeConverter
}

func newFakeCodecs() *fakeCodecs {
	return &fakeCodecs{picWidth: 320, picHeight: 240}
}

func (c *fakeCodecs) EnsureInitialized() error {
	c.inits++
	return c.initErr
}

func (c *fakeCodecs) NewDecoder(config DecoderConfig) (Decoder, error) {
	c.builds++
	if c.decoderErr != nil {
		return nil, c.decoderErr
	}
	if !config.Format.IsH264() {
		return nil, ErrUnsupportedFormat
	}
	d := &fakeDecoder{lib: c}
	c.decoders = append(c.decoders, d)
	return d, nil
}

func (c *fakeCodecs) NewEncoder(config EncoderConfig) (Encoder, error) {
	if c.encoderErr != nil {
		return nil, c.encoderErr
	}
	e := &fakeEncoder{lib: c, config: config, buf: make([]byte, 6)}
	c.encoders = append(c.encoders, e)
	return e, nil
}

func (c *fakeCodecs) NewConverter() (Converter, error) {
	v := &fakeConverter{lib: c}
	c.converts = append(c.converts, v)
	return v, nil
}

type fakeDecoder struct {
	lib     *fakeCodecs
	units   int
	resets  int
	pending *VideoFrame
	closed  bool
}

func (d *fakeDecoder) Reset() error {
	d.resets++
	d.pending = nil
	return d.lib.resetErr
}

func (d *fakeDecoder) SendUnit(data []byte) error {
	if len(data) > 4 && data[4] == corruptMarker {
		return errFakeCorrupt
	}
	d.units++
	if d.units <= d.lib.warmup {
		return nil
	}
	d.pending = newPictureBuffer(d.lib.picWidth, d.lib.picHeight).frame(int64(d.units))
	return nil
}

func (d *fakeDecoder) ReceivePicture() (*VideoFrame, error) {
	if d.pending == nil {
		return nil, ErrNeedMore
	}
	p := d.pending
	d.pending = nil
	return p, nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	d.lib.log.add("decoder closed")
	return nil
}

// fakeEncoder reuses one output buffer for every unit.
type fakeEncoder struct {
	lib    *fakeCodecs
	config EncoderConfig
	buf    []byte
	count  byte
	ready  bool
	closed bool
}

func (e *fakeEncoder) SendPicture(frame *VideoFrame) error {
	if e.lib.encodeErr != nil {
		return e.lib.encodeErr
	}
	if frame.Width != e.config.Width || frame.Height != e.config.Height {
		return fmt.Errorf("picture %dx%d, encoder %dx%d", frame.Width, frame.Height, e.config.Width, e.config.Height)
	}
	e.count++
	copy(e.buf, []byte{0xFF, 0xD8, e.count, e.count, 0xFF, 0xD9})
	e.ready = true
	return nil
}

func (e *fakeEncoder) ReceiveUnit() ([]byte, error) {
	if !e.ready {
		return nil, ErrNeedMore
	}
	e.ready = false
	return e.buf, nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	e.lib.log.add("encoder closed")
	return nil
}

type fakeConverter struct {
	lib        *fakeCodecs
	configures int
	dstW, dstH int
	out        *pictureBuffer
}

func (v *fakeConverter) Configure(srcWidth, srcHeight int, srcFormat PixelFormat, dstWidth, dstHeight int, dstFormat PixelFormat) error {
	v.configures++
	if v.lib.configureErr != nil {
		return v.lib.configureErr
	}
	v.dstW, v.dstH = dstWidth, dstHeight
	v.out = newPictureBuffer(dstWidth, dstHeight)
	return nil
}

func (v *fakeConverter) Convert(src *VideoFrame) (*VideoFrame, error) {
	if v.out == nil {
		return nil, errors.New("not configured")
	}
	return v.out.frame(src.Timestamp), nil
}

// Test frames.
var (
	testJPEG   = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0xFF, 0xD9}
	testIDR    = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x33}
	testSlice  = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A, 0x02}
	testBadNAL = []byte{0x00, 0x00, 0x00, 0x01, corruptMarker, 0x00}
)
