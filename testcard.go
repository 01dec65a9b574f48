package uvcout

import (
	"fmt"
	"math"
)

// TestCardPattern selects the picture drawn by a TestCard.
type TestCardPattern int

const (
	PatternColorBars    TestCardPattern = iota // 75% color bars
	PatternCheckerboard                        // Black and white squares
	PatternMovingBox                           // White box orbiting the center
)

func (p TestCardPattern) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

// ParseTestCardPattern parses the command line spelling of a pattern.
func ParseTestCardPattern(s string) (TestCardPattern, error) {
	switch s {
	case "", "bars":
		return PatternColorBars, nil
	case "checkerboard":
		return PatternCheckerboard, nil
	case "box":
		return PatternMovingBox, nil
	default:
		return 0, fmt.Errorf("%w: test card pattern %q", ErrNotSupported, s)
	}
}

const checkerSize = 32

// 75% bars, left to right
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // White
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

// TestCard renders a test pattern and encodes it as MJPEG frames, so a sink
// can be exercised without an upstream producer.
type TestCard struct {
	pattern TestCardPattern
	pic     *pictureBuffer
	enc     *JPEGEncoder
	frames  uint64
	drawn   bool
}

// NewTestCard creates a test card of the given size.
func NewTestCard(width, height int, pattern TestCardPattern, quality int) (*TestCard, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid test card dimensions %dx%d", width, height)
	}
	enc, err := NewJPEGEncoder(EncoderConfig{Format: FormatMJPEG, Width: width, Height: height, Quality: quality})
	if err != nil {
		return nil, err
	}
	return &TestCard{
		pattern: pattern,
		pic:     newPictureBuffer(width, height),
		enc:     enc,
	}, nil
}

// Picture draws the next picture. Static patterns are drawn once.
// The returned frame is owned by the test card.
func (c *TestCard) Picture(timestamp int64) *VideoFrame {
	if !c.drawn || c.pattern == PatternMovingBox {
		c.draw()
		c.drawn = true
	}
	c.frames++
	return c.pic.frame(timestamp)
}

// NextFrame draws and encodes the next picture as an MJPEG input frame.
// The frame data is valid until the next call.
func (c *TestCard) NextFrame(timestamp int64) (InputFrame, error) {
	if err := c.enc.SendPicture(c.Picture(timestamp)); err != nil {
		return InputFrame{}, err
	}
	data, err := c.enc.ReceiveUnit()
	if err != nil {
		return InputFrame{}, err
	}
	return InputFrame{Data: data, Timestamp: timestamp, Flags: FlagKeyframe}, nil
}

// Close releases the encoder.
func (c *TestCard) Close() error {
	return c.enc.Close()
}

func (c *TestCard) draw() {
	switch c.pattern {
	case PatternCheckerboard:
		c.drawCheckerboard()
	case PatternMovingBox:
		c.drawMovingBox(c.frames)
	default:
		c.drawColorBars()
	}
}

func (c *TestCard) drawColorBars() {
	p := c.pic
	barWidth := max(p.Width/8, 1)

	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			yv, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			p.Y[y*p.StrideY+x] = yv
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*p.StrideC + x/2
				p.U[i], p.V[i] = u, v
			}
		}
	}
}

func (c *TestCard) drawCheckerboard() {
	p := c.pic
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			if ((x/checkerSize)+(y/checkerSize))%2 == 0 {
				p.Y[y*p.StrideY+x] = 235
			} else {
				p.Y[y*p.StrideY+x] = 16
			}
		}
	}
	fill(p.U, 128)
	fill(p.V, 128)
}

func (c *TestCard) drawMovingBox(frame uint64) {
	p := c.pic
	fill(p.Y, 16)
	fill(p.U, 128)
	fill(p.V, 128)

	boxSize := max(min(p.Width, p.Height)/8, 2)
	radius := float64(min(p.Width, p.Height)) / 4
	angle := float64(frame) * 0.05
	boxX := p.Width/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := p.Height/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < min(boxY+boxSize, p.Height); y++ {
		for x := max(boxX, 0); x < min(boxX+boxSize, p.Width); x++ {
			p.Y[y*p.StrideY+x] = 235
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// rgbToYUV converts studio-range RGB to BT.601 YCbCr.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(math.Max(16, math.Min(235, yf)))
	u = uint8(math.Max(16, math.Min(240, uf)))
	v = uint8(math.Max(16, math.Min(240, vf)))
	return
}
