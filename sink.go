package uvcout

import (
	"fmt"
	"os"
	"strings"
)

// DefaultDevicePath is the loopback device used when no path is configured.
const DefaultDevicePath = "/dev/video0"

// Sink is an open output device or file that accepts one encoded frame per
// Write.
//
// Configure and open failures are fatal to the caller. Write errors and short
// writes are reported but leave the sink open and usable.
type Sink interface {
	// Configure sets the frame geometry and pixel format of the stream.
	Configure(width, height int, format FourCC) error

	// Write submits one frame with a single write call and returns the
	// number of bytes the sink accepted.
	Write(p []byte) (int, error)

	// Close releases the underlying handle. It is safe to call more than once.
	Close() error

	// Path returns the path the sink was opened with.
	Path() string
}

// SinkOpener opens a sink by path.
type SinkOpener func(path string) (Sink, error)

// IsVideoDevice reports whether path names a V4L2 video device node.
func IsVideoDevice(path string) bool {
	return strings.HasPrefix(path, "/dev/video")
}

// OpenSink opens path as a V4L2 output device if it is a /dev/video node
// and as a plain file otherwise.
func OpenSink(path string) (Sink, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	if IsVideoDevice(path) {
		s, err := OpenV4L2Sink(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := OpenFileSink(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FileSink writes the encoded stream to a regular file, frame after frame.
// An MJPEG stream written this way is a valid concatenation of JPEG images.
type FileSink struct {
	path   string
	f      *os.File
	width  int
	height int
	format FourCC
}

// OpenFileSink creates or truncates the file at path.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Configure implements Sink. Files carry no format metadata, so only the
// values are validated and recorded.
func (s *FileSink) Configure(width, height int, format FourCC) error {
	if s.f == nil {
		return ErrClosed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid sink dimensions %dx%d", width, height)
	}
	if format != FourCCMJPEG {
		return fmt.Errorf("%w: file sink format %s", ErrUnsupportedFormat, format)
	}
	s.width, s.height, s.format = width, height, format
	return nil
}

// Write implements Sink.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.f == nil {
		return 0, ErrClosed
	}
	return s.f.Write(p)
}

// Close implements Sink.
func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Path implements Sink.
func (s *FileSink) Path() string {
	return s.path
}
