//go:build linux

package uvcout

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 constants from linux/videodev2.h.
const (
	v4l2CapVideoOutput = 0x00000002
	v4l2CapDeviceCaps  = 0x80000000

	v4l2BufTypeVideoOutput = 2
	v4l2FieldNone          = 1
	v4l2ColorspaceJPEG     = 7
)

// v4l2Capability mirrors struct v4l2_capability.
type v4l2Capability struct {
	Driver       [16]uint8
	Card         [32]uint8
	BusInfo      [32]uint8
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// v4l2PixFormat mirrors struct v4l2_pix_format.
type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format. The kernel union is 200 bytes and
// pointer aligned because some members hold pointers.
type v4l2Format struct {
	Type uint32
	Fmt  struct {
		_   [0]uintptr
		Pix v4l2PixFormat
		_   [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
	}
}

// supportsOutput reports whether the node itself accepts video output.
func (c *v4l2Capability) supportsOutput() bool {
	caps := c.Capabilities
	if caps&v4l2CapDeviceCaps != 0 {
		caps = c.DeviceCaps
	}
	return caps&v4l2CapVideoOutput != 0
}

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

var (
	vidiocQueryCap = ioc(iocRead, 'V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocSFmt     = ioc(iocRead|iocWrite, 'V', 5, unsafe.Sizeof(v4l2Format{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// V4L2Sink writes frames to a V4L2 output device such as a v4l2loopback
// node. Each Write is a single write(2) so frame boundaries are preserved.
type V4L2Sink struct {
	path string
	fd   int
	caps v4l2Capability
}

// OpenV4L2Sink opens path for writing and checks that it is a video output
// device.
func OpenV4L2Sink(path string) (*V4L2Sink, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &V4L2Sink{path: path, fd: fd}
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&s.caps)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("VIDIOC_QUERYCAP %s: %w", path, err)
	}

	if !s.caps.supportsOutput() {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s does not support video output", ErrNotSupported, path)
	}

	return s, nil
}

// Configure implements Sink.
func (s *V4L2Sink) Configure(width, height int, format FourCC) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid sink dimensions %dx%d", width, height)
	}

	var f v4l2Format
	f.Type = v4l2BufTypeVideoOutput
	f.Fmt.Pix = v4l2PixFormat{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: uint32(format),
		Field:       v4l2FieldNone,
	}
	if format == FourCCMJPEG {
		f.Fmt.Pix.Colorspace = v4l2ColorspaceJPEG
	}

	if err := ioctl(s.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT %s %dx%d %s: %w", s.path, width, height, format, err)
	}
	return nil
}

// Write implements Sink.
func (s *V4L2Sink) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	n, err := unix.Write(s.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close implements Sink.
func (s *V4L2Sink) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// Path implements Sink.
func (s *V4L2Sink) Path() string {
	return s.path
}

// Driver returns the driver name reported by the device.
func (s *V4L2Sink) Driver() string {
	return unix.ByteSliceToString(s.caps.Driver[:])
}

// probeVideoDevice queries the capabilities of a video node without
// changing its format.
func probeVideoDevice(path string) (DeviceInfo, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer unix.Close(fd)

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return DeviceInfo{}, fmt.Errorf("VIDIOC_QUERYCAP %s: %w", path, err)
	}
	return DeviceInfo{
		Path:   path,
		Driver: unix.ByteSliceToString(caps.Driver[:]),
		Card:   unix.ByteSliceToString(caps.Card[:]),
		Output: caps.supportsOutput(),
	}, nil
}
