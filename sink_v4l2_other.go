//go:build !linux

package uvcout

import "fmt"

// V4L2Sink is only available on Linux.
type V4L2Sink struct{}

// OpenV4L2Sink always fails on non-Linux platforms.
func OpenV4L2Sink(path string) (*V4L2Sink, error) {
	return nil, fmt.Errorf("%w: V4L2 output %s requires linux", ErrNotSupported, path)
}

func (*V4L2Sink) Configure(int, int, FourCC) error { return ErrNotSupported }
func (*V4L2Sink) Write([]byte) (int, error)       { return 0, ErrNotSupported }
func (*V4L2Sink) Close() error                     { return nil }
func (*V4L2Sink) Path() string                     { return "" }
func (*V4L2Sink) Driver() string                   { return "" }

func probeVideoDevice(path string) (DeviceInfo, error) {
	return DeviceInfo{}, fmt.Errorf("%w: probing %s requires linux", ErrNotSupported, path)
}
