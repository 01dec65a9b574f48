package uvcout

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// DeviceInfo describes a V4L2 video node.
type DeviceInfo struct {
	Path   string // Device node, e.g. /dev/video0
	Driver string // Driver name, "v4l2 loopback" for v4l2loopback
	Card   string // Human-readable device name
	Output bool   // Node accepts video output and can back an OutputStage
}

func (d DeviceInfo) String() string {
	dir := "capture"
	if d.Output {
		dir = "output"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", d.Path, dir, d.Driver, d.Card)
}

const videoDeviceGlob = "/dev/video*"

// ListVideoDevices probes every /dev/video node. Nodes that cannot be opened
// or do not answer VIDIOC_QUERYCAP are skipped.
func ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return listVideoDevices(ctx, videoDeviceGlob)
}

func listVideoDevices(ctx context.Context, pattern string) ([]DeviceInfo, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sortDevicePaths(paths)

	devices := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := probeVideoDevice(path)
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// sortDevicePaths orders paths by their trailing number so video10 sorts
// after video2.
func sortDevicePaths(paths []string) {
	slices.SortFunc(paths, func(a, b string) int {
		if c := strings.Compare(strings.TrimRight(a, "0123456789"), strings.TrimRight(b, "0123456789")); c != 0 {
			return c
		}
		return deviceIndex(a) - deviceIndex(b)
	})
}

func deviceIndex(path string) int {
	digits := path[len(strings.TrimRight(path, "0123456789")):]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}
