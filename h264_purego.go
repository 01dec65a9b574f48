//go:build (darwin || linux) && !noh264

// H.264 decoding via libmedia_h264 (OpenH264) using purego.

package uvcout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaH264Once    sync.Once
	mediaH264Handle  uintptr
	mediaH264InitErr error
)

// libmedia_h264 function pointers
var (
	mediaH264DecoderCreate  func(threads int32) uint64
	mediaH264DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaH264DecoderReset   func(decoder uint64) int32
	mediaH264DecoderDestroy func(decoder uint64)

	mediaH264GetError         func() uintptr
	mediaH264DecoderAvailable func() int32
)

const mediaH264OK = 0

// mediaH264DecodeResult is a heap-allocated struct for decoder output parameters.
// This struct must be heap-allocated for purego to work correctly on arm64.
// Using local stack variables for output parameters can fail due to GC moving
// the stack during the C call.
type mediaH264DecodeResult struct {
	YPtr     uintptr // Pointer to Y plane
	UPtr     uintptr // Pointer to U plane
	VPtr     uintptr // Pointer to V plane
	YStride  int32   // Y plane stride
	UVStride int32   // UV plane stride
	Width    int32   // Frame width
	Height   int32   // Frame height
}

// ensureCodecLibrary loads libmedia_h264 once per process.
func ensureCodecLibrary() error {
	mediaH264Once.Do(func() {
		mediaH264InitErr = loadMediaH264Lib()
		if mediaH264InitErr == nil && mediaH264DecoderAvailable() == 0 {
			mediaH264InitErr = errors.New("libmedia_h264 built without decoder")
		}
		if mediaH264InitErr != nil {
			mediaH264InitErr = fmt.Errorf("%w: %v", ErrCodecUnavailable, mediaH264InitErr)
		}
	})
	return mediaH264InitErr
}

func loadMediaH264Lib() error {
	var lastErr error
	for _, path := range getMediaH264LibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := bindMediaH264Symbols(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		mediaH264Handle = handle
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_h264: %w", lastErr)
	}
	return errors.New("libmedia_h264 not found in any standard location")
}

func getMediaH264LibPaths() []string {
	var paths []string

	libName := "libmedia_h264.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_h264.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("MEDIA_H264_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "build", libName),
			filepath.Join(moduleRoot, "build", "ffi", libName),
		)
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/libmedia_h264.dylib",
			"/opt/homebrew/lib/libmedia_h264.dylib",
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/libmedia_h264.so",
			"/usr/lib/libmedia_h264.so",
		)
	}

	return paths
}

type libSymbol struct {
	fptr any
	name string
}

var mediaH264Symbols = []libSymbol{
	{&mediaH264DecoderCreate, "media_h264_decoder_create"},
	{&mediaH264DecoderDecode, "media_h264_decoder_decode"},
	{&mediaH264DecoderReset, "media_h264_decoder_reset"},
	{&mediaH264DecoderDestroy, "media_h264_decoder_destroy"},

	{&mediaH264GetError, "media_h264_get_error"},
	{&mediaH264DecoderAvailable, "media_h264_decoder_available"},
}

// bindMediaH264Symbols resolves every symbol before binding any of them, so
// a stale library missing one leaves the function pointers untouched.
func bindMediaH264Symbols(handle uintptr) error {
	addrs := make([]uintptr, len(mediaH264Symbols))
	for i, sym := range mediaH264Symbols {
		addr, err := purego.Dlsym(handle, sym.name)
		if err != nil {
			return fmt.Errorf("missing symbol %s: %w", sym.name, err)
		}
		addrs[i] = addr
	}
	for i, sym := range mediaH264Symbols {
		purego.RegisterFunc(sym.fptr, addrs[i])
	}
	return nil
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// H264Decoder implements Decoder for H.264 Annex-B input.
type H264Decoder struct {
	config DecoderConfig
	handle uint64

	// Decoded picture, copied out of decoder memory.
	out     *pictureBuffer
	pending bool

	// Persistent output buffer for purego workaround on arm64
	decodeResult *mediaH264DecodeResult
}

// NewH264Decoder creates a new H.264 decoder.
func NewH264Decoder(config DecoderConfig) (*H264Decoder, error) {
	if err := ensureCodecLibrary(); err != nil {
		return nil, fmt.Errorf("H.264 decoder not available: %w", err)
	}

	threads := int32(4)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}

	handle := mediaH264DecoderCreate(threads)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 decoder: %s", getH264Error())
	}

	return &H264Decoder{
		config:       config,
		handle:       handle,
		decodeResult: &mediaH264DecodeResult{}, // Heap-allocated for purego arm64
	}, nil
}

// SendUnit implements Decoder.
func (d *H264Decoder) SendUnit(data []byte) error {
	if d.handle == 0 {
		return ErrClosed
	}
	if len(data) == 0 {
		return errors.New("empty encoded data")
	}
	d.pending = false

	out := d.decodeResult
	result := mediaH264DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)

	// Keep the struct and input alive during and after the C call
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		return fmt.Errorf("decode failed: %s", getH264Error())
	}
	if result == 0 {
		return nil // Buffering
	}

	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, out.Width, out.Height)
	}

	w := int(out.Width)
	h := int(out.Height)
	if !d.out.fits(w, h) {
		d.out = newPictureBuffer(w, h)
	}

	copyPlane(d.out.Y, d.out.StrideY, out.YPtr, int(out.YStride), w, h)
	cw, ch := chromaSize(w, h)
	copyPlane(d.out.U, d.out.StrideC, out.UPtr, int(out.UVStride), cw, ch)
	copyPlane(d.out.V, d.out.StrideC, out.VPtr, int(out.UVStride), cw, ch)

	d.pending = true
	return nil
}

// copyPlane copies rows out of decoder-owned memory.
func copyPlane(dst []byte, dstStride int, src uintptr, srcStride, width, height int) {
	for row := 0; row < height; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(src+uintptr(row*srcStride))), width)
		copy(dst[row*dstStride:row*dstStride+width], line)
	}
}

// ReceivePicture implements Decoder.
func (d *H264Decoder) ReceivePicture() (*VideoFrame, error) {
	if d.handle == 0 {
		return nil, ErrClosed
	}
	if !d.pending {
		return nil, ErrNeedMore
	}
	d.pending = false
	return d.out.frame(0), nil
}

// Reset drops any buffered reference pictures.
func (d *H264Decoder) Reset() error {
	if d.handle == 0 {
		return ErrClosed
	}
	if mediaH264DecoderReset(d.handle) != mediaH264OK {
		return fmt.Errorf("failed to reset decoder: %s", getH264Error())
	}
	d.pending = false
	return nil
}

// Close implements Decoder.
func (d *H264Decoder) Close() error {
	if d.handle != 0 {
		mediaH264DecoderDestroy(d.handle)
		d.handle = 0
	}
	d.pending = false
	return nil
}

func newH264Decoder(config DecoderConfig) (Decoder, error) {
	return NewH264Decoder(config)
}
