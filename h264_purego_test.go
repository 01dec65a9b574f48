//go:build (darwin || linux) && !noh264

package uvcout

import (
	"runtime"
	"strings"
	"testing"

	"github.com/ebitengine/purego"
)

func TestBindMediaH264Symbols_MissingSymbol(t *testing.T) {
	path := "libc.so.6"
	if runtime.GOOS == "darwin" {
		path = "/usr/lib/libSystem.B.dylib"
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		t.Skipf("cannot open %s: %v", path, err)
	}
	defer purego.Dlclose(handle)

	before := mediaH264DecoderCreate
	err = bindMediaH264Symbols(handle)
	if err == nil {
		t.Fatal("library without libmedia_h264 symbols accepted")
	}
	if !strings.Contains(err.Error(), "media_h264_decoder_create") {
		t.Errorf("err = %v, want the first missing symbol named", err)
	}
	if (before == nil) != (mediaH264DecoderCreate == nil) {
		t.Error("function pointers changed by a failed bind")
	}
}
