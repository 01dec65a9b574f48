//go:build !(darwin || linux) || noh264

package uvcout

import "fmt"

func ensureCodecLibrary() error {
	return fmt.Errorf("%w: built without H.264 support", ErrCodecUnavailable)
}

func newH264Decoder(DecoderConfig) (Decoder, error) {
	return nil, ensureCodecLibrary()
}
