package uvcout

import "fmt"

// NativeCodecs is the default CodecLibrary: OpenH264 decoding through
// libmedia_h264, pure Go JPEG encoding and bilinear I420 scaling.
type NativeCodecs struct {
	ScaleMode ScaleMode
}

// EnsureInitialized implements CodecLibrary. The native library is loaded
// at most once per process; later calls return the first result.
func (NativeCodecs) EnsureInitialized() error {
	return ensureCodecLibrary()
}

// NewDecoder implements CodecLibrary.
func (NativeCodecs) NewDecoder(config DecoderConfig) (Decoder, error) {
	if !config.Format.IsH264() {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedFormat, config.Format)
	}
	return newH264Decoder(config)
}

// NewEncoder implements CodecLibrary.
func (NativeCodecs) NewEncoder(config EncoderConfig) (Encoder, error) {
	return NewJPEGEncoder(config)
}

// NewConverter implements CodecLibrary.
func (c NativeCodecs) NewConverter() (Converter, error) {
	return NewVideoScaler(c.ScaleMode), nil
}
