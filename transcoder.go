package uvcout

import (
	"errors"
	"fmt"
)

// TranscoderConfig configures a transcoder. All values are fixed for the
// lifetime of the transcoder.
type TranscoderConfig struct {
	InputFormat  StreamFormat // Compressed input format
	OutputFormat StreamFormat // Compressed output format
	Width        int          // Output width
	Height       int          // Output height
	Quality      int          // Encoder quality (codec-specific)

	DecoderThreads int
}

// TranscoderStats provides transcode metrics.
type TranscoderStats struct {
	UnitsIn         uint64 // Compressed units fed to the decoder
	PicturesDecoded uint64 // Pictures produced by the decoder
	UnitsEncoded    uint64 // Compressed units produced by the encoder
	DecodeErrors    uint64 // Units rejected by the decoder
	ConverterBuilds uint64 // Converter (re)configurations
	DecoderResets   uint64 // Decoder resets after upstream restarts
}

// Transcoder decodes compressed units, converts the pictures to the output
// size and layout, and re-encodes them.
//
// A Transcoder is either fully constructed or not at all: NewTranscoder
// releases every handle it opened when any step fails.
type Transcoder struct {
	decoder   Decoder
	encoder   Encoder
	converter Converter

	// Last configured converter source dimensions; zero until the first picture.
	srcWidth, srcHeight int
	srcFormat           PixelFormat

	// Pipeline-owned copy of the last encoded unit.
	out []byte

	config TranscoderConfig
	stats  TranscoderStats
}

// NewTranscoder creates a transcoder from the codec capabilities in lib.
// It initializes lib first; the initialization is process-wide and only
// performed once.
func NewTranscoder(lib CodecLibrary, config TranscoderConfig) (t *Transcoder, err error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid transcoder dimensions %dx%d", config.Width, config.Height)
	}
	if err := lib.EnsureInitialized(); err != nil {
		return nil, err
	}

	t = &Transcoder{config: config}
	defer func() {
		if err != nil {
			t.Close()
			t = nil
		}
	}()

	t.decoder, err = lib.NewDecoder(DecoderConfig{
		Format:  config.InputFormat,
		Threads: config.DecoderThreads,
	})
	if err != nil {
		return t, fmt.Errorf("create decoder: %w", err)
	}

	t.encoder, err = lib.NewEncoder(EncoderConfig{
		Format:  config.OutputFormat,
		Width:   config.Width,
		Height:  config.Height,
		Quality: config.Quality,
	})
	if err != nil {
		return t, fmt.Errorf("create encoder: %w", err)
	}

	t.converter, err = lib.NewConverter()
	if err != nil {
		return t, fmt.Errorf("create converter: %w", err)
	}

	// Sized for a mostly incompressible frame; grows if ever exceeded.
	t.out = AllocBuffer(I420Size(config.Width, config.Height))
	return t, nil
}

// Transcode feeds one compressed unit through the pipeline.
//
// It returns (nil, nil) when the decoder or encoder is still buffering.
// Decode errors are returned as-is and leave the pipeline usable. Errors
// wrapping ErrPipelineFatal mean the pipeline must be discarded.
//
// The returned slice is owned by the transcoder and valid until the next
// Transcode or Close call.
func (t *Transcoder) Transcode(unit []byte) ([]byte, error) {
	if t.decoder == nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineFatal, ErrClosed)
	}

	t.stats.UnitsIn++
	if err := t.decoder.SendUnit(unit); err != nil {
		t.stats.DecodeErrors++
		return nil, err
	}

	picture, err := t.decoder.ReceivePicture()
	if errors.Is(err, ErrNeedMore) {
		return nil, nil // Decoder buffering
	}
	if err != nil {
		t.stats.DecodeErrors++
		return nil, err
	}
	t.stats.PicturesDecoded++

	// Rebuild the converter only when the source geometry changes
	if picture.Width != t.srcWidth || picture.Height != t.srcHeight || picture.Format != t.srcFormat {
		err := t.converter.Configure(
			picture.Width, picture.Height, picture.Format,
			t.config.Width, t.config.Height, PixelFormatI420,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: configure converter %dx%d -> %dx%d: %w", ErrPipelineFatal,
				picture.Width, picture.Height, t.config.Width, t.config.Height, err)
		}
		t.srcWidth, t.srcHeight, t.srcFormat = picture.Width, picture.Height, picture.Format
		t.stats.ConverterBuilds++
	}

	converted, err := t.converter.Convert(picture)
	if err != nil {
		return nil, fmt.Errorf("%w: convert: %w", ErrPipelineFatal, err)
	}

	if err := t.encoder.SendPicture(converted); err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrPipelineFatal, err)
	}
	encoded, err := t.encoder.ReceiveUnit()
	if errors.Is(err, ErrNeedMore) {
		return nil, nil // Encoder buffering
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrPipelineFatal, err)
	}
	t.stats.UnitsEncoded++

	// Copy out of encoder memory so the result survives encoder buffer reuse
	if len(encoded) > cap(t.out) {
		t.out = AllocBuffer(len(encoded) + len(encoded)/2)
	}
	t.out = t.out[:len(encoded)]
	copy(t.out, encoded)
	return t.out, nil
}

// Reset drops decoder state so the next unit starts a fresh stream.
// Decoders that do not implement Resetter are left as they are.
func (t *Transcoder) Reset() error {
	if t.decoder == nil {
		return ErrClosed
	}
	t.stats.DecoderResets++
	if r, ok := t.decoder.(Resetter); ok {
		return r.Reset()
	}
	return nil
}

// Stats returns transcode statistics.
func (t *Transcoder) Stats() TranscoderStats {
	return t.stats
}

// Config returns the transcoder configuration.
func (t *Transcoder) Config() TranscoderConfig {
	return t.config
}

// Close releases the decoder, encoder and converter. It is safe to call more
// than once.
func (t *Transcoder) Close() error {
	var errs []error
	if t.decoder != nil {
		if err := t.decoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close decoder: %w", err))
		}
		t.decoder = nil
	}
	if t.encoder != nil {
		if err := t.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close encoder: %w", err))
		}
		t.encoder = nil
	}
	t.converter = nil
	t.out = nil
	return errors.Join(errs...)
}
