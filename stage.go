package uvcout

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Default output geometry when the configuration leaves it unset.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Config configures an OutputStage. It is validated by NewOutputStage and
// not changed afterwards.
type Config struct {
	Device         string       // Sink path; /dev/video* selects V4L2, anything else a file
	Width          int          // Output width (<= 0 selects DefaultWidth)
	Height         int          // Output height (<= 0 selects DefaultHeight)
	Format         StreamFormat // Output format; only FormatMJPEG is supported
	Quality        int          // JPEG quality for transcoded frames (0 selects DefaultJPEGQuality)
	DecoderThreads int          // H.264 decoder threads (0 = auto)
	ScaleMode      ScaleMode    // Aspect handling when transcoded pictures are resized
}

// withDefaults returns c with unset fields filled in and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.Device == "" {
		c.Device = DefaultDevicePath
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = DefaultWidth, DefaultHeight
	}
	if c.Format == FormatUnknown {
		c.Format = FormatMJPEG
	}
	if c.Format != FormatMJPEG {
		return c, fmt.Errorf("%w: output format %s", ErrUnsupportedFormat, c.Format)
	}
	if c.Quality == 0 {
		c.Quality = DefaultJPEGQuality
	}
	if c.Quality < 1 || c.Quality > 100 {
		return c, fmt.Errorf("invalid JPEG quality %d", c.Quality)
	}
	if c.DecoderThreads < 0 {
		return c, fmt.Errorf("invalid decoder threads %d", c.DecoderThreads)
	}
	return c, nil
}

// StageState is the lifecycle state of an OutputStage.
type StageState int

const (
	StateUninitialized StageState = iota
	StateClassifying
	StateRouting
	StateClosed
)

func (s StageState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateClassifying:
		return "classifying"
	case StateRouting:
		return "routing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TranscoderState tracks the lazily built transcoder.
type TranscoderState int

const (
	TranscoderNotBuilt TranscoderState = iota
	TranscoderBuilt
	TranscoderFailed // Build or pipeline failure; never rebuilt
)

func (s TranscoderState) String() string {
	switch s {
	case TranscoderNotBuilt:
		return "not_built"
	case TranscoderBuilt:
		return "built"
	case TranscoderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one OutputFrame call. Every frame is either
// written or dropped.
type Outcome struct {
	Written bool
	Bytes   int        // Bytes written; zero for drops
	Reason  DropReason // Valid when Written is false
}

// Dropped reports whether the frame was dropped.
func (o Outcome) Dropped() bool { return !o.Written }

func (o Outcome) String() string {
	if o.Written {
		return fmt.Sprintf("written (%d bytes)", o.Bytes)
	}
	return "dropped: " + o.Reason.String()
}

// Option configures an OutputStage.
type Option func(*OutputStage)

// WithLogger sets the stage logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *OutputStage) { s.log = logger }
}

// WithCodecs sets the codec library used to build the transcoder.
func WithCodecs(lib CodecLibrary) Option {
	return func(s *OutputStage) { s.codecs = lib }
}

// WithSinkOpener replaces OpenSink.
func WithSinkOpener(open SinkOpener) Option {
	return func(s *OutputStage) { s.openSink = open }
}

// OutputStage delivers encoded frames to a sink in MJPEG. MJPEG input is
// written unchanged; H.264 input is transcoded by a pipeline built on the
// first H.264 frame.
//
// OutputFrame and Close must not be called concurrently. Stats may be
// called from any goroutine.
type OutputStage struct {
	config   Config
	codecs   CodecLibrary
	openSink SinkOpener
	log      zerolog.Logger

	sink   Sink
	state  StageState
	format StreamFormat

	transcoder      *Transcoder
	transcoderState TranscoderState

	counters stageCounters
}

// NewOutputStage opens and configures the sink described by config. No
// stage is returned if either step fails, and nothing is left open.
func NewOutputStage(config Config, opts ...Option) (*OutputStage, error) {
	s := &OutputStage{
		openSink: OpenSink,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	s.config = config
	if s.codecs == nil {
		s.codecs = NativeCodecs{ScaleMode: config.ScaleMode}
	}

	sink, err := s.openSink(config.Device)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	if err := sink.Configure(config.Width, config.Height, config.Format.FourCC()); err != nil {
		sink.Close()
		return nil, fmt.Errorf("configure sink %s: %w", config.Device, err)
	}
	s.sink = sink
	s.state = StateClassifying

	s.log.Info().
		Str("device", config.Device).
		Int("width", config.Width).
		Int("height", config.Height).
		Stringer("format", config.Format).
		Msg("Output stage ready")
	return s, nil
}

// OutputFrame delivers one frame. The frame data is not retained after the
// call returns.
func (s *OutputStage) OutputFrame(frame InputFrame) Outcome {
	switch s.state {
	case StateClosed:
		return s.drop(DropClosed)
	case StateClassifying:
		if !s.classify(frame.Data) {
			return s.drop(DropUnknownFormat)
		}
	}
	return s.route(frame)
}

// classify caches the stream format on the first recognized frame. Unknown
// frames leave the stage classifying so later frames can still lock it.
func (s *OutputStage) classify(data []byte) bool {
	format := Classify(data)
	if format == FormatUnknown {
		s.log.Debug().Int("size", len(data)).Msg("Unrecognized frame format")
		return false
	}

	s.format = format
	s.state = StateRouting
	ev := s.log.Info().Stringer("format", format)
	if format.IsH264() {
		ev = ev.Uint8("nal_type", NALUnitType(data))
	}
	ev.Msg("Stream format detected")
	return true
}

func (s *OutputStage) route(frame InputFrame) Outcome {
	switch s.format {
	case FormatMJPEG:
		return s.write(frame.Data)
	case FormatH264AVCC, FormatH264AnnexB:
		return s.transcode(frame)
	default:
		return s.drop(DropUnknownFormat)
	}
}

func (s *OutputStage) transcode(frame InputFrame) Outcome {
	if !s.ensureTranscoder() {
		return s.drop(DropTranscoderUnavailable)
	}
	if frame.Flags.Has(FlagRestart) {
		if err := s.transcoder.Reset(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to reset decoder")
		}
	}

	out, err := s.transcoder.Transcode(frame.Data)
	switch {
	case errors.Is(err, ErrPipelineFatal):
		s.log.Error().Err(err).Msg("Transcoder failed, dropping H.264 frames for the rest of the stream")
		s.releaseTranscoder()
		s.transcoderState = TranscoderFailed
		return s.drop(DropTranscoderUnavailable)
	case err != nil:
		s.log.Debug().Err(err).Int64("ts", frame.Timestamp).Msg("Decode failed")
		return s.drop(DropTranscodeError)
	case len(out) == 0:
		return s.drop(DropNoOutput)
	}
	return s.write(out)
}

// ensureTranscoder builds the transcoder on first use. A failed build is
// final for the lifetime of the stage.
func (s *OutputStage) ensureTranscoder() bool {
	switch s.transcoderState {
	case TranscoderBuilt:
		return true
	case TranscoderFailed:
		return false
	}

	t, err := NewTranscoder(s.codecs, TranscoderConfig{
		InputFormat:    s.format,
		OutputFormat:   s.config.Format,
		Width:          s.config.Width,
		Height:         s.config.Height,
		Quality:        s.config.Quality,
		DecoderThreads: s.config.DecoderThreads,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build transcoder")
		s.transcoderState = TranscoderFailed
		return false
	}

	s.transcoder = t
	s.transcoderState = TranscoderBuilt
	s.log.Info().
		Stringer("input", s.format).
		Stringer("output", s.config.Format).
		Int("width", s.config.Width).
		Int("height", s.config.Height).
		Int("quality", s.config.Quality).
		Msg("Transcoder ready")
	return true
}

func (s *OutputStage) releaseTranscoder() {
	if s.transcoder == nil {
		return
	}
	if err := s.transcoder.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close transcoder")
	}
	s.transcoder = nil
}

func (s *OutputStage) write(data []byte) Outcome {
	n, err := s.sink.Write(data)
	if err != nil {
		s.log.Warn().Err(err).Int("size", len(data)).Msg("Frame write failed")
		return s.drop(DropWriteError)
	}
	if n != len(data) {
		s.log.Warn().Int("written", n).Int("size", len(data)).Msg("Short frame write")
		return s.drop(DropShortWrite)
	}
	s.counters.written(n)
	return Outcome{Written: true, Bytes: n}
}

func (s *OutputStage) drop(reason DropReason) Outcome {
	s.counters.dropped(reason)
	return Outcome{Reason: reason}
}

// Close releases the transcoder and then the sink, and logs the frame
// summary. Frames passed to OutputFrame afterwards are dropped. It is safe
// to call more than once.
func (s *OutputStage) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	s.releaseTranscoder()

	var err error
	if s.sink != nil {
		if cerr := s.sink.Close(); cerr != nil {
			err = fmt.Errorf("close sink %s: %w", s.config.Device, cerr)
		}
	}

	st := s.counters.snapshot()
	s.log.Info().
		Uint64("frames_written", st.FramesWritten).
		Uint64("bytes_written", st.BytesWritten).
		Uint64("frames_dropped", st.FramesDropped).
		Msg(Summary(st))
	return err
}

// Summary formats the teardown line for st.
func Summary(st Stats) string {
	return fmt.Sprintf("wrote %d frames (%d bytes), dropped %d frames",
		st.FramesWritten, st.BytesWritten, st.FramesDropped)
}

// Format returns the cached stream format, or FormatUnknown before the
// first recognized frame.
func (s *OutputStage) Format() StreamFormat { return s.format }

// State returns the lifecycle state.
func (s *OutputStage) State() StageState { return s.state }

// TranscoderState returns the transcoder build state.
func (s *OutputStage) TranscoderState() TranscoderState { return s.transcoderState }

// Config returns the validated configuration.
func (s *OutputStage) Config() Config { return s.config }

// Stats returns a snapshot of the frame counters. It is safe to call
// concurrently with OutputFrame.
func (s *OutputStage) Stats() Stats { return s.counters.snapshot() }
