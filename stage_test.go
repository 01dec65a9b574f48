package uvcout

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStage(t *testing.T, sink *fakeSink, lib *fakeCodecs, opts ...Option) *OutputStage {
	t.Helper()
	opts = append([]Option{WithSinkOpener(sink.opener()), WithCodecs(lib)}, opts...)
	s, err := NewOutputStage(Config{Device: "/dev/video7", Width: 640, Height: 480}, opts...)
	if err != nil {
		t.Fatalf("NewOutputStage: %v", err)
	}
	return s
}

func assertStats(t *testing.T, st Stats, written, bytes, dropped uint64) {
	t.Helper()
	if st.FramesWritten != written || st.BytesWritten != bytes || st.FramesDropped != dropped {
		t.Errorf("stats = written %d, bytes %d, dropped %d; want %d, %d, %d",
			st.FramesWritten, st.BytesWritten, st.FramesDropped, written, bytes, dropped)
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewOutputStage_ConfiguresSink(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	if sink.path != "/dev/video7" {
		t.Errorf("opened %q", sink.path)
	}
	if sink.width != 640 || sink.height != 480 || sink.format != FourCCMJPEG {
		t.Errorf("sink configured %dx%d %v", sink.width, sink.height, sink.format)
	}
	if s.State() != StateClassifying {
		t.Errorf("state = %v, want classifying", s.State())
	}
	if s.Format() != FormatUnknown {
		t.Errorf("format = %v before first frame", s.Format())
	}
}

func TestNewOutputStage_Defaults(t *testing.T) {
	sink := &fakeSink{}
	s, err := NewOutputStage(Config{}, WithSinkOpener(sink.opener()), WithCodecs(newFakeCodecs()))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if sink.path != DefaultDevicePath {
		t.Errorf("device = %q, want %q", sink.path, DefaultDevicePath)
	}
	if sink.width != 1920 || sink.height != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", sink.width, sink.height)
	}
	cfg := s.Config()
	if cfg.Quality != DefaultJPEGQuality || cfg.Format != FormatMJPEG {
		t.Errorf("config = %+v", cfg)
	}
}

func TestNewOutputStage_Errors(t *testing.T) {
	t.Run("configure fails", func(t *testing.T) {
		sink := &fakeSink{configureErr: errFakeIO}
		_, err := NewOutputStage(Config{}, WithSinkOpener(sink.opener()))
		if !errors.Is(err, errFakeIO) {
			t.Errorf("err = %v, want configure error", err)
		}
		if sink.closed != 1 {
			t.Errorf("sink closed %d times, want 1", sink.closed)
		}
	})

	t.Run("open fails", func(t *testing.T) {
		open := func(string) (Sink, error) { return nil, errFakeIO }
		if _, err := NewOutputStage(Config{}, WithSinkOpener(open)); !errors.Is(err, errFakeIO) {
			t.Errorf("err = %v, want open error", err)
		}
	})

	invalid := []struct {
		name string
		cfg  Config
	}{
		{"H.264 output", Config{Format: FormatH264AVCC}},
		{"quality too high", Config{Quality: 101}},
		{"negative quality", Config{Quality: -5}},
		{"negative threads", Config{DecoderThreads: -1}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			if _, err := NewOutputStage(tt.cfg, WithSinkOpener(sink.opener())); err == nil {
				t.Error("expected error")
			}
			if sink.path != "" {
				t.Error("sink opened for invalid config")
			}
		})
	}
}

// =============================================================================
// Routing
// =============================================================================

func TestOutputStage_MJPEGPassthrough(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	s := newTestStage(t, sink, lib)
	defer s.Close()

	outcome := s.OutputFrame(InputFrame{Data: testJPEG})
	if !outcome.Written || outcome.Bytes != len(testJPEG) {
		t.Fatalf("outcome = %v", outcome)
	}
	assertStats(t, s.Stats(), 1, uint64(len(testJPEG)), 0)

	if len(sink.writes) != 1 || !bytes.Equal(sink.writes[0], testJPEG) {
		t.Errorf("sink got %x, want %x", sink.writes, testJPEG)
	}
	if s.Format() != FormatMJPEG || s.State() != StateRouting {
		t.Errorf("format %v state %v", s.Format(), s.State())
	}
	if lib.builds != 0 || s.TranscoderState() != TranscoderNotBuilt {
		t.Error("transcoder built for MJPEG input")
	}
}

func TestOutputStage_ShortFrameDropped(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	outcome := s.OutputFrame(InputFrame{Data: []byte{0xFF, 0xD8, 0xD9}})
	if outcome.Written || outcome.Reason != DropUnknownFormat {
		t.Errorf("outcome = %v, want unknown_format drop", outcome)
	}
	assertStats(t, s.Stats(), 0, 0, 1)
	if len(sink.writes) != 0 {
		t.Error("unknown frame written")
	}
}

func TestOutputStage_RetriesClassification(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	s.OutputFrame(InputFrame{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}})
	s.OutputFrame(InputFrame{Data: nil})
	if s.State() != StateClassifying {
		t.Fatalf("state = %v after unknown frames, want classifying", s.State())
	}

	if o := s.OutputFrame(InputFrame{Data: testJPEG}); !o.Written {
		t.Fatalf("outcome = %v after recognizable frame", o)
	}
	if s.Format() != FormatMJPEG {
		t.Errorf("format = %v", s.Format())
	}
	st := s.Stats()
	assertStats(t, st, 1, uint64(len(testJPEG)), 2)
	if st.Dropped(DropUnknownFormat) != 2 {
		t.Errorf("unknown_format drops = %d, want 2", st.Dropped(DropUnknownFormat))
	}
}

func TestOutputStage_FormatCachedForStream(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	s := newTestStage(t, sink, lib)
	defer s.Close()

	s.OutputFrame(InputFrame{Data: testJPEG})

	// Later frames follow the cached route without reclassification
	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if o := s.OutputFrame(InputFrame{Data: garbage}); !o.Written {
		t.Errorf("outcome = %v, want written on cached MJPEG route", o)
	}
	s.OutputFrame(InputFrame{Data: testIDR})
	if s.Format() != FormatMJPEG {
		t.Errorf("format changed to %v", s.Format())
	}
	if lib.builds != 0 {
		t.Error("transcoder built after format was cached as MJPEG")
	}
	if len(sink.writes) != 3 {
		t.Errorf("writes = %d, want 3", len(sink.writes))
	}
}

func TestOutputStage_H264Transcode(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	lib.warmup = 2
	s := newTestStage(t, sink, lib)
	defer s.Close()

	var outcomes []Outcome
	for _, frame := range [][]byte{testIDR, testSlice, testSlice, testSlice} {
		outcomes = append(outcomes, s.OutputFrame(InputFrame{Data: frame}))
	}

	if s.Format() != FormatH264AVCC {
		t.Errorf("format = %v, want H264-AVCC", s.Format())
	}
	if s.TranscoderState() != TranscoderBuilt {
		t.Errorf("transcoder state = %v", s.TranscoderState())
	}
	for i := 0; i < 2; i++ {
		if outcomes[i].Reason != DropNoOutput {
			t.Errorf("warmup frame %d outcome = %v, want no_output drop", i, outcomes[i])
		}
	}
	for i := 2; i < 4; i++ {
		if !outcomes[i].Written {
			t.Errorf("frame %d outcome = %v, want written", i, outcomes[i])
		}
	}

	st := s.Stats()
	if st.FramesWritten != 2 || st.FramesDropped != 2 {
		t.Errorf("stats = %+v", st)
	}
	for _, w := range sink.writes {
		if Classify(w) != FormatMJPEG {
			t.Errorf("sink got non-JPEG frame %x", w)
		}
	}
	if lib.builds != 1 {
		t.Errorf("transcoder built %d times, want 1", lib.builds)
	}
	if lib.encoders[0].config.Width != 640 || lib.encoders[0].config.Height != 480 {
		t.Errorf("encoder configured %dx%d", lib.encoders[0].config.Width, lib.encoders[0].config.Height)
	}
}

func TestOutputStage_AnnexBTranscode(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	o := s.OutputFrame(InputFrame{Data: []byte{0x00, 0x00, 0x01, 0x65, 0x88, 0x84}})
	if !o.Written {
		t.Errorf("outcome = %v", o)
	}
	if s.Format() != FormatH264AnnexB {
		t.Errorf("format = %v", s.Format())
	}
}

func TestOutputStage_TranscoderBuildFailsOnce(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	lib.initErr = ErrCodecUnavailable
	s := newTestStage(t, sink, lib)
	defer s.Close()

	for i := 0; i < 5; i++ {
		o := s.OutputFrame(InputFrame{Data: testIDR})
		if o.Reason != DropTranscoderUnavailable {
			t.Fatalf("frame %d outcome = %v", i, o)
		}
	}
	if lib.inits != 1 {
		t.Errorf("build attempted %d times, want 1", lib.inits)
	}
	if s.TranscoderState() != TranscoderFailed {
		t.Errorf("transcoder state = %v", s.TranscoderState())
	}
	st := s.Stats()
	assertStats(t, st, 0, 0, 5)
	if st.Dropped(DropTranscoderUnavailable) != 5 {
		t.Errorf("transcoder_unavailable drops = %d", st.Dropped(DropTranscoderUnavailable))
	}
}

func TestOutputStage_PipelineFatalDisablesTranscoding(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	s := newTestStage(t, sink, lib)
	defer s.Close()

	if o := s.OutputFrame(InputFrame{Data: testIDR}); !o.Written {
		t.Fatalf("outcome = %v", o)
	}

	lib.encodeErr = errors.New("encoder broke")
	if o := s.OutputFrame(InputFrame{Data: testSlice}); o.Reason != DropTranscoderUnavailable {
		t.Errorf("outcome = %v, want transcoder_unavailable", o)
	}
	if !lib.decoders[0].closed || !lib.encoders[0].closed {
		t.Error("failed pipeline not released")
	}

	lib.encodeErr = nil
	for i := 0; i < 3; i++ {
		if o := s.OutputFrame(InputFrame{Data: testSlice}); o.Reason != DropTranscoderUnavailable {
			t.Errorf("outcome = %v after pipeline failure", o)
		}
	}
	if lib.builds != 1 {
		t.Errorf("rebuilt after fatal error: %d builds", lib.builds)
	}
	assertStats(t, s.Stats(), 1, 6, 4)
}

func TestOutputStage_DecodeErrorIsRecoverable(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	s.OutputFrame(InputFrame{Data: testIDR})
	if o := s.OutputFrame(InputFrame{Data: testBadNAL}); o.Reason != DropTranscodeError {
		t.Errorf("outcome = %v, want transcode_error", o)
	}
	if o := s.OutputFrame(InputFrame{Data: testSlice}); !o.Written {
		t.Errorf("outcome = %v after decode error", o)
	}
	if s.TranscoderState() != TranscoderBuilt {
		t.Errorf("transcoder state = %v", s.TranscoderState())
	}
}

func TestOutputStage_RestartResetsDecoder(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	s := newTestStage(t, sink, lib)
	defer s.Close()

	s.OutputFrame(InputFrame{Data: testIDR})
	dec := lib.decoders[0]
	if dec.resets != 0 {
		t.Fatalf("decoder reset without restart flag")
	}

	if o := s.OutputFrame(InputFrame{Data: testIDR, Flags: FlagRestart | FlagKeyframe}); !o.Written {
		t.Errorf("outcome = %v after restart", o)
	}
	if dec.resets != 1 {
		t.Errorf("decoder resets = %d, want 1", dec.resets)
	}

	// A failed reset is logged and the frame still goes through
	lib.resetErr = errFakeCorrupt
	if o := s.OutputFrame(InputFrame{Data: testIDR, Flags: FlagRestart}); !o.Written {
		t.Errorf("outcome = %v after failed reset", o)
	}
	if got := s.transcoder.Stats().DecoderResets; got != 2 {
		t.Errorf("transcoder resets = %d, want 2", got)
	}
	if s.Format() != FormatH264AVCC {
		t.Errorf("format = %v, restart must not reclassify", s.Format())
	}
}

func TestOutputStage_RestartOnMJPEGIsPassthrough(t *testing.T) {
	sink := &fakeSink{}
	lib := newFakeCodecs()
	s := newTestStage(t, sink, lib)
	defer s.Close()

	if o := s.OutputFrame(InputFrame{Data: testJPEG, Flags: FlagRestart}); !o.Written {
		t.Errorf("outcome = %v", o)
	}
	if s.TranscoderState() != TranscoderNotBuilt || lib.builds != 0 {
		t.Error("restart flag built a transcoder for MJPEG input")
	}
}

// =============================================================================
// Sink errors
// =============================================================================

func TestOutputStage_WriteErrorIsRecoverable(t *testing.T) {
	sink := &fakeSink{writeErr: errFakeIO}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	if o := s.OutputFrame(InputFrame{Data: testJPEG}); o.Reason != DropWriteError {
		t.Errorf("outcome = %v, want write_error", o)
	}
	assertStats(t, s.Stats(), 0, 0, 1)

	sink.writeErr = nil
	if o := s.OutputFrame(InputFrame{Data: testJPEG}); !o.Written {
		t.Errorf("outcome = %v, stage unusable after write error", o)
	}
	assertStats(t, s.Stats(), 1, uint64(len(testJPEG)), 1)
}

func TestOutputStage_ShortWriteIsDrop(t *testing.T) {
	sink := &fakeSink{shortWrite: 3}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	o := s.OutputFrame(InputFrame{Data: testJPEG})
	if o.Reason != DropShortWrite {
		t.Errorf("outcome = %v, want short_write", o)
	}
	// Partial bytes are not counted
	assertStats(t, s.Stats(), 0, 0, 1)
}

// =============================================================================
// Statistics and teardown
// =============================================================================

func TestOutputStage_CountsEveryFrameOnce(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())

	frames := [][]byte{
		{0x01}, // unknown
		testJPEG,
		testJPEG,
		{0xFF, 0xD8, 0x00, 0x00, 0xFF, 0xD9},
	}
	var wantBytes uint64
	for _, f := range frames[1:] {
		wantBytes += uint64(len(f))
	}

	const rounds = 10
	for r := 0; r < rounds; r++ {
		for _, f := range frames {
			s.OutputFrame(InputFrame{Data: f})
		}
		sink.writeErr = errFakeIO
		s.OutputFrame(InputFrame{Data: testJPEG})
		sink.writeErr = nil
	}

	st := s.Stats()
	total := uint64(rounds * (len(frames) + 1))
	if st.FramesWritten+st.FramesDropped != total {
		t.Errorf("written %d + dropped %d != %d frames", st.FramesWritten, st.FramesDropped, total)
	}
	// Only the first unknown frame is classified; later ones ride the MJPEG route
	assertStats(t, st, total-1-rounds, wantBytes*rounds+uint64(rounds-1), 1+rounds)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if after := s.Stats(); after != st {
		t.Errorf("Close changed stats: %+v -> %+v", st, after)
	}
}

func TestOutputStage_Close(t *testing.T) {
	log := &eventLog{}
	sink := &fakeSink{log: log}
	lib := newFakeCodecs()
	lib.log = log
	s := newTestStage(t, sink, lib)

	s.OutputFrame(InputFrame{Data: testIDR})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	sinkIdx := log.index("sink closed")
	for _, ev := range []string{"decoder closed", "encoder closed"} {
		idx := log.index(ev)
		if idx < 0 {
			t.Errorf("%s missing", ev)
		} else if idx > sinkIdx {
			t.Errorf("%s after sink closed: %v", ev, log.events)
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v", s.State())
	}

	before := s.Stats()
	if o := s.OutputFrame(InputFrame{Data: testJPEG}); o.Reason != DropClosed {
		t.Errorf("outcome after Close = %v", o)
	}
	after := s.Stats()
	if after.FramesDropped != before.FramesDropped+1 || after.FramesWritten != before.FramesWritten {
		t.Errorf("frame after Close not counted as drop: %+v -> %+v", before, after)
	}
}

func TestOutputStage_CloseLogsSummary(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs(), WithLogger(zerolog.New(&buf)))

	s.OutputFrame(InputFrame{Data: []byte{0x00}})
	s.OutputFrame(InputFrame{Data: testJPEG})
	s.OutputFrame(InputFrame{Data: testJPEG})
	s.Close()

	want := "wrote 2 frames (24 bytes), dropped 1 frames"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("log missing %q:\n%s", want, buf.String())
	}
}

func TestOutputStage_StatsConcurrentRead(t *testing.T) {
	sink := &fakeSink{}
	s := newTestStage(t, sink, newFakeCodecs())
	defer s.Close()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for {
			select {
			case <-done:
				return
			default:
			}
			st := s.Stats()
			n := st.FramesWritten + st.FramesDropped
			if n < last {
				t.Errorf("counters went backwards: %d < %d", n, last)
				return
			}
			last = n
		}
	}()

	for i := 0; i < 1000; i++ {
		s.OutputFrame(InputFrame{Data: testJPEG})
	}
	close(done)
	wg.Wait()
}

func TestSummary(t *testing.T) {
	st := Stats{FramesWritten: 3, BytesWritten: 1234, FramesDropped: 2}
	if got, want := Summary(st), "wrote 3 frames (1234 bytes), dropped 2 frames"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestDropReason_String(t *testing.T) {
	tests := []struct {
		reason DropReason
		want   string
	}{
		{DropUnknownFormat, "unknown_format"},
		{DropTranscoderUnavailable, "transcoder_unavailable"},
		{DropNoOutput, "no_output"},
		{DropTranscodeError, "transcode_error"},
		{DropWriteError, "write_error"},
		{DropShortWrite, "short_write"},
		{DropClosed, "closed"},
		{DropReason(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.want {
				t.Errorf("DropReason.String() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := (Stats{}).Dropped(DropReason(-1)); got != 0 {
		t.Errorf("Dropped(-1) = %d", got)
	}
}
