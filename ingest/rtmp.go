package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/thesyncim/uvcout"
)

// FLV video tag values.
const (
	flvCodecAVC          = 7
	flvFrameKey          = 1
	flvAVCSequenceHeader = 0
	flvAVCNALU           = 1
	flvVideoHeaderSize   = 5 // tag header, packet type, composition time
)

// RTMPServer accepts RTMP publishers and forwards their H.264 video as
// Annex-B access units. Only the most recent publisher is forwarded; a new
// publish replaces the previous stream.
type RTMPServer struct {
	out Output
	log zerolog.Logger

	mu        sync.Mutex
	current   *rtmpPublisher
	publishes int
}

// rtmpPublisher is the state of one publishing connection.
type rtmpPublisher struct {
	name     string
	sps, pps []byte
	frames   uint64
	restart  bool // An earlier publisher fed the output
}

// NewRTMPServer creates a server delivering to out. Each connection runs on
// its own goroutine, so out must tolerate concurrent calls (see Serialized).
func NewRTMPServer(out Output, logger zerolog.Logger) *RTMPServer {
	return &RTMPServer{out: out, log: logger}
}

// Serve accepts connections on ln until ctx is cancelled. Cancellation is
// not an error.
func (s *RTMPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			s.log.Debug().Stringer("remote", conn.RemoteAddr()).Msg("RTMP connection")
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{server: s},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	s.log.Info().Stringer("addr", ln.Addr()).Msg("RTMP server listening")
	err := srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *RTMPServer) publish(name string) *rtmpPublisher {
	pub := &rtmpPublisher{name: name}

	s.mu.Lock()
	prev := s.current
	s.current = pub
	s.publishes++
	pub.restart = s.publishes > 1
	s.mu.Unlock()

	if prev != nil {
		s.log.Info().Str("stream", prev.name).Msg("RTMP publisher replaced")
	}
	s.log.Info().Str("stream", name).Msg("RTMP publish")
	return pub
}

func (s *RTMPServer) isCurrent(pub *rtmpPublisher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pub != nil && s.current == pub
}

func (s *RTMPServer) unpublish(pub *rtmpPublisher) {
	s.mu.Lock()
	if s.current == pub {
		s.current = nil
	}
	s.mu.Unlock()
	s.log.Info().Str("stream", pub.name).Uint64("frames", pub.frames).Msg("RTMP publisher closed")
}

// handleVideo converts one FLV video tag body. Sequence headers update the
// parameter sets; NALU tags become Annex-B frames. Anything else is ignored.
func (s *RTMPServer) handleVideo(pub *rtmpPublisher, timestamp uint32, data []byte) {
	if len(data) < flvVideoHeaderSize {
		return
	}
	frameType := data[0] >> 4
	if data[0]&0x0F != flvCodecAVC {
		return
	}
	body := data[flvVideoHeaderSize:]

	switch data[1] {
	case flvAVCSequenceHeader:
		sps, pps := extractSPSPPS(body)
		if sps == nil || pps == nil {
			s.log.Warn().Str("stream", pub.name).Msg("RTMP sequence header without SPS/PPS")
			return
		}
		pub.sps, pub.pps = sps, pps

	case flvAVCNALU:
		if pub.sps == nil {
			return // Wait for the sequence header
		}
		nalus := splitAVCC(body)
		if len(nalus) == 0 {
			return
		}

		frame := uvcout.InputFrame{Timestamp: int64(timestamp) * 1000}
		if frameType == flvFrameKey {
			frame.Flags |= uvcout.FlagKeyframe
			frame.Data = buildAnnexB(nalus, pub.sps, pub.pps)
		} else {
			frame.Data = buildAnnexB(nalus, nil, nil)
		}
		if pub.frames == 0 && pub.restart {
			frame.Flags |= uvcout.FlagRestart
		}
		pub.frames++

		if outcome := s.out.OutputFrame(frame); outcome.Dropped() {
			s.log.Debug().Stringer("outcome", outcome).Uint32("ts", timestamp).Msg("RTMP frame dropped")
		}
	}
}

type rtmpHandler struct {
	rtmp.DefaultHandler
	server *RTMPServer
	pub    *rtmpPublisher
}

func (h *rtmpHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	h.pub = h.server.publish(cmd.PublishingName)
	return nil
}

func (h *rtmpHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if !h.server.isCurrent(h.pub) {
		return nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	h.server.handleVideo(h.pub, timestamp, buf.Bytes())
	return nil
}

func (h *rtmpHandler) OnClose() {
	if h.pub != nil {
		h.server.unpublish(h.pub)
	}
}
