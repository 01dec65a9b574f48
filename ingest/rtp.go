package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"

	"github.com/thesyncim/uvcout"
)

const (
	h264ClockRate    = 90000
	defaultMaxLate   = 128
	maxRTPPacketSize = 1 << 16
)

// RTPConfig configures an RTPReceiver.
type RTPConfig struct {
	Addr        string // UDP listen address, e.g. ":5004"
	PayloadType uint8  // Accepted payload type; 0 accepts any
	MaxLate     uint16 // Reorder window in packets (0 selects 128)
}

// RTPStats provides receiver metrics.
type RTPStats struct {
	Packets     uint64 // Packets read from the socket
	Malformed   uint64 // Packets that failed to parse
	Filtered    uint64 // Packets with another payload type
	AccessUnits uint64 // Access units delivered to the output
	LostPackets uint64 // Packets the sample builder gave up on
}

// RTPReceiver receives RTP/H.264 (RFC 6184) over UDP, reorders packets,
// reassembles access units as Annex-B and hands them to an Output.
type RTPReceiver struct {
	config RTPConfig
	out    Output
	log    zerolog.Logger

	conn    *net.UDPConn
	builder *samplebuilder.SampleBuilder

	packets     atomic.Uint64
	malformed   atomic.Uint64
	filtered    atomic.Uint64
	accessUnits atomic.Uint64
	lost        atomic.Uint64
}

// NewRTPReceiver creates a receiver delivering to out.
func NewRTPReceiver(out Output, config RTPConfig, logger zerolog.Logger) *RTPReceiver {
	if config.MaxLate == 0 {
		config.MaxLate = defaultMaxLate
	}
	return &RTPReceiver{
		config:  config,
		out:     out,
		log:     logger,
		builder: samplebuilder.New(config.MaxLate, &codecs.H264Packet{}, h264ClockRate),
	}
}

// Listen binds the UDP socket. Serve calls it if needed.
func (r *RTPReceiver) Listen() error {
	if r.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", r.config.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.config.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.config.Addr, err)
	}
	r.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *RTPReceiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reads packets until ctx is cancelled or the socket fails.
// Cancellation is not an error.
func (r *RTPReceiver) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	defer r.conn.Close()

	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	r.log.Info().Stringer("addr", r.conn.LocalAddr()).Msg("RTP receiver listening")

	buf := make([]byte, maxRTPPacketSize)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		// The sample builder keeps packets across reads
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		r.handlePacket(pkt)
	}
}

// handlePacket parses one datagram and delivers any completed access units.
func (r *RTPReceiver) handlePacket(data []byte) {
	r.packets.Add(1)

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		r.malformed.Add(1)
		r.log.Debug().Err(err).Int("size", len(data)).Msg("Malformed RTP packet")
		return
	}
	if r.config.PayloadType != 0 && pkt.PayloadType != r.config.PayloadType {
		r.filtered.Add(1)
		return
	}

	r.builder.Push(pkt)
	for sample := r.builder.Pop(); sample != nil; sample = r.builder.Pop() {
		if sample.PrevDroppedPackets > 0 {
			r.lost.Add(uint64(sample.PrevDroppedPackets))
			r.log.Debug().Uint16("lost", sample.PrevDroppedPackets).Msg("RTP packets lost")
		}
		if len(sample.Data) == 0 {
			continue
		}
		r.deliver(sample.Data, sample.PacketTimestamp)
	}
}

func (r *RTPReceiver) deliver(data []byte, rtpTimestamp uint32) {
	frame := uvcout.InputFrame{
		Data:      data,
		Timestamp: int64(rtpTimestamp) * 1_000_000 / h264ClockRate,
	}
	if containsIDR(data) {
		frame.Flags |= uvcout.FlagKeyframe
	}
	r.accessUnits.Add(1)

	if outcome := r.out.OutputFrame(frame); outcome.Dropped() {
		r.log.Debug().Stringer("outcome", outcome).Uint32("rtp_ts", rtpTimestamp).Msg("Access unit dropped")
	}
}

// Stats returns receiver statistics.
func (r *RTPReceiver) Stats() RTPStats {
	return RTPStats{
		Packets:     r.packets.Load(),
		Malformed:   r.malformed.Load(),
		Filtered:    r.filtered.Load(),
		AccessUnits: r.accessUnits.Load(),
		LostPackets: r.lost.Load(),
	}
}
