package uvcout

import "sync/atomic"

// DropReason explains why a frame was not written.
type DropReason int

const (
	DropUnknownFormat         DropReason = iota // Classifier did not recognize the frame
	DropTranscoderUnavailable                   // Transcoder could not be built or was disabled
	DropNoOutput                                // Decoder or encoder still buffering
	DropTranscodeError                          // Recoverable decode failure
	DropWriteError                              // Sink write returned an error
	DropShortWrite                              // Sink accepted fewer bytes than the frame
	DropClosed                                  // Frame arrived after Close
	dropReasonCount
)

func (r DropReason) String() string {
	switch r {
	case DropUnknownFormat:
		return "unknown_format"
	case DropTranscoderUnavailable:
		return "transcoder_unavailable"
	case DropNoOutput:
		return "no_output"
	case DropTranscodeError:
		return "transcode_error"
	case DropWriteError:
		return "write_error"
	case DropShortWrite:
		return "short_write"
	case DropClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of output stage counters. All counters only grow.
type Stats struct {
	FramesWritten uint64
	BytesWritten  uint64
	FramesDropped uint64

	drops [dropReasonCount]uint64
}

// Dropped returns the number of frames dropped for reason.
func (s Stats) Dropped(reason DropReason) uint64 {
	if reason < 0 || reason >= dropReasonCount {
		return 0
	}
	return s.drops[reason]
}

// stageCounters is written by the stage goroutine and read by anyone.
type stageCounters struct {
	framesWritten atomic.Uint64
	bytesWritten  atomic.Uint64
	framesDropped atomic.Uint64
	drops         [dropReasonCount]atomic.Uint64
}

func (c *stageCounters) written(n int) {
	c.framesWritten.Add(1)
	c.bytesWritten.Add(uint64(n))
}

func (c *stageCounters) dropped(reason DropReason) {
	c.framesDropped.Add(1)
	c.drops[reason].Add(1)
}

func (c *stageCounters) snapshot() Stats {
	s := Stats{
		FramesWritten: c.framesWritten.Load(),
		BytesWritten:  c.bytesWritten.Load(),
		FramesDropped: c.framesDropped.Load(),
	}
	for i := range c.drops {
		s.drops[i] = c.drops[i].Load()
	}
	return s
}
