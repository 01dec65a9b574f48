// Package ingest feeds encoded video from network sources into an output
// stage.
package ingest

import (
	"sync"

	"github.com/thesyncim/uvcout"
)

// Output accepts encoded frames. *uvcout.OutputStage implements it.
type Output interface {
	OutputFrame(frame uvcout.InputFrame) uvcout.Outcome
}

// Serialized wraps an Output so calls from several goroutines never overlap.
// The RTP and RTMP servers deliver from their own goroutines and must be
// given a Serialized stage when they share one.
type Serialized struct {
	mu  sync.Mutex
	out Output
}

// NewSerialized returns out guarded by a mutex.
func NewSerialized(out Output) *Serialized {
	return &Serialized{out: out}
}

// OutputFrame implements Output.
func (s *Serialized) OutputFrame(frame uvcout.InputFrame) uvcout.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.OutputFrame(frame)
}

// Do runs fn while holding the lock, e.g. to close the wrapped stage once
// producers may still be delivering.
func (s *Serialized) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
