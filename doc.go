// Package uvcout delivers encoded camera frames to a virtual video-output
// device (a V4L2 loopback consumer) in a single target encoding, MJPEG.
//
// Key pieces include:
//   - Classify: magic-byte detection of MJPEG and H.264 start-code streams
//   - Sink: V4L2 output device and plain-file sinks
//   - Transcoder: decode -> scale/convert -> encode for non-native input
//   - OutputStage: per-stream orchestration and write/drop statistics
//   - TestCard: generated MJPEG frames for checking a device without a stream
//   - ListVideoDevices: V4L2 node discovery
//
// # Architecture
//
//	MJPEG:  InputFrame -> OutputStage -> Sink
//	H.264:  InputFrame -> OutputStage -> Transcoder -> Sink
//
// The input format is classified on the first recognizable frame and cached
// for the lifetime of the stage. The transcoder is only built when the cached
// format differs from the sink's native format, and it is never rebuilt after
// a failed construction.
//
// # Native Libraries
//
// H.264 decoding loads libmedia_h264 (OpenH264) through purego, so the
// package builds with CGO_ENABLED=0. Set MEDIA_H264_LIB_PATH or
// MEDIA_SDK_LIB_PATH to point at the library. JPEG encoding and scaling are
// pure Go.
//
// # Build Tags
//
//   - noh264: build without the H.264 decoder (H.264 input is dropped)
package uvcout
