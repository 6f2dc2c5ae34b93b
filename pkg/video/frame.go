// SPDX-License-Identifier: GPL-2.0-or-later

package video

import (
	"errors"
	"fmt"
)

// Errors shared by frame sources and their consumers.
var (
	// ErrEndOfStream is returned by Source.Next when the video has no more frames.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDecode video could not be opened or decoded.
	ErrDecode = errors.New("decode error")

	// ErrMalformedStream frames from a single video are inconsistent.
	ErrMalformedStream = errors.New("malformed stream")
)

// Frame is one decoded image. Pix holds Height*Width*Channels
// samples in row-major order, one byte per channel sample.
// A frame must not be modified after it has been produced.
type Frame struct {
	Height   int
	Width    int
	Channels int
	Pix      []byte
}

// SameShape reports whether f and f2 have equal dimensions and channel count.
func (f Frame) SameShape(f2 Frame) bool {
	return f.Height == f2.Height &&
		f.Width == f2.Width &&
		f.Channels == f2.Channels
}

// Validate checks that the payload size matches the dimensions.
func (f Frame) Validate() error {
	if f.Height <= 0 || f.Width <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: invalid frame shape %vx%vx%v",
			ErrMalformedStream, f.Width, f.Height, f.Channels)
	}
	if len(f.Pix) != f.Size() {
		return fmt.Errorf("%w: frame payload is %v bytes, expected %v",
			ErrMalformedStream, len(f.Pix), f.Size())
	}
	return nil
}

// Size returns the expected payload size in bytes.
func (f Frame) Size() int {
	return f.Height * f.Width * f.Channels
}

// FramePair two frames from the same video, First decoded before Second.
type FramePair struct {
	First  Frame
	Second Frame
}

// Validate checks the pair invariant.
func (p FramePair) Validate() error {
	if !p.First.SameShape(p.Second) {
		return fmt.Errorf("%w: frame shape changed from %vx%vx%v to %vx%vx%v",
			ErrMalformedStream,
			p.First.Width, p.First.Height, p.First.Channels,
			p.Second.Width, p.Second.Height, p.Second.Channels)
	}
	if err := p.First.Validate(); err != nil {
		return err
	}
	return p.Second.Validate()
}

// Source is a forward-only sequence of decoded frames.
//
// Next returns frames in decode order and ErrEndOfStream once
// the video is exhausted, every later call returns ErrEndOfStream
// again. Close releases the decoder and must be called once.
type Source interface {
	Next() (Frame, error)
	Close() error
}
