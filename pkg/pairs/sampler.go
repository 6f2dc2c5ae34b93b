// SPDX-License-Identifier: GPL-2.0-or-later

// Package pairs turns a frame sequence into training pairs.
//
// The first frame of a video seeds the anchor. Every following frame
// increments a counter i, frames where i is not a multiple of the stride
// are dropped and never become anchors. When i is a multiple of the stride
// the pair (anchor, frame) is emitted and the frame becomes the new anchor.
// Pairs therefore never overlap and never cross a video boundary, a new
// Sampler is used for each video.
package pairs

import (
	"errors"
	"fmt"

	"framepairs/pkg/video"
)

// ErrEmptyVideo video yielded no frames.
var ErrEmptyVideo = errors.New("video has no frames")

// Stride converts frame skip to stride, negative values are clamped to zero.
func Stride(frameSkip int) int {
	if frameSkip < 0 {
		frameSkip = 0
	}
	return frameSkip + 1
}

// Sampler emits frame pairs from a single video.
type Sampler struct {
	src    video.Source
	stride int

	anchor  video.Frame
	seeded  bool
	done    bool
	i       int
	emitted int
	skipped int
}

// NewSampler returns a sampler reading from src. Stride must be at least 1.
func NewSampler(src video.Source, stride int) *Sampler {
	if stride < 1 {
		stride = 1
	}
	return &Sampler{
		src:    src,
		stride: stride,
	}
}

// Next returns the next pair. It returns video.ErrEndOfStream
// when the source is exhausted and ErrEmptyVideo if the source
// produced no frames at all.
func (s *Sampler) Next() (video.FramePair, error) {
	if s.done {
		return video.FramePair{}, video.ErrEndOfStream
	}
	if !s.seeded {
		if err := s.seed(); err != nil {
			return video.FramePair{}, err
		}
	}

	for {
		frame, err := s.src.Next()
		if errors.Is(err, video.ErrEndOfStream) {
			s.done = true
			s.anchor = video.Frame{}
			return video.FramePair{}, video.ErrEndOfStream
		}
		if err != nil {
			return video.FramePair{}, err
		}

		s.i++
		if s.i%s.stride != 0 {
			s.skipped++
			continue
		}

		pair := video.FramePair{First: s.anchor, Second: frame}
		if err := pair.Validate(); err != nil {
			return video.FramePair{}, fmt.Errorf("frame %v: %w", s.i+1, err)
		}

		s.anchor = frame
		s.emitted++
		return pair, nil
	}
}

func (s *Sampler) seed() error {
	frame, err := s.src.Next()
	if errors.Is(err, video.ErrEndOfStream) {
		s.done = true
		return ErrEmptyVideo
	}
	if err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("frame 1: %w", err)
	}
	s.anchor = frame
	s.seeded = true
	return nil
}

// Emitted returns the number of pairs returned so far.
func (s *Sampler) Emitted() int {
	return s.emitted
}

// Skipped returns the number of frames dropped by the stride.
func (s *Sampler) Skipped() int {
	return s.skipped
}

// Decoded returns the number of frames read from the source.
func (s *Sampler) Decoded() int {
	if !s.seeded {
		return 0
	}
	return s.i + 1
}

// ExpectedPairs returns the number of pairs a video
// with n frames produces for the given stride.
func ExpectedPairs(n, stride int) int {
	if n < 2 || stride < 1 {
		return 0
	}
	return (n - 1) / stride
}
