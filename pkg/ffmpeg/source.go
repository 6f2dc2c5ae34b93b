// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"

	"framepairs/pkg/video"

	"github.com/hashicorp/go-multierror"
)

// Source decodes the first video stream of a file into raw frames.
type Source struct {
	path     string
	probe    Probe
	channels int

	proc   *process
	stdout io.ReadCloser

	frames int
	err    error
	waited bool
	closed bool
}

// Open probes the video at path and starts decoding it to pixFmt.
func (f *FFMPEG) Open(ctx context.Context, path string, pixFmt string) (*Source, error) {
	channels, err := Channels(pixFmt)
	if err != nil {
		return nil, err
	}

	probe, err := f.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %v: %v", video.ErrDecode, path, err)
	}

	cmd := f.command(rawVideoArgs(path, pixFmt)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	proc := newProcess(cmd, newStderrLogger(f.log, path))
	if err := proc.start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", video.ErrDecode, err)
	}

	f.log.Debug().Src("ffmpeg").Video(path).
		Msgf("decoding %vx%v %v, rotation %v, %v frames reported",
			probe.Width, probe.Height, pixFmt, probe.Rotation, probe.Frames)

	return &Source{
		path:     path,
		probe:    *probe,
		channels: channels,
		proc:     proc,
		stdout:   stdout,
	}, nil
}

// ReportedFrames returns the frame count reported by the container, 0 if unknown.
func (s *Source) ReportedFrames() int {
	return s.probe.Frames
}

// Shape returns the height, width and channel count of every frame.
func (s *Source) Shape() (height, width, channels int) {
	return s.probe.Height, s.probe.Width, s.channels
}

// FrameSize returns the number of bytes in one decoded frame.
func (s *Source) FrameSize() int {
	return s.probe.Width * s.probe.Height * s.channels
}

// Next returns the next decoded frame. Terminal errors are sticky.
func (s *Source) Next() (video.Frame, error) {
	if s.err != nil {
		return video.Frame{}, s.err
	}

	pix := make([]byte, s.FrameSize())
	n, err := io.ReadFull(s.stdout, pix)
	switch {
	case err == nil:
		s.frames++
		return video.Frame{
			Height:   s.probe.Height,
			Width:    s.probe.Width,
			Channels: s.channels,
			Pix:      pix,
		}, nil

	case errors.Is(err, io.EOF):
		s.err = s.finish()

	case errors.Is(err, io.ErrUnexpectedEOF):
		s.err = s.finish()
		if errors.Is(s.err, video.ErrEndOfStream) {
			s.err = fmt.Errorf("%w: %v: truncated frame %v: got %v of %v bytes",
				video.ErrMalformedStream, s.path, s.frames+1, n, len(pix))
		}

	default:
		s.err = fmt.Errorf("%w: %v: read frame: %v", video.ErrDecode, s.path, err)
	}
	return video.Frame{}, s.err
}

// finish waits for a process that closed its stdout.
func (s *Source) finish() error {
	s.waited = true
	if err := s.proc.wait(); err != nil {
		tail := s.proc.stderr.Tail()
		if tail == "" {
			return fmt.Errorf("%w: %v: ffmpeg: %v", video.ErrDecode, s.path, err)
		}
		return fmt.Errorf("%w: %v: ffmpeg: %v: %v", video.ErrDecode, s.path, err, tail)
	}
	return video.ErrEndOfStream
}

// Close stops the ffmpeg process if it is still running.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.waited {
		return nil
	}

	var result *multierror.Error
	if err := s.stdout.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close stdout: %w", err))
	}
	// The reader is gone, ffmpeg exits on the broken pipe or the interrupt.
	s.proc.stop()
	s.waited = true
	return result.ErrorOrNil()
}
