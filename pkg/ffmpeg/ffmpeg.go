// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"framepairs/pkg/log"
)

// process manages a single ffmpeg subprocess.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd
	stderr  *stderrLogger
}

func newProcess(cmd *exec.Cmd, stderr *stderrLogger) *process {
	cmd.Stderr = stderr
	return &process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
		stderr:  stderr,
	}
}

func (p *process) start() error {
	return p.cmd.Start()
}

// wait must only be called after stdout has been drained or closed.
// Exit status 255, ffmpeg interrupted by a signal, is an error.
func (p *process) wait() error {
	return p.cmd.Wait()
}

// stop interrupts the process and kills it if
// it has not exited before the timeout.
func (p *process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-time.After(p.timeout):
			p.cmd.Process.Kill() //nolint:errcheck
		}
	}()
	p.cmd.Wait() //nolint:errcheck
	close(done)
}

const stderrTailLines = 5

// stderrLogger forwards stderr lines to the logger
// and keeps the last few lines for error messages.
type stderrLogger struct {
	log   *log.Logger
	video string

	buf  []byte
	tail []string
	mu   sync.Mutex
}

func newStderrLogger(logger *log.Logger, video string) *stderrLogger {
	return &stderrLogger{log: logger, video: video}
}

func (l *stderrLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.line(string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *stderrLogger) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	l.log.Warn().Src("ffmpeg").Video(l.video).Msgf("stderr: %v", line)

	l.tail = append(l.tail, line)
	if len(l.tail) > stderrTailLines {
		l.tail = l.tail[1:]
	}
}

// Tail returns the last lines written to stderr.
func (l *stderrLogger) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := l.tail
	if rest := strings.TrimSpace(string(l.buf)); rest != "" {
		lines = append(lines[:len(lines):len(lines)], rest)
	}
	return strings.Join(lines, "; ")
}

// FFMPEG stores ffmpeg and ffprobe binary locations.
type FFMPEG struct {
	command func(...string) *exec.Cmd
	probe   func(context.Context, ...string) *exec.Cmd
	log     *log.Logger
}

// New returns FFMPEG.
func New(ffmpegBin, ffprobeBin string, logger *log.Logger) *FFMPEG {
	return &FFMPEG{
		command: func(args ...string) *exec.Cmd {
			return exec.Command(ffmpegBin, args...)
		},
		probe: func(ctx context.Context, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, ffprobeBin, args...)
		},
		log: logger,
	}
}

// Probe video stream information.
type Probe struct {
	Width  int
	Height int

	// Frames is the frame count reported by the container, 0 if unknown.
	Frames int

	// Rotation is the display rotation in degrees, normalized to [0, 360).
	// Width and Height are already swapped for 90 and 270.
	Rotation int
}

type probeOutput struct {
	Streams []struct {
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		NbFrames string `json:"nb_frames"`
		SideData []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
		Tags struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
	} `json:"streams"`
}

// ErrNoVideoStream file has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Probe uses ffprobe to read the size of the first video stream.
// The size is the displayed size, ffmpeg rotates frames while decoding.
func (f *FFMPEG) Probe(ctx context.Context, path string) (*Probe, error) {
	cmd := f.probe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames:stream_side_data=rotation:stream_tags=rotate",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	var output probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("unmarshal ffprobe output: %w", err)
	}
	if len(output.Streams) == 0 {
		return nil, ErrNoVideoStream
	}

	stream := output.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("invalid video size: %vx%v", stream.Width, stream.Height)
	}

	// "N/A" or missing is treated as unknown.
	frames, _ := strconv.Atoi(stream.NbFrames)

	probe := &Probe{
		Width:  stream.Width,
		Height: stream.Height,
		Frames: frames,
	}

	// Older versions only report the rotate tag.
	var rotation float64
	if rotate, err := strconv.ParseFloat(stream.Tags.Rotate, 64); err == nil {
		rotation = rotate
	}
	for _, sd := range stream.SideData {
		if sd.Rotation != nil {
			rotation = *sd.Rotation
			break
		}
	}
	probe.Rotation = normalizeRotation(rotation)
	if probe.Rotation == 90 || probe.Rotation == 270 {
		probe.Width, probe.Height = probe.Height, probe.Width
	}
	return probe, nil
}

func normalizeRotation(degrees float64) int {
	r := int(math.Round(degrees)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// PixelFormats supported raw output formats and their channel count.
var PixelFormats = map[string]int{
	"bgr24": 3,
	"rgb24": 3,
	"gray":  1,
	"rgba":  4,
	"bgra":  4,
}

// ErrUnsupportedPixelFormat pixel format is not in PixelFormats.
var ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")

// Channels returns the channel count of a pixel format.
func Channels(pixFmt string) (int, error) {
	channels, exist := PixelFormats[pixFmt]
	if !exist {
		var supported []string
		for name := range PixelFormats {
			supported = append(supported, name)
		}
		sort.Strings(supported)
		return 0, fmt.Errorf("%w: %q, supported: %v",
			ErrUnsupportedPixelFormat, pixFmt, strings.Join(supported, ", "))
	}
	return channels, nil
}

// rawVideoArgs returns arguments that decode every frame
// of the first video stream to stdout without scaling.
func rawVideoArgs(path string, pixFmt string) []string {
	// Output
	// ffmpeg -nostdin -loglevel error -i path -map 0:v:0 -vsync passthrough
	//   -an -sn -f rawvideo -pix_fmt bgr24 -
	return []string{
		"-nostdin",
		"-loglevel", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "passthrough",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-",
	}
}
