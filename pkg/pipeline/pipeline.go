// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline converts a list of videos into one frame pair dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"framepairs/pkg/dataset"
	"framepairs/pkg/log"
	"framepairs/pkg/pairs"
	"framepairs/pkg/record"
	"framepairs/pkg/storage"
	"framepairs/pkg/video"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// Source is a frame source with stream information.
type Source interface {
	video.Source

	// Shape returns the dimensions of every decoded frame.
	Shape() (height, width, channels int)

	// ReportedFrames returns the frame count reported
	// by the container, or zero if it is unknown.
	ReportedFrames() int
}

// Opener opens a frame source for a video path.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, path string) (Source, error) {
	return f(ctx, path)
}

// Writer appends records to the dataset artifact, see dataset.Writer.
type Writer interface {
	Append(data []byte) error
	Close() error
	Abort() error
	Path() string
	Bytes() int64
	Buffered() int
}

func createDataset(dir string) (Writer, error) {
	w, err := dataset.Create(dir)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// DefaultLogEvery default progress log interval in pairs.
const DefaultLogEvery = 1000

// Config pipeline configuration.
type Config struct {
	OutputDir string
	FrameSkip int

	// LogEvery logs progress every n pairs, zero uses DefaultLogEvery.
	LogEvery int
}

// VideoStats statistics for a single video.
type VideoStats struct {
	Path    string
	Frames  int
	Pairs   int
	Skipped int
}

// Stats run statistics.
type Stats struct {
	Pairs  int
	Bytes  int64
	Videos []VideoStats
}

// Pipeline converts videos into a dataset.
type Pipeline struct {
	outputDir string
	stride    int
	logEvery  int

	opener   Opener
	create   func(dir string) (Writer, error)
	diskFree func(string) (storage.DiskUsage, error)
	log      *log.Logger
}

// New returns a pipeline.
func New(config Config, opener Opener, logger *log.Logger) *Pipeline {
	logEvery := config.LogEvery
	if logEvery <= 0 {
		logEvery = DefaultLogEvery
	}
	return &Pipeline{
		outputDir: config.OutputDir,
		stride:    pairs.Stride(config.FrameSkip),
		logEvery:  logEvery,
		opener:    opener,
		create:    createDataset,
		diskFree:  storage.DiskFree,
		log:       logger,
	}
}

// ErrNoVideos no input videos.
var ErrNoVideos = errors.New("no input videos")

// Run converts the videos in order. The first error aborts the run,
// the dataset is only finalized if every video was converted.
func (p *Pipeline) Run(ctx context.Context, videos []string) (Stats, error) {
	if len(videos) == 0 {
		return Stats{}, ErrNoVideos
	}

	w, err := p.create(p.outputDir)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, path := range videos {
		vs, err := p.convert(ctx, w, path, &stats)
		stats.Videos = append(stats.Videos, vs)
		if err != nil {
			err = fmt.Errorf("%v: %w", path, err)
			if abortErr := w.Abort(); abortErr != nil {
				err = multierror.Append(err, abortErr)
			}
			p.log.Error().Src("pipeline").Msgf("aborted after %v pairs", stats.Pairs)
			return stats, err
		}
	}

	if err := w.Close(); err != nil {
		return stats, err
	}
	stats.Bytes = w.Bytes()

	p.log.Info().Src("pipeline").Msgf("wrote %v pairs from %v videos to %v (%v)",
		stats.Pairs, len(stats.Videos), w.Path(), humanize.Bytes(uint64(stats.Bytes)))
	return stats, nil
}

func (p *Pipeline) convert(
	ctx context.Context,
	w Writer,
	path string,
	total *Stats,
) (stats VideoStats, err error) {
	stats.Path = path
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	p.log.Info().Src("pipeline").Video(path).Msg("converting")

	src, err := p.opener.Open(ctx, path)
	if err != nil {
		return stats, err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("close source: %w", closeErr)).ErrorOrNil()
		}
	}()

	p.preflight(path, src, w)

	sampler := pairs.NewSampler(src, p.stride)
	defer func() {
		stats.Frames = sampler.Decoded()
		stats.Skipped = sampler.Skipped()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pair, err := sampler.Next()
		if errors.Is(err, video.ErrEndOfStream) {
			break
		}
		if err != nil {
			return stats, err
		}

		data, err := record.Encode(pair)
		if err != nil {
			return stats, err
		}
		if err := w.Append(data); err != nil {
			return stats, err
		}

		stats.Pairs++
		total.Pairs++
		if total.Pairs%p.logEvery == 0 {
			p.log.Info().Src("pipeline").Video(path).
				Msgf("%v pairs written", total.Pairs)
		}
	}

	p.log.Info().Src("pipeline").Video(path).
		Msgf("%v pairs from %v frames", stats.Pairs, sampler.Decoded())
	if sampler.Skipped() != 0 {
		p.log.Debug().Src("pipeline").Video(path).
			Msgf("skipped %v frames", sampler.Skipped())
	}
	return stats, nil
}

// preflight warns if the dataset, including the records expected
// from this video, does not fit on the output filesystem.
func (p *Pipeline) preflight(path string, src Source, w Writer) {
	frames := src.ReportedFrames()
	if frames == 0 {
		p.log.Debug().Src("pipeline").Video(path).
			Msg("frame count unknown, skipping disk space check")
		return
	}

	expected := pairs.ExpectedPairs(frames, p.stride)
	height, width, channels := src.Shape()
	perPair := uint64(record.FrameSize(record.EncodedSize(height, width, channels)))
	expectedBytes := uint64(expected) * perPair

	// Free space already accounts for the flushed part of the dataset.
	required := uint64(w.Buffered()) + expectedBytes
	total := uint64(w.Bytes()) + expectedBytes

	usage, err := p.diskFree(p.outputDir)
	if err != nil {
		p.log.Warn().Src("pipeline").Video(path).
			Msgf("could not check free disk space: %v", err)
		return
	}

	if shortfall := usage.Shortfall(required); shortfall != 0 {
		p.log.Warn().Src("pipeline").Video(path).
			Msgf("dataset expected to reach about %v but only %v free on %v",
				humanize.Bytes(total), usage.Formatted(), w.Path())
		return
	}
	p.log.Debug().Src("pipeline").Video(path).
		Msgf("about %v pairs, dataset expected to reach %v, %v free",
			expected, humanize.Bytes(total), usage.Formatted())
}
