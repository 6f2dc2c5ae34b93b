// SPDX-License-Identifier: GPL-2.0-or-later

package framepairs

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"framepairs/pkg/ffmpeg"
	"framepairs/pkg/log"
	"framepairs/pkg/pipeline"
	"framepairs/pkg/storage"
	"framepairs/pkg/system"

	"github.com/spf13/cobra"
)

var (
	// Access these variables only from a main package:

	Root = newConvertCommand("framepairs")

	Convert = newConvertCommand("convert")

	Inspect = newInspectCommand()
)

func init() {
	Root.AddCommand(Convert)
	Root.AddCommand(Inspect)
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Verify a dataset file and print its records",
		Args:  cobra.ExactArgs(1),
		RunE:  inspect,
	}
	cmd.Flags().String("extract", "", "write the frames of every record as PNG files to this directory")
	cmd.Flags().String("pix_fmt", storage.DefaultPixFmt, "pixel format the dataset was written with")
	return cmd
}

func newConvertCommand(use string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: "Convert videos into a dataset of frame pairs",
		Args:  cobra.NoArgs,
		RunE:  convert,

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringArray("video_path", nil, "input video, may be repeated")
	flags.String("output_path", "", "output directory")
	flags.Int("frame_skip", 0, "frames to skip between the two frames of a pair")
	flags.String("config", "", "path to YAML config file")
	flags.String("pix_fmt", storage.DefaultPixFmt, "raw pixel format")
	flags.String("ffmpeg_bin", storage.DefaultFFmpegBin, "ffmpeg binary")
	flags.String("ffprobe_bin", storage.DefaultFFprobeBin, "ffprobe binary")
	flags.String("log_level", storage.DefaultLogLevel, "error, warning, info or debug")
	return cmd
}

// configFromFlags loads the config file if set and
// overrides its values with the flags that were set.
func configFromFlags(cmd *cobra.Command) (storage.Config, error) {
	flags := cmd.Flags()

	config := storage.NewConfig()
	configPath, err := flags.GetString("config")
	if err != nil {
		return storage.Config{}, err
	}
	if configPath != "" {
		if config, err = storage.LoadConfig(configPath); err != nil {
			return storage.Config{}, err
		}
	}

	stringFlags := map[string]*string{
		"output_path": &config.OutputPath,
		"pix_fmt":     &config.PixFmt,
		"ffmpeg_bin":  &config.FFmpegBin,
		"ffprobe_bin": &config.FFprobeBin,
		"log_level":   &config.LogLevel,
	}
	for name, value := range stringFlags {
		if !flags.Changed(name) {
			continue
		}
		if *value, err = flags.GetString(name); err != nil {
			return storage.Config{}, err
		}
	}
	if flags.Changed("video_path") {
		if config.VideoPaths, err = flags.GetStringArray("video_path"); err != nil {
			return storage.Config{}, err
		}
	}
	if flags.Changed("frame_skip") {
		if config.FrameSkip, err = flags.GetInt("frame_skip"); err != nil {
			return storage.Config{}, err
		}
	}

	if err := config.Validate(); err != nil {
		return storage.Config{}, err
	}
	return config, nil
}

func convert(cmd *cobra.Command, _ []string) error {
	config, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The logger outlives ctx so the final lines are printed after an interrupt.
	wg := &sync.WaitGroup{}
	logCtx, stopLogger := context.WithCancel(context.Background())
	logger := log.NewLogger(wg)
	logger.SetLevel(level)
	logger.Start(logCtx)
	stopPrinting := logger.LogToWriter(cmd.OutOrStdout())
	defer func() {
		stopPrinting()
		stopLogger()
		wg.Wait()
	}()

	ff := ffmpeg.New(config.FFmpegBin, config.FFprobeBin, logger)
	opener := pipeline.OpenerFunc(func(ctx context.Context, path string) (pipeline.Source, error) {
		src, err := ff.Open(ctx, path, config.PixFmt)
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	pipelineConfig := pipeline.Config{
		OutputDir: config.OutputPath,
		FrameSkip: config.FrameSkip,
	}
	p := pipeline.New(pipelineConfig, opener, logger)

	logger.Info().Src("app").Msgf("converting %v videos, frame skip %v, pixel format %v",
		len(config.VideoPaths), config.FrameSkip, config.PixFmt)

	// Primes the cpu counters so the status after the run covers the run.
	sys := system.New()
	sys.Status(ctx) //nolint:errcheck

	_, err = p.Run(ctx, config.VideoPaths)

	if status, err := sys.Status(context.Background()); err != nil {
		logger.Debug().Src("app").Msgf("could not read system status: %v", err)
	} else {
		logger.Debug().Src("app").Msgf("system status: %v", status)
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Src("app").Msg("interrupted, dataset discarded")
		}
		return err
	}
	return nil
}

// Main executes the root command and returns the exit status.
func Main() int {
	return execute(context.Background(), Root)
}

// execute runs cmd and prints the error, if any, to its error output.
// Every error is fatal, the exit status is 1.
func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return 1
	}
	return 0
}
