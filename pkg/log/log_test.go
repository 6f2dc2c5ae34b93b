// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger() (*Logger, context.CancelFunc, *sync.WaitGroup) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	logger := NewLogger(wg)
	logger.Start(ctx)
	return logger, cancel, wg
}

func TestLogger(t *testing.T) {
	t.Run("subscribe", func(t *testing.T) {
		logger, cancel, _ := newTestLogger()
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go logger.Info().Src("pipeline").Video("a.mp4").Msgf("pairs: %v", 3)

		actual := <-feed
		actual.Time = 0
		expected := Log{
			Level: LevelInfo,
			Msg:   "pairs: 3",
			Src:   "pipeline",
			Video: "a.mp4",
		}
		require.Equal(t, expected, actual)
	})
	t.Run("levelFilter", func(t *testing.T) {
		logger, cancel, _ := newTestLogger()
		defer cancel()
		logger.SetLevel(LevelWarning)

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go func() {
			logger.Debug().Msg("dropped")
			logger.Info().Msg("dropped")
			logger.Warn().Msg("kept")
		}()

		actual := <-feed
		require.Equal(t, "kept", actual.Msg)
		require.Equal(t, LevelWarning, actual.Level)
	})
	t.Run("unsubBeforePrint", func(t *testing.T) {
		logger, cancel, _ := newTestLogger()
		defer cancel()

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		go logger.Error().Msg("test")
		actual1 := <-feed1
		actual2, ok := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.False(t, ok)
		require.Equal(t, Log{}, actual2)
	})
	t.Run("stopped", func(t *testing.T) {
		logger, cancel, wg := newTestLogger()
		cancel()
		wg.Wait()

		// Must not block after the logger has stopped.
		logger.Error().Msg("test")

		feed, cancel2 := logger.Subscribe()
		defer cancel2()
		_, ok := <-feed
		require.False(t, ok)
	})
	t.Run("mock", func(t *testing.T) {
		NewMockLogger().Error().Msg("test")
	})
}

func TestLogToWriter(t *testing.T) {
	logger, cancel, _ := newTestLogger()
	defer cancel()

	var buf bytes.Buffer
	stop := logger.LogToWriter(&buf)

	logger.Info().Src("app").Msg("a")
	logger.Warn().Src("dataset").Video("v.mp4").Msg("b")
	logger.Debug().Msg("filtered")
	stop()

	expected := "[INFO] App: a\n[WARNING] v.mp4: Dataset: b\n"
	require.Equal(t, expected, buf.String())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected Level
		err      error
	}{
		"error":   {"error", LevelError, nil},
		"warning": {"WARNING", LevelWarning, nil},
		"warn":    {"warn", LevelWarning, nil},
		"info":    {"info", LevelInfo, nil},
		"empty":   {"", LevelInfo, nil},
		"debug":   {"debug", LevelDebug, nil},
		"unknown": {"trace", 0, ErrUnknownLevel},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			actual, err := ParseLevel(tc.input)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, actual)
		})
	}
}
