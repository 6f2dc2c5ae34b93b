// SPDX-License-Identifier: GPL-2.0-or-later

package pairs

import (
	"errors"
	"testing"

	"framepairs/pkg/video"

	"github.com/stretchr/testify/require"
)

// fakeSource yields frames whose single pixel holds the 1-based decode index.
type fakeSource struct {
	frames []video.Frame
	i      int
	err    error // returned instead of the frame at errAt.
	errAt  int
	calls  int
}

func newFakeSource(n int) *fakeSource {
	frames := make([]video.Frame, n)
	for i := range frames {
		frames[i] = video.Frame{Height: 1, Width: 1, Channels: 1, Pix: []byte{byte(i + 1)}}
	}
	return &fakeSource{frames: frames}
}

func (s *fakeSource) Next() (video.Frame, error) {
	s.calls++
	if s.err != nil && s.i == s.errAt {
		return video.Frame{}, s.err
	}
	if s.i >= len(s.frames) {
		return video.Frame{}, video.ErrEndOfStream
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

// collect returns pairs as [first, second] decode indexes.
func collect(t *testing.T, s *Sampler) [][2]int {
	t.Helper()
	var pairs [][2]int
	for {
		pair, err := s.Next()
		if errors.Is(err, video.ErrEndOfStream) {
			return pairs
		}
		require.NoError(t, err)
		pairs = append(pairs, [2]int{int(pair.First.Pix[0]), int(pair.Second.Pix[0])})
	}
}

func TestSampler(t *testing.T) {
	cases := map[string]struct {
		frames    int
		frameSkip int
		expected  [][2]int
	}{
		"single": {
			frames:   1,
			expected: nil,
		},
		"consecutive": {
			frames:   5,
			expected: [][2]int{{1, 2}, {2, 3}, {3, 4}, {4, 5}},
		},
		"skip1": {
			frames:    6,
			frameSkip: 1,
			expected:  [][2]int{{1, 3}, {3, 5}},
		},
		"skip1Exact": {
			frames:    7,
			frameSkip: 1,
			expected:  [][2]int{{1, 3}, {3, 5}, {5, 7}},
		},
		"skip2": {
			frames:    10,
			frameSkip: 2,
			expected:  [][2]int{{1, 4}, {4, 7}, {7, 10}},
		},
		"skipLargerThanVideo": {
			frames:    3,
			frameSkip: 5,
			expected:  nil,
		},
		"negativeSkip": {
			frames:    3,
			frameSkip: -4,
			expected:  [][2]int{{1, 2}, {2, 3}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stride := Stride(tc.frameSkip)
			s := NewSampler(newFakeSource(tc.frames), stride)

			actual := collect(t, s)
			require.Equal(t, tc.expected, actual)
			require.Equal(t, ExpectedPairs(tc.frames, stride), len(actual))
			require.Equal(t, len(actual), s.Emitted())
			require.Equal(t, tc.frames, s.Decoded())
		})
	}
}

func TestSamplerProperties(t *testing.T) {
	for n := 2; n < 40; n++ {
		for frameSkip := 0; frameSkip < 6; frameSkip++ {
			stride := Stride(frameSkip)
			pairs := collect(t, NewSampler(newFakeSource(n), stride))

			require.Len(t, pairs, (n-1)/stride)
			for k, pair := range pairs {
				// Pair k (1-based) ends at decode index 1+k*stride.
				require.Equal(t, 1+(k+1)*stride, pair[1])
				require.Equal(t, pair[1]-stride, pair[0])
				if k > 0 {
					require.Equal(t, pairs[k-1][1], pair[0], "anchor must be previous second frame")
				}
			}
		}
	}
}

func TestSamplerEmptyVideo(t *testing.T) {
	src := newFakeSource(0)
	s := NewSampler(src, 1)

	_, err := s.Next()
	require.ErrorIs(t, err, ErrEmptyVideo)

	_, err = s.Next()
	require.ErrorIs(t, err, video.ErrEndOfStream)
	require.Equal(t, 0, s.Decoded())
}

func TestSamplerEndOfStreamIsSticky(t *testing.T) {
	src := newFakeSource(2)
	s := NewSampler(src, 1)

	_, err := s.Next()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Next()
		require.ErrorIs(t, err, video.ErrEndOfStream)
	}
	require.Equal(t, 3, src.calls, "source must not be read after end of stream")
}

func TestSamplerSkippedFramesNeverPaired(t *testing.T) {
	src := newFakeSource(9)
	s := NewSampler(src, 4)

	pairs := collect(t, s)
	require.Equal(t, [][2]int{{1, 5}, {5, 9}}, pairs)
	require.Equal(t, 6, s.Skipped())
}

func TestSamplerMalformedStream(t *testing.T) {
	t.Run("shapeChange", func(t *testing.T) {
		src := newFakeSource(3)
		src.frames[2] = video.Frame{Height: 2, Width: 1, Channels: 1, Pix: []byte{3, 3}}
		s := NewSampler(src, 1)

		_, err := s.Next()
		require.NoError(t, err)
		_, err = s.Next()
		require.ErrorIs(t, err, video.ErrMalformedStream)
	})
	t.Run("skippedShapeChangeIgnored", func(t *testing.T) {
		src := newFakeSource(3)
		src.frames[1] = video.Frame{Height: 2, Width: 1, Channels: 1, Pix: []byte{2, 2}}

		pairs := collect(t, NewSampler(src, 2))
		require.Equal(t, [][2]int{{1, 3}}, pairs)
	})
	t.Run("badSeed", func(t *testing.T) {
		src := newFakeSource(2)
		src.frames[0].Pix = nil

		_, err := NewSampler(src, 1).Next()
		require.ErrorIs(t, err, video.ErrMalformedStream)
	})
}

func TestSamplerSourceError(t *testing.T) {
	errMock := errors.New("mock")
	src := newFakeSource(5)
	src.err = errMock
	src.errAt = 2

	s := NewSampler(src, 1)
	_, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.ErrorIs(t, err, errMock)
}

func TestExpectedPairs(t *testing.T) {
	cases := []struct{ n, stride, expected int }{
		{0, 1, 0},
		{1, 1, 0},
		{2, 1, 1},
		{10, 1, 9},
		{10, 3, 3},
		{11, 5, 2},
		{5, 0, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, ExpectedPairs(tc.n, tc.stride))
	}
}
