// SPDX-License-Identifier: GPL-2.0-or-later

package dataset

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"framepairs/pkg/record"

	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) [][]byte {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records [][]byte
	r := record.NewReader(file)
	for {
		data, err := r.Read()
		if err == io.EOF {
			return records
		}
		require.NoError(t, err)
		records = append(records, data)
	}
}

func TestWriter(t *testing.T) {
	t.Run("close", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		w, err := Create(dir)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, "fvideo@1"), w.Path())

		require.NoError(t, w.Append([]byte("one")))
		require.NoError(t, w.Append([]byte("two")))
		require.Equal(t, 2, w.Records())
		require.Equal(t, int64(record.FrameSize(3)*2), w.Bytes())

		_, err = os.Stat(w.Path())
		require.ErrorIs(t, err, os.ErrNotExist)

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, readRecords(t, w.Path()))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})
	t.Run("empty", func(t *testing.T) {
		dir := t.TempDir()
		w, err := Create(dir)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		info, err := os.Stat(w.Path())
		require.NoError(t, err)
		require.Equal(t, int64(0), info.Size())
	})
	t.Run("abort", func(t *testing.T) {
		dir := t.TempDir()
		w, err := Create(dir)
		require.NoError(t, err)
		require.NoError(t, w.Append([]byte("one")))

		require.NoError(t, w.Abort())
		require.NoError(t, w.Abort())
		require.NoError(t, w.Close())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
	t.Run("createRemovesPrevious", func(t *testing.T) {
		dir := t.TempDir()
		previous := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(previous, []byte("old"), 0o644))

		w, err := Create(dir)
		require.NoError(t, err)
		_, err = os.Stat(previous)
		require.ErrorIs(t, err, os.ErrNotExist)

		require.NoError(t, w.Append([]byte("new")))
		require.NoError(t, w.Abort())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
	t.Run("buffered", func(t *testing.T) {
		w, err := Create(t.TempDir())
		require.NoError(t, err)
		defer w.Abort()

		require.NoError(t, w.Append([]byte("one")))
		require.Equal(t, record.FrameSize(3), w.Buffered())
		require.Equal(t, int64(record.FrameSize(3)), w.Bytes())
	})
	t.Run("closeReplacesPrevious", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("old"), 0o644))

		w, err := Create(dir)
		require.NoError(t, err)
		require.NoError(t, w.Append([]byte("new")))
		require.NoError(t, w.Close())

		require.Equal(t, [][]byte{[]byte("new")}, readRecords(t, w.Path()))
	})
	t.Run("appendAfterClose", func(t *testing.T) {
		w, err := Create(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, w.Close())

		err = w.Append([]byte("x"))
		require.ErrorIs(t, err, ErrIO)
		require.ErrorIs(t, err, ErrClosed)
	})
	t.Run("createErr", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		_, err := Create(file)
		require.ErrorIs(t, err, ErrIO)
	})
}
