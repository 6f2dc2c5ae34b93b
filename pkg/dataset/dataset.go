// SPDX-License-Identifier: GPL-2.0-or-later

// Package dataset writes the single append-only dataset artifact.
//
// Records are written to a hidden partial file next to the artifact,
// the partial file is renamed into place only after a successful run.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"framepairs/pkg/record"

	"github.com/hashicorp/go-multierror"
)

// FileName is the name of the dataset artifact.
const FileName = "fvideo@1"

const partialFileName = "." + FileName + ".partial"

// ErrIO the artifact could not be created or written.
var ErrIO = errors.New("dataset io")

// Writer appends records to the dataset artifact.
type Writer struct {
	dir  string
	file *os.File
	buf  *bufio.Writer
	tfw  *record.Writer

	records int
	bytes   int64
	done    bool
}

// Create creates dir if it does not exist and opens a new partial file.
// An existing partial file from an earlier failed run is truncated and
// an existing artifact is removed, the artifact only exists after the
// current run succeeded.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %v", ErrIO, err)
	}

	path := filepath.Join(dir, partialFileName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %v: %v", ErrIO, path, err)
	}

	previous := filepath.Join(dir, FileName)
	if err := os.Remove(previous); err != nil && !errors.Is(err, os.ErrNotExist) {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: remove previous dataset %v: %v", ErrIO, previous, err)
	}

	buf := bufio.NewWriterSize(file, 1<<20)
	return &Writer{
		dir:  dir,
		file: file,
		buf:  buf,
		tfw:  record.NewWriter(buf),
	}, nil
}

// Path returns the path of the finalized artifact.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, FileName)
}

func (w *Writer) partialPath() string {
	return filepath.Join(w.dir, partialFileName)
}

// Records returns the number of appended records.
func (w *Writer) Records() int {
	return w.records
}

// Bytes returns the number of bytes appended, including framing.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Buffered returns the number of appended bytes not yet written to disk.
func (w *Writer) Buffered() int {
	return w.buf.Buffered()
}

// ErrClosed writer is already closed or aborted.
var ErrClosed = errors.New("writer closed")

// Append writes one serialized record.
func (w *Writer) Append(data []byte) error {
	if w.done {
		return fmt.Errorf("%w: %w", ErrIO, ErrClosed)
	}
	n, err := w.tfw.Write(data)
	w.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("%w: write record %v: %v", ErrIO, w.records, err)
	}
	w.records++
	return nil
}

// Close flushes and syncs the partial file and renames it to the artifact.
// The partial file is removed if any step fails.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.finalize(); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if err := os.Remove(w.partialPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
		return fmt.Errorf("%w: %v", ErrIO, result)
	}
	return nil
}

func (w *Writer) finalize() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.partialPath(), w.Path()); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort closes and removes the partial file.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	var result *multierror.Error
	if err := w.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(w.partialPath()); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: abort: %v", ErrIO, err)
	}
	return nil
}
