// SPDX-License-Identifier: GPL-2.0-or-later

package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// TFRecord layout:
//
// record {
//     length    uint64 little endian
//     lengthCRC uint32 masked crc32c of length
//     data      [length]byte
//     dataCRC   uint32 masked crc32c of data
// }

const (
	headerSize = 12
	footerSize = 4

	crcMaskDelta = 0xa282ead8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// Writer writes TFRecord frames.
type Writer struct {
	w io.Writer

	header [headerSize]byte
	footer [footerSize]byte
}

// NewWriter returns a writer that frames records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes one record and returns the number of bytes written.
func (w *Writer) Write(data []byte) (int, error) {
	binary.LittleEndian.PutUint64(w.header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(w.header[8:], maskedCRC(w.header[:8]))
	binary.LittleEndian.PutUint32(w.footer[:], maskedCRC(data))

	written := 0
	for _, b := range [][]byte{w.header[:], data, w.footer[:]} {
		n, err := w.w.Write(b)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// FrameSize returns the number of bytes a record of size n occupies.
func FrameSize(n int) int {
	return headerSize + n + footerSize
}

// ErrCorrupt checksum mismatch or truncated record.
var ErrCorrupt = errors.New("corrupt record")

// Reader reads TFRecord frames.
type Reader struct {
	r     io.Reader
	count int
}

// NewReader returns a reader for TFRecord frames in r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read returns the next record. It returns io.EOF
// when r ends cleanly between records.
func (r *Reader) Read() ([]byte, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if errors.Is(err, io.EOF) && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: record %v: header: %v", ErrCorrupt, r.count, err)
	}

	if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, fmt.Errorf("%w: record %v: length checksum", ErrCorrupt, r.count)
	}
	length := binary.LittleEndian.Uint64(header[:8])

	data := make([]byte, length+footerSize)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: record %v: data: %v", ErrCorrupt, r.count, err)
	}
	footer := data[length:]
	data = data[:length]

	if maskedCRC(data) != binary.LittleEndian.Uint32(footer) {
		return nil, fmt.Errorf("%w: record %v: data checksum", ErrCorrupt, r.count)
	}

	r.count++
	return data, nil
}
