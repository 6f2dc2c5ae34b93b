// SPDX-License-Identifier: GPL-2.0-or-later

// Package record encodes frame pairs as tf.train.SequenceExample
// records and frames them in the TFRecord container format.
package record

import (
	"errors"
	"fmt"

	"framepairs/pkg/video"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feature keys of a dataset record.
const (
	KeyHeight = "height"
	KeyWidth  = "width"
	KeyImages = "images"
)

// Encode serializes a frame pair. Height and width are taken from the
// first frame, the pixel payloads are stored unmodified.
func Encode(pair video.FramePair) ([]byte, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}

	example := SequenceExample{
		Context: map[string]Feature{
			KeyHeight: Int64Feature(int64(pair.First.Height)),
			KeyWidth:  Int64Feature(int64(pair.First.Width)),
		},
		FeatureLists: map[string][]Feature{
			KeyImages: {
				BytesFeature(pair.First.Pix),
				BytesFeature(pair.Second.Pix),
			},
		},
	}
	return example.Marshal(), nil
}

// EncodedSize returns the length of Encode's output for
// a pair of frames with the given dimensions.
func EncodedSize(height, width, channels int) int {
	int64Feature := func(v int) int {
		list := protowire.SizeTag(listValueField) + protowire.SizeBytes(protowire.SizeVarint(uint64(v)))
		return protowire.SizeTag(featureInt64Field) + protowire.SizeBytes(list)
	}
	mapEntry := func(key string, value int) int {
		entry := protowire.SizeTag(mapKeyField) + protowire.SizeBytes(len(key)) +
			protowire.SizeTag(mapValueField) + protowire.SizeBytes(value)
		return protowire.SizeTag(mapEntryField) + protowire.SizeBytes(entry)
	}

	features := mapEntry(KeyHeight, int64Feature(height)) + mapEntry(KeyWidth, int64Feature(width))

	pix := height * width * channels
	image := protowire.SizeTag(listValueField) + protowire.SizeBytes(pix)
	image = protowire.SizeTag(featureBytesField) + protowire.SizeBytes(image)
	images := 2 * (protowire.SizeTag(featureListField) + protowire.SizeBytes(image))
	lists := mapEntry(KeyImages, images)

	return protowire.SizeTag(seqContextField) + protowire.SizeBytes(features) +
		protowire.SizeTag(seqFeatureListsField) + protowire.SizeBytes(lists)
}

// Record is a decoded dataset record.
type Record struct {
	Height int
	Width  int
	Images [2][]byte
}

// Channels returns the number of samples per pixel.
func (r Record) Channels() int {
	if r.Height == 0 || r.Width == 0 {
		return 0
	}
	return len(r.Images[0]) / (r.Height * r.Width)
}

// Frames converts the record back to frames.
func (r Record) Frames() video.FramePair {
	c := r.Channels()
	return video.FramePair{
		First:  video.Frame{Height: r.Height, Width: r.Width, Channels: c, Pix: r.Images[0]},
		Second: video.Frame{Height: r.Height, Width: r.Width, Channels: c, Pix: r.Images[1]},
	}
}

// ErrInvalidRecord record does not follow the dataset schema.
var ErrInvalidRecord = errors.New("invalid record")

// Decode parses a record produced by Encode and checks the schema.
func Decode(b []byte) (Record, error) {
	var e SequenceExample
	if err := e.Unmarshal(b); err != nil {
		return Record{}, err
	}

	height, err := contextInt(e, KeyHeight)
	if err != nil {
		return Record{}, err
	}
	width, err := contextInt(e, KeyWidth)
	if err != nil {
		return Record{}, err
	}

	images := e.FeatureLists[KeyImages]
	if len(images) != 2 {
		return Record{}, fmt.Errorf("%w: expected 2 images, got %v", ErrInvalidRecord, len(images))
	}

	r := Record{Height: int(height), Width: int(width)}
	for i, f := range images {
		if len(f.Bytes) != 1 {
			return Record{}, fmt.Errorf("%w: image %v has %v values",
				ErrInvalidRecord, i, len(f.Bytes))
		}
		r.Images[i] = f.Bytes[0]
	}

	if err := r.Frames().Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return r, nil
}

func contextInt(e SequenceExample, key string) (int64, error) {
	f, exist := e.Context[key]
	if !exist || len(f.Int64) != 1 {
		return 0, fmt.Errorf("%w: missing %v", ErrInvalidRecord, key)
	}
	return f.Int64[0], nil
}
