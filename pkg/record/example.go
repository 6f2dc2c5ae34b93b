// SPDX-License-Identifier: GPL-2.0-or-later

package record

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from tensorflow/core/example/{example,feature}.proto.
const (
	seqContextField      protowire.Number = 1 // SequenceExample.context
	seqFeatureListsField protowire.Number = 2 // SequenceExample.feature_lists

	mapEntryField protowire.Number = 1 // Features.feature, FeatureLists.feature_list
	mapKeyField   protowire.Number = 1
	mapValueField protowire.Number = 2

	featureBytesField protowire.Number = 1 // Feature.bytes_list
	featureFloatField protowire.Number = 2 // Feature.float_list
	featureInt64Field protowire.Number = 3 // Feature.int64_list

	listValueField   protowire.Number = 1 // {Bytes,Float,Int64}List.value
	featureListField protowire.Number = 1 // FeatureList.feature
)

// Feature is one tf.train.Feature. Exactly one of the lists is used.
type Feature struct {
	Bytes [][]byte
	Float []float32
	Int64 []int64
}

// BytesFeature returns a bytes_list feature.
func BytesFeature(v ...[]byte) Feature {
	return Feature{Bytes: v}
}

// Int64Feature returns an int64_list feature.
func Int64Feature(v ...int64) Feature {
	return Feature{Int64: v}
}

// SequenceExample is a tf.train.SequenceExample.
type SequenceExample struct {
	Context      map[string]Feature
	FeatureLists map[string][]Feature
}

// Marshal encodes the example in protobuf wire format.
// Map entries are written in key order so the output is deterministic.
func (e SequenceExample) Marshal() []byte {
	var out []byte

	if len(e.Context) != 0 {
		var features []byte
		for _, key := range sortedKeys(e.Context) {
			features = appendMapEntry(features, key, marshalFeature(e.Context[key]))
		}
		out = protowire.AppendTag(out, seqContextField, protowire.BytesType)
		out = protowire.AppendBytes(out, features)
	}

	if len(e.FeatureLists) != 0 {
		var lists []byte
		for _, key := range sortedKeys(e.FeatureLists) {
			var list []byte
			for _, f := range e.FeatureLists[key] {
				list = protowire.AppendTag(list, featureListField, protowire.BytesType)
				list = protowire.AppendBytes(list, marshalFeature(f))
			}
			lists = appendMapEntry(lists, key, list)
		}
		out = protowire.AppendTag(out, seqFeatureListsField, protowire.BytesType)
		out = protowire.AppendBytes(out, lists)
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendMapEntry(b []byte, key string, value []byte) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, mapKeyField, protowire.BytesType)
	entry = protowire.AppendString(entry, key)
	entry = protowire.AppendTag(entry, mapValueField, protowire.BytesType)
	entry = protowire.AppendBytes(entry, value)

	b = protowire.AppendTag(b, mapEntryField, protowire.BytesType)
	return protowire.AppendBytes(b, entry)
}

func marshalFeature(f Feature) []byte {
	var list []byte
	var field protowire.Number

	switch {
	case f.Int64 != nil:
		field = featureInt64Field
		var packed []byte
		for _, v := range f.Int64 {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, listValueField, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)

	case f.Float != nil:
		field = featureFloatField
		var packed []byte
		for _, v := range f.Float {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, listValueField, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)

	default:
		field = featureBytesField
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValueField, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	}

	out := protowire.AppendTag(nil, field, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

// ErrInvalidExample example could not be parsed.
var ErrInvalidExample = errors.New("invalid example")

// Unmarshal parses a SequenceExample. Unknown fields are skipped.
// Byte slices in the result alias b.
func (e *SequenceExample) Unmarshal(b []byte) error {
	e.Context = map[string]Feature{}
	e.FeatureLists = map[string][]Feature{}

	return walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == seqContextField && typ == protowire.BytesType:
			return walkMap(value, func(key string, value []byte) error {
				f, err := unmarshalFeature(value)
				if err != nil {
					return fmt.Errorf("context %q: %w", key, err)
				}
				e.Context[key] = f
				return nil
			})

		case num == seqFeatureListsField && typ == protowire.BytesType:
			return walkMap(value, func(key string, value []byte) error {
				list, err := unmarshalFeatureList(value)
				if err != nil {
					return fmt.Errorf("feature list %q: %w", key, err)
				}
				e.FeatureLists[key] = list
				return nil
			})
		}
		return nil
	})
}

// walkFields calls fn for every field in b. For length-delimited
// fields value is the payload, for other types it is nil.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		b = b[n:]

		var value []byte
		if typ == protowire.BytesType {
			value, n = protowire.ConsumeBytes(b)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %v: %v", ErrInvalidExample, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func walkMap(b []byte, fn func(string, []byte) error) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, entry []byte) error {
		if num != mapEntryField || typ != protowire.BytesType {
			return nil
		}
		var key string
		var value []byte
		err := walkFields(entry, func(num protowire.Number, typ protowire.Type, v []byte) error {
			switch {
			case num == mapKeyField && typ == protowire.BytesType:
				key = string(v)
			case num == mapValueField && typ == protowire.BytesType:
				value = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		return fn(key, value)
	})
}

func unmarshalFeatureList(b []byte) ([]Feature, error) {
	var list []Feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != featureListField || typ != protowire.BytesType {
			return nil
		}
		f, err := unmarshalFeature(value)
		if err != nil {
			return err
		}
		list = append(list, f)
		return nil
	})
	return list, err
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytesField:
			f.Bytes = [][]byte{}
			return walkFields(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == listValueField && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, v)
				}
				return nil
			})
		case featureInt64Field:
			f.Int64 = []int64{}
			return unmarshalInt64List(list, &f.Int64)
		case featureFloatField:
			f.Float = []float32{}
			return unmarshalFloatList(list, &f.Float)
		}
		return nil
	})
	return f, err
}

// unmarshalInt64List accepts both packed and unpacked encodings.
func unmarshalInt64List(b []byte, out *[]int64) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == listValueField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			*out = append(*out, int64(v))
			b = b[n:]

		case num == listValueField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			b = b[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
				}
				*out = append(*out, int64(v))
				packed = packed[n:]
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// unmarshalFloatList accepts both packed and unpacked encodings.
func unmarshalFloatList(b []byte, out *[]float32) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == listValueField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			*out = append(*out, math.Float32frombits(v))
			b = b[n:]

		case num == listValueField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			b = b[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
				}
				*out = append(*out, math.Float32frombits(v))
				packed = packed[n:]
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
