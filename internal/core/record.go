package core

import (
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI is the encoder used for export blobs and records.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is an ordered set of fields. Key order is kept through JSON encoding
// and decoding, so exports list columns the way the source listed them.
//
// Decoded values are string, float64, bool, nil, []any or nested Record.
type Record struct {
	fields []Field
}

// RecordOf builds a record from fields in order. Later duplicates replace
// earlier values in place.
func RecordOf(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// Set assigns value to key, appending the key if new.
func (r *Record) Set(key string, value any) {
	for i := range r.fields {
		if r.fields[i].Key == key {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// MarshalJSON writes the fields as a JSON object in order.
func (r Record) MarshalJSON() ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, f := range r.fields {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(f.Key)
		stream.WriteVal(f.Value)
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, errors.Wrap(stream.Error, "encode record")
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON reads a JSON object, keeping key order at every level.
func (r *Record) UnmarshalJSON(data []byte) error {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return errors.New("record: expected a JSON object")
	}
	v := readOrdered(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return errors.Wrap(iter.Error, "decode record")
	}
	*r = v.(Record)
	return nil
}

func readOrdered(iter *jsoniter.Iterator) any {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		rec := Record{}
		iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
			rec.Set(key, readOrdered(it))
			return true
		})
		return rec
	case jsoniter.ArrayValue:
		arr := []any{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			arr = append(arr, readOrdered(it))
			return true
		})
		return arr
	default:
		return iter.Read()
	}
}

// DecodeRecords decodes raw JSON objects, e.g. a catalog list response.
func DecodeRecords(raw []json.RawMessage) ([]Record, error) {
	out := make([]Record, 0, len(raw))
	for i, b := range raw {
		var rec Record
		if err := rec.UnmarshalJSON(b); err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		out = append(out, rec)
	}
	return out, nil
}
