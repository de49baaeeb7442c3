// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/binary"

	"github.com/mitchellh/mapstructure"
)

// Field-table value type tags, spec.md §3.
const (
	tagBool      = 't'
	tagInt8      = 'b'
	tagUint8     = 'B'
	tagInt16     = 's'
	tagUint16    = 'u'
	tagInt32     = 'I'
	tagUint32    = 'i'
	tagInt64L    = 'L'
	tagInt64l    = 'l'
	tagFloat32   = 'f'
	tagFloat64   = 'd'
	tagDecimal   = 'D'
	tagLongStr   = 'S'
	tagTimestamp = 'T'
	tagVoid      = 'V'
	tagBinary    = 'x'
	tagTable     = 'F'
	tagArray     = 'A'
)

// Timestamp distinguishes a table entry carrying tag 'T' from a plain
// int64 ('L'/'l'), so Encode(Decode(x)) == x.
type Timestamp int64

// Void represents tag 'V', the empty value.
type Void struct{}

// TableEntry is one key/value pair of a field table, kept in an ordered
// slice (not a map) because the wire format is order-sensitive for
// round-tripping and Go maps are not.
type TableEntry struct {
	Key   string
	Value any
}

// Table is an AMQP field table: spec.md §3's "4 octets length | length
// bytes of (shortstr key | typed value)*".
type Table []TableEntry

// Get returns the first value for key, if present.
func (t Table) Get(key string) (any, bool) {
	for _, e := range t {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Decode unpacks the table into a struct via mapstructure, the same
// generic-map-to-struct library the teacher lists in go.mod — useful for
// callers that want typed access to a broker's server-properties or
// capabilities table instead of walking TableEntry by hand.
func (t Table) Decode(out any) error {
	m := make(map[string]any, len(t))
	for _, e := range t {
		m[e.Key] = e.Value
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "amqp",
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// ReadTable decodes a field table starting at the reader's current offset.
func (r *Reader) ReadTable(path string) (Table, error) {
	n, err := r.ReadUint32(path)
	if err != nil {
		return nil, err
	}
	if err := r.need(path, int(n)); err != nil {
		return nil, err
	}
	end := r.off + int(n)

	var t Table
	for r.off < end {
		key, err := r.ReadShortString(path + ".key")
		if err != nil {
			return nil, err
		}
		v, err := r.readTableValue(path + "." + key)
		if err != nil {
			return nil, err
		}
		t = append(t, TableEntry{Key: key, Value: v})
	}
	if r.off != end {
		return nil, newError(path, "table length mismatch: ended at %d, declared end %d", r.off, end)
	}
	return t, nil
}

func (r *Reader) readTableValue(path string) (any, error) {
	tag, err := r.ReadUint8(path)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagBool:
		return r.ReadBool(path)
	case tagInt8:
		return r.ReadInt8(path)
	case tagUint8:
		return r.ReadUint8(path)
	case tagInt16:
		return r.ReadInt16(path)
	case tagUint16:
		return r.ReadUint16(path)
	case tagInt32:
		return r.ReadInt32(path)
	case tagUint32:
		return r.ReadUint32(path)
	case tagInt64L, tagInt64l:
		return r.ReadInt64(path)
	case tagFloat32:
		return r.ReadFloat32(path)
	case tagFloat64:
		return r.ReadFloat64(path)
	case tagDecimal:
		return r.ReadDecimal(path)
	case tagLongStr:
		return r.ReadLongString(path)
	case tagTimestamp:
		sec, err := r.ReadTimestamp(path)
		return Timestamp(sec), err
	case tagVoid:
		return Void{}, nil
	case tagBinary:
		b, err := r.ReadBinary(path)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case tagTable:
		return r.ReadTable(path)
	case tagArray:
		return r.readArray(path)
	default:
		return nil, newError(path, "unknown table value tag %q", rune(tag))
	}
}

func (r *Reader) readArray(path string) ([]any, error) {
	n, err := r.ReadUint32(path)
	if err != nil {
		return nil, err
	}
	if err := r.need(path, int(n)); err != nil {
		return nil, err
	}
	end := r.off + int(n)

	var arr []any
	for r.off < end {
		v, err := r.readTableValue(path + "[]")
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if r.off != end {
		return nil, newError(path, "array length mismatch")
	}
	return arr, nil
}

// WriteTable encodes a field table, patching the length prefix after all
// entries are written (spec.md §4.1).
func (w *Writer) WriteTable(path string, t Table) error {
	lenOffset := w.Offset()
	w.WriteUint32(0) // placeholder, patched below
	start := w.Offset()

	for _, e := range t {
		if err := AssertTableKey(path, e.Key); err != nil {
			return err
		}
		w.WriteShortString(e.Key)
		if err := w.writeTableValue(path+"."+e.Key, e.Value); err != nil {
			return err
		}
	}

	length := uint32(w.Offset() - start)
	b := w.Bytes()
	binary.BigEndian.PutUint32(b[lenOffset:lenOffset+4], length)
	return nil
}

func (w *Writer) writeTableValue(path string, v any) error {
	switch val := v.(type) {
	case bool:
		w.WriteUint8(tagBool)
		w.WriteBool(val)
	case int8:
		w.WriteUint8(tagInt8)
		w.WriteInt8(val)
	case uint8:
		w.WriteUint8(tagUint8)
		w.WriteUint8(val)
	case int16:
		w.WriteUint8(tagInt16)
		w.WriteInt16(val)
	case uint16:
		w.WriteUint8(tagUint16)
		w.WriteUint16(val)
	case int32:
		w.WriteUint8(tagInt32)
		w.WriteInt32(val)
	case uint32:
		w.WriteUint8(tagUint32)
		w.WriteUint32(val)
	case int64:
		w.WriteUint8(tagInt64l)
		w.WriteInt64(val)
	case int:
		w.WriteUint8(tagInt64l)
		w.WriteInt64(int64(val))
	case float32:
		w.WriteUint8(tagFloat32)
		w.WriteFloat32(val)
	case float64:
		w.WriteUint8(tagFloat64)
		w.WriteFloat64(val)
	case Decimal:
		w.WriteUint8(tagDecimal)
		w.WriteDecimal(val)
	case string:
		w.WriteUint8(tagLongStr)
		w.WriteLongString(val)
	case Timestamp:
		w.WriteUint8(tagTimestamp)
		w.WriteTimestamp(int64(val))
	case Void, nil:
		w.WriteUint8(tagVoid)
	case []byte:
		w.WriteUint8(tagBinary)
		w.WriteBinary(val)
	case Table:
		w.WriteUint8(tagTable)
		return w.WriteTable(path, val)
	case []any:
		w.WriteUint8(tagArray)
		return w.writeArray(path, val)
	default:
		return newError(path, "unsupported table value type %T", v)
	}
	return nil
}

func (w *Writer) writeArray(path string, arr []any) error {
	lenOffset := w.Offset()
	w.WriteUint32(0)
	start := w.Offset()

	for i, v := range arr {
		if err := w.writeTableValue(path+"[]", v); err != nil {
			return newError(path, "array element %d: %v", i, err)
		}
	}

	length := uint32(w.Offset() - start)
	b := w.Bytes()
	binary.BigEndian.PutUint32(b[lenOffset:lenOffset+4], length)
	return nil
}
