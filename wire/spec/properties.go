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

package spec

import "github.com/streamqp/amqp/wire"

// propertyFields is basic-properties' (class 60) 14-field schema in
// declaration order. spec.md §3 names the MSB-first presence-bitmap
// scheme ("13 fields, bit 1<<(15-i)") but not the field list; AMQP 0-9-1
// defines 14 basic-properties fields occupying bits 15..2 of the 16-bit
// flag word, with the lowest two bits reserved/unused (a documented
// Open Question resolution — see DESIGN.md).
var propertyFields = []Field{
	{"content-type", ShortStr},
	{"content-encoding", ShortStr},
	{"headers", FieldTable},
	{"delivery-mode", Octet},
	{"priority", Octet},
	{"correlation-id", ShortStr},
	{"reply-to", ShortStr},
	{"expiration", ShortStr},
	{"message-id", ShortStr},
	{"timestamp", Timestamp},
	{"type", ShortStr},
	{"user-id", ShortStr},
	{"app-id", ShortStr},
	{"cluster-id", ShortStr},
}

// Properties is basic-properties' decoded/to-be-encoded argument bag.
type Properties = Args

// EncodeProperties writes the 16-bit presence bitmap followed by every
// present field, in declaration order, per spec.md §3.
func EncodeProperties(w *wire.Writer, props Properties) error {
	var flags uint16
	for i, f := range propertyFields {
		if _, ok := props[f.Name]; ok {
			flags |= 1 << uint(15-i)
		}
	}
	w.WriteUint16(flags)

	for i, f := range propertyFields {
		if flags&(1<<uint(15-i)) == 0 {
			continue
		}
		if err := encodeField(w, f, props); err != nil {
			return err
		}
	}
	return nil
}

// DecodeProperties reads the presence bitmap and every present field.
func DecodeProperties(r *wire.Reader) (Properties, error) {
	flags, err := r.ReadUint16("property-flags")
	if err != nil {
		return nil, err
	}

	props := make(Properties)
	for i, f := range propertyFields {
		if flags&(1<<uint(15-i)) == 0 {
			continue
		}
		if err := decodeField(r, f, props); err != nil {
			return nil, err
		}
	}
	return props, nil
}
