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

import "github.com/pkg/errors"

func newError(path, format string, args ...any) error {
	if path != "" {
		format = path + ": " + format
	}
	return errors.Errorf("wire: "+format, args...)
}

// ErrFrameError is the sentinel for a frame that disagrees with itself.
// Nothing in this package returns it: Reader and the field-table decoder
// report a string overrun or a table length mismatch with a path-annotated
// error from newError, and the amqp package reports an unknown method id
// as command_invalid.
var ErrFrameError = errors.New("wire: frame_error")

// ErrBadFrameEnd is returned when a frame's trailing octet isn't 0xCE.
var ErrBadFrameEnd = errors.New("wire: bad frame end octet")
