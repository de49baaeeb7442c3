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

import "regexp"

// tableKeyPattern is the field-table key grammar from spec.md §3.
var tableKeyPattern = regexp.MustCompile(`^[A-Za-z$#][A-Za-z0-9$#_.]{0,127}$`)

// namePattern is the exchange/queue name grammar from spec.md §8 property 4.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.:]*$`)

// AssertNotNull rejects an empty string for a required argument, per
// spec.md §4.1's `notnull` assertion helper. It takes strings only.
func AssertNotNull(path, s string) error {
	if s == "" {
		return newError(path, "must not be empty")
	}
	return nil
}

// AssertLength rejects strings over 127 bytes, the `length` assertion
// helper (distinct from the 255-byte shortstr wire limit: AMQP method
// arguments that are semantically names are additionally capped at 127).
func AssertLength(path, s string) error {
	if len(s) > 127 {
		return newError(path, "exceeds 127 bytes: %q", s)
	}
	return nil
}

// AssertName validates an exchange/queue name against spec.md §3/§8's
// `regexp` assertion helper.
func AssertName(path, s string) error {
	if err := AssertLength(path, s); err != nil {
		return err
	}
	if !namePattern.MatchString(s) {
		return newError(path, "invalid characters in name: %q", s)
	}
	return nil
}

// AssertTableKey validates a field-table key against spec.md §3's grammar.
func AssertTableKey(path, key string) error {
	if !tableKeyPattern.MatchString(key) {
		return newError(path, "invalid table key: %q", key)
	}
	return nil
}

// AssertLE is spec.md §9's numeric less-equal assertion helper. The
// protocol XML lists it for a handful of fields (e.g. consumer priority
// bounds) but, per spec.md's Open Question (a), no exercised method in
// this core currently needs it enforced; kept as a documented no-op so a
// future field can opt in without inventing new plumbing.
func AssertLE(_ string, _, _ int64) error { return nil }
