// Copyright 2024 Juca Crispim <juca@poraodojuca.net>

// This file is part of tupi-envdump.

// tupi-envdump is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// tupi-envdump is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with tupi-envdump. If not, see <http://www.gnu.org/licenses/>.

package page

import (
	"net/url"
	"sort"
	"strings"
)

// Entry is one "key: value" line of the page.
type Entry struct {
	Key   string
	Value string
}

// Entries keeps the order in which the lines are rendered.
type Entries []Entry

// FromEnviron keeps the order of env. Items without a "=" get an empty value.
func FromEnviron(env []string) Entries {
	entries := make(Entries, 0, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		entries = append(entries, Entry{Key: k, Value: v})
	}
	return entries
}

// FromMap returns the entries of m sorted by key.
func FromMap(m map[string]string) Entries {
	entries := make(Entries, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// FromValues returns the first value of every field, sorted by key.
func FromValues(values url.Values) Entries {
	entries := make(Entries, 0, len(values))
	for k := range values {
		entries = append(entries, Entry{Key: k, Value: values.Get(k)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Merge returns e followed by the entries of other whose keys e lacks.
func (e Entries) Merge(other Entries) Entries {
	seen := make(map[string]bool, len(e))
	merged := make(Entries, 0, len(e)+len(other))
	for _, entry := range e {
		seen[entry.Key] = true
		merged = append(merged, entry)
	}
	for _, entry := range other {
		if seen[entry.Key] {
			continue
		}
		seen[entry.Key] = true
		merged = append(merged, entry)
	}
	return merged
}
