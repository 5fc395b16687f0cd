/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package endpoint identifies peers by host and port.
package endpoint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Endpoint is a peer address. Two endpoints are equal iff Host and Port
// are equal; they are ordered lexicographically by (Host, Port).
type Endpoint struct {
	Host string
	Port int
}

// New parses a "host:port" string into an Endpoint.
func New(hostport string) (Endpoint, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing port", hostport)
	}
	host := hostport[:idx]
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: bad port: %w", hostport, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// String renders the endpoint back as "host:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Less reports whether e sorts before o by (Host, Port).
func (e Endpoint) Less(o Endpoint) bool {
	if e.Host != o.Host {
		return e.Host < o.Host
	}
	return e.Port < o.Port
}

// SortAsc returns a freshly sorted copy of members in ascending order.
func SortAsc(members []Endpoint) []Endpoint {
	out := make([]Endpoint, len(members))
	copy(out, members)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ParseList parses a comma-separated "host1:port1,host2:port2" list.
// An empty string yields an empty, non-nil slice.
func ParseList(s string) ([]Endpoint, error) {
	out := []Endpoint{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ep, err := New(part)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// Set is an insertion-ordered, deduplicated collection of Endpoints. It is
// not safe for concurrent use; callers (node.Node, the detectors) guard it
// with their own mutex so that membership growth and suspicion bookkeeping
// are serialized together.
type Set struct {
	order []Endpoint
	index map[Endpoint]struct{}
}

// NewSet builds a Set, excluding self from the initial members if present.
func NewSet(self Endpoint, members ...Endpoint) *Set {
	s := &Set{index: map[Endpoint]struct{}{}}
	for _, m := range members {
		s.Add(self, m)
	}
	return s
}

// Add inserts ep unless it equals self or is already present. Returns true
// if ep was newly added.
func (s *Set) Add(self, ep Endpoint) bool {
	if ep == self {
		return false
	}
	if _, ok := s.index[ep]; ok {
		return false
	}
	s.index[ep] = struct{}{}
	s.order = append(s.order, ep)
	return true
}

// Contains reports whether ep is a member.
func (s *Set) Contains(ep Endpoint) bool {
	_, ok := s.index[ep]
	return ok
}

// List returns a snapshot of the members in insertion order.
func (s *Set) List() []Endpoint {
	out := make([]Endpoint, len(s.order))
	copy(out, s.order)
	return out
}

// Len reports the number of members.
func (s *Set) Len() int {
	return len(s.order)
}
