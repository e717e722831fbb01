// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"bytes"
)

// SummaryAllKey is the aggregate counter across all post types.
const SummaryAllKey = "all"

// Summary counts the posts exported for one blog, per post type and in total.
// Use a new Summary for every blog.
type Summary struct {
	counts map[string]int
	order  []string
}

func NewSummary() *Summary {
	return &Summary{counts: make(map[string]int)}
}

// Record counts one exported post of the given type.
func (s *Summary) Record(postType string) {
	s.incr(SummaryAllKey)
	s.incr(postType)
}

func (s *Summary) incr(key string) {
	if _, ok := s.counts[key]; !ok {
		s.order = append(s.order, key)
	}
	s.counts[key]++
}

// Count returns the counter for a post type, or the total for SummaryAllKey.
func (s *Summary) Count(key string) int {
	return s.counts[key]
}

// Keys returns the counter names in first-seen order.
func (s *Summary) Keys() []string {
	return append([]string(nil), s.order...)
}

// MarshalJSON writes {"count": {...}} with counters in first-seen order.
func (s *Summary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"count":{`)
	for i, key := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, key, s.counts[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}
