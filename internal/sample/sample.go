// Package sample holds the measurement record shared by every speedwatch
// component.
package sample

import (
	"sort"
	"time"
)

// Sample is one speed-test observation.
//
// Download and Upload are megabits per second, Ping is milliseconds.
// Timestamp is always UTC.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Download  float64   `json:"download"`
	Upload    float64   `json:"upload"`
	Ping      float64   `json:"ping"`
}

// Zero returns the sample recorded for a failed cycle observed at ts.
func Zero(ts time.Time) Sample {
	return Sample{Timestamp: ts.UTC()}
}

// IsZero reports whether s carries no measurement (a failed cycle).
func (s Sample) IsZero() bool {
	return s.Download == 0 && s.Upload == 0 && s.Ping == 0
}

// SortAscending orders samples oldest first. The sort is stable so samples
// sharing a timestamp keep their relative order.
func SortAscending(in []Sample) {
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Timestamp.Before(in[j].Timestamp)
	})
}

// Clone returns a copy of in that shares no backing array.
func Clone(in []Sample) []Sample {
	if in == nil {
		return nil
	}
	out := make([]Sample, len(in))
	copy(out, in)
	return out
}
