// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package gen implements the 32-bit monotonic generation counter used for
// optimistic concurrency on providers and consumers.
package gen

import "math"

// Bump returns the next generation after current, wrapping from
// math.MaxInt32 back to 0 instead of overflowing into negative values.
// The returned bool reports whether a wrap occurred, so callers can feed
// a metric.
func Bump(current int32) (next int32, wrapped bool) {
	if current == math.MaxInt32 {
		return 0, true
	}
	return current + 1, false
}

// Monitor reports generation wraps observed by BumpTracked to a callback;
// it keeps no count of its own.
type Monitor struct {
	onWrap func()
}

// NewMonitor builds a Monitor that invokes onWrap every time BumpTracked
// observes a wrap. onWrap may be nil.
func NewMonitor(onWrap func()) Monitor {
	return Monitor{onWrap: onWrap}
}

// BumpTracked is Bump, but reports wraps to the monitor's callback.
func (m Monitor) BumpTracked(current int32) int32 {
	next, wrapped := Bump(current)
	if wrapped && m.onWrap != nil {
		m.onWrap()
	}
	return next
}
