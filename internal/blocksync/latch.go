// Copyright 2024 The blocksync Authors
// This file is part of the blocksync library.
//
// The blocksync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocksync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocksync library. If not, see <http://www.gnu.org/licenses/>.

package blocksync

import "time"

// Latch suppresses redundant NeedNext emissions for a Builder while
// fetches it previously issued are still outstanding. It is a timestamp,
// not a timer object, per §9's design note: checked on every NeedNext
// call rather than scheduled.
type Latch struct {
	since time.Time
	ttl   time.Duration
}

// Set latches as of now for ttl.
func (l *Latch) Set(now time.Time, ttl time.Duration) {
	l.since = now
	l.ttl = ttl
}

// Clear unlatches immediately, used when a response arrives for this Builder.
func (l *Latch) Clear() {
	l.since = time.Time{}
	l.ttl = 0
}

// Active reports whether the latch still suppresses emissions at now.
// Latch expiry is strictly time-based: an in-flight fetch whose response
// never arrives does not keep the Builder latched past ttl, which is what
// lets the synchronizer recover from a stalled peer (§9, resolved open
// question).
func (l *Latch) Active(now time.Time) bool {
	if l.since.IsZero() {
		return false
	}
	return now.Before(l.since.Add(l.ttl))
}
