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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatchActiveWithinTTL(t *testing.T) {
	var l Latch
	now := time.Now()
	l.Set(now, 5*time.Second)
	require.True(t, l.Active(now))
	require.True(t, l.Active(now.Add(4*time.Second)))
}

func TestLatchExpiresAfterTTL(t *testing.T) {
	var l Latch
	now := time.Now()
	l.Set(now, 5*time.Second)
	require.False(t, l.Active(now.Add(5*time.Second)))
	require.False(t, l.Active(now.Add(time.Minute)))
}

func TestLatchClearDeactivatesImmediately(t *testing.T) {
	var l Latch
	now := time.Now()
	l.Set(now, time.Hour)
	l.Clear()
	require.False(t, l.Active(now))
}

func TestLatchZeroValueInactive(t *testing.T) {
	var l Latch
	require.False(t, l.Active(time.Now()))
}
