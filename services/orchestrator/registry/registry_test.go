// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.Put("conv-1", Entry{Route: "RAG_processing", Answer: "answer one", HealthCode: "OK000,OK001"})

	entry, ok := reg.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "RAG_processing", entry.Route)
	assert.Equal(t, "answer one", entry.Answer)
	assert.Equal(t, "OK000,OK001", entry.HealthCode)
	assert.False(t, entry.UpdatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	reg := New()
	defer reg.Close()

	_, ok := reg.Get("never-seen")
	assert.False(t, ok)
}

func TestGetExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	reg := New(WithTTL(time.Minute), WithClock(clock))
	defer reg.Close()

	reg.Put("conv-1", Entry{Answer: "stale"})

	// Advance past the TTL. The entry must be treated as gone and removed.
	now = now.Add(2 * time.Minute)
	_, ok := reg.Get("conv-1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestPutEvictsOldestWhenFull(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	reg := New(WithMaxEntries(3), WithClock(clock))
	defer reg.Close()

	for i := 0; i < 3; i++ {
		reg.Put(fmt.Sprintf("conv-%d", i), Entry{Answer: fmt.Sprintf("answer %d", i)})
		now = now.Add(time.Second)
	}
	require.Equal(t, 3, reg.Len())

	reg.Put("conv-new", Entry{Answer: "newest"})
	assert.Equal(t, 3, reg.Len())

	// conv-0 was oldest and must be gone; the rest survive.
	_, ok := reg.Get("conv-0")
	assert.False(t, ok)
	_, ok = reg.Get("conv-2")
	assert.True(t, ok)
	_, ok = reg.Get("conv-new")
	assert.True(t, ok)
}

func TestPutReplacesWithoutEviction(t *testing.T) {
	reg := New(WithMaxEntries(2))
	defer reg.Close()

	reg.Put("conv-1", Entry{Answer: "first"})
	reg.Put("conv-2", Entry{Answer: "second"})

	// Replacing an existing key must not evict anything.
	reg.Put("conv-1", Entry{Answer: "updated"})
	assert.Equal(t, 2, reg.Len())

	entry, ok := reg.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "updated", entry.Answer)
}

func TestComplete(t *testing.T) {
	reg := New()
	defer reg.Close()

	reg.Put("conv-1", Entry{Answer: "done"})
	reg.Complete("conv-1")

	_, ok := reg.Get("conv-1")
	assert.False(t, ok)
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	reg := New(WithTTL(time.Minute), WithClock(clock))
	defer reg.Close()

	reg.Put("conv-old", Entry{Answer: "old"})
	now = now.Add(5 * time.Minute)
	reg.Put("conv-fresh", Entry{Answer: "fresh"})

	reg.sweep()

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("conv-fresh")
	assert.True(t, ok)
}
