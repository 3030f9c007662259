// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry provides a bounded, TTL-evicting cache of the last
// response produced per conversation. It replaces ambient global state
// with an explicit structure owned by the orchestrator.
package registry

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an entry survives without being replaced.
	DefaultTTL = 30 * time.Minute

	// DefaultMaxEntries bounds the registry size. When full, the oldest
	// entry is evicted to make room.
	DefaultMaxEntries = 10000

	// janitorInterval is how often expired entries are swept.
	janitorInterval = 1 * time.Minute
)

// Entry is the last-seen outcome for one conversation.
type Entry struct {
	Route      string
	Answer     string
	HealthCode string
	UpdatedAt  time.Time
}

// ResponseRegistry is a bounded TTL map keyed by conversation ID.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResponseRegistry struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int

	// now is injectable for tests.
	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option tunes a ResponseRegistry.
type Option func(*ResponseRegistry)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *ResponseRegistry) { r.ttl = ttl }
}

// WithMaxEntries overrides the size bound.
func WithMaxEntries(n int) Option {
	return func(r *ResponseRegistry) { r.maxEntries = n }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(r *ResponseRegistry) { r.now = now }
}

// New creates a registry and starts its background janitor.
func New(opts ...Option) *ResponseRegistry {
	r := &ResponseRegistry{
		entries:    make(map[string]Entry),
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.janitor()
	return r
}

// Put records the latest outcome for a conversation, evicting the oldest
// entry when the registry is full.
func (r *ResponseRegistry) Put(conversationID string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.UpdatedAt = r.now()

	if _, exists := r.entries[conversationID]; !exists && len(r.entries) >= r.maxEntries {
		r.evictOldestLocked()
	}
	r.entries[conversationID] = entry
}

// Get returns the last outcome for a conversation, if present and fresh.
func (r *ResponseRegistry) Get(conversationID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]
	if !ok {
		return Entry{}, false
	}
	if r.now().Sub(entry.UpdatedAt) > r.ttl {
		delete(r.entries, conversationID)
		return Entry{}, false
	}
	return entry, true
}

// Complete removes a conversation's entry, typically when the
// conversation is explicitly closed.
func (r *ResponseRegistry) Complete(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, conversationID)
}

// Len returns the current entry count.
func (r *ResponseRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the background janitor.
func (r *ResponseRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *ResponseRegistry) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range r.entries {
		if first || entry.UpdatedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.UpdatedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(r.entries, oldestKey)
	}
}

func (r *ResponseRegistry) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *ResponseRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for key, entry := range r.entries {
		if entry.UpdatedAt.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Swept expired registry entries", "removed", removed, "remaining", len(r.entries))
	}
}
