// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// OutstandingRequests tracks the IDs of authentication and logout requests
// the SP has issued and not yet seen answered. Consume removes the ID so a
// replayed response cannot correlate twice.
type OutstandingRequests interface {
	Add(id string)
	Consume(id string) bool
	IDs() []string
}

// DefaultOutstandingTTL bounds how long an unanswered request ID is kept.
const DefaultOutstandingTTL = 5 * time.Minute

// MemoryOutstanding is an in-process OutstandingRequests with a per-entry
// TTL. It is safe for concurrent use.
type MemoryOutstanding struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   clockwork.Clock
}

func NewMemoryOutstanding(opt ...Option) *MemoryOutstanding {
	opts := getMemoryOutstandingOpts(opt...)
	return &MemoryOutstanding{
		entries: make(map[string]time.Time),
		ttl:     opts.withTTL,
		clock:   opts.withClock,
	}
}

func (m *MemoryOutstanding) Add(id string) {
	if id == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.entries[id] = m.clock.Now().Add(m.ttl)
}

func (m *MemoryOutstanding) Consume(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	_, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	return ok
}

func (m *MemoryOutstanding) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// prune drops expired entries. Callers must hold the lock.
func (m *MemoryOutstanding) prune() {
	now := m.clock.Now()
	for id, deadline := range m.entries {
		if now.After(deadline) {
			delete(m.entries, id)
		}
	}
}

type memoryOutstandingOptions struct {
	withTTL   time.Duration
	withClock clockwork.Clock
}

func memoryOutstandingDefaults() memoryOutstandingOptions {
	return memoryOutstandingOptions{
		withTTL:   DefaultOutstandingTTL,
		withClock: clockwork.NewRealClock(),
	}
}

func getMemoryOutstandingOpts(opt ...Option) memoryOutstandingOptions {
	opts := memoryOutstandingDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOutstandingTTL sets how long an unanswered request ID is retained.
func WithOutstandingTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if opts, ok := o.(*memoryOutstandingOptions); ok && ttl > 0 {
			opts.withTTL = ttl
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if opts, ok := o.(*memoryOutstandingOptions); ok && clock != nil {
			opts.withClock = clock
		}
	}
}
