package session

import (
	"context"
	"sync"
	"time"
)

// Call is the per-call session record, keyed by the caller-supplied
// correlation token. It is created before the dial, enriched with ticket
// data when the reservation is accepted, and enriched again when the relay
// socket connects.
type Call struct {
	CorrelationToken  string
	DestinationNumber string
	CallSID           string
	RelaySessionID    string
	CustomerReference string
	CustomerContext   string
	TicketID          string // routing task SID
	TicketChannelID   string // conversation SID receiving transcript lines
	ReservationSID    string
	CreatedAt         time.Time
}

// Store is the registry consulted once per call by relay setup and
// enriched asynchronously by the reservation webhook.
type Store interface {
	Put(call *Call)
	Get(token string) (*Call, bool)
	Update(token string, fn func(*Call)) bool
	Delete(token string)
}

type entry struct {
	call    *Call
	expires time.Time
}

// Memory is the in-process Store. Entries carry a TTL enforced by a
// janitor goroutine so sessions abandoned without an explicit call-end do
// not accumulate.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

const defaultTTL = 4 * time.Hour

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	interval := m.ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for token, e := range m.entries {
				if now.After(e.expires) {
					delete(m.entries, token)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close stops the janitor. Entries remain readable afterwards.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) Put(call *Call) {
	cp := *call
	m.mu.Lock()
	m.entries[call.CorrelationToken] = &entry{call: &cp, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

// Get returns a copy of the session so callers never share mutable state
// with the registry.
func (m *Memory) Get(token string) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return nil, false
	}
	cp := *e.call
	return &cp, true
}

func (m *Memory) Update(token string, fn func(*Call)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return false
	}
	fn(e.call)
	return true
}

func (m *Memory) Delete(token string) {
	m.mu.Lock()
	delete(m.entries, token)
	m.mu.Unlock()
}

// AwaitTicket waits up to wait for the reservation webhook to fill in the
// ticket channel, polling the entry. The session is returned even when the
// ticket data never arrives (degraded mode); only a missing token reports
// false.
func (m *Memory) AwaitTicket(ctx context.Context, token string, wait time.Duration) (*Call, bool) {
	deadline := time.Now().Add(wait)
	for {
		call, ok := m.Get(token)
		if !ok {
			return nil, false
		}
		if call.TicketChannelID != "" {
			return call, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return call, true
		}
		select {
		case <-ctx.Done():
			return call, true
		case <-time.After(25 * time.Millisecond):
		}
	}
}
