package endpoints

import (
	"slices"
	"sync"
	"time"
)

type Health struct {
	LastResponseTime  time.Duration
	ConsecutiveErrors int
	LastAttempt       time.Time
	Successes         int
	Failures          int
}

// Tracker owns per-endpoint health. Health is diagnostic only: Ordered
// always returns endpoints in configured priority.
type Tracker struct {
	mu        sync.Mutex
	endpoints []Descriptor
	health    map[string]*Health
	now       func() time.Time
}

func NewTracker(list []Descriptor) *Tracker {
	t := &Tracker{
		endpoints: slices.Clone(list),
		health:    make(map[string]*Health, len(list)),
		now:       time.Now,
	}
	for _, d := range list {
		t.health[d.Name] = &Health{}
	}
	return t
}

func (t *Tracker) entry(name string) *Health {
	h, ok := t.health[name]
	if !ok {
		h = &Health{}
		t.health[name] = h
	}
	return h
}

func (t *Tracker) RecordAttempt(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(name).LastAttempt = t.now()
}

func (t *Tracker) RecordSuccess(name string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	h.LastResponseTime = elapsed
	h.Successes++
	if h.ConsecutiveErrors > 0 {
		h.ConsecutiveErrors--
	}
}

func (t *Tracker) RecordFailure(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	h.Failures++
	h.ConsecutiveErrors++
}

func (t *Tracker) Ordered() []Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.endpoints)
}

func (t *Tracker) Get(name string) Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.health[name]; ok {
		return *h
	}
	return Health{}
}

type Entry struct {
	Name string
	Health
}

// Snapshot copies the health table in configured order.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.endpoints))
	for _, d := range t.endpoints {
		out = append(out, Entry{Name: d.Name, Health: *t.entry(d.Name)})
	}
	return out
}
