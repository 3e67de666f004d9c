// Package limiter caps how many passes of one kind run at once in a process.
package limiter

import (
	"strings"
	"sync"
	"time"
)

type Adaptive struct {
	maxInflight map[string]int
	defaultMax  int
	// Defer is how long a caller should wait before retrying a refused slot.
	Defer time.Duration
	mu    sync.Mutex
	sem   map[string]chan struct{}
}

type Options struct {
	// MaxInflight per kind; kinds not listed get DefaultMax.
	MaxInflight map[string]int
	DefaultMax  int
	Defer       time.Duration
}

func New(opts Options) *Adaptive {
	if opts.DefaultMax <= 0 {
		opts.DefaultMax = 2
	}
	if opts.Defer <= 0 {
		opts.Defer = 5 * time.Second
	}
	caps := make(map[string]int, len(opts.MaxInflight))
	for k, v := range opts.MaxInflight {
		caps[strings.ToLower(k)] = v
	}
	return &Adaptive{maxInflight: caps, defaultMax: opts.DefaultMax, Defer: opts.Defer, sem: map[string]chan struct{}{}}
}

func (a *Adaptive) slots(kind string) chan struct{} {
	key := strings.ToLower(kind)
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.sem[key]
	if !ok {
		n := a.defaultMax
		if v, ok := a.maxInflight[key]; ok && v > 0 {
			n = v
		}
		ch = make(chan struct{}, n)
		a.sem[key] = ch
	}
	return ch
}

// Allow tries to reserve a local in-process slot for kind.
// Returns a release function and true if allowed; otherwise a no-op, false.
func (a *Adaptive) Allow(kind string) (func(), bool) {
	ch := a.slots(kind)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

// Inflight returns how many slots of kind are taken.
func (a *Adaptive) Inflight(kind string) int { return len(a.slots(kind)) }
