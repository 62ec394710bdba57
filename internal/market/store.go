package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// KlineStore caches candles per (symbol, interval).
type KlineStore interface {
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
	Set(ctx context.Context, symbol, interval string, klines []Candle) error
	Put(ctx context.Context, symbol, interval string, klines []Candle, max int) error
}

// Window is a fixed-capacity ring of candles ordered by open time. Appending
// beyond capacity evicts the oldest bar. A bar with the same open time as the
// newest one replaces it; an older bar is rejected.
type Window struct {
	buf   []Candle
	start int
	size  int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]Candle, capacity)}
}

func (w *Window) Cap() int { return len(w.buf) }

func (w *Window) Len() int { return w.size }

func (w *Window) Append(c Candle) error {
	if w.size > 0 {
		last := w.at(w.size - 1)
		switch {
		case c.OpenTime == last.OpenTime:
			w.buf[(w.start+w.size-1)%len(w.buf)] = c
			return nil
		case c.OpenTime < last.OpenTime:
			return fmt.Errorf("%w: %d after %d", ErrNotSorted, c.OpenTime, last.OpenTime)
		}
	}
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = c
		w.size++
		return nil
	}
	w.buf[w.start] = c
	w.start = (w.start + 1) % len(w.buf)
	return nil
}

// Merge appends every candle newer than (or equal to) the newest one held.
func (w *Window) Merge(cs []Candle) int {
	added := 0
	for _, c := range cs {
		if w.size > 0 && c.OpenTime < w.at(w.size-1).OpenTime {
			continue
		}
		if err := w.Append(c); err == nil {
			added++
		}
	}
	return added
}

func (w *Window) Last() (Candle, bool) {
	if w.size == 0 {
		return Candle{}, false
	}
	return w.at(w.size - 1), true
}

// Snapshot copies the window oldest first.
func (w *Window) Snapshot() Candles {
	out := make(Candles, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.at(i)
	}
	return out
}

func (w *Window) Reset() {
	w.start, w.size = 0, 0
}

func (w *Window) at(i int) Candle {
	return w.buf[(w.start+i)%len(w.buf)]
}

// MemoryStore is a KlineStore backed by one Window per key.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*Window
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryStore{capacity: capacity, windows: make(map[string]*Window)}
}

func storeKey(symbol, interval string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "@" + strings.ToLower(strings.TrimSpace(interval))
}

func (s *MemoryStore) Get(ctx context.Context, symbol, interval string) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[storeKey(symbol, interval)]
	if !ok {
		return nil, nil
	}
	return w.Snapshot(), nil
}

// Set replaces the cached series, keeping at most the store capacity.
func (s *MemoryStore) Set(ctx context.Context, symbol, interval string, klines []Candle) error {
	return s.Put(ctx, symbol, interval, klines, s.capacity)
}

// Put replaces the series with a window of capacity max (store default when
// max <= 0).
func (s *MemoryStore) Put(ctx context.Context, symbol, interval string, klines []Candle, max int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if max <= 0 {
		max = s.capacity
	}
	w := NewWindow(max)
	for _, c := range klines {
		if err := w.Append(c); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.windows[storeKey(symbol, interval)] = w
	s.mu.Unlock()
	return nil
}

// Merge folds fresh candles into the existing window and returns a snapshot.
func (s *MemoryStore) Merge(ctx context.Context, symbol, interval string, klines []Candle) (Candles, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := storeKey(symbol, interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = NewWindow(s.capacity)
		s.windows[key] = w
	}
	w.Merge(klines)
	return w.Snapshot(), nil
}
