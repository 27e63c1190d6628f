package annotate

import (
	"sort"
	"sync"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
)

// Sink receives every batch appended to a Store, after it is visible to
// readers.
type Sink interface {
	Record(results []Result) error
}

// Store is the ordered, process-wide collection of annotation results.
// Append and Reset are mutually exclusive; readers get copies.
type Store struct {
	mu      sync.RWMutex
	results []Result

	subMu       sync.Mutex
	subscribers map[chan Result]struct{}
	sinks       []Sink
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		subscribers: make(map[chan Result]struct{}),
	}
}

// AddSink registers a sink for future appends.
func (s *Store) AddSink(sink Sink) {
	s.subMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.subMu.Unlock()
}

// Append adds results in order and notifies subscribers and sinks.
func (s *Store) Append(results ...Result) {
	if len(results) == 0 {
		return
	}

	s.mu.Lock()
	s.results = append(s.results, results...)
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subscribers {
		for _, r := range results {
			select {
			case ch <- r:
			default:
				// Slow subscriber, drop
			}
		}
	}
	sinks := append([]Sink(nil), s.sinks...)
	s.subMu.Unlock()

	for _, sink := range sinks {
		if err := sink.Record(results); err != nil {
			logger.WithComponent("annotate").Error().Err(err).Msg("Failed to record annotations")
		}
	}
}

// Snapshot returns a copy of all results in arrival order.
func (s *Store) Snapshot() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Len returns the number of stored results
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Reset clears the collection. Sinks keep their history.
func (s *Store) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.results)
	s.results = nil
	return n
}

// LabelCount is the number of stored results carrying Label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Labels returns the labels currently present, most frequent first.
func (s *Store) Labels() []LabelCount {
	s.mu.RLock()
	counts := make(map[string]int)
	for _, r := range s.results {
		counts[r.Label]++
	}
	s.mu.RUnlock()

	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Subscribe returns a channel that receives every result appended from now
// on. Results are dropped for a subscriber whose buffer is full.
func (s *Store) Subscribe(buffer int) chan Result {
	ch := make(chan Result, buffer)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (s *Store) Unsubscribe(ch chan Result) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}
