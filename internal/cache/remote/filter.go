package remote

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// KeyFilter is a bloom filter over keys this process has written. A
// negative answer means the key was never saved through this store, so the
// Redis read can be skipped. Keys written by other processes are not in the
// filter; enabling it trades cross-process L2 hits for fewer round trips.
type KeyFilter struct {
	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	expected uint
	fpRate   float64
}

// NewKeyFilter sizes a filter for expected keys at the given false
// positive rate.
func NewKeyFilter(expected uint, fpRate float64) *KeyFilter {
	return &KeyFilter{
		filter:   bloom.NewWithEstimates(expected, fpRate),
		expected: expected,
		fpRate:   fpRate,
	}
}

// Add records key.
func (f *KeyFilter) Add(key string) {
	f.mu.Lock()
	f.filter.AddString(key)
	f.mu.Unlock()
}

// Test reports whether key may have been added.
func (f *KeyFilter) Test(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(key)
}

// Reset empties the filter.
func (f *KeyFilter) Reset() {
	f.mu.Lock()
	f.filter = bloom.NewWithEstimates(f.expected, f.fpRate)
	f.mu.Unlock()
}
