/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"math"
	"math/rand"
	"sync"

	"github.com/montanaflynn/stats"
)

// Sampler keeps a fixed-size uniform reservoir of latency samples (seconds).
//
// Count, mean, min and max are exact over every sample ever added. Median and
// percentiles are estimated from the reservoir. A Sampler has one writer; the
// mutex only lets the periodic reporter read it while the run is live.
type Sampler struct {
	mu        sync.Mutex
	rng       *rand.Rand
	reservoir []float64
	capacity  int
	count     int64
	sum       float64
	min       float64
	max       float64
}

// ReservoirCapacity is rows/sampleSize, never below one.
func ReservoirCapacity(rows int64, sampleSize int) int {
	if sampleSize <= 0 {
		return 1
	}
	c := rows / int64(sampleSize)
	if c < 1 {
		return 1
	}
	if c > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(c)
}

// NewSampler returns an empty sampler holding at most capacity samples.
func NewSampler(capacity int, rng *rand.Rand) *Sampler {
	if capacity < 1 {
		capacity = 1
	}
	return &Sampler{
		rng:      rng,
		capacity: capacity,
		min:      math.Inf(1),
		max:      math.Inf(-1),
	}
}

// Add records one observation.
func (s *Sampler) Add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if len(s.reservoir) < s.capacity {
		s.reservoir = append(s.reservoir, v)
		return
	}
	if j := s.rng.Int63n(s.count); j < int64(s.capacity) {
		s.reservoir[j] = v
	}
}

func (s *Sampler) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Sampler) Mean() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *Sampler) Min() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.min
}

func (s *Sampler) Max() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.max
}

// Median of the reservoir.
func (s *Sampler) Median() float64 {
	data := stats.Float64Data(s.Samples())
	if len(data) == 0 {
		return 0
	}
	m, err := data.Median()
	if err != nil {
		return 0
	}
	return m
}

// Percentile returns the nearest-rank p-quantile of the reservoir, p in [0, 1].
func (s *Sampler) Percentile(p float64) float64 {
	data := stats.Float64Data(s.Samples())
	if len(data) == 0 {
		return 0
	}
	if p <= 0 {
		v, _ := data.Min()
		return v
	}
	if p >= 1 {
		v, _ := data.Max()
		return v
	}
	// Round away binary noise so that 0.05 ranks exactly like 5%.
	v, err := data.PercentileNearestRank(math.Round(p*1e11) / 1e9)
	if err != nil {
		return 0
	}
	return v
}

// Samples returns a copy of the reservoir.
func (s *Sampler) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.reservoir))
	copy(out, s.reservoir)
	return out
}
