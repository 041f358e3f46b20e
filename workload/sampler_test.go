/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservoirCapacity(t *testing.T) {
	require.Equal(t, 100, ReservoirCapacity(10000, 100))
	require.Equal(t, 1, ReservoirCapacity(50, 100))
	require.Equal(t, 1, ReservoirCapacity(10, 0))
}

func TestSamplerExactBelowCapacity(t *testing.T) {
	s := NewSampler(16, rand.New(rand.NewSource(1)))
	require.Zero(t, s.Mean())
	require.Zero(t, s.Median())
	require.Zero(t, s.Percentile(0.5))

	for i := 1; i <= 10; i++ {
		s.Add(float64(i))
	}
	require.Equal(t, int64(10), s.Count())
	require.InDelta(t, 5.5, s.Mean(), 1e-12)
	require.Equal(t, 1.0, s.Min())
	require.Equal(t, 10.0, s.Max())
	require.InDelta(t, 5.5, s.Median(), 1e-12)
	require.Len(t, s.Samples(), 10)
}

func TestSamplerPercentile(t *testing.T) {
	s := NewSampler(100, rand.New(rand.NewSource(1)))
	for i := 100; i >= 1; i-- {
		s.Add(float64(i))
	}
	require.Equal(t, 95.0, s.Percentile(0.95))
	require.Equal(t, 5.0, s.Percentile(0.05))
	require.Equal(t, 1.0, s.Percentile(0))
	require.Equal(t, 100.0, s.Percentile(1))
	require.InDelta(t, 50.5, s.Median(), 1e-12)
}

func TestSamplerExactAboveCapacity(t *testing.T) {
	s := NewSampler(10, rand.New(rand.NewSource(7)))
	for i := 1; i <= 1000; i++ {
		s.Add(float64(i))
	}
	require.Equal(t, int64(1000), s.Count())
	require.InDelta(t, 500.5, s.Mean(), 1e-9)
	require.Equal(t, 1.0, s.Min())
	require.Equal(t, 1000.0, s.Max())
	require.Len(t, s.Samples(), 10)
}

// Every element of the stream must be kept with probability capacity/n.
func TestSamplerUniformRetention(t *testing.T) {
	const (
		capacity = 10
		n        = 100
		trials   = 20000
	)
	rng := rand.New(rand.NewSource(42))
	kept := make([]float64, n)
	for trial := 0; trial < trials; trial++ {
		s := NewSampler(capacity, rand.New(rand.NewSource(rng.Int63())))
		for i := 0; i < n; i++ {
			s.Add(float64(i))
		}
		for _, v := range s.Samples() {
			kept[int(v)]++
		}
	}
	expected := float64(trials) * capacity / n
	chi2 := 0.0
	for _, o := range kept {
		d := o - expected
		chi2 += d * d / expected
	}
	// 99 degrees of freedom; the 0.999 quantile is about 148.
	require.Less(t, chi2, 148.0)
}
