package images

import (
	"math/rand"
	"testing"
)

func BenchmarkCalculateOverlap_NonOverlapping(b *testing.B) {
	r1 := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	r2 := Box{X1: 200, Y1: 200, X2: 300, Y2: 300}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = CalculateOverlap(r1, r2, OverlapUnion)
	}
}

func BenchmarkCalculateOverlap_Modes(b *testing.B) {
	r1 := Box{X1: 0.3, Y1: 0.3, X2: 0.7, Y2: 0.8}
	r2 := Box{X1: 0.31, Y1: 0.29, X2: 0.71, Y2: 0.8}

	for _, mode := range []OverlapMode{OverlapUnion, OverlapMin} {
		b.Run(string(mode), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = CalculateOverlap(r1, r2, mode)
			}
		})
	}
}

// BenchmarkCalculateOverlap_Random mixes overlapping and disjoint pairs the way
// a crowded frame does.
func BenchmarkCalculateOverlap_Random(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	boxes := make([]Box, 1024)
	for i := range boxes {
		x, y := r.Float32()*0.8, r.Float32()*0.8
		boxes[i] = Box{X1: x, Y1: y, X2: x + 0.05 + r.Float32()*0.15, Y2: y + 0.05 + r.Float32()*0.15}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = CalculateOverlap(boxes[i%len(boxes)], boxes[(i*7+3)%len(boxes)], OverlapUnion)
	}
}
