package cache

import "testing"

func BenchmarkLRUAddEvict(b *testing.B) {
	c := NewLRU[int, int](500, nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Add(i, i)
	}
}

func BenchmarkLRUGetHit(b *testing.B) {
	c := NewLRU[int, int](500, nil)
	for i := range 500 {
		c.Add(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(i % 500)
	}
}
