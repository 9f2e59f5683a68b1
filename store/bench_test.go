package store

import (
	"context"
	"fmt"
	"testing"
)

func benchMap(n int) Map {
	m := make(Map, n)
	for i := range n {
		m[fmt.Sprintf("str:todos::num:%d", i)] = &Entry{Data: i, Timestamp: t0}
	}
	return m
}

func BenchmarkReduce_Update(b *testing.B) {
	m := benchMap(1000)
	a := Update{Key: []string{"str:todos", "num:1"}, Payload: "x", Timestamp: t0}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Reduce(m, a)
	}
}

func BenchmarkReduce_Invalidate(b *testing.B) {
	m := benchMap(1000)
	a := Invalidate{Parts: []string{"num:500"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Reduce(m, a)
	}
}

func BenchmarkStore_DispatchSync(b *testing.B) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Update([]string{"str:bench"}, i)
	}
	if err := s.Sync(ctx); err != nil {
		b.Fatal(err)
	}
}
