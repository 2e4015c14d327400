package bench

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"graphload/internal/graph/memory"
	"graphload/internal/loader"
	"graphload/internal/parser/csv"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

var personTable = schema.MustTable(map[string]schema.PropertyType{
	"id":      {Kind: schema.KindInteger},
	"name":    {Kind: schema.KindString},
	"surname": {Kind: schema.KindString},
	"email":   {Kind: schema.KindString, Cardinality: schema.CardinalityList},
	"date":    {Kind: schema.KindDate},
})

// personCSV renders n rows shaped like the production person export.
func personCSV(n int) string {
	var sb strings.Builder
	sb.WriteString("id,name,surname,email,date\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d,Jan,Novák,jan%d@example.cz;novak%d@example.cz,07.10.2011\n", i, i, i)
	}
	return sb.String()
}

// BenchmarkBuild measures decode plus coercion without a store.
//
//	go test -run=^$ -bench ^BenchmarkBuild$ -cpuprofile cpu.out -count=1 ./internal/bench
func BenchmarkBuild(b *testing.B) {
	data := personCSV(b.N)
	plan := transformer.Compile(personTable, transformer.BuildOptions{})
	dec := csv.NewDecoder(strings.NewReader(data), csv.Options{HasHeader: true})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec, err := dec.Next()
		if err != nil {
			b.Fatalf("row %d: %v", i, err)
		}
		if _, err := plan.Build(rec); err != nil {
			b.Fatalf("build row %d: %v", i, err)
		}
	}
}

// BenchmarkLoadVertices runs the whole vertex path against the in-memory
// store, so the numbers isolate batching, resolution and worker overhead.
//
//	go test -run=^$ -bench ^BenchmarkLoadVertices -benchmem -count=1 ./internal/bench
func BenchmarkLoadVertices(b *testing.B) {
	for _, workers := range []int{1, 4, 10} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			data := personCSV(b.N)
			st := memory.New()
			l := loader.New(st, loader.WithProgressEvery(0))
			job := loader.VertexJob{
				Job: loader.Job{
					File:      "person.csv",
					HasHeader: true,
					BatchSize: 2000,
					Workers:   workers,
					Table:     personTable,
				},
				Label: "person",
			}

			b.ResetTimer()
			rep, err := l.LoadVertices(context.Background(), strings.NewReader(data), job)
			b.StopTimer()
			if err != nil {
				b.Fatalf("LoadVertices: %v", err)
			}
			if rep.RecordsCommitted != int64(b.N) {
				b.Fatalf("committed %d of %d", rep.RecordsCommitted, b.N)
			}
		})
	}
}
