package clickhouse

import (
	"context"
	"runtime"
	"testing"

	"hermannm.dev/pivot/config"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

func BenchmarkBuildPivotQuery(b *testing.B) {
	query := testQuery()
	for i := 0; i < b.N; i++ {
		if _, err := buildPivotQuery(query); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPivotQuery(b *testing.B) {
	database, query := connectBenchmarkDB(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.RunPivotQuery(context.Background(), query); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentPivotQueries(b *testing.B) {
	const concurrentQueries = 64

	database, query := connectBenchmarkDB(b)

	// SetParallelism multiplies its argument by GOMAXPROCS, and we want exactly concurrentQueries
	b.SetParallelism(max(1, concurrentQueries/runtime.GOMAXPROCS(0)))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := database.RunPivotQuery(context.Background(), query); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// connectBenchmarkDB connects to the ClickHouse server configured in the environment, and resolves
// a query over the first dimension and measure of the configured schema. Skips the benchmark if
// no server is configured.
func connectBenchmarkDB(b *testing.B) (ClickHouseDB, db.ResolvedQuery) {
	b.Helper()

	conf, err := config.ReadServerFromEnv()
	if err != nil {
		b.Skip("ClickHouse not configured in env: ", err)
	}

	schema, err := db.LoadSchema(conf.API.SchemaFile)
	if err != nil {
		b.Fatal(err)
	}
	if len(schema.Dimensions) == 0 || len(schema.Measures) == 0 {
		b.Fatal("benchmark needs a schema with at least one dimension and one measure")
	}

	year := 2023
	query, err := schema.ResolveQuery(pivot.QueryPayload{
		Year:   &year,
		Rows:   []string{schema.Dimensions[0].ID},
		Values: []pivot.ValueRequest{{Field: schema.Measures[0].ID}},
	})
	if err != nil {
		b.Fatal(wrap.Error(err, "failed to resolve benchmark query"))
	}

	database, err := NewClickHouseDB(context.Background(), conf.ClickHouse)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		database.Close()
	})

	return database, query
}
