package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hermannm.dev/devlog/log"
	"hermannm.dev/pivot/api"
	"hermannm.dev/pivot/config"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/db/clickhouse"
	"hermannm.dev/pivot/db/elasticsearch"
	"hermannm.dev/pivot/logging"
)

func main() {
	logging.Setup(os.Stdout, slog.LevelInfo, false)

	log.Info("loading environment variables")
	conf, err := config.ReadServerFromEnv()
	if err != nil {
		log.ErrorCause(err, "failed to read config from env")
		os.Exit(1)
	}
	logging.Setup(os.Stdout, conf.LogLevel, conf.IsProduction)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		log.ErrorCause(err, "server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, conf config.Server) error {
	log.Info("loading pivot schema", slog.String("file", conf.API.SchemaFile))
	schema, err := db.LoadSchema(conf.API.SchemaFile)
	if err != nil {
		return err
	}

	log.Info("connecting to ClickHouse")
	pivotDB, err := clickhouse.NewClickHouseDB(ctx, conf.ClickHouse)
	if err != nil {
		return err
	}
	defer pivotDB.Close()

	var options []api.Option
	if conf.Elasticsearch.Enabled() {
		log.Info("connecting to Elasticsearch")
		valueIndex, err := elasticsearch.NewElasticsearchDB(conf.Elasticsearch)
		if err != nil {
			return err
		}
		if err := valueIndex.EnsureIndex(ctx); err != nil {
			return err
		}

		// Searches fall back to ClickHouse until the index is filled.
		go func() {
			if err := db.SyncValueIndex(ctx, schema, pivotDB, valueIndex); err != nil {
				log.ErrorCause(err, "failed to sync dimension value index")
			}
		}()

		options = append(options, api.WithValueSearcher(valueIndex))
	}

	pivotAPI := api.NewPivotAPI(schema, pivotDB, conf.API, options...)
	return pivotAPI.ListenAndServe(ctx)
}
