package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"hermannm.dev/pivot/config"
	"hermannm.dev/pivot/db"
	"hermannm.dev/wrap"
)

// Implements db.PivotDB and db.ValueDocumentSource for ClickHouse.
type ClickHouseDB struct {
	conn driver.Conn
}

func NewClickHouseDB(ctx context.Context, config config.ClickHouse) (ClickHouseDB, error) {
	// Options docs: https://clickhouse.com/docs/en/integrations/go#connection-settings
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Address},
		Auth: clickhouse.Auth{
			Database: config.DatabaseName,
			Username: config.Username,
			Password: config.Password,
		},
		Debug: config.Debug,
		Debugf: func(format string, v ...any) {
			fmt.Printf(format+"\n", v...)
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return ClickHouseDB{}, wrap.Error(err, "failed to connect to ClickHouse")
	}

	if err := conn.Ping(ctx); err != nil {
		return ClickHouseDB{}, wrap.Error(err, "failed to ping ClickHouse connection")
	}

	return ClickHouseDB{conn: conn}, nil
}

func (clickhouse ClickHouseDB) Close() error {
	return clickhouse.conn.Close()
}

var errInvalidQuery = errors.New("invalid query")

// See https://github.com/ClickHouse/ClickHouse/blob/master/src/Common/ErrorCodes.cpp
const (
	clickhouseTimeoutExceededErrorCode = 159
	clickhouseTooSlowErrorCode         = 160
)

// wrapQueryError translates ClickHouse's own timeouts and expired deadlines into
// db.ErrQueryTimeout.
func wrapQueryError(err error, message string) error {
	var clickhouseErr *proto.Exception
	if errors.As(err, &clickhouseErr) {
		switch clickhouseErr.Code {
		case clickhouseTimeoutExceededErrorCode, clickhouseTooSlowErrorCode:
			return wrap.Error(fmt.Errorf("%w: %w", db.ErrQueryTimeout, err), message)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrap.Error(fmt.Errorf("%w: %w", db.ErrQueryTimeout, err), message)
	}

	return wrap.Error(err, message)
}

// withExecutionTimeLimit makes ClickHouse itself stop the query at the context's deadline, so that
// it does not keep running after we stop waiting for it.
func withExecutionTimeLimit(ctx context.Context) context.Context {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctx
	}

	seconds := int(time.Until(deadline).Seconds())
	if seconds < 1 {
		seconds = 1
	}

	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_execution_time": seconds,
	}))
}
