package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/logging"
)

func TestProductionHandlerWritesJSON(t *testing.T) {
	var output bytes.Buffer
	logger := slog.New(logging.NewHandler(&output, slog.LevelInfo, true))

	logger.Debug("hidden")
	logger.Info("query settled", slog.String("operation", "query"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &record))
	assert.Equal(t, "query settled", record["msg"])
	assert.Equal(t, "query", record["operation"])
}

func TestDevelopmentHandlerRespectsLevel(t *testing.T) {
	var output bytes.Buffer
	logger := slog.New(logging.NewHandler(&output, slog.LevelWarn, false))

	logger.Info("hidden")
	assert.Empty(t, output.String())

	logger.Warn("invalid region parameter")
	assert.Contains(t, output.String(), "invalid region parameter")
}
