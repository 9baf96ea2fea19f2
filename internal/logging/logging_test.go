package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, FormatJSON, "debug")
	require.NoError(t, err)

	logger.Info().Str("stage", "search").Int("papers", 3).Msg("done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "search", line["stage"])
	assert.Equal(t, float64(3), line["papers"])
	assert.Contains(t, line, "time")
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, FormatJSON, "WARN")
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "", "")
	require.NoError(t, err)

	logger.Info().Str("db", "arxiv").Msg("searching")

	out := buf.String()
	assert.Contains(t, out, "searching")
	assert.Contains(t, out, "arxiv")
	assert.False(t, strings.HasPrefix(out, "{"))
}

func TestNewWithWriter_Errors(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "xml", "info")
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, FormatJSON, "loud")
	assert.Error(t, err)
}
