package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestWithJobFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithJob("monitor", 7, 3, "training", "job-1")
	logger.Info().Msg("polling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "monitor", entry["component"])
	assert.Equal(t, float64(7), entry["task_id"])
	assert.Equal(t, float64(3), entry["asset_id"])
	assert.Equal(t, "job-1", entry["job_id"])
}

func TestWithJobBeforeSubmit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}}) })

	logger := WithJob("processor", 7, 3, "labeling", "")
	logger.Info().Msg("preparing")
	assert.NotContains(t, buf.String(), "job_id")

	buf.Reset()
	logger = logger.With().Str("job_id", "prompt-1").Logger()
	logger.Info().Msg("submitted")
	assert.Equal(t, 1, strings.Count(buf.String(), `"job_id"`))
}

func TestInitLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}}) })

	logger := WithTaskID(4)
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), `"task_id":4`)
}
