package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestComponentFieldInJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newWithWriter("prod", "info", &buf), "realtime")

	logger.Debug().Msg("hidden")
	logger.Info().Str("session", "admin").Msg("stream connected")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "realtime", line["component"])
	assert.Equal(t, "admin", line["session"])
	assert.Equal(t, "stream connected", line["message"])
}
