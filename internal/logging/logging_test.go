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
	testCases := []struct {
		in        string
		want      zerolog.Level
		expectErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	child := Component(log, "pipeline")
	child.Info().Int("cycle", 3).Msg("サイクル完了")
	child.Debug().Msg("出力されない")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "サイクル完了", entry["message"])
	assert.Equal(t, float64(3), entry["cycle"])
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}
