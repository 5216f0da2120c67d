// ABOUTME: Tests for logger construction
// ABOUTME: Checks level parsing and that the writer logger honours its level

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zap.InfoLevel},
		{in: "debug", want: zap.DebugLevel},
		{in: "INFO", want: zap.InfoLevel},
		{in: "warning", want: zap.WarnLevel},
		{in: "error", want: zap.ErrorLevel},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "warn", false)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.Int("nodes", 3))
	require.NoError(t, log.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"nodes":3`)
}

func TestNewWriterDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "debug", true)
	require.NoError(t, err)

	log.Debug("decoded", zap.String("type", "FIXED_ARRAY_TYPE"))
	assert.Contains(t, buf.String(), "decoded")
	assert.Contains(t, buf.String(), "FIXED_ARRAY_TYPE")
}

func TestNewRejectsLevel(t *testing.T) {
	_, err := New("loud", false)
	assert.Error(t, err)

	log, err := New("info", true)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
