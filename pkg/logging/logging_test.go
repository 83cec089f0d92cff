package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/nornicgraph/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		debugOn   bool
		infoOn    bool
		wantError bool
	}{
		{"json info", config.LoggingConfig{Level: "info", Format: "json"}, false, true, false},
		{"console debug", config.LoggingConfig{Level: "debug", Format: "console"}, true, true, false},
		{"empty format is json", config.LoggingConfig{Level: "warn"}, false, false, false},
		{"bad level", config.LoggingConfig{Level: "chatty", Format: "json"}, false, false, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.debugOn, logger.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.infoOn, logger.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
		})
	}
}

func TestBadger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	bl := Badger(zap.New(core))
	bl.Errorf("compaction failed: %d", 3)
	bl.Warningf("slow write")
	bl.Infof("value log gc")
	bl.Debugf("tick")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "compaction failed: 3", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, "badger", entries[3].LoggerName)
}
