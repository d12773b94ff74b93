package logging

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerPrefixAndLevels(t *testing.T) {
	var lines []string
	record := func(tag string) LogFunc {
		return func(format string, args ...interface{}) {
			lines = append(lines, tag+" "+fmt.Sprintf(format, args...))
		}
	}

	logger := NewLogger("deploy: ", LogFuncs{
		Debugf: record("D"),
		Infof:  record("I"),
		Warnf:  record("W"),
	})

	logger.Debugf("one %d", 1)
	logger.Infof("two")
	logger.Warnf("three")
	logger.Errorf("dropped")

	assert.Equal(t, []string{"D deploy: one 1", "I deploy: two", "W deploy: three"}, lines)
}

func TestWithPrefix(t *testing.T) {
	var got []string
	base := NewLogger("", LogFuncs{
		LogLevelf: func(level int, format string, args ...interface{}) {
			got = append(got, fmt.Sprintf("%d %s", level, fmt.Sprintf(format, args...)))
		},
	})

	WithPrefix(base, "app=invoice-api, ").Errorf("exit code %d", 2)

	assert.Equal(t, []string{"3 app=invoice-api, exit code 2"}, got)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"", LogLevelInfo, false},
		{"INFO", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"verbose", LogLevelInfo, true},
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

func TestZapBackend(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := newZapLogger(zap.New(core))

	logger.Debugf("hidden")
	logger.Infof("started %s", "invoice-api")
	logger.Warnf("leak")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "started invoice-api", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNewZapLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := NewZapLogger(ZapOptions{Level: "loud"})
	assert.Error(t, err)
}
