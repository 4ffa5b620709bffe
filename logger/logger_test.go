package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
		wantLevel  zapcore.Level
	}{
		{"JSON output mode", true, VerbosityUser, zapcore.WarnLevel},
		{"Console output mode", false, VerbosityInfo, zapcore.InfoLevel},
		{"Console debug", false, VerbosityDebug, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.Equal(t, tt.wantLevel, Level())

			_ = Logger.Sync()
		})
	}
}

func TestSetVerbosity(t *testing.T) {
	require.NoError(t, Initialize(false, VerbosityUser))
	assert.False(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))

	SetVerbosity(VerbosityDebug)
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))

	SetVerbosity(VerbosityUser)
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
	}{
		{-1, zapcore.WarnLevel},
		{VerbosityUser, zapcore.WarnLevel},
		{VerbosityInfo, zapcore.InfoLevel},
		{VerbosityDebug, zapcore.DebugLevel},
		{VerbosityTrace, zapcore.DebugLevel},
		{9, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, VerbosityToLevel(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "User", LevelName(0))
	assert.Equal(t, "Info (-v)", LevelName(1))
	assert.Equal(t, "Debug (-vv)", LevelName(2))
	assert.Equal(t, "Trace (-vvv)", LevelName(5))
	assert.True(t, ShouldLogTrace(VerbosityTrace))
	assert.False(t, ShouldLogTrace(VerbosityDebug))
}

func TestOr(t *testing.T) {
	require.NoError(t, Initialize(false, VerbosityUser))
	named := ComponentLogger("agent")

	assert.Same(t, named, Or(named))
	assert.Same(t, Logger, Or(nil))
}

func TestPackageHelpersTolerateNilLogger(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	Logger = nil
	assert.NotPanics(t, func() {
		Infow("x")
		Warnw("x")
		Errorw("x")
		Debugw("x")
		Cleanup()
	})
}
