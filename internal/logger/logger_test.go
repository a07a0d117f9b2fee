package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create logger with console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Close()
	})

	t.Run("should create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "easel.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		zlog := logger.Zerolog()
		zlog.Info().Msg("test message")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("should redact API keys in file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "easel.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)

		zlog := logger.Zerolog()
		zlog.Info().Str("key", "sk-ant-REDACTED").Msg("provider configured")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-ant-REDACTED")
	})

	t.Run("should fall back to info on an invalid level", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty", Console: true})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, "info", logger.Zerolog().GetLevel().String())
	})

	t.Run("should tag component loggers", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "easel.log")

		logger, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)

		zlog := logger.Component("loop")
		zlog.Info().Msg("hello")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"loop"`)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("should enable console and redaction", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.True(t, cfg.Console)
		assert.True(t, cfg.Redaction)
		assert.Equal(t, "info", cfg.Level)
	})
}

func TestRedactor(t *testing.T) {
	t.Run("should redact known credential shapes", func(t *testing.T) {
		redactor := NewRedactor()

		cases := []string{
			"sk-ant-REDACTED",
			"sk-abcdefghijklmnopqrstuvwxyz",
			"Bearer abc.def.ghi",
			`password="hunter22"`,
			`secret=topsecretvalue`,
		}
		for _, input := range cases {
			out := redactor.Redact(input)
			assert.Contains(t, out, "[REDACTED]", input)
		}
	})

	t.Run("should leave ordinary text alone", func(t *testing.T) {
		redactor := NewRedactor()
		input := "canvas version bumped to 3"
		assert.Equal(t, input, redactor.Redact(input))
	})

	t.Run("should accept custom patterns", func(t *testing.T) {
		redactor := NewRedactor()
		require.NoError(t, redactor.AddPattern(`session-[0-9]+`))
		assert.Contains(t, redactor.Redact("session-12345"), "[REDACTED]")

		assert.Error(t, redactor.AddPattern(`[invalid`))
	})
}

func TestRotatingWriter(t *testing.T) {
	t.Run("should rotate past the size limit", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "easel.log")

		w, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		// Force a tiny limit so one write triggers rotation.
		w.maxSize = 64

		_, err = w.Write([]byte(strings.Repeat("a", 60) + "\n"))
		require.NoError(t, err)
		_, err = w.Write([]byte("next line\n"))
		require.NoError(t, err)
		w.Close()

		matches, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.NotEmpty(t, matches)

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "next line")
	})
}
