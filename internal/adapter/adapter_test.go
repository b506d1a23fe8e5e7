package adapter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validated(t *testing.T, hc config.HandlerConfig) config.HandlerConfig {
	t.Helper()
	require.NoError(t, hc.Validate())
	return hc
}

func TestCreateSink(t *testing.T) {
	t.Run("未知类型", func(t *testing.T) {
		_, err := CreateSink("h", config.HandlerConfig{Class: "kafka"}, core.SinkEnv{})
		assert.ErrorIs(t, err, config.ErrInvalid)
	})

	t.Run("缺少类型配置", func(t *testing.T) {
		_, err := CreateSink("h", config.HandlerConfig{Class: config.FileHandler}, core.SinkEnv{})
		assert.ErrorIs(t, err, config.ErrInvalid)
	})

	t.Run("控制台", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		env := core.SinkEnv{Stdout: &stdout, Stderr: &stderr}

		s, err := CreateSink("console", validated(t, config.HandlerConfig{
			Class:  config.StreamHandler,
			Stream: &config.StreamConfig{Stream: "ext://sys.stdout"},
		}), env)
		require.NoError(t, err)
		_, err = s.Write([]byte("to stdout\n"))
		require.NoError(t, err)
		require.NoError(t, s.Sync())
		require.NoError(t, s.Close())

		s, err = CreateSink("console", validated(t, config.HandlerConfig{
			Class:  config.StreamHandler,
			Stream: &config.StreamConfig{},
		}), env)
		require.NoError(t, err)
		_, err = s.Write([]byte("to stderr\n"))
		require.NoError(t, err)

		assert.Equal(t, "to stdout\n", stdout.String())
		assert.Equal(t, "to stderr\n", stderr.String())
	})

	t.Run("相对路径基于BaseDir", func(t *testing.T) {
		dir := t.TempDir()
		s, err := CreateSink("error_file", validated(t, config.HandlerConfig{
			Class: config.FileHandler,
			File:  &config.FileConfig{Filename: "Logs/error.log"},
		}), core.SinkEnv{BaseDir: dir})
		require.NoError(t, err)
		_, err = s.Write([]byte("boom\n"))
		require.NoError(t, err)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		data, err := os.ReadFile(filepath.Join(dir, "Logs", "error.log"))
		require.NoError(t, err)
		assert.Equal(t, "boom\n", string(data))

		_, err = s.Write([]byte("late\n"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})

	t.Run("按大小轮转", func(t *testing.T) {
		dir := t.TempDir()
		s, err := CreateSink("rotating", validated(t, config.HandlerConfig{
			Class:    config.SizeRotatingFile,
			Rotating: &config.SizeRotationConfig{Filename: "info.log", MaxBytes: 1500, BackupCount: 3},
		}), core.SinkEnv{BaseDir: dir})
		require.NoError(t, err)
		_, err = s.Write([]byte("hello\n"))
		require.NoError(t, err)
		require.NoError(t, s.Close())

		data, err := os.ReadFile(filepath.Join(dir, "info.log"))
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(data))
	})
}

func TestMaxSizeMB(t *testing.T) {
	assert.Equal(t, 1, maxSizeMB(1))
	assert.Equal(t, 1, maxSizeMB(megabyte))
	assert.Equal(t, 2, maxSizeMB(megabyte+1))
	assert.Greater(t, maxSizeMB(0), 1<<20)
}

func TestFileSinkConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateSink("file", validated(t, config.HandlerConfig{
		Class: config.FileHandler,
		File:  &config.FileConfig{Filename: "concurrent.log", Mode: "w"},
	}), core.SinkEnv{BaseDir: dir})
	require.NoError(t, err)

	const goroutines, perGoroutine = 100, 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_, err := s.Write([]byte(fmt.Sprintf("goroutine=%03d record=%03d\n", g, i)))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := readLogFile(t, filepath.Join(dir, "concurrent.log"))
	require.Len(t, lines, goroutines*perGoroutine)
	for _, line := range lines {
		assert.Regexp(t, `^goroutine=\d{3} record=\d{3}$`, line)
	}
}
