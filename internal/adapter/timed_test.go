package adapter

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock 每 per 次调用前进一个 step
type stepClock struct {
	calls atomic.Int64
	base  time.Time
	per   int64
	step  time.Duration
}

func (c *stepClock) Now() time.Time {
	n := c.calls.Add(1) - 1
	return c.base.Add(time.Duration(n/c.per) * c.step)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func timedConfig(backup int) config.TimedRotationConfig {
	return config.TimedRotationConfig{
		Filename:    "data.log",
		When:        "midnight",
		Interval:    1,
		UTC:         true,
		BackupCount: &backup,
		Mode:        "a",
	}
}

// logFiles 列出目录中以 stem 开头的日志文件，忽略锁文件
func logFiles(t *testing.T, dir, stem string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stem) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func readLogFile(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		require.NoError(t, err)
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestTimedRotationConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	clock := &stepClock{base: day0, per: 100, step: 24 * time.Hour}
	tf, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: dir}, clock.Now)
	require.NoError(t, err)

	const writers, perWriter = 10, 100
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := tf.Write([]byte(fmt.Sprintf("w%d-%d\n", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, tf.Close())

	// 10 次跨越边界，得到 10 个归档加当前文件
	files := logFiles(t, dir, "data")
	want := []string{"data.log"}
	for d := 0; d < 10; d++ {
		want = append(want, "data."+day0.AddDate(0, 0, d).Format("2006-01-02")+".log")
	}
	sort.Strings(want)
	assert.Equal(t, want, files)

	seen := map[string]int{}
	for _, name := range files {
		for _, line := range readLogFile(t, filepath.Join(dir, name)) {
			seen[line]++
		}
	}
	assert.Len(t, seen, writers*perWriter)
	for line, n := range seen {
		assert.Equal(t, 1, n, line)
	}
}

func TestTimedRotationPruneAndCompress(t *testing.T) {
	dir := t.TempDir()
	clock := &manualClock{t: day0}
	cfg := timedConfig(2)
	cfg.Compress = true
	tf, err := openTimedFile(cfg, core.SinkEnv{BaseDir: dir}, clock.Now)
	require.NoError(t, err)

	for d := 0; d < 5; d++ {
		_, err := tf.Write([]byte(fmt.Sprintf("day%d\n", d)))
		require.NoError(t, err)
		clock.Add(24 * time.Hour)
	}
	require.NoError(t, tf.Close())

	files := logFiles(t, dir, "data")
	assert.Equal(t, []string{"data.2024-03-03.log.zst", "data.2024-03-04.log.zst", "data.log"}, files)
	assert.Equal(t, []string{"day3"}, readLogFile(t, filepath.Join(dir, "data.2024-03-04.log.zst")))
	assert.Equal(t, []string{"day4"}, readLogFile(t, filepath.Join(dir, "data.log")))
}

func TestTimedRotationBoundaries(t *testing.T) {
	t.Run("按小时", func(t *testing.T) {
		dir := t.TempDir()
		clock := &manualClock{t: day0.Add(30 * time.Minute)}
		cfg := timedConfig(0)
		cfg.When = "h"
		tf, err := openTimedFile(cfg, core.SinkEnv{BaseDir: dir}, clock.Now)
		require.NoError(t, err)

		_, err = tf.Write([]byte("first\n"))
		require.NoError(t, err)
		clock.Add(20 * time.Minute)
		_, err = tf.Write([]byte("same hour\n"))
		require.NoError(t, err)
		clock.Add(20 * time.Minute)
		_, err = tf.Write([]byte("next hour\n"))
		require.NoError(t, err)
		require.NoError(t, tf.Close())

		assert.Equal(t, []string{"data.2024-03-01_12.log", "data.log"}, logFiles(t, dir, "data"))
		assert.Equal(t, []string{"first", "same hour"}, readLogFile(t, filepath.Join(dir, "data.2024-03-01_12.log")))
	})

	t.Run("已有文件按修改时间归档", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "data.log")
		require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))
		old := time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC)
		require.NoError(t, os.Chtimes(path, old, old))

		clock := &manualClock{t: day0}
		tf, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: dir}, clock.Now)
		require.NoError(t, err)
		_, err = tf.Write([]byte("new\n"))
		require.NoError(t, err)
		require.NoError(t, tf.Close())

		assert.Equal(t, []string{"old"}, readLogFile(t, filepath.Join(dir, "data.2024-02-28.log")))
		assert.Equal(t, []string{"new"}, readLogFile(t, path))
	})

	t.Run("w模式截断", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "data.log")
		require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))

		cfg := timedConfig(0)
		cfg.Mode = "w"
		clock := &manualClock{t: day0}
		tf, err := openTimedFile(cfg, core.SinkEnv{BaseDir: dir}, clock.Now)
		require.NoError(t, err)
		_, err = tf.Write([]byte("fresh\n"))
		require.NoError(t, err)
		require.NoError(t, tf.Close())

		assert.Equal(t, []string{"data.log"}, logFiles(t, dir, "data"))
		assert.Equal(t, []string{"fresh"}, readLogFile(t, path))
	})
}

// 两个写入方共享同一文件，只归档一次
func TestTimedRotationSharedFile(t *testing.T) {
	dir := t.TempDir()
	clock := &manualClock{t: day0}
	a, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: dir}, clock.Now)
	require.NoError(t, err)
	b, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: dir}, clock.Now)
	require.NoError(t, err)

	_, err = a.Write([]byte("a0\n"))
	require.NoError(t, err)
	_, err = b.Write([]byte("b0\n"))
	require.NoError(t, err)

	clock.Add(24 * time.Hour)
	_, err = a.Write([]byte("a1\n"))
	require.NoError(t, err)
	_, err = b.Write([]byte("b1\n"))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"data.2024-03-01.log", "data.log"}, logFiles(t, dir, "data"))
	assert.Equal(t, []string{"a0", "b0"}, readLogFile(t, filepath.Join(dir, "data.2024-03-01.log")))
	assert.Equal(t, []string{"a1", "b1"}, readLogFile(t, filepath.Join(dir, "data.log")))
}

func TestTimedFileClosed(t *testing.T) {
	tf, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: t.TempDir()}, time.Now)
	require.NoError(t, err)
	require.NoError(t, tf.Close())
	require.NoError(t, tf.Close())

	_, err = tf.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTimedFileReopensAfterFailure(t *testing.T) {
	dir := t.TempDir()
	tf, err := openTimedFile(timedConfig(0), core.SinkEnv{BaseDir: dir}, time.Now)
	require.NoError(t, err)
	defer tf.Close()

	_, err = tf.Write([]byte("before\n"))
	require.NoError(t, err)

	// 日志路径被目录占用，重新打开失败后没有可写文件
	path := filepath.Join(dir, "data.log")
	require.NoError(t, os.Rename(path, filepath.Join(dir, "moved.log")))
	require.NoError(t, os.Mkdir(path, 0o755))
	tf.mu.Lock()
	reopenErr := tf.reopen()
	noFile := tf.file == nil
	tf.mu.Unlock()
	require.Error(t, reopenErr)
	require.True(t, noFile)

	_, err = tf.Write([]byte("lost\n"))
	assert.ErrorIs(t, err, ErrRotation)

	// 路径恢复后同一周期内的下一次写入即可继续
	require.NoError(t, os.Remove(path))
	_, err = tf.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, tf.Sync())

	assert.Equal(t, []string{"after"}, readLogFile(t, path))
	assert.Equal(t, []string{"before"}, readLogFile(t, filepath.Join(dir, "moved.log")))
}
