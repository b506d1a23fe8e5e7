package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
)

// ErrRotation 轮转失败，继续写入当前文件
var ErrRotation = errors.New("log rotation failed")

const (
	flockRetryDelay     = 100 * time.Millisecond
	rotationLockTimeout = 5 * time.Second
)

// timedFile 按时间边界轮转的文件
// 轮转在 mu 内完成，flock 锁文件保证多进程只归档一次
type timedFile struct {
	mu     sync.Mutex
	cfg    config.TimedRotationConfig
	path   string
	dir    string
	stem   string
	ext    string
	loc    *time.Location
	now    func() time.Time
	lock   *flock.Flock
	report func(error)

	archives *regexp.Regexp

	file   *os.File
	period time.Time // 当前文件内容所属周期的起点
	next   time.Time // 下一次轮转边界
	closed bool
}

func newTimedFile(cfg config.TimedRotationConfig, env core.SinkEnv) (*timedFile, error) {
	return openTimedFile(cfg, env, time.Now)
}

func openTimedFile(cfg config.TimedRotationConfig, env core.SinkEnv, now func() time.Time) (*timedFile, error) {
	path, err := resolvePath(env.BaseDir, cfg.Filename)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	t := &timedFile{
		cfg:    cfg,
		path:   path,
		dir:    filepath.Dir(path),
		stem:   strings.TrimSuffix(base, ext),
		ext:    ext,
		loc:    time.Local,
		now:    now,
		report: env.Report,
	}
	if cfg.UTC {
		t.loc = time.UTC
	}
	if t.report == nil {
		t.report = func(error) {}
	}
	if t.cfg.Interval <= 0 {
		t.cfg.Interval = 1
	}
	t.lock = flock.New(filepath.Join(t.dir, "."+base+".lock"))
	t.archives = regexp.MustCompile(`^` + regexp.QuoteMeta(t.stem) +
		`\.(\d{4}-\d{2}-\d{2}(?:_\d{2}(?:-\d{2})?)?)(?:\.(\d+))?` +
		regexp.QuoteMeta(ext) + `(?:\.zst)?$`)

	f, err := os.OpenFile(path, openFlags(cfg.Mode), 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	t.file = f

	// 已有内容归属其最后修改时间所在的周期
	start := now()
	if fi, err := f.Stat(); err == nil && fi.Size() > 0 && fi.ModTime().Before(start) {
		start = fi.ModTime()
	}
	t.setPeriod(start)
	return t, nil
}

func (t *timedFile) setPeriod(ts time.Time) {
	t.period = t.periodStart(ts)
	t.next = t.advance(t.period)
}

func (t *timedFile) periodStart(ts time.Time) time.Time {
	ts = ts.In(t.loc)
	y, m, d := ts.Date()
	switch t.cfg.When {
	case "h":
		return time.Date(y, m, d, ts.Hour(), 0, 0, 0, t.loc)
	case "m":
		return time.Date(y, m, d, ts.Hour(), ts.Minute(), 0, 0, t.loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, t.loc)
	}
}

func (t *timedFile) advance(start time.Time) time.Time {
	switch t.cfg.When {
	case "h":
		return start.Add(time.Duration(t.cfg.Interval) * time.Hour)
	case "m":
		return start.Add(time.Duration(t.cfg.Interval) * time.Minute)
	default:
		return start.AddDate(0, 0, t.cfg.Interval)
	}
}

func (t *timedFile) suffix(period time.Time) string {
	switch t.cfg.When {
	case "h":
		return period.Format("2006-01-02_15")
	case "m":
		return period.Format("2006-01-02_15-04")
	default:
		return period.Format("2006-01-02")
	}
}

func (t *timedFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, os.ErrClosed
	}
	if now := t.now(); !now.Before(t.next) {
		if err := t.rotate(now); err != nil {
			t.report(err)
		}
	}
	// 上次打开失败时每次写入都重试，不等到下一个周期
	if t.file == nil {
		if err := t.reopen(); err != nil {
			return 0, fmt.Errorf("%w: no open file for %s: %w", ErrRotation, t.path, err)
		}
	}
	return t.file.Write(p)
}

// rotate 归档当前文件并打开新周期的文件
// 无论成功与否都推进到新周期，失败只报告一次
func (t *timedFile) rotate(now time.Time) error {
	archived := t.period
	t.setPeriod(now)

	ctx, cancel := context.WithTimeout(context.Background(), rotationLockTimeout)
	defer cancel()
	locked, err := t.lock.TryLockContext(ctx, flockRetryDelay)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: lock %s: %w", ErrRotation, t.lock.Path(), err)
	}
	defer func() { _ = t.lock.Unlock() }()

	// 其他进程已经归档过，只需切换到新文件
	if t.rotatedElsewhere() {
		if err := t.reopen(); err != nil {
			return fmt.Errorf("%w: %w", ErrRotation, err)
		}
		return nil
	}

	if t.file != nil {
		if err := t.file.Close(); err != nil {
			t.report(fmt.Errorf("close %s: %w", t.path, err))
		}
		t.file = nil
	}

	archive := t.archiveName(archived)
	if err := os.Rename(t.path, archive); err != nil {
		if rerr := t.reopen(); rerr != nil {
			return fmt.Errorf("%w: %w", ErrRotation, errors.Join(err, rerr))
		}
		return fmt.Errorf("%w: archive %s: %w", ErrRotation, t.path, err)
	}
	if err := t.reopen(); err != nil {
		return fmt.Errorf("%w: %w", ErrRotation, err)
	}

	var errs []error
	if t.cfg.Compress {
		if err := compressFile(archive); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.prune(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRotation, errors.Join(errs...))
	}
	return nil
}

func (t *timedFile) rotatedElsewhere() bool {
	open, err := t.file.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(t.path)
	if err != nil {
		return true
	}
	return !os.SameFile(open, onDisk)
}

func (t *timedFile) reopen() error {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	f, err := os.OpenFile(t.path, openFlags("a"), 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	t.file = f
	return nil
}

// archiveName 同名归档已存在时追加序号
func (t *timedFile) archiveName(period time.Time) string {
	base := filepath.Join(t.dir, t.stem+"."+t.suffix(period))
	name := base + t.ext
	for i := 1; exists(name) || exists(name+".zst"); i++ {
		name = base + "." + strconv.Itoa(i) + t.ext
	}
	return name
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

type archiveFile struct {
	name  string
	stamp string
	seq   int
}

// prune 删除超出 backupCount 的最旧归档，0 表示全部保留
func (t *timedFile) prune() error {
	keep := 0
	if t.cfg.BackupCount != nil {
		keep = *t.cfg.BackupCount
	}
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	var archives []archiveFile
	for _, e := range entries {
		m := t.archives.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		seq, _ := strconv.Atoi(m[2])
		archives = append(archives, archiveFile{name: e.Name(), stamp: m[1], seq: seq})
	}
	if len(archives) <= keep {
		return nil
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].stamp != archives[j].stamp {
			return archives[i].stamp < archives[j].stamp
		}
		return archives[i].seq < archives[j].seq
	})
	var errs []error
	for _, a := range archives[:len(archives)-keep] {
		if err := os.Remove(filepath.Join(t.dir, a.name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// compressFile 压缩为 .zst 并删除原归档
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".zst", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func (t *timedFile) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.file == nil {
		return nil
	}
	return t.file.Sync()
}

func (t *timedFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.lock.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	if err != nil {
		return fmt.Errorf("file close failed: %w", err)
	}
	return nil
}
