package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrQueueFull 批量写入队列已满，记录被丢弃
var ErrQueueFull = errors.New("write queue full")

const (
	flushRetries = 3
	flushTimeout = 10 * time.Second
)

// LogStore 批量写入的存储后端
type LogStore interface {
	InsertBatch(ctx context.Context, rows []LogRow) error
	Close() error
}

// LogRow 数据库中的一行日志
type LogRow struct {
	ID          string    `gorm:"column:id;primaryKey;size:36"`
	Time        time.Time `gorm:"column:time;index"`
	Logger      string    `gorm:"column:logger;size:255"`
	Level       string    `gorm:"column:level;size:16"`
	Kind        string    `gorm:"column:kind;size:16"`
	Measurement string    `gorm:"column:measurement;size:255;index"`
	Message     string    `gorm:"column:message;type:text"`
	Line        string    `gorm:"column:line;type:text"`
}

func newDBSink(cfg config.DatabaseConfig, env core.SinkEnv) (*asyncWriter, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", config.ErrInvalid, cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxConnLifetime)

	if cfg.AutoMigrate {
		if err := gdb.Table(cfg.Table).AutoMigrate(&LogRow{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.Table, err)
		}
	}

	store := &sqlStore{db: gdb, table: cfg.Table, batchSize: cfg.BatchSize}
	return newAsyncWriter(cfg, store, env.Report), nil
}

type sqlStore struct {
	db        *gorm.DB
	table     string
	batchSize int
}

func (s *sqlStore) InsertBatch(ctx context.Context, rows []LogRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Table(s.table).CreateInBatches(rows, s.batchSize).Error
}

func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// asyncWriter 按批次大小或间隔异步写入后端
// 队列有界，满时丢弃；关闭时写完剩余数据
type asyncWriter struct {
	cfg     config.DatabaseConfig
	backend LogStore
	report  func(error)
	rows    chan LogRow
	stop    chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newAsyncWriter(cfg config.DatabaseConfig, backend LogStore, report func(error)) *asyncWriter {
	if report == nil {
		report = func(error) {}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = config.DefaultBatchInterval
	}
	w := &asyncWriter{
		cfg:     cfg,
		backend: backend,
		report:  report,
		rows:    make(chan LogRow, cfg.BatchSize*10),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// WriteRecord 按记录生成一行并入队
func (w *asyncWriter) WriteRecord(rec *core.Record, line []byte) error {
	row := LogRow{
		ID:      uuid.NewString(),
		Time:    rec.Time.UTC(),
		Logger:  rec.Logger,
		Level:   config.LevelName(rec.Level),
		Kind:    rec.Kind().String(),
		Message: rec.Message,
		Line:    string(line),
	}
	if rec.Data != nil {
		row.Time = rec.Data.Time.UTC()
		row.Measurement = rec.Data.Measurement
	}
	return w.enqueue(row)
}

func (w *asyncWriter) Write(p []byte) (int, error) {
	row := LogRow{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Kind: core.KindInfo.String(),
		Line: string(p),
	}
	if err := w.enqueue(row); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *asyncWriter) enqueue(row LogRow) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return os.ErrClosed
	}
	select {
	case w.rows <- row:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *asyncWriter) Sync() error { return nil }

func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
	return w.backend.Close()
}

func (w *asyncWriter) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]LogRow, 0, w.cfg.BatchSize)
	for {
		select {
		case row := <-w.rows:
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.stop:
			// 写入方已停止入队，排空队列
			for {
				select {
				case row := <-w.rows:
					batch = append(batch, row)
					if len(batch) >= w.cfg.BatchSize {
						w.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						w.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (w *asyncWriter) flush(batch []LogRow) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var err error
	for i := 0; i < flushRetries; i++ {
		if err = w.backend.InsertBatch(ctx, batch); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			i = flushRetries
		case <-time.After(w.cfg.RetryDelay):
		}
	}
	w.report(fmt.Errorf("database flush dropped %d rows: %w", len(batch), err))
}
