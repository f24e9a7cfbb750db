// Package file provides the append-only JSON-lines telemetry store
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// Config holds configuration for the telemetry store
type Config struct {
	Path string      // file to append to, parent directories are created
	Mode os.FileMode // permissions when the file is created
	Sync bool        // fsync after every line
}

// DefaultConfig appends to gyro_data.jsonl in the working directory
func DefaultConfig() Config {
	return Config{Path: "gyro_data.jsonl", Mode: 0o644}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}
	return nil
}

// reopenInterval throttles open attempts made from Append after Start
// failed to open the file.
const reopenInterval = time.Second

// StoreDeps holds runtime dependencies for the store
type StoreDeps struct {
	Name   string
	Config Config
	Logger *slog.Logger // can be nil
}

// Store appends newline-terminated records to a single file. Appends are
// serialized so concurrent writers never interleave within a line.
type Store struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	file       *os.File
	started    bool
	lastOpenAt time.Time

	startTime    time.Time
	linesWritten atomic.Int64
	bytesWritten atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Store)(nil)

// NewStore creates a store. Call Open (or Start) before Append.
func NewStore(deps StoreDeps) *Store {
	cfg := deps.Config
	if cfg.Mode == 0 {
		cfg.Mode = 0o644
	}
	name := deps.Name
	if name == "" {
		name = "telemetry-file"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		name:      name,
		cfg:       cfg,
		logger:    logger.With("component", name),
		startTime: time.Now(),
	}
	s.lastError.Store("")
	s.lastActivity.Store(time.Time{})
	return s
}

// Name identifies the store in logs and metrics
func (s *Store) Name() string { return s.name }

// Path returns the file being appended to
func (s *Store) Path() string { return s.cfg.Path }

// Open creates the parent directory and opens the file for appending.
// Calling Open on an open store is a no-op. Failures are transient and
// wrap errors.ErrPersistence.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

// openLocked expects s.mu to be held.
func (s *Store) openLocked() error {
	if s.file != nil {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.lastOpenAt = time.Now()

	if dir := filepath.Dir(s.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrPersistence, err),
				s.name, "Open", "create directory")
		}
	}

	f, err := os.OpenFile(s.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.cfg.Mode)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrPersistence, err),
			s.name, "Open", "open telemetry file")
	}
	s.file = f
	s.logger.Info("Telemetry store opened", "path", s.cfg.Path)
	return nil
}

// Append writes line followed by a newline. A started store whose file
// could not be opened retries the open at most once per reopenInterval.
func (s *Store) Append(_ context.Context, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil && s.started && time.Since(s.lastOpenAt) >= reopenInterval {
		if err := s.openLocked(); err != nil {
			return s.fail(err, "reopen")
		}
	}
	if s.file == nil {
		return s.fail(fmt.Errorf("%w: store not open", errors.ErrPersistence), "check open")
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')

	n, err := s.file.Write(buf)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", errors.ErrPersistence, err), "write line")
	}
	if s.cfg.Sync {
		if err := s.file.Sync(); err != nil {
			return s.fail(fmt.Errorf("%w: %v", errors.ErrPersistence, err), "sync file")
		}
	}

	s.linesWritten.Add(1)
	s.bytesWritten.Add(int64(n))
	s.lastActivity.Store(time.Now())
	return nil
}

func (s *Store) fail(err error, action string) error {
	s.errorCount.Add(1)
	s.lastError.Store(err.Error())
	return errors.WrapTransient(err, s.name, "Append", action)
}

// Close closes the file. Calling Close on a closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return errors.WrapTransient(err, s.name, "Close", "close telemetry file")
	}
	return nil
}

// Initialize validates configuration
func (s *Store) Initialize() error { return s.cfg.Validate() }

// Start opens the file. An open failure is logged and leaves the store
// degraded; Append keeps retrying the open and drops lines meanwhile.
func (s *Store) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true
	if err := s.openLocked(); err != nil {
		s.errorCount.Add(1)
		s.lastError.Store(err.Error())
		s.logger.Error("Telemetry store unavailable, records will be dropped",
			"path", s.cfg.Path, "error", err)
	}
	return nil
}

// Stop closes the file and ends reopen attempts
func (s *Store) Stop(time.Duration) error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.Close()
}

// Meta returns the component metadata
func (s *Store) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "output",
		Description: fmt.Sprintf("Append-only JSON lines at %s", s.cfg.Path),
		Version:     "1.0.0",
	}
}

// Health is degraded while the file is not open. The store never reports
// unhealthy; append failures surface in ErrorCount and LastError.
func (s *Store) Health() component.HealthStatus {
	s.mu.Lock()
	open := s.file != nil
	s.mu.Unlock()

	lastErr, _ := s.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    true,
		Degraded:   !open,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the append rate
func (s *Store) DataFlow() component.FlowMetrics {
	uptime := time.Since(s.startTime)
	lines := s.linesWritten.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var errorRate float64
	if total := lines + s.errorCount.Load(); total > 0 {
		errorRate = float64(s.errorCount.Load()) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(lines, uptime),
		BytesPerSecond:    component.Rate(s.bytesWritten.Load(), uptime),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
