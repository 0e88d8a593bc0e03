package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

var (
	ErrDLQClosed = errors.New("DLQ is closed")
	ErrDLQFull   = errors.New("DLQ is full")
)

const fileName = "dlq.jsonl"

// Config holds configuration for the dead letter queue
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	MaxSize       int           `yaml:"max_size"` // Maximum number of events
	MaxAge        time.Duration `yaml:"max_age"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DeadLetterQueue keeps parsed events whose delivery failed so they can be
// resolved and sent again later. Entries survive restarts.
type DeadLetterQueue struct {
	config Config
	logger *logging.Logger

	mu      sync.Mutex
	entries []*Entry
	dirty   bool
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	// Metrics
	enqueued uint64
	dequeued uint64
	dropped  uint64
	expired  uint64
}

// Entry is one failed event
type Entry struct {
	Event     *types.LogEvent   `json:"event"`
	Error     string            `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
	Retries   int               `json:"retries"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New opens the queue in cfg.Dir, loading entries left by a previous run
func New(cfg Config, logger *logging.Logger) (*DeadLetterQueue, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("DLQ directory is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
	}

	q := &DeadLetterQueue{
		config:  cfg,
		logger:  logger.WithComponent("dlq"),
		closeCh: make(chan struct{}),
	}

	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load DLQ: %w", err)
	}
	if len(q.entries) > 0 {
		q.logger.Info().Int("entries", len(q.entries)).Msg("Loaded dead letter entries")
	}

	q.wg.Add(1)
	go q.maintainLoop()

	return q, nil
}

// Enqueue adds a failed event
func (q *DeadLetterQueue) Enqueue(event *types.LogEvent, cause error, metadata map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDLQClosed
	}

	if len(q.entries) >= q.config.MaxSize {
		atomic.AddUint64(&q.dropped, 1)
		return ErrDLQFull
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	q.entries = append(q.entries, &Entry{
		Event:     event,
		Error:     msg,
		Timestamp: time.Now(),
		Retries:   event.Retries,
		Metadata:  metadata,
	})
	q.dirty = true
	atomic.AddUint64(&q.enqueued, 1)

	return nil
}

// Dequeue removes and returns the oldest entry, or nil when empty
func (q *DeadLetterQueue) Dequeue() (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrDLQClosed
	}

	if len(q.entries) == 0 {
		return nil, nil
	}

	entry := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	q.dirty = true
	atomic.AddUint64(&q.dequeued, 1)

	return entry, nil
}

// Replay hands every current entry to fn, oldest first. Entries fn fails
// on go back on the queue with their retry count bumped; those that no
// longer fit under MaxSize are dropped. An event fn accepts carries its
// replay count, so a later Enqueue of it keeps counting. It returns how
// many entries were replayed successfully.
func (q *DeadLetterQueue) Replay(fn func(*types.LogEvent) error) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrDLQClosed
	}
	pending := q.entries
	q.entries = nil
	q.dirty = true
	q.mu.Unlock()

	replayed := 0
	var failed []*Entry
	for _, entry := range pending {
		entry.Event.Retries = entry.Retries + 1
		if err := fn(entry.Event); err != nil {
			entry.Retries++
			entry.Error = err.Error()
			failed = append(failed, entry)
			continue
		}
		replayed++
		atomic.AddUint64(&q.dequeued, 1)
	}

	if len(failed) > 0 {
		q.requeue(failed)
	}

	return replayed, nil
}

// requeue puts failed entries back ahead of anything enqueued during the
// replay, dropping the oldest of them past MaxSize
func (q *DeadLetterQueue) requeue(failed []*Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.config.MaxSize - len(q.entries)
	if room < 0 {
		room = 0
	}
	if over := len(failed) - room; over > 0 {
		atomic.AddUint64(&q.dropped, uint64(over))
		q.logger.Warn().Int("dropped", over).Msg("DLQ full, dropping entries that failed replay")
		failed = failed[over:]
	}

	q.entries = append(failed, q.entries...)
	q.dirty = true
	if q.closed {
		if err := q.flush(); err != nil {
			q.logger.Error().Err(err).Msg("Failed to flush requeued entries")
		}
	}
}

// Size returns the number of entries
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Capacity returns the configured maximum number of entries
func (q *DeadLetterQueue) Capacity() int {
	return q.config.MaxSize
}

// Flush persists all entries to disk
func (q *DeadLetterQueue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.flush()
}

// Close stops background maintenance and flushes remaining entries.
// Closing twice is a no-op.
func (q *DeadLetterQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeCh)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flush()
}

// Metrics returns DLQ statistics
func (q *DeadLetterQueue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Metrics{
		Enqueued:    atomic.LoadUint64(&q.enqueued),
		Dequeued:    atomic.LoadUint64(&q.dequeued),
		Dropped:     atomic.LoadUint64(&q.dropped),
		Expired:     atomic.LoadUint64(&q.expired),
		CurrentSize: len(q.entries),
		MaxSize:     q.config.MaxSize,
	}
}

// flush rewrites the queue file as JSON lines. Caller holds mu.
func (q *DeadLetterQueue) flush() error {
	filename := filepath.Join(q.config.Dir, fileName)
	tempFile := filename + ".tmp"

	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	for _, entry := range q.entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	q.dirty = false
	return nil
}

func (q *DeadLetterQueue) load() error {
	file, err := os.Open(filepath.Join(q.config.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		if entry.Event == nil {
			continue
		}
		q.entries = append(q.entries, &entry)
	}

	return nil
}

// maintainLoop flushes changes and expires old entries
func (q *DeadLetterQueue) maintainLoop() {
	defer q.wg.Done()

	flushTicker := time.NewTicker(q.config.FlushInterval)
	defer flushTicker.Stop()

	cleanupInterval := q.config.MaxAge / 4
	if cleanupInterval > time.Hour {
		cleanupInterval = time.Hour
	}
	if cleanupInterval < time.Second {
		cleanupInterval = time.Second
	}
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-flushTicker.C:
			q.mu.Lock()
			if q.dirty {
				if err := q.flush(); err != nil {
					q.logger.Error().Err(err).Msg("Failed to flush dead letter queue")
				}
			}
			q.mu.Unlock()
		case <-cleanupTicker.C:
			q.expire(time.Now().Add(-q.config.MaxAge))
		case <-q.closeCh:
			return
		}
	}
}

// expire drops entries queued before cutoff
func (q *DeadLetterQueue) expire(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.entries[:0]
	for _, entry := range q.entries {
		if entry.Timestamp.After(cutoff) {
			remaining = append(remaining, entry)
		}
	}

	removed := len(q.entries) - len(remaining)
	for i := len(remaining); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = remaining

	if removed > 0 {
		q.dirty = true
		atomic.AddUint64(&q.expired, uint64(removed))
		q.logger.Warn().Int("expired", removed).Msg("Expired dead letter entries")
	}
	return removed
}

// Metrics holds DLQ statistics
type Metrics struct {
	Enqueued    uint64
	Dequeued    uint64
	Dropped     uint64
	Expired     uint64
	CurrentSize int
	MaxSize     int
}

// Utilization returns the DLQ utilization percentage (0-100)
func (m Metrics) Utilization() float64 {
	if m.MaxSize == 0 {
		return 0
	}
	return (float64(m.CurrentSize) / float64(m.MaxSize)) * 100.0
}
