package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

const pollInterval = 100 * time.Millisecond

// Config controls where tailing starts
type Config struct {
	Name  string
	Paths []string
	// FromBeginning reads files without a checkpoint from offset 0
	// instead of their current end
	FromBeginning bool
	BufferSize    int
}

// Tailer follows log files across rotation and emits their lines
type Tailer struct {
	config        Config
	paths         map[string]bool
	checkpointMgr *checkpoint.Manager
	logger        *logging.Logger
	watcher       *fsnotify.Watcher
	files         map[string]*tailedFile
	mu            sync.Mutex
	lineCh        chan types.RawLine
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

type tailedFile struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	offset atomic.Int64
	inode  uint64
	done   chan struct{}
}

// New creates a new Tailer instance
func New(cfg Config, checkpointMgr *checkpoint.Manager, logger *logging.Logger) (*Tailer, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no paths to tail")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Name == "" {
		cfg.Name = "file"
	}
	if logger == nil {
		logger = logging.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &Tailer{
		config:        cfg,
		paths:         make(map[string]bool),
		checkpointMgr: checkpointMgr,
		logger:        logger.WithComponent("tailer"),
		watcher:       watcher,
		files:         make(map[string]*tailedFile),
		lineCh:        make(chan types.RawLine, cfg.BufferSize),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, p := range cfg.Paths {
		t.paths[filepath.Clean(p)] = true
	}

	return t, nil
}

// Start opens every configured file and begins watching their directories
func (t *Tailer) Start() error {
	dirs := make(map[string]bool)
	for path := range t.paths {
		dir := filepath.Dir(path)
		if !dirs[dir] {
			dirs[dir] = true
			if err := t.watcher.Add(dir); err != nil {
				t.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
			}
		}

		if err := t.openFile(path, t.config.FromBeginning); err != nil {
			// the file may appear later and is picked up on create
			t.logger.Warn().Err(err).Str("path", path).Msg("Failed to open file")
		}
	}

	t.wg.Add(1)
	go t.watchLoop()

	return nil
}

// Stop stops all readers, records their final positions and closes Lines
func (t *Tailer) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		t.cancel()
		err = t.watcher.Close()
		t.wg.Wait()

		t.mu.Lock()
		for path, tf := range t.files {
			t.checkpointMgr.UpdatePosition(path, tf.offset.Load(), tf.inode)
			tf.file.Close()
		}
		t.files = make(map[string]*tailedFile)
		t.mu.Unlock()

		close(t.lineCh)
	})
	return err
}

// Name returns the configured input name
func (t *Tailer) Name() string {
	return t.config.Name
}

// Type returns "file"
func (t *Tailer) Type() string {
	return "file"
}

// Lines returns the channel of lines read from all files
func (t *Tailer) Lines() <-chan types.RawLine {
	return t.lineCh
}

// openFile starts a reader at the checkpointed offset when the inode still
// matches, otherwise at the start or end of the file
func (t *Tailer) openFile(path string, fromStart bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}
	inode := getInode(stat)

	var offset int64
	switch pos, ok := t.checkpointMgr.GetPosition(path); {
	case ok && pos.Inode == inode && pos.Offset <= stat.Size():
		offset = pos.Offset
		t.logger.Info().Str("path", path).Int64("offset", offset).Msg("Resuming from checkpoint")
	case fromStart:
		t.logger.Info().Str("path", path).Msg("Starting from beginning of file")
	default:
		offset = stat.Size()
		t.logger.Info().Str("path", path).Msg("Starting from end of file")
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("failed to seek to offset: %w", err)
	}

	tf := &tailedFile{
		path:   path,
		file:   file,
		reader: bufio.NewReader(file),
		inode:  inode,
		done:   make(chan struct{}),
	}
	tf.offset.Store(offset)

	t.mu.Lock()
	if old, ok := t.files[path]; ok {
		t.closeLocked(old)
	}
	t.files[path] = tf
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(tf)

	return nil
}

// closeFile stops the reader for path and checkpoints it
func (t *Tailer) closeFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tf, ok := t.files[path]; ok {
		t.closeLocked(tf)
		delete(t.files, path)
	}
}

func (t *Tailer) closeLocked(tf *tailedFile) {
	close(tf.done)
	t.checkpointMgr.UpdatePosition(tf.path, tf.offset.Load(), tf.inode)
}

// readLoop emits complete lines from a file, polling at EOF
func (t *Tailer) readLoop(tf *tailedFile) {
	defer t.wg.Done()

	var partial strings.Builder
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tf.done:
			tf.file.Close()
			return
		default:
		}

		chunk, err := tf.reader.ReadString('\n')
		if err != nil {
			partial.WriteString(chunk)
			if err == io.EOF {
				time.Sleep(pollInterval)
				continue
			}
			if !errors.Is(err, os.ErrClosed) {
				t.logger.Error().Err(err).Str("path", tf.path).Msg("Error reading file")
			}
			return
		}

		partial.WriteString(chunk)
		line := partial.String()
		partial.Reset()

		text := strings.TrimRight(line, "\r\n")
		if text != "" {
			select {
			case t.lineCh <- types.RawLine{Text: text, Source: tf.path}:
			case <-t.ctx.Done():
				return
			case <-tf.done:
				tf.file.Close()
				return
			}
		}

		tf.offset.Add(int64(len(line)))
		t.checkpointMgr.UpdatePosition(tf.path, tf.offset.Load(), tf.inode)
	}
}

// watchLoop watches for file events
func (t *Tailer) watchLoop() {
	defer t.wg.Done()

	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error().Err(err).Msg("File watcher error")

		case <-t.ctx.Done():
			return
		}
	}
}

// handleEvent reacts to rotation of tracked files. Writes are picked up by
// the polling readers.
func (t *Tailer) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !t.paths[path] {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		t.logger.Info().Str("path", path).Msg("File rotation detected")
		t.closeFile(path)

	case event.Has(fsnotify.Create):
		t.logger.Info().Str("path", path).Msg("File created")
		if err := t.openFile(path, true); err != nil {
			t.logger.Error().Err(err).Str("path", path).Msg("Failed to open file")
		}
	}
}

// getInode extracts inode from FileInfo
func getInode(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
